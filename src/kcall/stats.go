package kcall

import (
	"bytes"

	"github.com/google/pprof/profile"

	"defs"
)

// statsSnapshot is where writeStatsProfile leaves its encoded profile for a
// caller to drain; a real trap stub would CopyOut this buffer to the
// user address the stats kcall was given, but this tree's write kcall
// already establishes that user-pointer translation is the trap stub's
// job, not a handler's, so the profile is kept kernel-side and exposed
// through Dispatcher.LastStats for a driver (or a test) to read.
type statsSnapshot struct {
	encoded []byte
}

// writeStatsProfile builds a pprof profile.Profile out of the live
// counters the testable-properties section calls out — free frame count
// and free kernel pages — and gzip-encodes it the same way `go tool
// pprof` expects to read a profile off disk. Reusing profile.Profile
// here is a deliberate
// choice over a bespoke struct: every counter the stats kcall reports is
// naturally a sample value, and getting gzip framing, string table
// dedup, and a stable wire format for free by depending on the same
// library the rest of the Go ecosystem already uses for profile data
// beats reinventing a serialization format for exactly one kcall.
func writeStatsProfile(d *Dispatcher) (int, defs.Err_t) {
	valueType := &profile.ValueType{Type: "count", Unit: "count"}
	fn := &profile.Function{ID: 1, Name: "nucleus_stats", SystemName: "nucleus_stats"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}

	samples := []*profile.Sample{
		{Location: []*profile.Location{loc}, Value: []int64{int64(d.Mem.NumFree())}, Label: map[string][]string{"counter": {"frames_free"}}},
		{Location: []*profile.Location{loc}, Value: []int64{int64(d.Kpool.NumFree())}, Label: map[string][]string{"counter": {"kpages_free"}}},
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{valueType},
		Sample:     samples,
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
		PeriodType: valueType,
		Period:     1,
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return 0, defs.EFAULT
	}

	d.mu.Lock()
	d.lastStats = statsSnapshot{encoded: buf.Bytes()}
	d.mu.Unlock()

	return buf.Len(), 0
}

// LastStats returns the bytes of the most recently produced stats
// profile, for a caller (or a test) to inspect without re-deriving it.
func (d *Dispatcher) LastStats() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastStats.encoded
}
