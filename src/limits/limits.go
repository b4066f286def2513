// Package limits holds the fixed table-size ceilings the scheduler and
// process manager are built around (THREADS_MAX, PROCESS_MAX, and the
// kernel page pool's page count), plus a small atomic counter type for
// tracking how often a caller hits one of those ceilings — the
// EAGAIN-producing "resource temporarily unavailable" case the error
// taxonomy names.
package limits

import "sync/atomic"

// KernelLimits is the fixed set of table sizes a boot sequence picks
// once and hands to every component that needs to preallocate a table.
type KernelLimits struct {
	ThreadsMax  int
	ProcessMax  int
	NumUframes  int
	KpoolPages  int
}

// Default returns a reasonably small limit set, generous enough for the
// end-to-end scenarios this nucleus is exercised against without
// committing to a particular boot memory size.
func Default() *KernelLimits {
	return &KernelLimits{
		ThreadsMax: 64,
		ProcessMax: 32,
		NumUframes: 16384, // 64 MiB / 4 KiB
		KpoolPages: 2048,  // 8 MiB kernel page pool
	}
}

// Hits is an atomically updated count of how many times a caller has
// observed a table at capacity (EAGAIN). Components increment their own
// Hits counter from the same call site that returns defs.EAGAIN and
// expose it through their own ExhaustedCount method; the stats kcall
// does not report it.
type Hits int64

// Inc records one exhaustion hit.
func (h *Hits) Inc() { atomic.AddInt64((*int64)(h), 1) }

// Load reports the current hit count.
func (h *Hits) Load() int64 { return atomic.LoadInt64((*int64)(h)) }
