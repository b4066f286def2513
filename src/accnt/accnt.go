// Package accnt is the per-thread CPU-time accounting a scheduler
// attaches to each thread slot: nanoseconds spent running. Time spent in
// any other state (ready, waiting, terminated) is not recorded. It has
// no kernel-call surface of its own; sched reads it directly and resets
// it when Create hands a slot to a new thread.
package accnt

import (
	"sync"
	"time"
)

// Record accumulates one thread's running time across every span it
// holds the scheduler's baton. Start/Stop bracket exactly one RUNNING
// span; concurrent callers never touch the same Record (it belongs to
// one thread slot), so the mutex here only protects Snapshot from a
// concurrent Start/Stop on a slot being reaped out from under it.
type Record struct {
	mu      sync.Mutex
	Runns   int64 // nanoseconds spent RUNNING, cumulative
	started time.Time
	running bool
}

// Start marks the beginning of a RUNNING span.
func (r *Record) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = time.Now()
	r.running = true
}

// Stop ends the current RUNNING span, folding its length into Runns.
func (r *Record) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.Runns += time.Since(r.started).Nanoseconds()
	r.running = false
}

// Snapshot returns the accumulated running time so far, including any
// span currently in progress.
func (r *Record) Snapshot() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.Runns
	if r.running {
		n += time.Since(r.started).Nanoseconds()
	}
	return n
}

// Reset zeroes the record, for reuse when a thread slot is reaped and
// handed to a new thread.
func (r *Record) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runns = 0
	r.started = time.Time{}
	r.running = false
}
