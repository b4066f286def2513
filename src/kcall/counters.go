package kcall

import "sync/atomic"

// dispatchCounter tracks the total number of kcalls the service thread
// has dispatched, gated by Counting the same way the donor's own
// zero-overhead-when-disabled instrumentation worked: when Counting is
// false, Inc is a no-op rather than an extra branch per dispatch on a
// path every kcall takes. The kcall dispatcher's own testable property —
// "for K threads each issuing M kcalls, the service thread executes
// exactly K*M dispatches" — is exactly what this counter exists to let a
// test assert directly instead of re-deriving it by other means.
const Counting = true

type dispatchCounter int64

func (c *dispatchCounter) inc() {
	if Counting {
		atomic.AddInt64((*int64)(c), 1)
	}
}

func (c *dispatchCounter) load() int64 {
	return atomic.LoadInt64((*int64)(c))
}
