package sync2

import "arch"

// Semaphore is a signed count plus a condition variable, per §3/§4.7.
// Down blocks while the count is not positive; Up always increments and
// signals one waiter. This is the primitive the kernel-call dispatcher's
// scoreboard (kernel_sem/user_sem) is built from.
type Semaphore struct {
	guard Spinlock
	cv    *Cond
	count int64
}

// NewSemaphore builds a semaphore initialized to n, i.e.
// SEMAPHORE_INITIALIZER(n).
func NewSemaphore(cpu arch.CPU, parker Parker, n int64) *Semaphore {
	return &Semaphore{guard: Spinlock{cpu: cpu}, cv: NewCond(cpu, parker), count: n}
}

// Down waits while count <= 0, then decrements it. Waiters queue FIFO
// because Cond's queue is FIFO and Signal always wakes the head.
func (s *Semaphore) Down() {
	s.guard.Lock()
	for s.count <= 0 {
		s.cv.Wait(&s.guard)
	}
	s.count--
	s.guard.Unlock()
}

// Up increments count and wakes one waiter, if any.
func (s *Semaphore) Up() {
	s.guard.Lock()
	s.count++
	s.guard.Unlock()
	s.cv.Signal()
}

// Count reports the current signed count, for tests and the semctl kcall.
func (s *Semaphore) Count() int64 {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.count
}
