package sync2

import (
	"arch"
	"defs"
)

// Mutex is a FIFO ticket mutex: two counters (next, current) plus a
// condition variable, per §3/§4.7. Lock order is strictly the order
// tickets were issued in, giving the fairness property §8 requires.
type Mutex struct {
	guard   Spinlock
	cv      *Cond
	next    uint64
	current uint64
	owner   defs.Tid_t
	held    bool
}

// NewMutex builds an unlocked ticket mutex.
func NewMutex(cpu arch.CPU, parker Parker) *Mutex {
	return &Mutex{guard: Spinlock{cpu: cpu}, cv: NewCond(cpu, parker)}
}

// Lock allocates a ticket, then waits until it is this caller's turn.
func (m *Mutex) Lock() {
	m.guard.Lock()
	ticket := m.next
	m.next++
	for m.current != ticket {
		m.cv.Wait(&m.guard)
	}
	m.held = true
	m.owner = m.cv.parker.Current()
	m.guard.Unlock()
}

// Unlock advances current past the caller's ticket and wakes every thread
// waiting on the condition variable so they can recheck their ticket.
func (m *Mutex) Unlock() {
	m.guard.Lock()
	m.current++
	m.held = false
	m.guard.Unlock()
	m.cv.Broadcast()
}

// Owner reports the tid currently holding the mutex; only meaningful
// while Held reports true.
func (m *Mutex) Owner() defs.Tid_t { return m.owner }

// Held reports whether the mutex is currently locked.
func (m *Mutex) Held() bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.held
}
