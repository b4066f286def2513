package sync2

import (
	"arch"
	"defs"
)

// Parker is the scheduler seam Cond, Mutex and Semaphore suspend through:
// Sleep parks the calling thread (thread_sleep) until a matching Wakeup
// is delivered for its tid. Current reports the calling thread's own tid,
// used to record a mutex's owner and a semaphore waiter's identity.
type Parker interface {
	Sleep(tid defs.Tid_t)
	Wakeup(tid defs.Tid_t)
	Current() defs.Tid_t
}

// Cond is a spinlock plus an intrusive queue of waiting thread ids, per
// §3. Wait must be called with the associated lock held; the kernel
// produces no spurious wakeups, but the contract still requires callers
// to re-check their predicate after returning, per §4.7.
type Cond struct {
	lock   Spinlock
	queue  []defs.Tid_t
	parker Parker
}

// NewCond builds a condition variable that parks/wakes threads through
// parker.
func NewCond(cpu arch.CPU, parker Parker) *Cond {
	return &Cond{lock: Spinlock{cpu: cpu}, parker: parker}
}

// Wait enqueues the calling thread, drops lock, parks, and on resume
// re-acquires lock before returning.
func (c *Cond) Wait(lock *Spinlock) {
	tid := c.parker.Current()
	c.lock.Lock()
	c.queue = append(c.queue, tid)
	c.lock.Unlock()

	lock.Unlock()
	c.parker.Sleep(tid)
	lock.Lock()
}

// Signal wakes the head of the queue, if any.
func (c *Cond) Signal() {
	c.lock.Lock()
	if len(c.queue) == 0 {
		c.lock.Unlock()
		return
	}
	tid := c.queue[0]
	c.queue = c.queue[1:]
	c.lock.Unlock()
	c.parker.Wakeup(tid)
}

// Broadcast atomically drains the queue and wakes every thread on it.
func (c *Cond) Broadcast() {
	c.lock.Lock()
	woken := c.queue
	c.queue = nil
	c.lock.Unlock()
	for _, tid := range woken {
		c.parker.Wakeup(tid)
	}
}
