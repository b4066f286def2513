// Package iam is the identity and capability table (component C12): a
// small reference-counted free-list of {uid, euid, gid, egid} records,
// with a fixed root identity at boot. It performs no authorization of its
// own; every accessor and mutator trusts its caller, per §4.12 — the
// kernel-call dispatcher is the one place authorization actually happens.
package iam

import (
	"sync"

	"defs"
)

// Identity is `{ uid, euid, gid, egid, refcount }` per §3.
type Identity struct {
	Uid, Euid, Gid, Egid uint32
	refcount             int
}

// IsSuperuser reports whether id's effective uid is 0.
func (id *Identity) IsSuperuser() bool { return id.Euid == 0 }

// Handle is the opaque reference kcall handlers and processes carry
// around; it indexes into Table rather than exposing a raw pointer, so a
// stale handle fails cleanly instead of reading freed memory.
type Handle int32

// Table is the free-list of identity records.
type Table struct {
	mu      sync.Mutex
	records []Identity
	free    []Handle
	root    Handle
}

// New builds a table of capacity n and installs the root identity
// (uid=euid=gid=egid=0) at a fixed handle.
func New(n int) *Table {
	t := &Table{records: make([]Identity, n)}
	for i := n - 1; i >= 0; i-- {
		t.free = append(t.free, Handle(i))
	}
	root := t.allocLocked()
	t.records[root] = Identity{refcount: 1}
	t.root = root
	return t
}

func (t *Table) allocLocked() Handle {
	n := len(t.free)
	h := t.free[n-1]
	t.free = t.free[:n-1]
	return h
}

// Root returns the singleton root identity's handle, refcounting it up
// on every call since the caller now holds a reference.
func (t *Table) Root() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[t.root].refcount++
	return t.root
}

// New allocates a fresh record copied from base (copy-on-modify: the new
// record is an independent copy, not an alias), returning EAGAIN if the
// table is full.
func (t *Table) New(base Handle) (Handle, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return 0, defs.EAGAIN
	}
	h := t.allocLocked()
	t.records[h] = t.records[base]
	t.records[h].refcount = 1
	return h, 0
}

// Drop decrements h's reference count, returning its slot to the free
// list once it reaches zero. The root identity is never actually freed in
// practice since boot holds a permanent reference to it.
func (t *Table) Drop(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &t.records[h]
	r.refcount--
	if r.refcount <= 0 {
		t.free = append(t.free, h)
	}
}

// Get returns a copy of h's record. Callers must not assume the returned
// value tracks later mutations; call Get again to observe them.
func (t *Table) Get(h Handle) Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[h]
}

// SetIds overwrites h's uid/euid/gid/egid in one step, the primitive
// Set* kcall handlers build on. No authorization check is performed
// here; the caller (the kcall dispatcher) must have already verified the
// requester is allowed to make this change.
func (t *Table) SetIds(h Handle, uid, euid, gid, egid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &t.records[h]
	r.Uid, r.Euid, r.Gid, r.Egid = uid, euid, gid, egid
}
