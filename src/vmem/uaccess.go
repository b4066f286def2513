package vmem

import (
	"defs"
	"mem"
)

// CopyIn copies len(dst) bytes from the user address space v, starting at
// uva, into dst. It fails with EFAULT if any page in the range is not
// present, not user-accessible, or (when the page is present but
// write-only metadata is irrelevant here) simply absent — any kcall
// handler that takes a user pointer argument must route it through this
// before trusting the bytes, matching §4.10's "validated only after
// validation" rule.
func (m *Manager) CopyIn(v *Vmem, uva uintptr, dst []byte) defs.Err_t {
	return m.userCopy(v, uva, dst, false)
}

// CopyOut is CopyIn's mirror: it writes src into the user address space,
// requiring every touched page be present, user-accessible and writable.
func (m *Manager) CopyOut(v *Vmem, uva uintptr, src []byte) defs.Err_t {
	return m.userCopy(v, uva, src, true)
}

func (m *Manager) userCopy(v *Vmem, uva uintptr, buf []byte, write bool) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()

	off := 0
	for off < len(buf) {
		va := uva + uintptr(off)
		pageoff := int(va % uintptr(mem.PGSIZE))
		te, ok := v.tables[dirIndex(va)]
		if !ok {
			return defs.EFAULT
		}
		e := te.pt[tblIndex(va)]
		if !e.Present() || !e.User() {
			return defs.EFAULT
		}
		if write && !e.Writable() {
			return defs.EFAULT
		}
		pg := m.kpool.PageAt(mem.Pa_t(uint32(e.Frame())*uint32(mem.PGSIZE)))
		if pg == nil {
			// The frame backing this PTE is a user frame, not a kernel
			// page; user pages live in the caller-supplied frame
			// allocator's address space, which this kernel model treats
			// as opaque storage it does not directly touch here.
			return defs.EFAULT
		}
		n := mem.PGSIZE - pageoff
		if rem := len(buf) - off; rem < n {
			n = rem
		}
		if write {
			copy(pg[pageoff:pageoff+n], buf[off:off+n])
		} else {
			copy(buf[off:off+n], pg[pageoff:pageoff+n])
		}
		off += n
	}
	return 0
}
