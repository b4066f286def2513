// Package vmem is the two-level virtual-memory manager (component C4): a
// page directory plus the page tables it reaches. Each process owns
// exactly one Vmem; a canonical root Vmem identity-maps the kernel image
// and kernel page pool so every new address space can clone that half
// verbatim and have kernel code servicable before its user half exists.
package vmem

import (
	"sync"
	"unsafe"

	"arch"
	"defs"
	"kpool"
	"mem"
)

// Pte is one 32-bit page-table or page-directory entry: present,
// writable, user, accessed, dirty, plus a 20-bit frame number, exactly
// the bitfield layout §3 specifies.
type Pte uint32

const (
	PteP  Pte = 1 << 0 // present
	PteW  Pte = 1 << 1 // writable
	PteU  Pte = 1 << 2 // user-accessible
	PteA  Pte = 1 << 5 // accessed
	PteD  Pte = 1 << 6 // dirty
	pteFrameShift     = 12
	pteFrameMask  Pte = 0xfffff << pteFrameShift
)

func mkpte(f defs.Frame_t, flags Pte) Pte {
	return (Pte(f) << pteFrameShift) | (flags & (PteP | PteW | PteU | PteA | PteD))
}

func (e Pte) Present() bool     { return e&PteP != 0 }
func (e Pte) Writable() bool    { return e&PteW != 0 }
func (e Pte) User() bool        { return e&PteU != 0 }
func (e Pte) Frame() defs.Frame_t { return defs.Frame_t(e >> pteFrameShift) }

// entriesPerTable is 1024, both for a page directory and a page table, as
// specified in §3.
const entriesPerTable = 1024

// table is the in-kernel-page representation of a page directory or page
// table: 1024 four-byte entries, exactly one kernel page.
type table [entriesPerTable]Pte

// Mode is the permission pair vmem_ctrl/vmem_info operate on.
type Mode struct {
	Writable bool
	User     bool
}

func modeOf(e Pte) Mode { return Mode{Writable: e.Writable(), User: e.User()} }

// Info is the result of vmem_info: the mapped frame and its permissions.
type Info struct {
	Frame defs.Frame_t
	Mode  Mode
}

// Manager owns the kernel page pool and frame allocator a set of Vmem
// instances are built from, and the canonical root Vmem every new address
// space clones its kernel half from.
type Manager struct {
	kpool  *kpool.Pool
	frames *mem.Allocator
	cpu    arch.CPU

	mu   sync.Mutex
	root *Vmem
}

// NewManager constructs a vmem manager. InitRoot must be called once
// before any vmem_create, to build the canonical root address space.
func NewManager(kp *kpool.Pool, fr *mem.Allocator, cpu arch.CPU) *Manager {
	return &Manager{kpool: kp, frames: fr, cpu: cpu}
}

// InitRoot builds the canonical root vmem: identity-maps [base, base+size)
// with user=false, writable=true, matching §4.4's description of the
// kernel half every address space shares.
func (m *Manager) InitRoot(base mem.Pa_t, size uint32) *Vmem {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.newEmpty()
	nframes := size / mem.PGSIZE
	for i := uint32(0); i < nframes; i++ {
		frame := defs.Frame_t((uint32(base) / mem.PGSIZE) + i)
		vaddr := uintptr(base) + uintptr(i)*mem.PGSIZE
		if err := v.mapOne(m, vaddr, frame, PteW); err != 0 {
			panic("vmem: failed to build canonical root mapping")
		}
	}
	m.root = v
	return v
}

// Vmem is one address space: a page directory plus the page tables it
// references, per §3's data model. The user half is populated by
// vmem_map/vmem_unmap/vmem_ctrl calls; the kernel half is cloned once at
// creation and never touched again by user-facing operations.
type Vmem struct {
	mu     sync.Mutex
	dirPa  mem.Pa_t
	dir    *table
	tables map[uint32]*tableEntry // indexed by page-directory index
}

type tableEntry struct {
	pa     mem.Pa_t
	pt     *table
	shared bool // cloned from another vmem's directory; not ours to free
}

func (m *Manager) newEmpty() *Vmem {
	pg, pa := m.kpool.Get(true)
	if pg == nil {
		panic("vmem: kpool exhausted building a fresh page directory")
	}
	return &Vmem{
		dirPa:  pa,
		dir:    (*table)(asTablePtr(pg)),
		tables: make(map[uint32]*tableEntry),
	}
}

// Create allocates a fresh page directory, copies the kernel-half entries
// from src (or the canonical root if src is nil), and leaves the user
// half empty. This is vmem_create.
func (m *Manager) Create(src *Vmem) *Vmem {
	m.mu.Lock()
	base := src
	if base == nil {
		base = m.root
	}
	m.mu.Unlock()

	v := m.newEmpty()
	if base != nil {
		base.mu.Lock()
		*v.dir = *base.dir
		for idx, te := range base.tables {
			// The underlying page table is shared with base, whatever
			// directory index it lands at; mark the clone so Destroy
			// never frees it out from under base.
			v.tables[idx] = &tableEntry{pa: te.pa, pt: te.pt, shared: true}
		}
		base.mu.Unlock()
	}
	return v
}

// Destroy walks v's page tables, freeing back to the kernel page pool
// every one v itself allocated. Tables cloned from another vmem at
// Create (tracked per entry via tableEntry.shared, not by directory
// index, since a cloned base's tables can land anywhere depending on
// where its kernel image was mapped) are left alone: they belong to
// whichever vmem allocated them. User frames are not freed: their
// lifecycle belongs to the caller, per §3. This is vmem_destroy.
func (m *Manager) Destroy(v *Vmem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for idx, te := range v.tables {
		if te.shared {
			continue // allocated by another vmem; not ours to free
		}
		m.kpool.Put(te.pa)
		delete(v.tables, idx)
	}
	m.kpool.Put(v.dirPa)
}

func dirIndex(vaddr uintptr) uint32  { return uint32(vaddr>>22) & 0x3ff }
func tblIndex(vaddr uintptr) uint32  { return uint32(vaddr>>12) & 0x3ff }

// ensureTable returns the page table for vaddr's directory index,
// allocating a fresh kernel page and installing the PDE if none exists
// yet.
func (m *Manager) ensureTable(v *Vmem, vaddr uintptr) (*table, defs.Err_t) {
	di := dirIndex(vaddr)
	if te, ok := v.tables[di]; ok {
		return te.pt, 0
	}
	pg, pa := m.kpool.Get(true)
	if pg == nil {
		return nil, defs.ENOMEM
	}
	pt := (*table)(asTablePtr(pg))
	v.tables[di] = &tableEntry{pa: pa, pt: pt}
	v.dir[di] = mkpte(defs.Frame_t(uint32(pa)/mem.PGSIZE), PteP|PteW)
	return pt, 0
}

func (v *Vmem) mapOne(m *Manager, vaddr uintptr, frame defs.Frame_t, flags Pte) defs.Err_t {
	pt, err := m.ensureTable(v, vaddr)
	if err != 0 {
		return err
	}
	pt[tblIndex(vaddr)] = mkpte(frame, PteP|flags)
	return 0
}

// Map installs mappings for size bytes starting at vaddr, one frame per
// page starting at frame, with the given permissions. vaddr must be
// page-aligned and size a multiple of PGSIZE. On OOM in the kpool, Map
// returns whatever it has installed so far without rolling it back — per
// §9, tearing down a partially mapped vmem on failure is the caller's
// responsibility, not Map's. This is vmem_map.
func (m *Manager) Map(v *Vmem, vaddr uintptr, frame defs.Frame_t, size uint32, w, x bool) defs.Err_t {
	if vaddr%mem.PGSIZE != 0 || size%mem.PGSIZE != 0 {
		return defs.EINVAL
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	flags := Pte(0)
	if w {
		flags |= PteW
	}
	if x {
		flags |= PteU // this model does not track an execute bit separately;
		// "x" controls user-accessibility, matching the i386 core which
		// has no NX bit and instead relies on segment-level execute
		// protection for code.
	}
	npages := size / mem.PGSIZE
	for i := uint32(0); i < npages; i++ {
		if err := v.mapOne(m, vaddr+uintptr(i)*mem.PGSIZE, frame+defs.Frame_t(i), flags); err != 0 {
			return err
		}
	}
	m.cpu.TLBLoad(uintptr(v.dirPa))
	return 0
}

// Unmap removes exactly one PTE and returns the frame it had mapped, or
// defs.FRAME_NULL if nothing was mapped there. This is vmem_unmap.
func (m *Manager) Unmap(v *Vmem, vaddr uintptr) (defs.Frame_t, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	di := dirIndex(vaddr)
	te, ok := v.tables[di]
	if !ok {
		return defs.FRAME_NULL, 0
	}
	ti := tblIndex(vaddr)
	e := te.pt[ti]
	if !e.Present() {
		return defs.FRAME_NULL, 0
	}
	frame := e.Frame()
	te.pt[ti] = 0
	m.cpu.TLBLoad(uintptr(v.dirPa))
	return frame, 0
}

// Ctrl changes the writable/user bits of one PTE. It fails with EINVAL if
// the PTE is not present. This is vmem_ctrl.
func (m *Manager) Ctrl(v *Vmem, vaddr uintptr, mode Mode) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	di := dirIndex(vaddr)
	te, ok := v.tables[di]
	if !ok {
		return defs.EINVAL
	}
	ti := tblIndex(vaddr)
	e := te.pt[ti]
	if !e.Present() {
		return defs.EINVAL
	}
	flags := PteP
	if mode.Writable {
		flags |= PteW
	}
	if mode.User {
		flags |= PteU
	}
	te.pt[ti] = mkpte(e.Frame(), flags)
	m.cpu.TLBLoad(uintptr(v.dirPa))
	return 0
}

// Info reports the frame and permissions currently mapped at vaddr. It
// fails with EINVAL if nothing is present there. This is vmem_info.
func (m *Manager) Info(v *Vmem, vaddr uintptr) (Info, defs.Err_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	te, ok := v.tables[dirIndex(vaddr)]
	if !ok {
		return Info{}, defs.EINVAL
	}
	e := te.pt[tblIndex(vaddr)]
	if !e.Present() {
		return Info{}, defs.EINVAL
	}
	return Info{Frame: e.Frame(), Mode: modeOf(e)}, 0
}

// PgdirGet returns the physical base of v's page directory, used by
// tlb_load on a context switch into a thread owned by v.
func (m *Manager) PgdirGet(v *Vmem) mem.Pa_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dirPa
}

// DirPa returns v's page directory's physical base without going through
// the owning Manager; the scheduler calls this on every context switch,
// far more often than it calls anything else in this package, so it gets
// a direct accessor instead of routing through Manager.PgdirGet.
func (v *Vmem) DirPa() mem.Pa_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dirPa
}

func asTablePtr(pg *kpool.Page) *table {
	return (*table)(unsafe.Pointer(pg))
}
