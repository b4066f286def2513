// Package kpool is the kernel page pool (component C3): a fixed-size,
// identity-mapped pool of pages reserved for the kernel's own dynamic
// needs — page tables, per-thread kernel stacks, short-lived message
// buffers. It is identical in shape to package mem's frame allocator
// (linear scan, reference counted) but owns its own, separately reserved
// physical range and actually backs each page with real storage, since
// the kernel reads and writes kernel pages directly rather than through
// a process's address space.
package kpool

import (
	"fmt"
	"sync"

	"defs"
	"mem"
)

// PGSIZE is mem.PGSIZE, re-exported so kpool's callers can size pages
// without importing mem.
const PGSIZE = mem.PGSIZE

// Page is one kernel page: PGSIZE bytes of raw storage the caller may
// reinterpret (as a vmem page table, a kernel stack, or a plain byte
// buffer) via unsafe.Pointer.
type Page [PGSIZE]byte

// Pool is the kernel page pool described in §4.3.
type Pool struct {
	mu       sync.Mutex
	base     mem.Pa_t
	pages    []Page
	refcnt   []uint16
	baseIdx  int // frame-number offset of pages[0]
}

// New creates a pool of n pages starting at physical address base. base
// and the pool's extent are the "kernel page pool range" that mem.Init
// is told to treat as reserved.
func New(base mem.Pa_t, n int) *Pool {
	return &Pool{
		base:    base,
		pages:   make([]Page, n),
		refcnt:  make([]uint16, n),
		baseIdx: int(uint32(base) >> mem.PGSHIFT),
	}
}

// Size reports the pool's size in bytes, the KPOOL_SIZE named in §3.
func (p *Pool) Size() uint32 { return uint32(len(p.pages) * PGSIZE) }

// Base reports the physical base address of the pool.
func (p *Pool) Base() mem.Pa_t { return p.base }

// Get allocates one kernel page, optionally zeroing it first, and returns
// a pointer to it along with its physical address. It returns a nil
// pointer on exhaustion; exhaustion is logged, never fatal, per §4.3.
func (p *Pool) Get(clean bool) (*Page, mem.Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.refcnt {
		if p.refcnt[i] == 0 {
			p.refcnt[i] = 1
			if clean {
				p.pages[i] = Page{}
			}
			return &p.pages[i], p.base + mem.Pa_t(i*PGSIZE)
		}
	}
	fmt.Printf("kpool: exhausted (%d pages)\n", len(p.pages))
	return nil, 0
}

// Put releases a kernel page obtained from Get. pa must be kpool-range
// aligned (a multiple of PGSIZE within the pool's extent) and must
// currently have a nonzero reference count; violations are reported as
// defs.EINVAL rather than trusted blindly, since a bad pa here would
// corrupt an unrelated page.
func (p *Pool) Put(pa mem.Pa_t) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, err := p.indexOf(pa)
	if err != 0 {
		return err
	}
	if p.refcnt[idx] == 0 {
		fmt.Printf("kpool: refcount underflow on put at %#x\n", pa)
		return defs.EINVAL
	}
	p.refcnt[idx]--
	return 0
}

// Refup increments the reference count of an already-allocated kernel
// page, mirroring mem.Allocator.Refup for kernel pages shared by more
// than one owner (a page table referenced while being walked, say).
func (p *Pool) Refup(pa mem.Pa_t) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, err := p.indexOf(pa)
	if err != 0 {
		return err
	}
	p.refcnt[idx]++
	return 0
}

func (p *Pool) indexOf(pa mem.Pa_t) (int, defs.Err_t) {
	off := int64(pa) - int64(p.base)
	if off < 0 || off%PGSIZE != 0 {
		return 0, defs.EINVAL
	}
	idx := int(off / PGSIZE)
	if idx >= len(p.pages) {
		return 0, defs.EINVAL
	}
	return idx, 0
}

// PageAt returns the kernel page backing physical address pa, or nil if
// pa does not fall within this pool's extent.
func (p *Pool) PageAt(pa mem.Pa_t) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, err := p.indexOf(pa)
	if err != 0 {
		return nil
	}
	return &p.pages[idx]
}

// NumFree reports the number of currently-unreferenced kernel pages, used
// by the round-trip tests in §8 to assert net-zero kpool usage.
func (p *Pool) NumFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.refcnt {
		if c == 0 {
			n++
		}
	}
	return n
}
