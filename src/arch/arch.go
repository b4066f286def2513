// Package arch isolates the handful of operations that are genuinely
// machine-specific: port I/O, interrupt masking, TLB control, cache
// invalidation, and the two atomic primitives the synchronization layer
// is built from. Every other package in this kernel talks to the CPU only
// through the CPU interface defined here, so a k1b or or1k backend is a
// sibling implementation, never a shared source file with #ifdef forests.
//
// There is exactly one implementation in this tree, Sim, a software model
// good enough to drive the scheduler, trap dispatcher and kcall path under
// `go test`. A bare-metal x86 backend would replace outb/inb with real
// IN/OUT instructions and tlb_load with a MOV to CR3; the interface is
// the compatibility boundary, not this file.
package arch

import (
	"sync"
	"sync/atomic"

	"golang.org/x/arch/x86/x86asm"
)

// CPU is the arch-primitives contract every higher layer programs against.
// All methods are leaf operations: their only failure mode is "unsupported
// on this target", which is fatal and reported via panic, matching the
// spec's treatment of arch primitives as non-recoverable when missing.
type CPU interface {
	Outb(port uint16, v uint8)
	Inb(port uint16) uint8
	Outw(port uint16, v uint16)
	Inw(port uint16) uint16
	Outl(port uint16, v uint32)
	Inl(port uint16) uint32
	IOWait()

	Cli()
	Sti()
	IntsEnabled() bool

	Hlt()

	TLBLoad(pgdirPhys uintptr)
	TLBFlush()
	DCacheInvalidate()

	TestAndSet(word *uint32) bool
	CompareAndSwap(word *uint32, old, new uint32) bool
}

// Sim is a uniprocessor software model of the CPU interface. Port space is
// a map from port number to the last value written, so device-facing
// code (the LPIC driver, for one) can run without real hardware; no
// handler runs on a port access.
type Sim struct {
	mu        sync.Mutex
	ports     map[uint16]uint32
	intsOn    bool
	curPgdir  uintptr
	flushFn   func(pgdir uintptr)
	haltCount uint64
}

// NewSim returns a Sim with interrupts enabled, matching the boot-time
// default described for the LPIC (most-permissive level).
func NewSim() *Sim {
	return &Sim{ports: make(map[uint16]uint32), intsOn: true}
}

// SetTLBHook lets the vmem package observe TLBLoad/TLBFlush without arch
// importing vmem (which would create a cycle); boot wires this up once.
func (s *Sim) SetTLBHook(f func(pgdirPhys uintptr)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushFn = f
}

func (s *Sim) Outb(port uint16, v uint8) { s.mu.Lock(); s.ports[port] = uint32(v); s.mu.Unlock() }
func (s *Sim) Inb(port uint16) uint8     { s.mu.Lock(); defer s.mu.Unlock(); return uint8(s.ports[port]) }
func (s *Sim) Outw(port uint16, v uint16) {
	s.mu.Lock()
	s.ports[port] = uint32(v)
	s.mu.Unlock()
}
func (s *Sim) Inw(port uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint16(s.ports[port])
}
func (s *Sim) Outl(port uint16, v uint32) { s.mu.Lock(); s.ports[port] = v; s.mu.Unlock() }
func (s *Sim) Inl(port uint16) uint32     { s.mu.Lock(); defer s.mu.Unlock(); return s.ports[port] }

// IOWait spends a negligible amount of time the way a write to an unused
// port (0x80) does on real hardware: give the bus a moment to settle.
func (s *Sim) IOWait() {}

func (s *Sim) Cli()             { s.mu.Lock(); s.intsOn = false; s.mu.Unlock() }
func (s *Sim) Sti()             { s.mu.Lock(); s.intsOn = true; s.mu.Unlock() }
func (s *Sim) IntsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intsOn
}

// Hlt represents the idle thread's halt; in the simulation it just counts
// how many times the CPU went idle, readable through HaltCount.
func (s *Sim) Hlt() { atomic.AddUint64(&s.haltCount, 1) }

// HaltCount reports how many times Hlt has been called, for tests that
// assert the system actually reached the idle thread.
func (s *Sim) HaltCount() uint64 { return atomic.LoadUint64(&s.haltCount) }

func (s *Sim) TLBLoad(pgdirPhys uintptr) {
	s.mu.Lock()
	s.curPgdir = pgdirPhys
	fn := s.flushFn
	s.mu.Unlock()
	if fn != nil {
		fn(pgdirPhys)
	}
}

func (s *Sim) TLBFlush() { s.TLBLoad(s.curPgdir) }

// DCacheInvalidate is a no-op in the simulation: there is no separate
// data-cache model, and nothing in the core reads physical memory through
// an aliased mapping that would require it.
func (s *Sim) DCacheInvalidate() {}

// TestAndSet implements the spinlock's atomic primitive: it sets *word to
// 1 and reports whether it was already 1 (i.e. the lock was held).
func (s *Sim) TestAndSet(word *uint32) bool {
	return atomic.SwapUint32(word, 1) == 1
}

// CompareAndSwap is the ticket mutex / semaphore building block.
func (s *Sim) CompareAndSwap(word *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(word, old, new)
}

// RegName labels a general-purpose register for context dumps, reusing the
// x86 register enumeration instead of inventing a parallel one.
func RegName(r x86asm.Reg) string { return r.String() }

// GPRegisters lists the general-purpose registers in `pusha` save order
// (the order of sched.Context's register fields). No other package in
// this tree references it.
var GPRegisters = []x86asm.Reg{
	x86asm.EDI, x86asm.ESI, x86asm.EBP, x86asm.ESP,
	x86asm.EBX, x86asm.EDX, x86asm.ECX, x86asm.EAX,
}
