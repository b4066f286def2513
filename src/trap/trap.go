// Package trap is the exception and interrupt dispatch core (component
// C6): a table of exception handlers keyed by vector, a default-panic
// handler, an interrupt handler registry, and the LPIC driver's
// consumer-facing dispatch (do_exception/do_interrupt). The kernel-call
// dispatcher that shares this trap-entry path lives in package kcall, not
// here, since it has its own scoreboard and service-thread contract.
package trap

import (
	"fmt"
	"sync"

	"sched"
)

// ExcpInfo is `{ number, faulting_address, error_code, instruction_pointer }`
// per §3.
type ExcpInfo struct {
	Number    int
	FaultAddr uint32
	ErrorCode uint32
	Eip       uint32
}

// ExcpHandler handles one exception vector. ctx is the trap-entry's
// saved processor state.
type ExcpHandler func(info ExcpInfo, ctx *sched.Context)

// IntHandler services one hardware IRQ.
type IntHandler func()

// NumExceptions covers vectors 0-31, the CPU-defined exception range.
const NumExceptions = 32

// InterruptSpuriousThreshold is the count of unhandled IRQs after which
// the dispatcher flips into verbose logging, per §4.6.
const InterruptSpuriousThreshold = 100

// Dispatcher is the exception table plus interrupt handler registry and
// the LPIC they share.
type Dispatcher struct {
	mu        sync.Mutex
	excp      [NumExceptions]ExcpHandler
	custom    [NumExceptions]bool
	names     [NumExceptions]string
	intr      map[int]IntHandler
	lpic      *Lpic
	spurious  int
	verbose   bool
	panicFn   func(format string, args ...interface{})
}

// New builds a dispatcher whose every exception slot is the default
// handler (dump context, panic) and whose interrupt registry starts
// empty, wired to lpic and panicFn (kpanic, injected so this package
// never depends on the log sink or halt function directly).
func New(lpic *Lpic, panicFn func(format string, args ...interface{})) *Dispatcher {
	d := &Dispatcher{intr: make(map[int]IntHandler), lpic: lpic, panicFn: panicFn}
	for i := range d.excp {
		d.excp[i] = d.defaultHandler
		d.names[i] = fmt.Sprintf("exception %d", i)
	}
	return d
}

func (d *Dispatcher) defaultHandler(info ExcpInfo, ctx *sched.Context) {
	d.panicFn("unhandled %s: eip=%#x fault=%#x err=%#x",
		d.names[info.Number], info.Eip, info.FaultAddr, info.ErrorCode)
}

// RegisterException installs h for vector n, refusing to overwrite an
// already-custom slot (a warning is logged instead), per §4.6.
func (d *Dispatcher) RegisterException(n int, name string, h ExcpHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.custom[n] {
		fmt.Printf("trap: refusing to overwrite handler already registered for %s\n", d.names[n])
		return
	}
	d.excp[n] = h
	d.names[n] = name
	d.custom[n] = true
}

// UnregisterException restores vector n to the default handler.
func (d *Dispatcher) UnregisterException(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.excp[n] = d.defaultHandler
	d.names[n] = fmt.Sprintf("exception %d", n)
	d.custom[n] = false
}

// DoException implements do_exception: look up and call the handler for
// info.Number.
func (d *Dispatcher) DoException(info ExcpInfo, ctx *sched.Context) {
	d.mu.Lock()
	h := d.excp[info.Number]
	d.mu.Unlock()
	h(info, ctx)
}

// RegisterInterrupt installs h for hardware irq (0..NumIrqs-1) and
// unmasks it at the LPIC.
func (d *Dispatcher) RegisterInterrupt(irq int, h IntHandler) {
	d.mu.Lock()
	d.intr[irq] = h
	d.mu.Unlock()
	d.lpic.Unmask(irq)
}

// UnregisterInterrupt removes irq's handler and masks it at the LPIC.
func (d *Dispatcher) UnregisterInterrupt(irq int) {
	d.mu.Lock()
	delete(d.intr, irq)
	d.mu.Unlock()
	d.lpic.Mask(irq)
}

// DoInterrupt implements do_interrupt: acknowledge the IRQ before
// dispatching (so a handler that re-enables interrupts can be preempted
// by something higher priority), raise the LPIC level to mask irq and
// everything below it, run the handler (or log a spurious-interrupt
// warning), then restore the prior level.
func (d *Dispatcher) DoInterrupt(irq int) {
	d.lpic.Ack(irq)

	d.mu.Lock()
	h, ok := d.intr[irq]
	prevLevel := d.lpic.LvlGet()
	d.mu.Unlock()

	if !ok {
		d.mu.Lock()
		d.spurious++
		n := d.spurious
		d.mu.Unlock()
		if n == InterruptSpuriousThreshold {
			d.mu.Lock()
			d.verbose = true
			d.mu.Unlock()
		}
		if d.verbose {
			fmt.Printf("trap: spurious interrupt on irq %d (count=%d)\n", irq, n)
		}
		return
	}

	d.lpic.LvlSet(irq)
	h()
	d.lpic.LvlSet(prevLevel)
}

// SpuriousCount reports the number of unhandled IRQs seen so far.
func (d *Dispatcher) SpuriousCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spurious
}
