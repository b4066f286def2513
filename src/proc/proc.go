// Package proc is the process manager (component C9): a fixed-size
// process table, each slot owning exactly one address space and one root
// thread. Slot 0 is the kernel process, permanently active for the
// lifetime of the system.
package proc

import (
	"sync"

	"defs"
	"limits"
	"sched"
	"vmem"
)

// Image is the boot-provided handle to a loadable program: "a handle to a
// loadable image is provided at boot" per the spec's scope note. The ELF
// loader that turns it into mapped segments is an external collaborator;
// this package only carries the handle and the function pointer that
// performs the load.
type Image struct {
	Base    uint32
	Size    uint32
	Cmdline string
}

// Loader lays out image's loadable segments into v (calling back into
// vm.Map for each one) and returns the entry point and the top of a
// freshly mapped user stack. It is supplied by boot, not implemented
// here, per the spec's explicit ELF-loader non-goal.
type Loader func(vm *vmem.Manager, v *vmem.Vmem, image *Image) (entry, stacktop uintptr, err defs.Err_t)

const stackBitmapWords = 4 // 128 per-process user stack slots, a generous fixed ceiling

// Process is one entry of the fixed PROCESS_MAX-sized process table, per
// §3.
type Process struct {
	Pid     defs.Pid_t
	RootTid defs.Tid_t
	Vm      *vmem.Vmem
	Image   *Image
	active  bool
	stacks  [stackBitmapWords]uint32
}

// Manager is the process table plus the vmem/scheduler it is built on.
type Manager struct {
	mu        sync.Mutex
	procs     []Process
	vmm       *vmem.Manager
	sched     *sched.Scheduler
	loader    Loader
	exhausted limits.Hits
}

// New builds a process manager with lim.ProcessMax slots. Slot 0 is
// initialized active, as the permanent kernel process.
func New(lim *limits.KernelLimits, vmm *vmem.Manager, schd *sched.Scheduler, loader Loader) *Manager {
	m := &Manager{procs: make([]Process, lim.ProcessMax), vmm: vmm, sched: schd, loader: loader}
	for i := range m.procs {
		m.procs[i].Pid = defs.Pid_t(i)
	}
	m.procs[defs.KernelPid].active = true
	schd.SetLastExitHook(m.onLastThreadExit)
	return m
}

// Create implements process_create: find a free slot, clone a vmem from
// the canonical root, hand the image to the loader, create a root thread
// at the returned entry point, and activate the slot. On any mapping
// failure the freshly created vmem is destroyed and the slot released,
// per §4.9 step 2.
func (m *Manager) Create(image *Image) (defs.Pid_t, defs.Err_t) {
	m.mu.Lock()
	idx := -1
	for i := range m.procs {
		if i == int(defs.KernelPid) {
			continue
		}
		if !m.procs[i].active {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		m.exhausted.Inc()
		return 0, defs.EAGAIN
	}
	p := &m.procs[idx]
	m.mu.Unlock()

	v := m.vmm.Create(nil)
	entry, stacktop, err := m.loader(m.vmm, v, image)
	if err != 0 {
		m.vmm.Destroy(v)
		return 0, err
	}

	tid, err := m.sched.Create(p.Pid, v, func() {
		_ = entry // a real arch backend would jump here via an iret-style trampoline
	})
	if err != 0 {
		m.vmm.Destroy(v)
		return 0, err
	}
	_ = stacktop

	m.mu.Lock()
	p.Vm = v
	p.Image = image
	p.RootTid = tid
	p.active = true
	p.stacks = [stackBitmapWords]uint32{}
	m.mu.Unlock()

	m.sched.Ready(tid)
	return p.Pid, 0
}

// onLastThreadExit implements process_exit: it runs on the terminating
// thread's own goroutine (invoked by sched.Scheduler's LastExitHook) once
// that thread was the last live thread of pid. It frees the vmem, clears
// the stack bitmap, and marks the slot inactive; thread reaping itself is
// the scheduler's job (thread_free / thread_join), not this hook's.
func (m *Manager) onLastThreadExit(pid defs.Pid_t) {
	m.mu.Lock()
	p := &m.procs[pid]
	v := p.Vm
	p.Vm = nil
	p.active = false
	p.stacks = [stackBitmapWords]uint32{}
	m.mu.Unlock()

	if v != nil {
		m.vmm.Destroy(v)
	}
}

// AllocUserStack finds a free per-process user-stack slot and marks it
// in use, returning its index; it returns -1 if all are in use.
func (m *Manager) AllocUserStack(pid defs.Pid_t) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &m.procs[pid]
	for w := range p.stacks {
		if p.stacks[w] == ^uint32(0) {
			continue
		}
		for b := 0; b < 32; b++ {
			if p.stacks[w]&(1<<uint(b)) == 0 {
				p.stacks[w] |= 1 << uint(b)
				return w*32 + b
			}
		}
	}
	return -1
}

// FreeUserStack clears a slot claimed by AllocUserStack.
func (m *Manager) FreeUserStack(pid defs.Pid_t, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &m.procs[pid]
	w, b := slot/32, slot%32
	p.stacks[w] &^= 1 << uint(b)
}

// Active reports whether pid's slot is currently active, the "active iff
// root thread is not AVAILABLE" invariant from §3 stated as a direct
// query for kcall handlers to check ownership against.
func (m *Manager) Active(pid defs.Pid_t) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(pid) < 0 || int(pid) >= len(m.procs) {
		return false
	}
	return m.procs[pid].active
}

// RootThread returns pid's root thread id, or -1 if pid is not active.
func (m *Manager) RootThread(pid defs.Pid_t) defs.Tid_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(pid) < 0 || int(pid) >= len(m.procs) || !m.procs[pid].active {
		return -1
	}
	return m.procs[pid].RootTid
}

// VmOf returns the vmem owned by pid, or nil if pid is not active.
func (m *Manager) VmOf(pid defs.Pid_t) *vmem.Vmem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.procs[pid].active {
		return nil
	}
	return m.procs[pid].Vm
}

// Yield, Sleep and Wakeup are process_yield/process_sleep/process_wakeup:
// thin wrappers around the scheduler's thread_* operations applied to the
// calling thread, per §4.9.
func (m *Manager) Yield()                { m.sched.Yield() }
func (m *Manager) Sleep()                { m.sched.Sleep(m.sched.Current()) }
func (m *Manager) Wakeup(tid defs.Tid_t) { m.sched.Wakeup(tid) }

// ExhaustedCount reports how many times Create has found the process
// table full.
func (m *Manager) ExhaustedCount() int64 { return m.exhausted.Load() }
