// Package boot is the front end (component C13): it takes the raw
// memory map and module list a platform-specific entry stub would hand
// it, brings up every other component in dependency order, spawns the
// first user process, and hands the baton to the kernel-call service
// thread. Nothing downstream of stdoutInit ever runs before boot.Run
// returns, so this package is the one place in the tree allowed to know
// about every other component at once.
package boot

import (
	"fmt"

	"arch"
	"defs"
	"desc"
	"iam"
	"kcall"
	"klog"
	"kpool"
	"limits"
	"mem"
	"proc"
	"sched"
	"sync2"
	"trap"
	"util"
	"vmem"
)

// Module is one boot-loaded module record: a flat binary already resident
// at [Base, Base+Size) of physical memory, plus the command line a real
// multiboot loader would have copied alongside it. Cmdline is a fixed
// 64-byte field to match the wire record a real boot stub fills in,
// rather than a Go string a stub would have to marshal into.
type Module struct {
	Base    uint32
	Size    uint32
	Cmdline [64]byte
}

func (m Module) cmdline() string {
	n := 0
	for n < len(m.Cmdline) && m.Cmdline[n] != 0 {
		n++
	}
	return string(m.Cmdline[:n])
}

// Config is everything a platform entry stub collects before control
// reaches boot.Run: the memory map, the reserved ranges carved out of it
// (kernel image, kernel page pool), the module list, the console sink and
// halt function klog needs, and the table-size ceilings the nucleus is
// built with.
type Config struct {
	Cpu arch.CPU

	Available []mem.MapEntry
	Reserved  []mem.MapEntry
	Modules   []Module

	ConsoleSink func(buf []byte) int
	Halt        func()
	LogCapacity int

	KernelImageBase mem.Pa_t
	KernelImageSize uint32

	KpoolBase mem.Pa_t
	Limits    *limits.KernelLimits
}

// userImageBase and userStackTop are the fixed addresses the flat loader
// maps a spawned module's code and stack at; this nucleus carries no ELF
// loader of its own (a documented non-goal), so every module is treated
// as a single flat segment placed at the same address every time, the
// simplest arrangement that still exercises vmem.Map end to end.
const (
	userImageBase = 0x08048000
	userStackTop  = 0xbfffe000
)

// Nucleus is the fully wired, running kernel: every component handle
// boot.Run constructed, kept around so a caller (or a test) can reach
// into it after boot completes.
type Nucleus struct {
	Cpu   arch.CPU
	Log   *klog.Log
	Desc  *desc.Tables
	Lpic  *trap.Lpic
	Trap  *trap.Dispatcher
	Iam   *iam.Table
	Mem   *mem.Allocator
	Kpool *kpool.Pool
	Vmm   *vmem.Manager
	Sched *sched.Scheduler
	Procs *proc.Manager
	Kcall *kcall.Dispatcher

	rootVm *vmem.Vmem
}

// Run executes the thirteen-component bring-up sequence described for
// this package: stdout, kargs, hal, iam, mem/kpool/vmem/pm, the kcall
// dispatcher and the first spawned process. It does not start the
// service thread; call Start on the returned Nucleus once the caller is
// ready to hand over control for good.
func Run(cfg Config) (*Nucleus, defs.Err_t) {
	n := &Nucleus{Cpu: cfg.Cpu}

	// 1. stdoutInit
	n.Log = klog.New(cfg.Cpu, cfg.LogCapacity, cfg.ConsoleSink, cfg.Halt)

	// 2. kargsParse: fold the memory map and every module's extent into
	// the frame allocator's universe before anything else touches it.
	n.Mem = mem.New()
	for _, e := range cfg.Available {
		n.Mem.RegisterAvailable(e.Base, e.Size)
	}
	for _, e := range cfg.Reserved {
		n.Mem.RegisterReserved(e.Base, e.Size)
	}
	n.Mem.RegisterReserved(cfg.KernelImageBase, cfg.KernelImageSize)
	n.Mem.RegisterReserved(cfg.KpoolBase, uint32(cfg.Limits.KpoolPages)*mem.PGSIZE)
	for _, mod := range cfg.Modules {
		n.Mem.RegisterReserved(mem.Pa_t(mod.Base), mod.Size)
	}
	n.Mem.Init()

	// 3. halInit: descriptor tables, the 8259 pair, and the exception/
	// interrupt dispatcher built on top of it. stubAddr has nothing real
	// to return in a tree with no assembly trap-entry stub; every vector
	// is wired to itself purely so the IDT is fully populated, matching
	// the "every slot valid before interrupts are ever enabled" invariant.
	n.Desc = desc.New(func(vector int) uint32 { return uint32(vector) })
	n.Lpic = trap.NewLpic(cfg.Cpu, uint8(desc.IrqBase))
	n.Trap = trap.New(n.Lpic, func(format string, args ...interface{}) {
		n.Log.Panic(fmt.Sprintf(format, args...))
	})

	// 4. iamInit
	n.Iam = iam.New(64)

	// 5. memInit -> frameInit -> kpoolInit -> vmemInit -> pmInit
	n.Kpool = kpool.New(cfg.KpoolBase, cfg.Limits.KpoolPages)
	n.Vmm = vmem.NewManager(n.Kpool, n.Mem, cfg.Cpu)
	n.rootVm = n.Vmm.InitRoot(cfg.KernelImageBase, cfg.KernelImageSize)

	n.Sched = sched.New(cfg.Limits, n.Kpool, cfg.Cpu)
	n.Procs = proc.New(cfg.Limits, n.Vmm, n.Sched, flatLoader(n.Mem))

	// 6. Build the kcall dispatcher. kernel_sem and user_sem both start
	// at 0, per SEMAPHORE_INITIALIZER(0); the scheduler itself is the
	// Parker every synchronization primitive in this tree suspends
	// through.
	kernelSem := sync2.NewSemaphore(cfg.Cpu, n.Sched, 0)
	userSem := sync2.NewSemaphore(cfg.Cpu, n.Sched, 0)
	n.Kcall = kcall.New(cfg.Cpu, kernelSem, userSem, n.Mem, n.Kpool, n.Vmm, n.Sched, n.Procs, n.Iam, n.Log, defs.ServiceTid)
	mods := make([]kcall.ModuleInfo, len(cfg.Modules))
	for i, mod := range cfg.Modules {
		mods[i] = kcall.ModuleInfo{Base: mod.Base, Size: mod.Size}
	}
	n.Kcall.SetModules(mods)

	// Create order matters: the scheduler hands out slots in ascending
	// index order, and ServiceTid/IdleTid name fixed slots 0 and 1. The
	// service thread is created first so it lands on slot 0.
	if _, err := n.Sched.Create(defs.KernelPid, nil, n.Kcall.ServiceLoop); err != 0 {
		return nil, err
	}
	if _, err := n.Sched.Create(defs.KernelPid, nil, idleBody(cfg.Cpu, n.Sched)); err != 0 {
		return nil, err
	}

	if len(cfg.Modules) == 0 {
		// No module means no init server to spawn: log the attempt, then
		// kpanic. klog.Log.Panic tags every fatal message with its own
		// "PANIC: " prefix rather than a separate per-call severity tag,
		// so the logged line reads "PANIC: missing init server" and never
		// returns, per this package's own contract for a fatal boot error.
		n.Log.Write([]byte("INFO: spawning init server\n"))
		n.Log.Flush(1 << 20)
		n.Log.Panic("missing init server")
	}

	img := &proc.Image{Base: cfg.Modules[0].Base, Size: cfg.Modules[0].Size, Cmdline: cfg.Modules[0].cmdline()}
	if _, err := n.Procs.Create(img); err != 0 {
		return nil, err
	}

	return n, 0
}

// Start hands the baton to the service thread for the very first time,
// per this package's closing step: "interrupts remain disabled until the
// service thread first blocks on kernel_sem.down". It returns as soon as
// the service thread's goroutine has taken the baton; it does not wait
// for that thread to reach its first Down.
func (n *Nucleus) Start() {
	n.Sched.Start(defs.ServiceTid)
}

// RootVm returns the canonical root address space every process's kernel
// half is cloned from.
func (n *Nucleus) RootVm() *vmem.Vmem { return n.rootVm }

// flatLoader builds the Loader proc.New is constructed with: it maps
// image's already-resident physical frames straight into the user half
// at a fixed base address and gives the process a single freshly
// allocated stack page, rather than parsing any on-disk format. A real
// ELF loader would replace this with one that reads program headers and
// maps each PT_LOAD segment at its own address; this nucleus's explicit
// non-goal is that parsing, not the mapping step it would end in.
// frames is closed over rather than threaded through proc.Loader's
// signature, since that signature is shared with every other caller of
// proc.New and has no business knowing about the frame allocator.
func flatLoader(frames *mem.Allocator) proc.Loader {
	return func(vm *vmem.Manager, v *vmem.Vmem, image *proc.Image) (entry, stacktop uintptr, err defs.Err_t) {
		if image.Size == 0 {
			return 0, 0, defs.EINVAL
		}
		baseFrame := defs.Frame_t(image.Base / mem.PGSIZE)
		size := util.Roundup(image.Size, uint32(mem.PGSIZE))
		if e := vm.Map(v, userImageBase, baseFrame, size, true, true); e != 0 {
			return 0, 0, e
		}

		stackFrame := frames.Alloc()
		if stackFrame == defs.FRAME_NULL {
			return 0, 0, defs.ENOMEM
		}
		if e := vm.Map(v, userStackTop-mem.PGSIZE, stackFrame, mem.PGSIZE, true, false); e != 0 {
			frames.Free(stackFrame)
			return 0, 0, e
		}

		return userImageBase, userStackTop, 0
	}
}

// idleBody is the thread that runs whenever the scheduler finds no
// thread READY: halt the CPU, then yield straight back in, forever. It
// never terminates, since Yield's no-READY-thread fallback reaches into
// the idle slot directly rather than scheduling it like an ordinary
// thread.
func idleBody(cpu arch.CPU, s *sched.Scheduler) func() {
	return func() {
		for {
			cpu.Hlt()
			s.Yield()
		}
	}
}

