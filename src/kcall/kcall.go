// Package kcall is the kernel-call dispatcher (component C10): a single
// scoreboard slot shared between one user thread and a dedicated service
// thread, serialized by exactly two semaphores. This is, per the design's
// own account of itself, the subtlest piece of the nucleus, and the
// reason the scheduler keeps exactly one service thread: kernel_sem and
// user_sem both start at 0, so at most one caller can hold the scoreboard
// at a time — any other caller blocks inside its own Up/Down's condition
// variable queue until the service thread drains the slot.
package kcall

import (
	"sync"

	"arch"
	"defs"
	"iam"
	"klog"
	"kpool"
	"mem"
	"proc"
	"sched"
	"sync2"
	"vmem"
)

// Args is the five-word argument vector a kcall carries, matching the "up
// to five arguments in other registers" trap ABI in the external
// interface description.
type Args [5]uintptr

// Handler executes one kcall in the service thread's context, with the
// scoreboard's arguments already unpacked. It returns the signed result
// written back into the scoreboard; negative values are errors from the
// defs.Err_t taxonomy, negated.
type Handler func(d *Dispatcher, caller defs.Tid_t, args Args) int64

type scoreboard struct {
	caller defs.Tid_t
	nr     defs.Kcall_t
	args   Args
	ret    int64
}

// Dispatcher owns the scoreboard, the kernel_sem/user_sem pair, the
// static handler table, and a handle table for the vmem address spaces
// user threads reference by an opaque int32 rather than a raw pointer.
type Dispatcher struct {
	mu    sync.Mutex // guards the scoreboard fields
	board scoreboard

	kernelSem *sync2.Semaphore
	userSem   *sync2.Semaphore

	table      [64]Handler
	serviceTid defs.Tid_t
	cpu        arch.CPU

	Mem   *mem.Allocator
	Kpool *kpool.Pool
	Vmm   *vmem.Manager
	Sched *sched.Scheduler
	Procs *proc.Manager
	Iam   *iam.Table
	Log   *klog.Log

	sems *semTable

	dispatches dispatchCounter
	lastStats  statsSnapshot

	vmMu      sync.Mutex
	vmHandles map[int32]*vmem.Vmem
	nextVm    int32

	modules []ModuleInfo

	shuttingDown bool
}

// ModuleInfo is the base/size pair kmod_get hands back for a boot module,
// boot's own record of one trimmed to the two fields a user caller can
// ask for by index.
type ModuleInfo struct {
	Base uint32
	Size uint32
}

// SetModules installs the boot module list kmod_get serves; boot calls
// this once, right after constructing the dispatcher, since the module
// list is only known to boot.Config and this package must not import
// boot to learn it.
func (d *Dispatcher) SetModules(mods []ModuleInfo) {
	d.modules = mods
}

// New builds the dispatcher and wires every subsystem its handlers touch.
// kernelSem and userSem must both start at 0 (SEMAPHORE_INITIALIZER(0)),
// built by the caller from the same cpu/parker boot already constructed,
// since building them here would need a Parker this package has no
// business depending on beyond Scheduler itself.
func New(cpu arch.CPU, kernelSem, userSem *sync2.Semaphore, m *mem.Allocator, kp *kpool.Pool,
	vmm *vmem.Manager, sc *sched.Scheduler, procs *proc.Manager, iamTable *iam.Table,
	log *klog.Log, serviceTid defs.Tid_t) *Dispatcher {

	d := &Dispatcher{
		cpu: cpu, kernelSem: kernelSem, userSem: userSem,
		Mem: m, Kpool: kp, Vmm: vmm, Sched: sc, Procs: procs, Iam: iamTable, Log: log,
		serviceTid: serviceTid,
		sems:       newSemTable(32),
		vmHandles:  make(map[int32]*vmem.Vmem),
	}
	d.installDefaults()
	return d
}

// Register installs h for kcall number nr, overwriting any previous
// handler; it is exposed so boot or a test can extend the default table.
func (d *Dispatcher) Register(nr defs.Kcall_t, h Handler) {
	d.table[nr] = h
}

// DoKcall implements do_kcall: it runs on the caller's own kernel stack.
// Writing the scoreboard, waking the service thread, and parking on
// user_sem happen in that order. It panics if called from the service
// thread itself, since the service thread issuing a kcall against its own
// slot deadlocks the system; callers are expected to never route the
// service thread's own work back through this entry point.
func (d *Dispatcher) DoKcall(caller defs.Tid_t, nr defs.Kcall_t, args Args) int64 {
	if caller == d.serviceTid {
		panic("kcall: service thread issued a kcall against itself")
	}

	d.mu.Lock()
	d.board.caller = caller
	d.board.nr = nr
	d.board.args = args
	d.mu.Unlock()

	d.kernelSem.Up()
	d.userSem.Down()

	d.mu.Lock()
	ret := d.board.ret
	d.mu.Unlock()
	return ret
}

// ServiceLoop is handle_syscall: it runs forever on the dedicated service
// thread, waiting for a request, dispatching it, and waking the caller.
func (d *Dispatcher) ServiceLoop() {
	for {
		d.kernelSem.Down()

		d.mu.Lock()
		caller, nr, args := d.board.caller, d.board.nr, d.board.args
		d.mu.Unlock()

		ret := d.dispatch(caller, nr, args)

		d.mu.Lock()
		d.board.ret = ret
		done := d.shuttingDown
		d.mu.Unlock()

		d.userSem.Up()

		if done {
			return
		}
	}
}

func (d *Dispatcher) dispatch(caller defs.Tid_t, nr defs.Kcall_t, args Args) int64 {
	d.dispatches.inc()
	if int(nr) < 0 || int(nr) >= len(d.table) || d.table[nr] == nil {
		return errv(defs.ENOSYS)
	}
	return d.table[nr](d, caller, args)
}

// DispatchCount reports the total number of kcalls the service thread
// has dispatched since construction.
func (d *Dispatcher) DispatchCount() int64 { return d.dispatches.load() }

func errv(e defs.Err_t) int64 { return -int64(e) }

func (d *Dispatcher) installDefaults() {
	d.Register(defs.KCALL_SHUTDOWN, kcallShutdown)
	d.Register(defs.KCALL_WRITE, kcallWrite)
	d.Register(defs.KCALL_FRALLOC, kcallFralloc)
	d.Register(defs.KCALL_FRFREE, kcallFrfree)
	d.Register(defs.KCALL_VMCREATE, kcallVmcreate)
	d.Register(defs.KCALL_VMREMOVE, kcallVmremove)
	d.Register(defs.KCALL_VMMAP, kcallVmmap)
	d.Register(defs.KCALL_VMUNMAP, kcallVmunmap)
	d.Register(defs.KCALL_VMCTRL, kcallVmctrl)
	d.Register(defs.KCALL_VMINFO, kcallVminfo)
	d.Register(defs.KCALL_KMOD_GET, kcallKmodGet)
	d.Register(defs.KCALL_SPAWN, kcallSpawn)
	d.Register(defs.KCALL_THREAD_GET_ID, kcallThreadGetId)
	d.Register(defs.KCALL_THREAD_CREATE, kcallThreadCreate)
	d.Register(defs.KCALL_THREAD_YIELD, kcallThreadYield)
	d.Register(defs.KCALL_THREAD_EXIT, kcallThreadExit)
	d.Register(defs.KCALL_THREAD_JOIN, kcallThreadJoin)
	d.Register(defs.KCALL_THREAD_DETACH, kcallThreadDetach)
	d.Register(defs.KCALL_PINFO, kcallPinfo)
	d.Register(defs.KCALL_PROCESS_GET_ID, kcallProcessGetId)
	d.Register(defs.KCALL_PROCESS_EXIT, kcallProcessExit)
	d.Register(defs.KCALL_SLEEP, kcallSleep)
	d.Register(defs.KCALL_WAKEUP, kcallWakeup)
	d.Register(defs.KCALL_SEMGET, kcallSemget)
	d.Register(defs.KCALL_SEMOP, kcallSemop)
	d.Register(defs.KCALL_SEMCTL, kcallSemctl)
	d.Register(defs.KCALL_IDENTITY_GET, kcallIdentityGet)
	d.Register(defs.KCALL_IDENTITY_SET, kcallIdentitySet)
	d.Register(defs.KCALL_STATS, kcallStats)
}

// vmHandleAlloc installs v under a fresh handle; vmHandleOf and
// vmHandleFree are its lookup and teardown counterparts. These exist
// because user threads must never carry a raw *vmem.Vmem across the
// kcall boundary.
func (d *Dispatcher) vmHandleAlloc(v *vmem.Vmem) int32 {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()
	d.nextVm++
	h := d.nextVm
	d.vmHandles[h] = v
	return h
}

func (d *Dispatcher) vmHandleOf(h int32) *vmem.Vmem {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()
	return d.vmHandles[h]
}

func (d *Dispatcher) vmHandleFree(h int32) {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()
	delete(d.vmHandles, h)
}

func kcallShutdown(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()
	d.Log.Flush(1 << 20)
	return 0
}

// kcallWrite implements the write kcall. The buffer itself arrives
// pre-copied into kernel memory by the trap stub this tree has no
// assembly for; handlers here operate on the scoreboard's raw arguments
// directly, matching how every other handler treats args as already
// validated kernel-side values rather than user pointers needing
// CopyIn/CopyOut (that translation belongs to the trap-entry stub, not
// the dispatcher). Without that stub there is no real payload to copy
// in, so this only exercises klog's ring buffer with n zero bytes and
// reports the count written; the stats kcall, not write, is this tree's
// only path that moves real kernel data back out to a caller.
func kcallWrite(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	n := int(args[1])
	if n < 0 || n > 4096 {
		return errv(defs.EINVAL)
	}
	buf := make([]byte, n)
	d.Log.Write(buf)
	return int64(n)
}

// kcallKmodGet implements kmod_get: args[0] selects the module by boot
// order, args[1] selects which field of it to read. Splitting base and
// size across two calls instead of packing both into one 64-bit return
// keeps every kcall's result a plain machine word, matching the rest of
// the table.
const (
	kmodFieldBase = 0
	kmodFieldSize = 1
)

func kcallKmodGet(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	idx := int(args[0])
	if idx < 0 || idx >= len(d.modules) {
		return errv(defs.EINVAL)
	}
	mod := d.modules[idx]
	switch args[1] {
	case kmodFieldBase:
		return int64(mod.Base)
	case kmodFieldSize:
		return int64(mod.Size)
	}
	return errv(defs.EINVAL)
}

func kcallFralloc(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	f := d.Mem.Alloc()
	if f == defs.FRAME_NULL {
		return errv(defs.ENOMEM)
	}
	return int64(f)
}

func kcallFrfree(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return errv(d.Mem.Free(defs.Frame_t(args[0])))
}

func kcallVmcreate(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	v := d.Vmm.Create(nil)
	return int64(d.vmHandleAlloc(v))
}

func kcallVmremove(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	h := int32(args[0])
	v := d.vmHandleOf(h)
	if v == nil {
		return errv(defs.EINVAL)
	}
	d.Vmm.Destroy(v)
	d.vmHandleFree(h)
	return 0
}

func kcallVmmap(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	v := d.vmHandleOf(int32(args[0]))
	if v == nil {
		return errv(defs.EINVAL)
	}
	vaddr, frame, size := uintptr(args[1]), defs.Frame_t(args[2]), uint32(args[3])
	w, x := args[4]&1 != 0, args[4]&2 != 0
	return errv(d.Vmm.Map(v, vaddr, frame, size, w, x))
}

func kcallVmunmap(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	v := d.vmHandleOf(int32(args[0]))
	if v == nil {
		return errv(defs.EINVAL)
	}
	frame, err := d.Vmm.Unmap(v, uintptr(args[1]))
	if err != 0 {
		return errv(err)
	}
	return int64(frame)
}

func kcallVmctrl(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	v := d.vmHandleOf(int32(args[0]))
	if v == nil {
		return errv(defs.EINVAL)
	}
	mode := vmem.Mode{Writable: args[2]&1 != 0, User: args[2]&2 != 0}
	return errv(d.Vmm.Ctrl(v, uintptr(args[1]), mode))
}

func kcallVminfo(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	v := d.vmHandleOf(int32(args[0]))
	if v == nil {
		return errv(defs.EINVAL)
	}
	info, err := d.Vmm.Info(v, uintptr(args[1]))
	if err != 0 {
		return errv(err)
	}
	return int64(info.Frame)
}

func kcallSpawn(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	pid, err := d.Procs.Create(&proc.Image{Base: uint32(args[0]), Size: uint32(args[1])})
	if err != 0 {
		return errv(err)
	}
	return int64(pid)
}

func kcallThreadGetId(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return int64(d.Sched.Current())
}

// kcallThreadCreate implements thread_create: a new thread joins the
// caller's own process, sharing its vmem, with args[0] the entry point a
// real arch backend would resume at. This tree has no assembly
// trap-return trampoline to jump into user mode with, so the new
// thread's body is a no-op that only records the entry it would have
// jumped to, the same placeholder proc.Manager.Create's root thread uses.
func kcallThreadCreate(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	pid := d.Sched.Owner(caller)
	vm := d.Procs.VmOf(pid)
	if vm == nil {
		return errv(defs.EINVAL)
	}
	entry := uintptr(args[0])
	tid, err := d.Sched.Create(pid, vm, func() {
		_ = entry // a real arch backend would jump here via an iret-style trampoline
	})
	if err != 0 {
		return errv(err)
	}
	d.Sched.Ready(tid)
	return int64(tid)
}

func kcallThreadYield(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	d.Sched.Yield()
	return 0
}

// kcallThreadExit only validates the request; the calling thread's own
// body function returning is what actually drives sched.Scheduler into
// TERMINATED, since the service thread has no way to unwind a different
// goroutine's stack for it.
func kcallThreadExit(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return 0
}

func kcallThreadJoin(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return errv(d.Sched.Join(defs.Tid_t(args[0])))
}

func kcallThreadDetach(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return errv(d.Sched.Detach(defs.Tid_t(args[0])))
}

func kcallProcessGetId(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	return int64(d.Sched.Owner(caller))
}

// kcallPinfo implements process_info(pid): it reports pid's root thread
// id, the one piece of Process state a caller outside the process
// manager has any legitimate use for.
func kcallPinfo(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	pid := defs.Pid_t(args[0])
	if !d.Procs.Active(pid) {
		return errv(defs.EINVAL)
	}
	return int64(d.Procs.RootThread(pid))
}

func kcallProcessExit(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	d.Sched.WakeupAll(d.Sched.Owner(caller))
	return 0
}

func kcallSleep(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	d.Sched.Sleep(defs.Tid_t(args[0]))
	return 0
}

func kcallWakeup(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	d.Sched.Wakeup(defs.Tid_t(args[0]))
	return 0
}

func kcallSemget(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	key := int32(args[0])
	initial := int64(int32(args[1]))
	d.sems.GetOrCreate(key, func() *sync2.Semaphore {
		return sync2.NewSemaphore(d.cpu, d.Sched, initial)
	})
	return int64(key)
}

func kcallSemop(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	key := int32(args[0])
	delta := int32(args[1])
	sem, ok := d.sems.Get(key)
	if !ok {
		return errv(defs.EINVAL)
	}
	if delta > 0 {
		sem.Up()
	} else {
		sem.Down()
	}
	return 0
}

const (
	semCtlDestroy = 0
	semCtlGetval  = 1
)

func kcallSemctl(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	key := int32(args[0])
	switch args[1] {
	case semCtlDestroy:
		d.sems.Del(key)
		return 0
	case semCtlGetval:
		sem, ok := d.sems.Get(key)
		if !ok {
			return errv(defs.EINVAL)
		}
		return sem.Count()
	}
	return errv(defs.EINVAL)
}

func kcallIdentityGet(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	id := d.Iam.Get(iam.Handle(args[0]))
	return int64(id.Euid)
}

func kcallIdentitySet(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	h := iam.Handle(args[0])
	id := d.Iam.Get(h)
	if !id.IsSuperuser() {
		return errv(defs.EPERM)
	}
	d.Iam.SetIds(h, uint32(args[1]), uint32(args[2]), uint32(args[3]), uint32(args[4]))
	return 0
}

// kcallStats implements the stats kcall: it packages the frame
// allocator's and kernel page pool's free counts into a pprof-style
// profile (no scheduler or interrupt counters are included) and hands back the number of bytes the caller
// should expect to copy out, giving a caller a way to observe the live
// counters without touching kernel internals directly.
func kcallStats(d *Dispatcher, caller defs.Tid_t, args Args) int64 {
	n, err := writeStatsProfile(d)
	if err != 0 {
		return errv(err)
	}
	return int64(n)
}
