package kcall

import (
	"testing"

	"arch"
	"defs"
	"iam"
	"klog"
	"kpool"
	"limits"
	"mem"
	"proc"
	"sched"
	"sync2"
	"vmem"
)

func noopLoader(vm *vmem.Manager, v *vmem.Vmem, image *proc.Image) (uintptr, uintptr, defs.Err_t) {
	return 0x08048000, 0xbfffe000, 0
}

// chanParker parks a bare goroutine on a channel instead of a scheduler
// slot. kernelSem and userSem each get their own, and each has at most
// one sleeper at a time here (the service loop or the test goroutine).
type chanParker struct{ wake chan struct{} }

func newChanParker() *chanParker          { return &chanParker{wake: make(chan struct{}, 1)} }
func (p *chanParker) Sleep(defs.Tid_t)    { <-p.wake }
func (p *chanParker) Wakeup(defs.Tid_t)   { p.wake <- struct{}{} }
func (p *chanParker) Current() defs.Tid_t { return 0 }

// newTestDispatcher wires a full dispatcher the way boot does, minus the
// reserved-slot thread creation: ServiceLoop runs as a bare goroutine
// rather than a scheduled thread, and the test goroutine drives it with
// DoKcall the way a trap stub would. Because neither goroutine holds a
// scheduler slot, the scoreboard semaphores park through chanParker
// instead of through the scheduler.
func newTestDispatcher(t *testing.T) (*Dispatcher, *sched.Scheduler) {
	t.Helper()
	cpu := arch.NewSim()
	lim := &limits.KernelLimits{ThreadsMax: 16, ProcessMax: 8}

	kp := kpool.New(0, 64)
	fr := mem.New()
	fr.RegisterAvailable(mem.Pa_t(64*mem.PGSIZE), 64*mem.PGSIZE)
	fr.Init()
	vmm := vmem.NewManager(kp, fr, cpu)
	s := sched.New(lim, kp, cpu)
	procs := proc.New(lim, vmm, s, noopLoader)
	idTable := iam.New(8)
	log := klog.New(cpu, 4096, func([]byte) int { return 0 }, func() {})

	kernelSem := sync2.NewSemaphore(cpu, newChanParker(), 0)
	userSem := sync2.NewSemaphore(cpu, newChanParker(), 0)

	// The service thread's identity only matters to DoKcall's
	// self-kcall guard; it need not be a real scheduled thread for these
	// tests, which drive ServiceLoop as a bare goroutine instead of
	// through the scheduler's own rotation.
	const serviceTid = defs.Tid_t(0)

	d := New(cpu, kernelSem, userSem, fr, kp, vmm, s, procs, idTable, log, serviceTid)
	go d.ServiceLoop()

	return d, s
}

func TestDoKcallRoundTripsThroughServiceLoop(t *testing.T) {
	d, _ := newTestDispatcher(t)

	ret := d.DoKcall(2, defs.KCALL_FRALLOC, Args{})
	if ret < 0 {
		t.Fatalf("DoKcall(FRALLOC) returned error %d", ret)
	}
}

func TestDoKcallPanicsWhenCallerIsServiceThread(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer func() {
		if recover() == nil {
			t.Fatal("DoKcall from the service thread's own tid should panic")
		}
	}()
	d.DoKcall(d.serviceTid, defs.KCALL_FRALLOC, Args{})
}

func TestUnknownKcallReturnsENOSYS(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ret := d.DoKcall(2, defs.Kcall_t(63), Args{})
	if ret != -int64(defs.ENOSYS) {
		t.Fatalf("unknown kcall returned %d, want %d", ret, -int64(defs.ENOSYS))
	}
}

func TestDispatchCountIncrementsPerKcall(t *testing.T) {
	d, _ := newTestDispatcher(t)
	before := d.DispatchCount()
	d.DoKcall(2, defs.KCALL_THREAD_GET_ID, Args{})
	d.DoKcall(2, defs.KCALL_THREAD_GET_ID, Args{})
	if got := d.DispatchCount(); got != before+2 {
		t.Fatalf("DispatchCount = %d, want %d", got, before+2)
	}
}

func TestFrallocFrfreeRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	frame := d.DoKcall(2, defs.KCALL_FRALLOC, Args{})
	if frame < 0 {
		t.Fatalf("FRALLOC returned error %d", frame)
	}
	ret := d.DoKcall(2, defs.KCALL_FRFREE, Args{uintptr(frame)})
	if ret != 0 {
		t.Fatalf("FRFREE returned %d, want 0", ret)
	}
}

func TestVmCreateMapInfoUnmapRemove(t *testing.T) {
	d, _ := newTestDispatcher(t)

	h := d.DoKcall(2, defs.KCALL_VMCREATE, Args{})
	if h < 0 {
		t.Fatalf("VMCREATE returned error %d", h)
	}

	frame := d.DoKcall(2, defs.KCALL_FRALLOC, Args{})
	if frame < 0 {
		t.Fatalf("FRALLOC returned error %d", frame)
	}

	const vaddr = 0x08048000
	mapRet := d.DoKcall(2, defs.KCALL_VMMAP, Args{uintptr(h), vaddr, uintptr(frame), mem.PGSIZE, 3})
	if mapRet != 0 {
		t.Fatalf("VMMAP returned %d, want 0", mapRet)
	}

	info := d.DoKcall(2, defs.KCALL_VMINFO, Args{uintptr(h), vaddr})
	if info != frame {
		t.Fatalf("VMINFO returned frame %d, want %d", info, frame)
	}

	unmapRet := d.DoKcall(2, defs.KCALL_VMUNMAP, Args{uintptr(h), vaddr})
	if unmapRet != frame {
		t.Fatalf("VMUNMAP returned frame %d, want %d", unmapRet, frame)
	}

	removeRet := d.DoKcall(2, defs.KCALL_VMREMOVE, Args{uintptr(h)})
	if removeRet != 0 {
		t.Fatalf("VMREMOVE returned %d, want 0", removeRet)
	}
}

func TestVmHandleOperationsOnUnknownHandleReturnEINVAL(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ret := d.DoKcall(2, defs.KCALL_VMMAP, Args{999, 0, 0, 0, 0})
	if ret != -int64(defs.EINVAL) {
		t.Fatalf("VMMAP on an unknown handle returned %d, want %d", ret, -int64(defs.EINVAL))
	}
}

func TestSemgetSemopSemctl(t *testing.T) {
	d, _ := newTestDispatcher(t)

	key := d.DoKcall(2, defs.KCALL_SEMGET, Args{42, 1})
	if key != 42 {
		t.Fatalf("SEMGET returned %d, want key 42", key)
	}

	val := d.DoKcall(2, defs.KCALL_SEMCTL, Args{42, semCtlGetval})
	if val != 1 {
		t.Fatalf("SEMCTL GETVAL returned %d, want 1", val)
	}

	if ret := d.DoKcall(2, defs.KCALL_SEMOP, Args{42, uintptr(^uint(0))}); ret != 0 {
		t.Fatalf("SEMOP (down) returned %d, want 0", ret)
	}

	val = d.DoKcall(2, defs.KCALL_SEMCTL, Args{42, semCtlGetval})
	if val != 0 {
		t.Fatalf("SEMCTL GETVAL after one down returned %d, want 0", val)
	}

	if ret := d.DoKcall(2, defs.KCALL_SEMCTL, Args{42, semCtlDestroy}); ret != 0 {
		t.Fatalf("SEMCTL DESTROY returned %d, want 0", ret)
	}
	if ret := d.DoKcall(2, defs.KCALL_SEMCTL, Args{42, semCtlGetval}); ret != -int64(defs.EINVAL) {
		t.Fatalf("SEMCTL GETVAL after DESTROY returned %d, want EINVAL", ret)
	}
}

func TestIdentitySetRequiresSuperuser(t *testing.T) {
	d, _ := newTestDispatcher(t)
	root := d.Iam.Root()
	child, err := d.Iam.New(root)
	if err != 0 {
		t.Fatalf("iam.New returned %v", err)
	}
	d.Iam.SetIds(child, 1000, 1000, 1000, 1000)

	ret := d.DoKcall(2, defs.KCALL_IDENTITY_SET, Args{uintptr(child), 0, 0, 0, 0})
	if ret != -int64(defs.EPERM) {
		t.Fatalf("IDENTITY_SET from a non-superuser identity returned %d, want EPERM", ret)
	}
}

func TestStatsReturnsPositiveByteCount(t *testing.T) {
	d, _ := newTestDispatcher(t)
	n := d.DoKcall(2, defs.KCALL_STATS, Args{})
	if n <= 0 {
		t.Fatalf("STATS returned %d, want a positive byte count", n)
	}
	if len(d.LastStats()) == 0 {
		t.Fatal("LastStats() empty after a successful STATS kcall")
	}
}

func TestKmodGetReturnsBaseAndSize(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetModules([]ModuleInfo{{Base: 0x100000, Size: mem.PGSIZE}})

	base := d.DoKcall(2, defs.KCALL_KMOD_GET, Args{0, kmodFieldBase})
	if base != 0x100000 {
		t.Fatalf("KMOD_GET base = %#x, want %#x", base, 0x100000)
	}
	size := d.DoKcall(2, defs.KCALL_KMOD_GET, Args{0, kmodFieldSize})
	if size != mem.PGSIZE {
		t.Fatalf("KMOD_GET size = %d, want %d", size, mem.PGSIZE)
	}
	if ret := d.DoKcall(2, defs.KCALL_KMOD_GET, Args{1, kmodFieldBase}); ret != -int64(defs.EINVAL) {
		t.Fatalf("KMOD_GET on an out-of-range index returned %d, want EINVAL", ret)
	}
}

// TestThreadCreatePinfo exercises thread_create and pinfo together:
// slot 0 is consumed by a throwaway thread first, the way boot reserves
// it for the real service thread, so the spawned process's root thread
// lands on a slot distinct from the test's serviceTid sentinel.
func TestThreadCreatePinfo(t *testing.T) {
	d, s := newTestDispatcher(t)
	if _, err := s.Create(defs.KernelPid, nil, func() {}); err != 0 {
		t.Fatalf("reserving slot 0 returned %v", err)
	}

	pid, err := d.Procs.Create(&proc.Image{Base: 0, Size: mem.PGSIZE})
	if err != 0 {
		t.Fatalf("proc.Create returned %v", err)
	}
	root := d.Procs.RootThread(pid)
	if root == 0 {
		t.Fatal("test setup error: root thread landed on the reserved slot 0")
	}

	pinfo := d.DoKcall(2, defs.KCALL_PINFO, Args{uintptr(pid)})
	if pinfo != int64(root) {
		t.Fatalf("PINFO returned %d, want root thread %d", pinfo, root)
	}
	if ret := d.DoKcall(2, defs.KCALL_PINFO, Args{999}); ret != -int64(defs.EINVAL) {
		t.Fatalf("PINFO on an inactive pid returned %d, want EINVAL", ret)
	}

	ret := d.DoKcall(root, defs.KCALL_THREAD_CREATE, Args{0x1000})
	if ret < 0 {
		t.Fatalf("THREAD_CREATE returned error %d", ret)
	}
	newTid := defs.Tid_t(ret)
	if s.Owner(newTid) != pid {
		t.Fatalf("new thread's owner = %d, want %d", s.Owner(newTid), pid)
	}
}
