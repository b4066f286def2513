package boot

import (
	"strings"
	"sync"
	"testing"
	"time"

	"arch"
	"defs"
	"limits"
	"mem"
	"sched"
)

func testConfig() Config {
	const (
		kernelBase = 0
		kernelSize = 0x10000 // 64 KiB
		kpoolBase  = kernelSize
		kpoolPages = 64 // 256 KiB
		moduleBase = kpoolBase + kpoolPages*mem.PGSIZE
		moduleSize = mem.PGSIZE
	)

	return Config{
		Cpu:         arch.NewSim(),
		Available:   []mem.MapEntry{{Base: 0, Size: 4 << 20}},
		ConsoleSink: func(buf []byte) int { return len(buf) },
		Halt:        func() {},
		LogCapacity: 4096,

		KernelImageBase: kernelBase,
		KernelImageSize: kernelSize,
		KpoolBase:       kpoolBase,

		Modules: []Module{
			{Base: moduleBase, Size: moduleSize},
		},

		Limits: &limits.KernelLimits{
			ThreadsMax: 8,
			ProcessMax: 4,
			NumUframes: 1024,
			KpoolPages: kpoolPages,
		},
	}
}

func TestRunWiresEveryComponent(t *testing.T) {
	n, err := Run(testConfig())
	if err != 0 {
		t.Fatalf("Run returned %v", err)
	}
	if n.Log == nil || n.Desc == nil || n.Trap == nil || n.Iam == nil ||
		n.Mem == nil || n.Kpool == nil || n.Vmm == nil || n.Sched == nil ||
		n.Procs == nil || n.Kcall == nil {
		t.Fatalf("Run left a component unwired: %+v", n)
	}
	if n.RootVm() == nil {
		t.Fatal("RootVm() returned nil after Run")
	}
}

func TestRunReservesServiceAndIdleSlotsInOrder(t *testing.T) {
	n, err := Run(testConfig())
	if err != 0 {
		t.Fatalf("Run returned %v", err)
	}
	if n.Sched.ThreadState(defs.ServiceTid) != sched.Started {
		t.Fatalf("service thread state = %v, want STARTED", n.Sched.ThreadState(defs.ServiceTid))
	}
	if n.Sched.ThreadState(defs.IdleTid) != sched.Started {
		t.Fatalf("idle thread state = %v, want STARTED", n.Sched.ThreadState(defs.IdleTid))
	}
}

func TestRunSpawnsFirstModuleAsReadyProcess(t *testing.T) {
	n, err := Run(testConfig())
	if err != 0 {
		t.Fatalf("Run returned %v", err)
	}
	if !n.Procs.Active(1) {
		t.Fatal("the first spawned module should occupy process slot 1")
	}
}

// TestStartHandsBatonToServiceThread drives the nucleus past boot.Start
// and checks that the service thread actually reaches its first
// kernel_sem.down, the "interrupts remain disabled until the service
// thread first blocks" handoff this package's own doc comment names.
func TestStartHandsBatonToServiceThread(t *testing.T) {
	n, err := Run(testConfig())
	if err != 0 {
		t.Fatalf("Run returned %v", err)
	}

	n.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.Sched.ThreadState(defs.ServiceTid) == sched.Waiting {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("service thread never reached WAITING (state = %v)", n.Sched.ThreadState(defs.ServiceTid))
}

// TestRunWithNoModulesLogsAndPanics covers the boot-to-idle scenario with
// zero modules: Run logs the init-server announcement and then kpanics,
// which never returns (kpanic's own contract is an infinite Hlt loop), so
// Run is driven on its own goroutine and the test polls the sink for both
// lines instead of waiting on Run itself.
func TestRunWithNoModulesLogsAndPanics(t *testing.T) {
	cfg := testConfig()
	cfg.Modules = nil

	var mu sync.Mutex
	var logged string
	cfg.ConsoleSink = func(buf []byte) int {
		mu.Lock()
		logged += string(buf)
		mu.Unlock()
		return len(buf)
	}
	var haltMu sync.Mutex
	var haltCalled bool
	cfg.Halt = func() {
		haltMu.Lock()
		haltCalled = true
		haltMu.Unlock()
	}

	go Run(cfg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := logged
		mu.Unlock()
		if strings.Contains(got, "INFO: spawning init server") && strings.Contains(got, "PANIC: missing init server") {
			haltMu.Lock()
			called := haltCalled
			haltMu.Unlock()
			if called {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("Run with no modules never logged the expected lines and halted; log = %q", logged)
}
