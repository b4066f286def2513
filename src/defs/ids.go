package defs

// Pid_t identifies a process slot in [0, PROCESS_MAX).
type Pid_t int32

// Tid_t identifies a thread slot in [0, THREADS_MAX).
type Tid_t int32

// Frame_t is a physical page-frame number (paddr >> 12).
type Frame_t uint32

// FRAME_NULL is the sentinel returned by a failed frame_alloc/kpage_get.
const FRAME_NULL Frame_t = ^Frame_t(0)

// KernelPid is the pid of the ever-present kernel process (slot 0).
const KernelPid Pid_t = 0

// ServiceTid and IdleTid are the two reserved thread slots the scheduler
// always starts with: the kernel-call service thread and the thread that
// halts the CPU when nothing else is ready.
const (
	ServiceTid Tid_t = 0
	IdleTid    Tid_t = 1
)
