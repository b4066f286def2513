package klog

import (
	"fmt"
	"runtime"
)

// callerTrace renders the Go call stack starting at depth skip, the same
// depth-indexed walk over runtime.Caller a panic handler uses to show
// where a fatal condition originated. Real hardware would unwind the
// faulting thread's saved Context instead; this tree's kpanic runs on
// the host goroutine that hit the condition, so the host's own call
// stack is the closest equivalent available without a real stack-walker
// over sched.Context.
func callerTrace(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", file, line)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", file, line)
		}
	}
	return s
}
