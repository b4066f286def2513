package klog

import (
	"sync"
	"testing"
	"time"

	"arch"
)

func TestWriteThenFlushDeliversBytesToSink(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	sink := func(buf []byte) int {
		mu.Lock()
		got = append(got, buf...)
		mu.Unlock()
		return len(buf)
	}
	l := New(arch.NewSim(), 64, sink, func() {})

	l.Write([]byte("hello"))
	n := l.Flush(64)
	if n != 5 {
		t.Fatalf("Flush returned %d, want 5", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "hello" {
		t.Fatalf("sink received %q, want %q", got, "hello")
	}
}

func TestFlushAdvancesOnlyPastSunkBytes(t *testing.T) {
	l := New(arch.NewSim(), 64, func(buf []byte) int { return len(buf) }, func() {})

	l.Write([]byte("abc"))
	if n := l.Flush(64); n != 3 {
		t.Fatalf("first Flush = %d, want 3", n)
	}
	if n := l.Flush(64); n != 0 {
		t.Fatalf("second Flush with nothing new written = %d, want 0", n)
	}
}

// TestFlushRespectsChunkSize checks the sink never receives more than
// chunkSize bytes in a single call, even though Flush itself drains
// everything across repeated calls to the sink.
func TestFlushRespectsChunkSize(t *testing.T) {
	var calls int
	var maxLen int
	sink := func(buf []byte) int {
		calls++
		if len(buf) > maxLen {
			maxLen = len(buf)
		}
		return len(buf)
	}
	l := New(arch.NewSim(), 64, sink, func() {})

	l.Write([]byte("0123456789"))
	n := l.Flush(3)
	if n != 10 {
		t.Fatalf("Flush returned %d, want 10", n)
	}
	if maxLen > 3 {
		t.Fatalf("sink saw a chunk of %d bytes, want <= 3", maxLen)
	}
	if calls < 4 {
		t.Fatalf("Flush(3) on 10 bytes made %d sink calls, want at least 4", calls)
	}
}

// TestWriteOverwritesOldestBytesOnOverflow checks the ring buffer's
// buffer-full behavior: writing more than capacity advances head, so the
// oldest unflushed bytes are the ones dropped.
func TestWriteOverwritesOldestBytesOnOverflow(t *testing.T) {
	var got []byte
	sink := func(buf []byte) int {
		got = append(got, buf...)
		return len(buf)
	}
	l := New(arch.NewSim(), 4, sink, func() {})

	l.Write([]byte("abcdef")) // 6 bytes into a 4-byte ring: "ab" is lost
	l.Flush(64)

	if string(got) != "cdef" {
		t.Fatalf("sink received %q, want %q", got, "cdef")
	}
}

// TestPanicFlushesDisablesInterruptsAndHalts drives Panic on its own
// goroutine, since Panic never returns (it spins on Hlt forever by
// design), and polls for the side effects it guarantees before that
// final loop: the message reaching the sink, interrupts disabled, and
// the injected halt function invoked.
func TestPanicFlushesDisablesInterruptsAndHalts(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	sink := func(buf []byte) int {
		mu.Lock()
		got = append(got, buf...)
		mu.Unlock()
		return len(buf)
	}

	cpu := arch.NewSim()
	var haltCalled bool
	var haltMu sync.Mutex
	halt := func() {
		haltMu.Lock()
		haltCalled = true
		haltMu.Unlock()
	}

	l := New(cpu, 256, sink, halt)
	go l.Panic("kaboom")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		haltMu.Lock()
		ready := haltCalled && len(got) > 0
		haltMu.Unlock()
		mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	msg := string(got)
	mu.Unlock()
	if msg == "" {
		t.Fatal("sink never received the panic message")
	}
	haltMu.Lock()
	defer haltMu.Unlock()
	if !haltCalled {
		t.Fatal("halt was never invoked")
	}
	if cpu.IntsEnabled() {
		t.Fatal("interrupts should be disabled after Panic")
	}
}
