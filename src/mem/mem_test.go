package mem

import (
	"testing"

	"defs"
)

func newTestAllocator(availBase Pa_t, availSize uint32, reservedSize uint32) *Allocator {
	a := New()
	a.RegisterAvailable(availBase, availSize)
	if reservedSize > 0 {
		a.RegisterReserved(availBase, reservedSize)
	}
	a.Init()
	return a
}

func TestInitReservesPermanently(t *testing.T) {
	a := newTestAllocator(0, 16*PGSIZE, 4*PGSIZE)
	for i := defs.Frame_t(0); i < 4; i++ {
		if !a.IsAllocated(i) {
			t.Fatalf("frame %d should be permanently reserved after Init", i)
		}
	}
	if n := a.NumFree(); n != 12 {
		t.Fatalf("NumFree = %d, want 12", n)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(0, 8*PGSIZE, 0)
	before := a.NumFree()

	f := a.Alloc()
	if f == defs.FRAME_NULL {
		t.Fatal("Alloc returned FRAME_NULL with free frames available")
	}
	if !a.IsAllocated(f) {
		t.Fatalf("frame %d not marked allocated after Alloc", f)
	}
	if got := a.NumFree(); got != before-1 {
		t.Fatalf("NumFree = %d, want %d", got, before-1)
	}

	if err := a.Free(f); err != 0 {
		t.Fatalf("Free returned %v, want success", err)
	}
	if got := a.NumFree(); got != before {
		t.Fatalf("NumFree after Free = %d, want %d", got, before)
	}
}

func TestExhaustionReturnsFrameNull(t *testing.T) {
	a := newTestAllocator(0, 2*PGSIZE, 0)
	for i := 0; i < 2; i++ {
		if a.Alloc() == defs.FRAME_NULL {
			t.Fatalf("unexpected exhaustion on frame %d of 2", i)
		}
	}
	if f := a.Alloc(); f != defs.FRAME_NULL {
		t.Fatalf("Alloc on exhausted pool returned %d, want FRAME_NULL", f)
	}
}

func TestRefupKeepsFrameAllocatedAcrossOneFree(t *testing.T) {
	a := newTestAllocator(0, 4*PGSIZE, 0)
	f := a.Alloc()
	a.Refup(f)
	a.Free(f)
	if !a.IsAllocated(f) {
		t.Fatalf("frame %d freed while refcount should still be 1", f)
	}
	a.Free(f)
	if a.IsAllocated(f) {
		t.Fatalf("frame %d still allocated after matching Free", f)
	}
}

func TestFreeUnregisteredFrameIsRejected(t *testing.T) {
	a := newTestAllocator(0, 4*PGSIZE, 0)
	if err := a.Free(defs.Frame_t(1000)); err != defs.EINVAL {
		t.Fatalf("Free on out-of-range frame = %v, want EINVAL", err)
	}
}
