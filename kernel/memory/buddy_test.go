package memory

import (
	"testing"
	"unsafe"
)

// backingRegion allocates a host byte slice and returns a Region whose
// StartPhys aliases it, standing in for physical RAM under test.
func backingRegion(t *testing.T, size uintptr) Region {
	t.Helper()
	buf := make([]byte, size+FrameSize4K) // slack for alignment
	addr := alignUp(uintptr(unsafe.Pointer(&buf[0])), FrameSize4K)
	return Region{StartPhys: addr, Length: size, Kind: Available}
}

func TestNewBuddyAllocatorReservesBitmapPages(t *testing.T) {
	r := backingRegion(t, 1<<20) // 1 MiB region -> 256 layer-0 blocks
	b, ok := newBuddyAllocator(r)
	if !ok {
		t.Fatal("expected allocator to build")
	}
	if b.remaining >= b.managedLen {
		t.Fatalf("remaining %d should be less than managed %d (bitmap pages reserved)", b.remaining, b.managedLen)
	}
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	r := backingRegion(t, 1<<20)
	b, _ := newBuddyAllocator(r)
	before := b.remaining

	frame, ok := b.allocate(0)
	if !ok {
		t.Fatal("expected a free 4 KiB block")
	}
	if !b.owns(frame) {
		t.Fatalf("allocated frame 0x%x not owned by region base 0x%x", frame, b.base)
	}
	if err := b.free(frame, 0); err != nil {
		t.Fatalf("free: %v", err)
	}
	if b.remaining != before {
		t.Fatalf("remaining after alloc+free = %d, want %d", b.remaining, before)
	}
}

func TestAllocateSplitsLargerBlock(t *testing.T) {
	r := backingRegion(t, 1<<20)
	b, _ := newBuddyAllocator(r)

	frame, ok := b.allocate(1) // 8 KiB block, must come back 8 KiB aligned
	if !ok {
		t.Fatal("expected an 8 KiB block")
	}
	if frame&(uintptr(FrameSize4K<<1)-1) != 0 {
		t.Fatalf("8 KiB block 0x%x is not 8 KiB aligned", frame)
	}
}

func TestFreeMergesBuddies(t *testing.T) {
	r := backingRegion(t, 1<<20)
	b, _ := newBuddyAllocator(r)
	before := b.remaining

	a, _ := b.allocate(0)
	c, _ := b.allocate(0)
	if err := b.free(a, 0); err != nil {
		t.Fatalf("free a: %v", err)
	}
	if err := b.free(c, 0); err != nil {
		t.Fatalf("free c: %v", err)
	}

	if b.remaining != before {
		t.Fatalf("remaining after two alloc+free = %d, want %d", b.remaining, before)
	}
	// A subsequent 2MiB-scale allocation higher up the tree should still
	// succeed, which would fail if merging left the tree inconsistent.
	if _, ok := b.allocate(2); !ok {
		t.Fatal("expected merge to keep higher layers allocatable")
	}
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	r := backingRegion(t, 1<<20)
	b, _ := newBuddyAllocator(r)

	frame, _ := b.allocate(0)
	if err := b.free(frame, 0); err != nil {
		t.Fatalf("first free: %v", err)
	}
	if err := b.free(frame, 0); err != ErrDoubleFree {
		t.Fatalf("second free = %v, want ErrDoubleFree", err)
	}
}

func TestFreeRejectsDoubleFreeThroughFrameAllocator(t *testing.T) {
	Init([]Region{backingRegion(t, 1<<20)})

	frame, err := Allocate(FrameSize4K)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := Free(frame, FrameSize4K); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := Free(frame, FrameSize4K); err != ErrDoubleFree {
		t.Fatalf("second Free = %v, want ErrDoubleFree", err)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	r := backingRegion(t, 64*1024) // small region: 16 layer-0 blocks minus bitmap overhead
	b, _ := newBuddyAllocator(r)

	count := 0
	for {
		if _, ok := b.allocate(0); !ok {
			break
		}
		count++
		if count > 1000 {
			t.Fatal("allocate never reported exhaustion")
		}
	}
	if count == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}
}
