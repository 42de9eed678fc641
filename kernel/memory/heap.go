package memory

import (
	"unsafe"

	ksync "vkernel/kernel/sync"
)

// Heap window geometry. The window sits well above the direct map so
// the two never alias; 16 MiB is plenty for the fixed-size classes plus
// a large-allocation fallback region.
const (
	HeapBase = 0x0000_5000_0000_0000
	HeapSize = 16 * 1024 * 1024
)

// sizeClasses are the block sizes the fixed-size-block allocator
// carves out of the window. Anything larger than the top class falls
// through to the best-fit linked list over the fallback region.
var sizeClasses = [...]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

const fallbackFraction = 4 // 1/4 of the window is reserved for the linked-list fallback

// freeBlock is the intrusive header a free fixed-size block is
// overwritten with; live (allocated) blocks have no header at all, so a
// class block's size is implicit from which free list it came off of.
type freeBlock struct {
	next *freeBlock
}

// segment is the doubly-linked free-list node used by the large-object
// fallback allocator, in a best-fit-with-coalescing style.
type segment struct {
	next, prev  *segment
	size        uintptr
	allocated   bool
}

type heap struct {
	lock ksync.SpinLock

	classFree [len(sizeClasses)]*freeBlock
	bumpNext  uintptr
	bumpEnd   uintptr

	fallbackHead *segment
}

var kernelHeap heap

// InitHeap maps HeapSize bytes at HeapBase through mapper, one page at a
// time, asking the frame allocator for each backing frame. If any
// intermediate map fails, every page this call itself mapped is rolled
// back and the frames returned, per spec's "all successful maps must be
// rolled back" rule — a partially-populated heap window is worse than no
// heap at all, since later code has no way to tell which pages are safe.
func InitHeap(mapper *Mapper) error {
	var mapped []uintptr
	rollback := func() {
		for _, va := range mapped {
			if frame, ok := mapper.Unmap(va); ok {
				Free(frame, FrameSize4K)
			}
		}
	}

	for va := uintptr(HeapBase); va < HeapBase+HeapSize; va += FrameSize4K {
		frame, err := Allocate(FrameSize4K)
		if err != nil {
			rollback()
			return ErrMapFailure
		}
		if err := mapper.Map(va, frame, PageFlags{Writable: true}); err != nil {
			Free(frame, FrameSize4K)
			rollback()
			return err
		}
		mapped = append(mapped, va)
	}

	kernelHeap.bumpNext = HeapBase
	kernelHeap.bumpEnd = HeapBase + HeapSize - HeapSize/fallbackFraction
	fallbackBase := kernelHeap.bumpEnd

	head := (*segment)(unsafe.Pointer(fallbackBase))
	*head = segment{size: HeapBase + HeapSize - fallbackBase}
	kernelHeap.fallbackHead = head
	return nil
}

func classIndexFor(size uintptr) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Kmalloc allocates size bytes from the kernel heap, returning nil if
// the window has no room left. Requests that fit a size class come from
// that class's free list (refilled by bumping the window when empty);
// larger requests go to the best-fit fallback list.
func Kmalloc(size uintptr) unsafe.Pointer {
	kernelHeap.lock.Lock()
	defer kernelHeap.lock.Unlock()

	if idx := classIndexFor(size); idx >= 0 {
		return kernelHeap.allocClass(idx)
	}
	return kernelHeap.allocFallback(size)
}

func (h *heap) allocClass(idx int) unsafe.Pointer {
	if h.classFree[idx] != nil {
		b := h.classFree[idx]
		h.classFree[idx] = b.next
		return unsafe.Pointer(b)
	}
	blockSize := sizeClasses[idx]
	if h.bumpNext+blockSize > h.bumpEnd {
		return nil
	}
	p := unsafe.Pointer(h.bumpNext)
	h.bumpNext += blockSize
	return p
}

// Kfree returns a block obtained from Kmalloc to its size class's free
// list, or to the fallback list with coalescing if it came from there.
// The caller must pass the same size given to Kmalloc; unlike a general
// allocator this heap does not record block sizes for class-backed
// allocations.
func Kfree(ptr unsafe.Pointer, size uintptr) {
	if ptr == nil {
		return
	}
	kernelHeap.lock.Lock()
	defer kernelHeap.lock.Unlock()

	if idx := classIndexFor(size); idx >= 0 {
		b := (*freeBlock)(ptr)
		b.next = kernelHeap.classFree[idx]
		kernelHeap.classFree[idx] = b
		return
	}
	kernelHeap.freeFallback(ptr)
}

func (h *heap) allocFallback(size uintptr) unsafe.Pointer {
	need := alignUp(size+unsafe.Sizeof(segment{}), 16)

	var best *segment
	for s := h.fallbackHead; s != nil; s = s.next {
		if !s.allocated && s.size >= need {
			if best == nil || s.size < best.size {
				best = s
			}
		}
	}
	if best == nil {
		return nil
	}

	const minSplit = 64
	if best.size-need >= minSplit {
		newAddr := uintptr(unsafe.Pointer(best)) + need
		newSeg := (*segment)(unsafe.Pointer(newAddr))
		*newSeg = segment{next: best.next, prev: best, size: best.size - need}
		if newSeg.next != nil {
			newSeg.next.prev = newSeg
		}
		best.next = newSeg
		best.size = need
	}
	best.allocated = true
	return unsafe.Pointer(uintptr(unsafe.Pointer(best)) + unsafe.Sizeof(segment{}))
}

func (h *heap) freeFallback(ptr unsafe.Pointer) {
	segAddr := uintptr(ptr) - unsafe.Sizeof(segment{})
	seg := (*segment)(unsafe.Pointer(segAddr))
	seg.allocated = false

	for seg.prev != nil && !seg.prev.allocated {
		prev := seg.prev
		prev.next = seg.next
		prev.size += seg.size
		if seg.next != nil {
			seg.next.prev = prev
		}
		seg = prev
	}
	for seg.next != nil && !seg.next.allocated {
		next := seg.next
		seg.size += next.size
		seg.next = next.next
		if next.next != nil {
			next.next.prev = seg
		}
	}
}
