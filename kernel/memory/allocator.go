package memory

import (
	"errors"

	ksync "vkernel/kernel/sync"
)

// ErrOutOfMemory is returned by Allocate when no region has a free block
// of the requested size. At init time callers treat this as fatal; at
// runtime it is bubbled up to whichever syscall or fault handler asked.
var ErrOutOfMemory = errors.New("memory: out of physical frames")

// ErrDoubleFree is returned by Free when the frame's block is already
// marked free. Freeing a frame twice is a caller bug, never a condition
// the allocator can recover from on its own.
var ErrDoubleFree = errors.New("memory: double free")

// FrameAllocator aggregates one buddyAllocator per Available boot memory
// region behind a single locked interface, per spec's "operates as one
// buddy allocator per available memory region" design.
type FrameAllocator struct {
	lock    ksync.SpinLock
	regions []*buddyAllocator
}

var global FrameAllocator

// Init builds the global frame allocator from the boot memory map.
// Regions not marked Available are skipped entirely; a region too small
// to host even one 4 KiB block plus its own bitmap is also skipped
// rather than failing the whole boot.
func Init(regions []Region) {
	global.lock.Lock()
	defer global.lock.Unlock()

	global.regions = global.regions[:0]
	for _, r := range regions {
		if r.Kind != Available {
			continue
		}
		if b, ok := newBuddyAllocator(r); ok {
			global.regions = append(global.regions, b)
		}
	}
}

// Allocate hands out a frame of the given size (FrameSize4K, FrameSize2M,
// or FrameSize1G), trying each region in turn until one can satisfy it.
func Allocate(size uintptr) (uintptr, error) {
	layer := layerForSize(size)
	if layer < 0 {
		return 0, errors.New("memory: unsupported frame size")
	}
	global.lock.Lock()
	defer global.lock.Unlock()

	for _, r := range global.regions {
		if frame, ok := r.allocate(layer); ok {
			return frame, nil
		}
	}
	return 0, ErrOutOfMemory
}

// Free returns a frame previously obtained from Allocate at the same
// size back to whichever region owns it. Returns ErrDoubleFree if the
// frame's block is already marked free.
func Free(frame uintptr, size uintptr) error {
	layer := layerForSize(size)
	if layer < 0 {
		return errors.New("memory: unsupported frame size")
	}
	global.lock.Lock()
	defer global.lock.Unlock()

	for _, r := range global.regions {
		if r.owns(frame) {
			return r.free(frame, layer)
		}
	}
	return nil
}

// Remaining sums the free bytes across every managed region. Used by
// diagnostics and by the allocate-then-free invariant tests.
func Remaining() uintptr {
	global.lock.Lock()
	defer global.lock.Unlock()

	var total uintptr
	for _, r := range global.regions {
		total += r.remaining
	}
	return total
}
