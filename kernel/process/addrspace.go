// Package process implements per-process address spaces, the 64-bit
// ELF loader, per-CPU state, and the context-switch call convention
// that moves the CPU between the scheduler stack and a process's
// kernel stack.
package process

import (
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/memory"
	"vkernel/kernel/panicking"
)

// AddressSpace owns one top-level page-table frame. Its upper half is
// always identical, index for index, to the kernel's boot page table;
// its lower half is exclusively this space's own and is walked and
// freed on Drop.
type AddressSpace struct {
	mapper *memory.Mapper
}

const (
	lowerHalfEntries = 256
	pml4EntrySize    = 4096 / 8 // entries per table, used for index bounds below
)

// NewAddressSpace allocates a fresh top-level frame from the frame
// allocator, zeroes it, and copies the kernel's upper half into it.
// Lower-half entries start out entirely absent.
func NewAddressSpace() (*AddressSpace, error) {
	frame, err := memory.Allocate(memory.FrameSize4K)
	if err != nil {
		return nil, err
	}
	amd64.Bzero(unsafe.Pointer(memory.PhysToVirt(frame)), memory.FrameSize4K)
	memory.InstallKernelHalf(frame)
	return &AddressSpace{mapper: memory.NewMapper(frame)}, nil
}

// Map installs a mapping in this address space's own page table rather
// than the currently active one.
func (s *AddressSpace) Map(virt, phys uintptr, flags memory.PageFlags) error {
	return s.mapper.Map(virt, phys, flags)
}

// Load installs this space's top-level frame into CR3.
func (s *AddressSpace) Load() {
	s.mapper.Load()
}

// TopLevel returns the physical address of the top-level frame, used by
// PerCPU bookkeeping and tests that need to tell two spaces apart.
func (s *AddressSpace) TopLevel() uintptr {
	return s.mapper.TopLevel()
}

// Drop walks the lower half of the top-level table, freeing every frame
// this space owns (intermediate tables and leaves alike) before
// returning the top-level frame itself to the frame allocator. The
// caller must have already switched off this address space on every
// CPU that had it loaded; Drop does not check CR3 itself — loading a
// space that is being dropped is an implementation bug, not something
// to make safe at runtime cost on every call.
func (s *AddressSpace) Drop() {
	top := s.mapper.TopLevel()
	for i := 0; i < lowerHalfEntries; i++ {
		e := memory.RawEntry(top, i)
		if e&entryPresent == 0 {
			continue
		}
		freeSubtree(uintptr(e&entryAddressMask), 3)
	}
	if err := memory.Free(top, memory.FrameSize4K); err != nil {
		panicking.Panic("AddressSpace.Drop: freeing top-level frame: %v", err)
	}
}

const (
	entryPresent    = 1 << 0
	entryHuge       = 1 << 7
	entryAddressMask = 0x000f_ffff_ffff_f000
)

// freeSubtree recursively frees a page-table frame and everything it
// points to. level counts down from 3 (PDPT) through 1 (PT, whose
// entries are leaves rather than further tables); at level 0 tablePhys
// is a leaf frame and is simply freed. A huge-page entry at PDPT or PD
// level is a leaf for this walk's purposes even though its level
// isn't 0.
func freeSubtree(tablePhys uintptr, level int) {
	if level == 0 {
		if err := memory.Free(tablePhys, memory.FrameSize4K); err != nil {
			panicking.Panic("freeSubtree: freeing leaf frame: %v", err)
		}
		return
	}
	table := unsafe.Slice((*uint64)(unsafe.Pointer(memory.PhysToVirt(tablePhys))), 512)
	for _, e := range table {
		if e&entryPresent == 0 {
			continue
		}
		if e&entryHuge != 0 {
			continue // the huge leaf's own frame belongs to the caller's allocation tracking, not this table
		}
		freeSubtree(uintptr(e&entryAddressMask), level-1)
	}
	if err := memory.Free(tablePhys, memory.FrameSize4K); err != nil {
		panicking.Panic("freeSubtree: freeing table frame: %v", err)
	}
}
