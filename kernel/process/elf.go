package process

import (
	"bytes"
	"debug/elf"
	"fmt"
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/memory"
	"vkernel/kernel/panicking"
)

// ErrElf wraps any failure encountered while parsing or loading an ELF
// image.
type ErrElf struct {
	msg string
}

func (e *ErrElf) Error() string { return "process: elf: " + e.msg }

func elfErrorf(format string, args ...any) error {
	return &ErrElf{msg: fmt.Sprintf(format, args...)}
}

// kernelHalfBoundary is the lowest canonical address considered part of
// the kernel's half of the address space; any PT_LOAD segment whose
// virtual address enters it is rejected.
const kernelHalfBoundary = 0xffff_8000_0000_0000

// LoadELF parses a 64-bit ELF image and loads every PT_LOAD segment into
// a freshly created address space. On any failure the half-built
// address space is dropped (every frame it owns is freed) before the
// error is returned.
func LoadELF(data []byte) (*Process, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, elfErrorf("%v", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, elfErrorf("not a 64-bit ELF (class %v)", f.Class)
	}

	space, err := NewAddressSpace()
	if err != nil {
		return nil, err
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr >= kernelHalfBoundary {
			space.Drop()
			return nil, elfErrorf("segment vaddr %#x enters kernel half", prog.Vaddr)
		}
		fileBytes := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(fileBytes, 0); err != nil {
				space.Drop()
				return nil, elfErrorf("reading segment data: %v", err)
			}
		}
		if err := loadSegment(space, uintptr(prog.Vaddr), fileBytes, uintptr(prog.Memsz)); err != nil {
			space.Drop()
			return nil, err
		}
	}

	return newProcess(space, uintptr(f.Entry))
}

// loadSegment maps one PT_LOAD segment page by page: round the virtual
// range outward to page boundaries, allocate and map a frame for each
// page, then copy the file bytes into the portion of the page they
// cover through the frame's direct-map alias. Bytes past the file size
// but within the memory size are zeroed.
func loadSegment(space *AddressSpace, vaddr uintptr, fileData []byte, memsz uintptr) error {
	start := vaddr &^ (memory.FrameSize4K - 1)
	end := (vaddr + memsz + memory.FrameSize4K - 1) &^ (memory.FrameSize4K - 1)

	for page := start; page < end; page += memory.FrameSize4K {
		frame, err := memory.Allocate(memory.FrameSize4K)
		if err != nil {
			return err
		}
		if err := space.Map(page, frame, memory.PageFlags{Writable: true, User: true}); err != nil {
			if ferr := memory.Free(frame, memory.FrameSize4K); ferr != nil {
				panicking.Panic("loadSegment: freeing frame: %v", ferr)
			}
			return err
		}

		dst := unsafe.Slice((*byte)(unsafe.Pointer(memory.PhysToVirt(frame))), memory.FrameSize4K)
		amd64.Bzero(unsafe.Pointer(&dst[0]), memory.FrameSize4K)

		// Overlap of [page, page+4096) with [vaddr, vaddr+len(fileData)).
		segStart := vaddr
		segEnd := vaddr + uintptr(len(fileData))
		lo := page
		if segStart > lo {
			lo = segStart
		}
		hi := page + memory.FrameSize4K
		if segEnd < hi {
			hi = segEnd
		}
		if hi > lo {
			copy(dst[lo-page:hi-page], fileData[lo-segStart:hi-segStart])
		}
	}
	return nil
}
