// Command kernel is the freestanding entry point. The bootloader
// handshake itself (memory map, framebuffer info, kernel base, RSDP
// pointer, boot modules) is an external collaborator per the boot
// handoff contract: any loader that populates rawBootInfo at the
// fixed, well-known address below before transferring control here is
// acceptable, whether that is a custom stage-2 loader or a multiboot2-
// compliant one translating its own tag list into this layout.
package main

import (
	"unsafe"

	"vkernel/kernel/boot"
	"vkernel/kernel/memory"
)

// rawBootInfoAddr is the fixed virtual address the loader leaves a
// populated rawBootInfo structure at immediately before jumping to
// main. It sits in low memory, below where the kernel image itself is
// linked, so the loader can write it without needing paging set up
// yet.
const rawBootInfoAddr = 0x0000_0000_0009_0000

const maxRegions = 64
const maxModules = 8

// rawRegion, rawModule, and rawBootInfo mirror kernel/boot.Region,
// kernel/boot.Module, and kernel/boot.BootInfo in a fixed-layout,
// C-ABI-friendly form: flat arrays with explicit counts rather than
// slices, since the loader that populates this structure has no Go
// runtime of its own.
type rawRegion struct {
	startPhys uint64
	length    uint64
	kind      uint32
	_         uint32
}

type rawModule struct {
	name      [32]byte
	physStart uint64
	length    uint64
}

type rawBootInfo struct {
	regionCount     uint32
	_               uint32
	regions         [maxRegions]rawRegion
	directMapOffset uint64

	moduleCount uint32
	_           uint32
	modules     [maxModules]rawModule

	fbPresent uint32
	_         uint32
	fbPhys    uint64
	fbWidth   uint32
	fbHeight  uint32
	fbPitch   uint32
	_         uint32

	kernelPhys   uint64
	kernelLength uint64

	rsdpPhys uint64
}

func main() {
	raw := (*rawBootInfo)(unsafe.Pointer(uintptr(rawBootInfoAddr)))

	info := &boot.BootInfo{
		DirectMapOffset: uintptr(raw.directMapOffset),
		Kernel:          boot.KernelImage{Phys: uintptr(raw.kernelPhys), Length: uintptr(raw.kernelLength)},
		RSDPPhys:        uintptr(raw.rsdpPhys),
	}

	for i := uint32(0); i < raw.regionCount && i < maxRegions; i++ {
		r := raw.regions[i]
		info.MemoryMap = append(info.MemoryMap, memory.Region{
			StartPhys: uintptr(r.startPhys),
			Length:    uintptr(r.length),
			Kind:      memory.Kind(r.kind),
		})
	}

	for i := uint32(0); i < raw.moduleCount && i < maxModules; i++ {
		m := raw.modules[i]
		info.Modules = append(info.Modules, boot.Module{
			Name:      cString(m.name[:]),
			PhysStart: uintptr(m.physStart),
			Length:    uintptr(m.length),
		})
	}

	if raw.fbPresent != 0 {
		info.Framebuffer = boot.FramebufferInfo{
			Present: true,
			Phys:    uintptr(raw.fbPhys),
			Width:   int(raw.fbWidth),
			Height:  int(raw.fbHeight),
			Pitch:   int(raw.fbPitch),
		}
	}

	boot.Start(info)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
