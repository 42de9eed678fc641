// Package boot is the glue the loader's entry stub calls into once
// real mode and the bootloader handshake are behind it: it turns a
// BootInfo struct into the ordered calls that bring every other
// package up, then hands off to the task executor.
package boot

import (
	"fmt"
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/acpi"
	"vkernel/kernel/console"
	"vkernel/kernel/gdt"
	"vkernel/kernel/interrupt"
	"vkernel/kernel/memory"
	"vkernel/kernel/panicking"
	"vkernel/kernel/process"
	"vkernel/kernel/symbols"
	"vkernel/kernel/syscall"
	"vkernel/kernel/task"
	"vkernel/kernel/timer"
	"vkernel/kernel/ustar"
)

// Module is one boot module the loader handed over: a name and the
// physical extent of its contents. The "initrd" module is mandatory
// and must unpack as a USTAR archive containing at least "init".
type Module struct {
	Name      string
	PhysStart uintptr
	Length    uintptr
}

// FramebufferInfo is the optional framebuffer descriptor; Present is
// false when the loader found no usable video mode.
type FramebufferInfo struct {
	Present bool
	Phys    uintptr
	Width   int
	Height  int
	Pitch   int
}

// KernelImage locates the kernel's own ELF image in memory, used to
// build the symbol table the panic path's backtrace consults.
type KernelImage struct {
	Phys   uintptr
	Length uintptr
}

// BootInfo is the fixed well-known structure the loader populates
// before transferring control to Start; see the boot handoff contract
// this package implements.
type BootInfo struct {
	MemoryMap       []memory.Region
	DirectMapOffset uintptr
	Modules         []Module
	Framebuffer     FramebufferInfo
	Kernel          KernelImage
	RSDPPhys        uintptr // 0 if the loader found none
}

// initModuleName is the one boot module this kernel requires.
const initModuleName = "initrd"

// Start runs the entire boot sequence: GDT/IDT, the physical frame
// allocator and kernel mapper, the heap, the syscall MSRs, IRQ
// registration, the per-CPU state, ACPI and symbol-table probing, the
// framebuffer console, and finally loads and spawns "init" from the
// initrd module before handing control to the task executor's Run
// loop. Start never returns in a working boot; every failure along the
// way is fatal and goes through panicking.Panic.
func Start(info *BootInfo) {
	console.InitSerial()
	fmt.Fprintf(&console.Serial, "boot: starting\n")

	gdt.Init()
	interrupt.Init()

	memory.Init(info.MemoryMap)
	memory.InitMapper(readCR3ForBootTable())
	amd64.EnableGlobalPages() // before any per-process address space is ever loaded
	if err := memory.InitHeap(memory.KernelMapper()); err != nil {
		panicking.Panic("boot: heap init: %v", err)
	}

	syscall.Init()

	fmt.Fprintf(&console.Serial, "boot: memory and syscall entry ready, %d bytes free\n", memory.Remaining())

	if info.Kernel.Phys != 0 {
		kernelELF := physBytes(info.Kernel.Phys, info.Kernel.Length)
		if table, err := symbols.Load(kernelELF); err == nil {
			symbols.SetKernelTable(table)
		} else {
			fmt.Fprintf(&console.Serial, "boot: symbol table unavailable: %v\n", err)
		}
	}

	if acpiInfo, err := acpi.Probe(info.RSDPPhys); err == nil {
		fmt.Fprintf(&console.Serial, "boot: acpi revision %d, %d table pointers\n", acpiInfo.Revision, acpiInfo.TablePtrs)
	} else {
		fmt.Fprintf(&console.Serial, "boot: no acpi tables (%v)\n", err)
	}

	if info.Framebuffer.Present {
		console.Framebuffer.InitFramebuffer(info.Framebuffer.Phys, info.Framebuffer.Width, info.Framebuffer.Height, info.Framebuffer.Pitch)
		console.Framebuffer.DrawSplash("booting")
		console.Framebuffer.Flush()
	}

	initData, ok := findInit(info.Modules)
	if !ok {
		panicking.Panic("boot: no init executable in initrd module")
	}

	proc, err := process.LoadELF(initData)
	if err != nil {
		panicking.Panic("boot: loading init: %v", err)
	}

	executor := task.NewExecutor()
	syscall.SetExecutor(executor)

	pf := process.NewProcessFuture(proc)
	executor.Spawn(pf)
	executor.Spawn(keyboardLogTask{})
	executor.Spawn(&heartbeatTask{next: timer.Ticks() + timer.FrequencyHz*10})

	fmt.Fprintf(&console.Serial, "boot: handing off to executor\n")
	amd64.Sti()
	executor.Run()
}

// findInit locates the "initrd" boot module and returns the contents
// of the "init" entry inside it.
func findInit(modules []Module) ([]byte, bool) {
	for _, m := range modules {
		if m.Name != initModuleName {
			continue
		}
		archive := physBytes(m.PhysStart, m.Length)
		f, ok := ustar.Find(archive, "init")
		if !ok {
			return nil, false
		}
		return f.Data, true
	}
	return nil, false
}

func physBytes(phys uintptr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(memory.PhysToVirt(phys))), int(length))
}

func readCR3ForBootTable() uintptr {
	return amd64.ReadCR3()
}

// keyboardLogTask drains scancodes and logs them to serial; it stands
// in for whatever a real console driver would do with keyboard input,
// exercising the timer/keyboard IRQ path end to end as a standing
// background task alongside the init process.
type keyboardLogTask struct{}

func (keyboardLogTask) Poll(waker *task.Waker) bool {
	for {
		code, ok := interrupt.PopScancode()
		if !ok {
			interrupt.RegisterScancodeWaker(waker)
			return false
		}
		fmt.Fprintf(&console.Serial, "kbd: scancode %#x\n", code)
	}
}

// heartbeatTask keeps the timer wheel exercised even with no process
// currently sleeping, logging once per configured tick period; useful
// as a liveness signal during bring-up.
type heartbeatTask struct {
	next uint64
}

func (h *heartbeatTask) Poll(waker *task.Waker) bool {
	if timer.Ticks() >= h.next {
		fmt.Fprintf(&console.Serial, "boot: heartbeat at tick %d\n", timer.Ticks())
		h.next = timer.Ticks() + timer.FrequencyHz*10
	}
	timer.WaitTicks(h.next - timer.Ticks()).Poll(waker)
	return false
}
