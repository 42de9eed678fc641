// Package amd64 declares the ABI-level primitives the kernel core needs
// and cannot express in portable Go: port I/O, control-register access,
// MSR access, descriptor-table loads, and the context-switch/trampoline
// routines that move the CPU between the scheduler stack, a process
// stack, and user mode. Each function below is implemented in
// asm_amd64.s; this file only carries the declarations and, per the
// register-contract discipline the kernel follows throughout, a comment
// naming exactly what is clobbered, preserved, and transferred.
//
// Go-side declarations are linked against hand-written assembly,
// rather than cgo or inline asm.
package amd64

import "unsafe"

// Outb writes a byte to an I/O port. Clobbers nothing visible to Go.
//
//go:noescape
func Outb(port uint16, value uint8)

// Inb reads a byte from an I/O port.
//
//go:noescape
func Inb(port uint16) uint8

// Outw writes a 16-bit word to an I/O port.
//
//go:noescape
func Outw(port uint16, value uint16)

// Inw reads a 16-bit word from an I/O port.
//
//go:noescape
func Inw(port uint16) uint16

// Outl writes a 32-bit dword to an I/O port.
//
//go:noescape
func Outl(port uint16, value uint32)

// Inl reads a 32-bit dword from an I/O port.
//
//go:noescape
func Inl(port uint16) uint32

// Cli clears the interrupt flag (disables maskable interrupts).
//
//go:noescape
func Cli()

// Sti sets the interrupt flag (enables maskable interrupts).
//
//go:noescape
func Sti()

// Hlt executes HLT once, stopping the CPU until the next interrupt.
//
//go:noescape
func Hlt()

// EnableInterruptsAndHalt performs STI immediately followed by HLT as a
// single uninterruptible sequence (the one-instruction-window guarantee
// x86 gives STI). Used by the task executor to avoid the race between
// "ready queue observed empty" and "next interrupt arrives".
//
//go:noescape
func EnableInterruptsAndHalt()

// ReadRBP returns the caller's current frame pointer, used to seed a
// frame-pointer-chain backtrace. Only meaningful if the running binary
// was built keeping frame pointers, which this kernel's build always
// does for exactly this reason.
//
//go:noescape
func ReadRBP() uintptr

// ReadCR2 returns the faulting address recorded by the last page fault.
//
//go:noescape
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently loaded top-level
// page table.
//
//go:noescape
func ReadCR3() uintptr

// WriteCR3 loads a new top-level page table, flushing all non-global TLB
// entries.
//
//go:noescape
func WriteCR3(physTopLevel uintptr)

// CR4PGE is CR4 bit 7 (Page Global Enable): once set, PTEs with their
// Global bit set survive a CR3 reload instead of being flushed.
const CR4PGE = 1 << 7

// ReadCR4 returns the current value of CR4.
//
//go:noescape
func ReadCR4() uintptr

// WriteCR4 loads a new value into CR4.
//
//go:noescape
func WriteCR4(value uintptr)

// EnableGlobalPages sets CR4.PGE so Global PTEs (kernel/memory's upper
// half, shared across every address space) stop being flushed on every
// CR3 reload. Must run once, before any address space other than the
// boot page table is ever loaded.
func EnableGlobalPages() {
	WriteCR4(ReadCR4() | CR4PGE)
}

// RDMSR reads a model-specific register.
//
//go:noescape
func RDMSR(msr uint32) uint64

// WRMSR writes a model-specific register.
//
//go:noescape
func WRMSR(msr uint32, value uint64)

// LoadGDT loads the GDTR from a packed (limit, base) descriptor and
// reloads CS via a far return, then reloads the data segment registers.
// codeSelector/dataSelector are the selectors to install.
//
//go:noescape
func LoadGDT(gdtr unsafe.Pointer, codeSelector, dataSelector uint16)

// LoadIDT loads the IDTR from a packed (limit, base) descriptor.
//
//go:noescape
func LoadIDT(idtr unsafe.Pointer)

// LoadTR loads the task register with the given selector.
//
//go:noescape
func LoadTR(selector uint16)

// ContextSwitch pushes every callee- and caller-preserved integer
// register, writes RSP to *save, sets RSP to load, pops the registers
// in reverse order, and returns.
// Because it is entered by CALL, the symmetric RET returns into whichever
// code last pushed a matching frame on the *load* stack — either this
// same routine (resuming a suspended process) or the IRETQ trampoline
// below (first entry of a freshly loaded process).
//
// Clobbers: all integer GPRs are saved/restored around the switch, so
// none are live across the call from the caller's point of view except
// through *save/*load. Transfers: RSP.
//
//go:noescape
func ContextSwitch(save, load unsafe.Pointer)

// IRETQTrampolineEntry returns the address of a small assembly routine
// that executes IRETQ against whatever interrupt stack frame sits above
// it on the current stack and nothing else. kernel/process writes this
// address into a freshly built process's saved context as the return
// PC, so that the first ContextSwitch into a new process falls straight
// through into user mode.
func IRETQTrampolineEntry() uintptr {
	return iretqTrampolineAddr()
}

//go:noescape
func iretqTrampolineAddr() uintptr

// SyscallEntryAddr returns the address SYSCALL should jump to (loaded
// into IA32_LSTAR by kernel/syscall). The routine there saves the user
// RSP, switches to the per-CPU syscall stack, preserves RCX/R11 (the
// return-address registers SYSCALL/SYSRET use), and calls into the Go
// dispatcher with RDI/RSI untouched.
func SyscallEntryAddr() uintptr {
	return syscallEntryAddr()
}

//go:noescape
func syscallEntryAddr() uintptr

// InterruptStubAddr returns the address of the register-saving
// trampoline for interrupt vector n: it pushes a zero error-code
// placeholder where the CPU doesn't push one, pushes every
// general-purpose register, sets RDI to the stack pointer, calls the Go
// handler dispatch table, restores registers in reverse, and IRETQs.
// Only the vectors the kernel actually populates have a dedicated stub;
// anything else gets the catch-all "unhandled" stub, which panics with
// the vector number.
func InterruptStubAddr(vector uint8) uintptr {
	switch vector {
	case 3:
		return breakpointStubAddr()
	case 8:
		return doubleFaultStubAddr()
	case 13:
		return gpFaultStubAddr()
	case 14:
		return pageFaultStubAddr()
	case 32:
		return timerStubAddr()
	case 33:
		return keyboardStubAddr()
	default:
		return unhandledStubAddr()
	}
}

//go:noescape
func breakpointStubAddr() uintptr

//go:noescape
func doubleFaultStubAddr() uintptr

//go:noescape
func gpFaultStubAddr() uintptr

//go:noescape
func pageFaultStubAddr() uintptr

//go:noescape
func timerStubAddr() uintptr

//go:noescape
func keyboardStubAddr() uintptr

//go:noescape
func unhandledStubAddr() uintptr

// InterruptFrame is the layout SAVE_ALL leaves on the stack: 15
// general-purpose registers followed by the CPU-pushed error code (or the
// stub's own zero placeholder), interrupt RIP/CS/RFLAGS/RSP/SS. kernel/gdt
// builds the IST stacks these land on; kernel/interrupt is the only
// consumer of the layout.
type InterruptFrame struct {
	AX, BX, CX, DX, BP, SI, DI             uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	ErrorCode                              uint64
	RIP, CS, RFLAGS, RSP, SS               uint64
}

// InterruptHandler is installed by kernel/interrupt via SetInterruptHandler.
// amd64 itself has no notion of what a vector means; it only gets the
// frame pointer and vector number from the assembly stub to the Go side.
var InterruptHandler func(frame *InterruptFrame, vector uint64)

// SetInterruptHandler installs the Go-level interrupt dispatcher that
// every interrupt_stub in asm_amd64.s calls through InterruptDispatch.
func SetInterruptHandler(h func(frame *InterruptFrame, vector uint64)) {
	InterruptHandler = h
}

// InterruptDispatch is the CALL target every interrupt stub in
// asm_amd64.s shares. It exists as a real Go function (rather than a
// func-value call target) because Plan9 assembly can only CALL a symbol,
// not a first-class value; InterruptHandler is where the actual vector
// switch lives, in kernel/interrupt.
func InterruptDispatch(frame *InterruptFrame, vector uint64) {
	if InterruptHandler != nil {
		InterruptHandler(frame, vector)
	}
}

// SyscallHandler is installed by kernel/syscall via SetSyscallHandler.
// descPtr and outPtr are exactly the RDI/RSI values SYSCALL's caller
// set: a pointer to the Syscall descriptor and a pointer to the
// uninitialized SyscallResult out-slot.
var SyscallHandler func(descPtr, outPtr unsafe.Pointer)

// SetSyscallHandler installs the Go-level syscall dispatcher that
// syscall_entry in asm_amd64.s calls through SyscallDispatch.
func SetSyscallHandler(h func(descPtr, outPtr unsafe.Pointer)) {
	SyscallHandler = h
}

// SyscallDispatch is syscall_entry's CALL target, invoked with descPtr
// and outPtr passed on the stack using the ABI0 convention (mirroring
// CALL_DISPATCH's treatment of the interrupt frame/vector pair) since
// the assembly trampoline was written against Go's stack-based calling
// convention rather than register ABIInternal.
func SyscallDispatch(descPtr, outPtr unsafe.Pointer) {
	if SyscallHandler != nil {
		SyscallHandler(descPtr, outPtr)
	}
}

// SetPerCPUSyscallStackTop sets the top of the per-CPU stack the syscall
// entry stub switches onto before calling into Go. The user RSP to
// restore on SYSRET is saved and restored entirely inside the assembly
// entry stub; Go never touches it directly.
//
//go:noescape
func SetPerCPUSyscallStackTop(top uintptr)

// SetSyscallReturnCode records the SyscallErrorCode value syscall_entry
// loads into RAX immediately before SYSRET, once the Go dispatcher has
// finished handling the request.
//
//go:noescape
func SetSyscallReturnCode(code uint64)

// CPUID executes the CPUID instruction for the given leaf/subleaf.
//
//go:noescape
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// Bzero zeroes n bytes starting at p. Used on the allocator's hot
// paths in place of a Go byte-range loop.
//
//go:noescape
func Bzero(p unsafe.Pointer, n uintptr)

// Memcpy copies n bytes from src to dst. Regions must not overlap.
//
//go:noescape
func Memcpy(dst, src unsafe.Pointer, n uintptr)
