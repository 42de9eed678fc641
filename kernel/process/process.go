package process

import (
	"sync/atomic"
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/gdt"
	"vkernel/kernel/memory"
	"vkernel/kernel/panicking"
	"vkernel/kernel/task"
)

// State is one of the four states a Process can be in.
type State int

const (
	// StateRunnable means the process is ready to run but not currently
	// on any CPU.
	StateRunnable State = iota
	// StateRunning means the process is actually executing on some CPU;
	// Waker holds the waker that will re-poll its owning task once it
	// next suspends.
	StateRunning
	// StateWaiting means the process has explicitly suspended itself
	// (sleep_ms, get_kbd_code) and will not be re-scheduled until
	// something else calls the waker stashed from the last StateRunning.
	StateWaiting
	// StateKilled means the process's future should resolve; no further
	// context switch into it will ever happen.
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateKilled:
		return "Killed"
	default:
		return "Unknown"
	}
}

// Process is the kernel's unit of user-mode execution.
type Process struct {
	PID uint64

	// KernelStack is this process's private kernel-mode stack. Context
	// points somewhere inside it whenever the process is suspended, and
	// is nil while it is actually executing.
	KernelStack []byte
	Context     uintptr

	State State
	// Waker is the waker most recently handed to this process while it
	// was Running; syscalls that transition to Waiting keep it here so
	// whatever eventually makes the process runnable again (the timer
	// wheel, the keyboard queue) can call it without needing to know
	// which task this process belongs to.
	Waker *task.Waker

	Space *AddressSpace
}

var nextPID uint64 = 1 // pid 0 is never handed out

func allocatePID() uint64 {
	return atomic.AddUint64(&nextPID, 1) - 1
}

const (
	// KernelStackSize is generous relative to the minimum a process
	// kernel stack needs: the syscall and interrupt entry trampolines
	// push a full register file on top of whatever the process itself
	// has pushed, and this stack also has to hold the bootstrap
	// ISF/context below.
	KernelStackSize = 16 * 1024

	// StackTop is the fixed top-of-stack virtual address handed to
	// every process's user stack; STACK_FRAMES pages are mapped
	// descending from just below it.
	StackTop    = 0x0000_7000_0000_0000
	StackFrames = 4

	rflagsInterruptEnable = 1 << 9
)

// bootFrame is the hardware-defined interrupt stack frame laid out in
// the exact field order IRETQ expects to pop: RIP, CS, RFLAGS, RSP, SS
// from low address to high.
type bootFrame struct {
	RIP, CS, RFLAGS, RSP, SS uint64
}

// bootContext is the saved-context layout internal/arch/amd64's
// ContextSwitch pushes/pops: 14 callee/caller-preserved GPRs from low
// address (BX, first popped) to high address (R15, last popped),
// followed by the return address ContextSwitch's RET consumes.
type bootContext struct {
	BX, CX, DX, BP, SI, DI          uint64
	R8, R9, R10, R11, R12, R13, R14, R15 uint64
	ReturnAddr                      uint64
}

// newProcess builds the user stack, kernel stack, and initial saved
// context for a process about to run entry in space for the first
// time.
func newProcess(space *AddressSpace, entry uintptr) (*Process, error) {
	for i := 0; i < StackFrames; i++ {
		frame, err := memory.Allocate(memory.FrameSize4K)
		if err != nil {
			space.Drop()
			return nil, err
		}
		amd64.Bzero(unsafe.Pointer(memory.PhysToVirt(frame)), memory.FrameSize4K)
		page := uintptr(StackTop) - uintptr(i+1)*memory.FrameSize4K
		if err := space.Map(page, frame, memory.PageFlags{Writable: true, User: true}); err != nil {
			if ferr := memory.Free(frame, memory.FrameSize4K); ferr != nil {
				panicking.Panic("newProcess: freeing stack frame: %v", ferr)
			}
			space.Drop()
			return nil, err
		}
	}

	stack := make([]byte, KernelStackSize)
	top := alignDown(uintptr(unsafe.Pointer(&stack[len(stack)-1]))+1, 16)

	frameOff := top - unsafe.Sizeof(bootFrame{})
	frame := (*bootFrame)(unsafe.Pointer(frameOff))
	*frame = bootFrame{
		RIP:    uint64(entry),
		CS:     uint64(gdt.SelectorUserCode),
		RFLAGS: rflagsInterruptEnable,
		RSP:    uint64(StackTop),
		SS:     uint64(gdt.SelectorUserData),
	}

	ctxOff := frameOff - unsafe.Sizeof(bootContext{})
	ctx := (*bootContext)(unsafe.Pointer(ctxOff))
	*ctx = bootContext{ReturnAddr: uint64(amd64.IRETQTrampolineEntry())}

	return &Process{
		PID:         allocatePID(),
		KernelStack: stack,
		Context:     ctxOff,
		State:       StateRunnable,
		Space:       space,
	}, nil
}

func alignDown(v uintptr, align uintptr) uintptr {
	return v &^ (align - 1)
}
