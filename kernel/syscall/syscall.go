// Package syscall implements SYSCALL/SYSRET MSR setup and the dispatcher
// behind it: a tagged-union descriptor passed by reference from user
// space, five operations (ping, put_char, get_kbd_code, sleep_ms, exit),
// and a fixed-layout result slot the dispatcher fills in before SYSRET.
package syscall

import (
	"fmt"
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/console"
	"vkernel/kernel/gdt"
	"vkernel/kernel/interrupt"
	"vkernel/kernel/process"
	"vkernel/kernel/task"
	"vkernel/kernel/timer"
)

// Tag selects which operation a Syscall descriptor names.
type Tag uint32

const (
	TagPing Tag = iota
	TagPutChar
	TagGetKbdCode
	TagSleepMs
	TagExit
)

// Syscall is the tagged-union descriptor transmitted by reference from
// user space. Only the union member matching Tag is meaningful; the
// kernel never reads past it.
type Syscall struct {
	Tag  Tag
	Arg1 uint64 // put_char's byte, sleep_ms's milliseconds, exit's code
}

// ErrorCode is the enumeration returned in RAX.
type ErrorCode uint32

const (
	Ok ErrorCode = iota
	InvalidArgument
)

// Result is the out-slot a Syscall writes its typed result into on
// success; callers interpret it according to the descriptor's Tag.
type Result struct {
	Value uint64
}

// executor is where sleep_ms spawns its wake-on-timer task; get_kbd_code
// hands the process's waker to the keyboard IRQ instead. Boot glue owns the one live Executor and hands it here with
// SetExecutor before interrupts are ever enabled.
var executor *task.Executor

// SetExecutor installs the executor sleep_ms spawns its wake task on.
func SetExecutor(e *task.Executor) {
	executor = e
}

// syscallStackSize mirrors kernel/gdt's privilege stack: the syscall
// entry stub switches onto this stack before calling into Go, so a
// SYSCALL arriving with a corrupted or exhausted user stack still gets
// a clean place to build the Go call frame.
const syscallStackSize = 16 * 1024

var syscallStack [syscallStackSize]byte

// Init configures the SYSCALL/SYSRET MSRs and installs the dispatcher.
// Must run once per CPU after kernel/gdt.Init (STAR packs the same
// selectors gdt.Init committed).
func Init() {
	amd64.SetPerCPUSyscallStackTop(uintptr(unsafe.Pointer(&syscallStack[0])) + syscallStackSize)

	const (
		msrEFER  = 0xC000_0080
		msrSTAR  = 0xC000_0081
		msrLSTAR = 0xC000_0082
		msrFMASK = 0xC000_0084

		eferSCE = 1 << 0
	)

	efer := amd64.RDMSR(msrEFER)
	amd64.WRMSR(msrEFER, efer|eferSCE)

	// STAR[47:32] is the base of the selector pair SYSCALL loads (CS,
	// then CS+8 for SS): kernel code/data. STAR[63:48] is the base of
	// the pair SYSRET loads, but the CPU always adds 16 for 64-bit CS
	// and 8 for SS from that base, so it must name the selector two
	// slots before user code — in gdt's layout that is kernel data
	// (0x10), giving SS = user data (0x18) and CS = user code (0x20);
	// SYSRET ORs the RPL-3 bits back in itself.
	star := uint64(gdt.SelectorKernelCode)<<32 | uint64(gdt.SelectorKernelData)<<48
	amd64.WRMSR(msrSTAR, star)
	amd64.WRMSR(msrLSTAR, uint64(amd64.SyscallEntryAddr()))
	amd64.WRMSR(msrFMASK, 0x200) // clear IF on entry: interrupts start disabled

	amd64.SetSyscallHandler(dispatch)
}

// dispatch is the CALL target syscall_entry in asm_amd64.s reaches
// through amd64.SyscallDispatch. It never touches the saved user RSP —
// that bookkeeping lives entirely in the assembly stub — and only ever
// hands back the result code the stub loads into RAX before SYSRET.
// sleep_ms and get_kbd_code may suspend the calling process and not
// return here at all until a later RunProcess resumes it; ping and
// put_char always return directly.
func dispatch(descPtr, outPtr unsafe.Pointer) {
	desc := (*Syscall)(descPtr)
	out := (*Result)(outPtr)
	*out = Result{}

	switch desc.Tag {
	case TagPing:
		fmt.Fprintf(&console.Serial, "Ping!\n")
		amd64.SetSyscallReturnCode(uint64(Ok))

	case TagPutChar:
		c := byte(desc.Arg1)
		if (c >= 0x20 && c <= 0x7E) || c == '\n' {
			fmt.Fprintf(&console.Serial, "%c", c)
			amd64.SetSyscallReturnCode(uint64(Ok))
		} else {
			amd64.SetSyscallReturnCode(uint64(InvalidArgument))
		}

	case TagGetKbdCode:
		if code, ok := interrupt.PopScancode(); ok {
			out.Value = uint64(code)
			amd64.SetSyscallReturnCode(uint64(Ok))
			return
		}
		suspendCurrent(func(p *process.Process) {
			interrupt.RegisterScancodeWaker(p.Waker)
		})
		if code, ok := interrupt.PopScancode(); ok {
			out.Value = uint64(code)
		}
		amd64.SetSyscallReturnCode(uint64(Ok))

	case TagSleepMs:
		ticks := timer.MillisToTicks(desc.Arg1)
		suspendCurrent(func(p *process.Process) {
			waker := p.Waker
			wait := timer.WaitTicks(ticks)
			executor.Spawn(wakeAfter{wait: wait, waker: waker})
		})
		amd64.SetSyscallReturnCode(uint64(Ok))

	case TagExit:
		p := process.ThisCPU().Current()
		if p == nil {
			amd64.SetSyscallReturnCode(uint64(Ok))
			return
		}
		p.State = process.StateKilled
		process.ThisCPU().ReturnFromProcess(p)
		panic("syscall: exited process resumed")

	default:
		amd64.SetSyscallReturnCode(uint64(InvalidArgument))
	}
}

// suspendCurrent marks the current process Waiting, lets register hook
// a waker or otherwise arrange a future wakeup, and switches back to the
// scheduler stack. It returns once some later RunProcess resumes this
// exact process, with the syscall finishing the work it suspended for.
func suspendCurrent(register func(p *process.Process)) {
	p := process.ThisCPU().Current()
	if p == nil {
		return
	}
	p.State = process.StateWaiting
	register(p)
	process.ThisCPU().ReturnFromProcess(p)
}

// wakeAfter is the task the executor polls to turn a timer deadline into
// a process wakeup: it waits on wait and, once that resolves, wakes the
// process's waker so the executor re-polls its ProcessFuture.
type wakeAfter struct {
	wait  task.Future
	waker *task.Waker
}

func (w wakeAfter) Poll(selfWaker *task.Waker) bool {
	if !w.wait.Poll(selfWaker) {
		return false
	}
	w.waker.Wake()
	return true
}
