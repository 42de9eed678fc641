package interrupt

import (
	"fmt"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/console"
	"vkernel/kernel/panicking"
	"vkernel/kernel/process"
	"vkernel/kernel/timer"
)

// dispatch is installed via amd64.SetInterruptHandler and is the single
// entry point every interrupt stub calls into.
func dispatch(frame *amd64.InterruptFrame, vector uint64) {
	switch vector {
	case vectorBreakpoint:
		handleBreakpoint(frame)
	case vectorDoubleFault:
		handleDoubleFault(frame)
	case vectorPageFault:
		handlePageFault(frame)
	case vectorGPFault:
		handleGPFault(frame)
	case vectorTimer:
		handleTimer(frame)
	case vectorKeyboard:
		handleKeyboard(frame)
	default:
		panicking.Panic("unhandled interrupt vector %d at %#x", vector, frame.RIP)
	}
}

func handleBreakpoint(frame *amd64.InterruptFrame) {
	fmt.Fprintf(&console.Serial, "EXCEPTION: BREAKPOINT\n%+v\n", *frame)
}

// handleDoubleFault runs on the IST stack configured by kernel/gdt, so
// it is immune to whatever stack corruption caused the double fault in
// the first place.
func handleDoubleFault(frame *amd64.InterruptFrame) {
	panicking.Panic("EXCEPTION: DOUBLE FAULT\n%+v", *frame)
}

func handlePageFault(frame *amd64.InterruptFrame) {
	cr2 := amd64.ReadCR2()
	fmt.Fprintf(&console.Serial, "EXCEPTION: PAGE FAULT\naccessed address: %#x\nerror code: %#x\n%+v\n",
		cr2, frame.ErrorCode, *frame)
	// No recovery path in this design: no demand paging, no stack
	// growth. Halt rather than return into a still-faulting IP.
	amd64.Cli()
	for {
		amd64.Hlt()
	}
}

func handleGPFault(frame *amd64.InterruptFrame) {
	panicking.Panic("EXCEPTION: GENERAL PROTECTION FAULT\nerror code: %#x\n%+v", frame.ErrorCode, *frame)
}

// handleTimer increments the tick counter and, if the current CPU owns
// a process, transfers control back to the scheduler stack before
// sending EOI — the scheduler-return must complete before EOI.
func handleTimer(frame *amd64.InterruptFrame) {
	timer.TickTimer()

	if p := process.ThisCPU().Current(); p != nil {
		if p.State == process.StateRunning {
			p.State = process.StateRunnable
		}
		process.ThisCPU().ReturnFromProcess(p)
	}

	sendEOI(vectorTimer)
}

const keyboardDataPort = 0x60

// handleKeyboard reads the scancode port, enqueues it, and wakes the
// consumer.
func handleKeyboard(frame *amd64.InterruptFrame) {
	scancode := amd64.Inb(keyboardDataPort)
	pushScancode(scancode)
	sendEOI(vectorKeyboard)
}
