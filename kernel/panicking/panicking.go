// Package panicking implements the kernel's panic behavior: force-unlock
// the serial port, print the message to it, optionally walk the
// frame-pointer chain for a symbolicated backtrace, then halt forever.
// The framebuffer console is neither unlocked nor written.
package panicking

import (
	"fmt"
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/console"
	"vkernel/kernel/symbols"
)

// Hook, if set, replaces the default handler. Test mode installs one
// that records the panic message and returns control to a harness
// instead of halting forever.
var Hook func(msg string)

// SetHook installs a replacement panic handler.
func SetHook(h func(msg string)) {
	Hook = h
}

// Panic is the kernel's point of fatal failure for DoubleFree,
// MapFailure at init, DoubleFault and GPFault. Page faults halt in
// their own handler, and timer-slot exhaustion uses Go's built-in panic.
func Panic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	console.Serial.ForceUnlock()
	fmt.Fprintf(&console.Serial, "\nPANIC: %s\n", msg)

	if Hook != nil {
		Hook(msg)
		return
	}

	unwindFromCaller()

	amd64.Cli()
	for {
		amd64.Hlt()
	}
}

// unwindFromCaller walks the RBP chain starting at Panic's caller,
// printing a symbolicated backtrace if a kernel symbol table has been
// installed. Frame-pointer chasing requires the kernel to have been
// built without frame-pointer omission.
func unwindFromCaller() {
	fmt.Fprintf(&console.Serial, "START OF BACKTRACE\n")
	table := symbols.KernelTable()

	rbp := amd64.ReadRBP()
	for depth := 0; rbp != 0 && depth < 64; depth++ {
		savedRBP := *(*uintptr)(unsafe.Pointer(rbp))
		returnAddr := *(*uintptr)(unsafe.Pointer(rbp + 8))
		if returnAddr == 0 {
			break
		}
		if e, off, ok := table.Lookup(uint64(returnAddr)); ok {
			fmt.Fprintf(&console.Serial, "    %d: %#x (%s+%#x)\n", depth, returnAddr, e.Name, off)
		} else {
			fmt.Fprintf(&console.Serial, "    %d: %#x\n", depth, returnAddr)
		}
		rbp = savedRBP
	}
	fmt.Fprintf(&console.Serial, "END OF BACKTRACE\n")
}
