// Package interrupt builds the register-saving entry trampoline
// (internal/arch/amd64's per-vector stubs), the IDT gates that point at
// them, PIC remapping, and the per-vector dispatch table.
package interrupt

import (
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/gdt"
	"vkernel/kernel/timer"
)

const (
	vectorBreakpoint = 3
	vectorDoubleFault = 8
	vectorGPFault    = 13
	vectorPageFault  = 14
	vectorTimer      = 32
	vectorKeyboard   = 33
	vectorCount      = 256
)

// idtEntry is a packed 16-byte interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	gatePresent   = 0x80
	gateType64Int = 0x0E // 64-bit interrupt gate
)

func gate(handler uintptr, ist uint8, dpl uint8) idtEntry {
	return idtEntry{
		offsetLow:  uint16(handler),
		selector:   gdt.SelectorKernelCode,
		istAndZero: ist & 0x7,
		typeAttr:   gatePresent | (dpl&0x3)<<5 | gateType64Int,
		offsetMid:  uint16(handler >> 16),
		offsetHigh: uint32(handler >> 32),
	}
}

var table [vectorCount]idtEntry

// idtr holds the 10-byte (limit, base) descriptor LIDT reads, starting
// at limit; the leading pad puts base right after limit.
type idtr struct {
	_     [6]byte
	limit uint16
	base  uint64
}

// Init builds the IDT, loads it, remaps and unmasks the legacy PIC
// vectors this kernel services, and programs the PIT to fire at
// timer.FrequencyHz. Must run after gdt.Init (the
// double-fault gate references gdt.DoubleFaultIST) and before
// interrupts are enabled.
func Init() {
	for v := 0; v < vectorCount; v++ {
		table[v] = gate(amd64.InterruptStubAddr(uint8(v)), 0, 0)
	}
	table[vectorBreakpoint] = gate(amd64.InterruptStubAddr(vectorBreakpoint), 0, 3)
	table[vectorDoubleFault] = gate(amd64.InterruptStubAddr(vectorDoubleFault), gdt.DoubleFaultIST, 0)
	table[vectorGPFault] = gate(amd64.InterruptStubAddr(vectorGPFault), 0, 0)
	table[vectorPageFault] = gate(amd64.InterruptStubAddr(vectorPageFault), 0, 0)
	table[vectorTimer] = gate(amd64.InterruptStubAddr(vectorTimer), 0, 0)
	table[vectorKeyboard] = gate(amd64.InterruptStubAddr(vectorKeyboard), 0, 0)

	r := idtr{
		limit: uint16(unsafe.Sizeof(table) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&table))),
	}
	amd64.LoadIDT(unsafe.Pointer(&r.limit))
	amd64.SetInterruptHandler(dispatch)

	initPIC()

	// PIT channel 0, lobyte/hibyte access, mode 3 (square wave).
	const pitBaseHz = 1193182
	divisor := uint16(pitBaseHz / timer.FrequencyHz)
	amd64.Outb(0x43, 0x36)
	amd64.Outb(0x40, uint8(divisor))
	amd64.Outb(0x40, uint8(divisor>>8))
}
