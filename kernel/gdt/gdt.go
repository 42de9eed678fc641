// Package gdt builds the kernel's GDT and TSS: kernel code/data, user
// data/code, and a TSS descriptor carrying the double-fault IST stack
// and the ring-0 privilege stack. Selectors are fixed at compile time
// since this kernel never grows the table after boot.
package gdt

import (
	"unsafe"

	"vkernel/internal/arch/amd64"
)

// Selector values. Each is (index << 3) | RPL; user selectors carry RPL 3.
// The ordering matches the descriptor table laid out in Init: null,
// kernel code, kernel data, user data, user code, TSS (low+high qwords).
const (
	SelectorNull       = 0x00
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	SelectorUserData   = 0x18 | 3
	SelectorUserCode   = 0x20 | 3
	SelectorTSS        = 0x28
)

// DoubleFaultIST is the IST index (1-based; 0 means "use RSP0") installed
// into the double-fault IDT gate by kernel/interrupt.
const DoubleFaultIST = 1

const (
	doubleFaultStackSize = 16 * 1024
	privilegeStackSize   = 16 * 1024
)

// Two per-CPU stacks, pre-allocated in bss: one for the IST the
// double-fault handler always runs on regardless of the state of the
// faulting stack, one for rings crossing into ring 0 through the TSS
// RSP0 slot (interrupt/exception entry from user mode).
var (
	doubleFaultStack [doubleFaultStackSize]byte
	privilegeStack   [privilegeStackSize]byte
)

// tss is the Task State Segment. Only the fields this kernel uses
// (RSP0 and IST1) are meaningful; the rest stay zero, matching a kernel
// that never uses hardware task switching. The hardware segment starts
// at reserved0 (so rsp0 sits at segment offset 4) and is tssSize bytes
// long; the leading pad only keeps the 64-bit fields aligned in Go.
type tss struct {
	_         uint32
	reserved0 uint32
	rsp0      uint64
	rsp1      uint64
	rsp2      uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

// gdtEntry64 is a packed 8-byte segment descriptor in the layout the CPU
// expects (limit/base split across non-contiguous fields for historical
// 80286 reasons).
type gdtEntry64 uint64

func codeSegment(ring uint8, long bool) gdtEntry64 {
	// Present, code/data (type 1), executable, readable, accessed bit
	// left clear (the CPU sets it on first use).
	access := uint64(0x9A) | uint64(ring)<<5
	flags := uint64(0x0) // G/D/L bits encoded directly below
	if long {
		flags |= 1 << 1 // L bit: 64-bit code segment
	}
	return gdtEntry64(access<<40 | flags<<52)
}

func dataSegment(ring uint8) gdtEntry64 {
	access := uint64(0x92) | uint64(ring)<<5
	return gdtEntry64(access << 40)
}

var table struct {
	null       gdtEntry64
	kernelCode gdtEntry64
	kernelData gdtEntry64
	userData   gdtEntry64
	userCode   gdtEntry64
	tssLow     gdtEntry64
	tssHigh    gdtEntry64
}

var theTSS tss

// tssSize is the length of the hardware TSS, from reserved0 through
// ioMapBase.
const tssSize = 104

// gdtr holds the 10-byte (limit, base) descriptor LGDT reads, starting
// at limit; the leading pad puts base right after limit.
type gdtr struct {
	_     [6]byte
	limit uint16
	base  uint64
}

// Init builds the GDT/TSS, loads GDTR, reloads CS/SS, and loads the task
// register. Must run before kernel/interrupt.Init, since the double-fault
// IDT gate references DoubleFaultIST which only means something once the
// TSS is loaded.
func Init() {
	table.null = 0
	table.kernelCode = codeSegment(0, true)
	table.kernelData = dataSegment(0)
	// Selector arithmetic above already folds RPL 3 into the constants;
	// the descriptors themselves still describe ring-3 segments.
	table.userData = dataSegment(3)
	table.userCode = codeSegment(3, true)

	theTSS = tss{}
	theTSS.rsp0 = uint64(uintptr(unsafe.Pointer(&privilegeStack[0])) + privilegeStackSize)
	theTSS.ist[DoubleFaultIST-1] = uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0])) + doubleFaultStackSize)
	theTSS.ioMapBase = tssSize

	base := uint64(uintptr(unsafe.Pointer(&theTSS.reserved0)))
	limit := uint64(tssSize - 1)
	table.tssLow, table.tssHigh = packTSSDescriptor(base, limit)

	r := gdtr{
		limit: uint16(unsafe.Sizeof(table) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&table))),
	}
	amd64.LoadGDT(unsafe.Pointer(&r.limit), SelectorKernelCode, SelectorKernelData)
	amd64.LoadTR(SelectorTSS)
}

// packTSSDescriptor builds the two descriptor slots a TSS occupies in a
// 64-bit GDT: a system descriptor is twice the width of a code/data one
// because the base address needs the extra 32 bits.
func packTSSDescriptor(base, limit uint64) (low, high gdtEntry64) {
	l := gdtEntry64(limit & 0xffff)
	l |= gdtEntry64(base&0xffffff) << 16
	l |= gdtEntry64(0x89) << 40 // present, type=0x9 (64-bit TSS, available)
	l |= gdtEntry64((limit>>16)&0xf) << 48
	l |= gdtEntry64((base>>24)&0xff) << 56
	h := gdtEntry64(base >> 32)
	return l, h
}

// SetKernelStack overrides the TSS RSP0 slot. Init already points it at
// privilegeStack, the single stack every ring-3-to-ring-0 transition
// shares regardless of which process was running — process preemption
// via a timer IRQ uses the privilege stack from the TSS; this exists
// only in case boot glue ever needs to repoint it before interrupts
// are first enabled.
func SetKernelStack(top uintptr) {
	theTSS.rsp0 = uint64(top)
}
