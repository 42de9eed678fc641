package interrupt

import "vkernel/internal/arch/amd64"

// Legacy 8259 PIC ports and the ICW/OCW protocol used to remap its
// vectors out of the CPU's own exception range.
const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xA0
	pic2Data    = 0xA1

	pic1VectorOffset = 32
	pic2VectorOffset = 40

	icw1Init   = 0x11 // edge triggered, cascade mode, ICW4 needed
	icw4_8086  = 0x01
	eoiCommand = 0x20
)

// initPIC remaps the master/slave PIC to vectors 32..47 and masks every
// line except the ones this kernel services.
func initPIC() {
	mask1, mask2 := amd64.Inb(pic1Data), amd64.Inb(pic2Data)

	amd64.Outb(pic1Command, icw1Init)
	ioWait()
	amd64.Outb(pic2Command, icw1Init)
	ioWait()
	amd64.Outb(pic1Data, pic1VectorOffset)
	ioWait()
	amd64.Outb(pic2Data, pic2VectorOffset)
	ioWait()
	amd64.Outb(pic1Data, 4) // tell master PIC there's a slave at IRQ2
	ioWait()
	amd64.Outb(pic2Data, 2) // tell slave PIC its cascade identity
	ioWait()
	amd64.Outb(pic1Data, icw4_8086)
	ioWait()
	amd64.Outb(pic2Data, icw4_8086)
	ioWait()

	_, _ = mask1, mask2
	// Mask everything except IRQ0 (timer) and IRQ1 (keyboard) on the
	// master, and everything on the slave.
	amd64.Outb(pic1Data, 0xFC)
	amd64.Outb(pic2Data, 0xFF)
}

func ioWait() {
	amd64.Outb(0x80, 0)
}

// sendEOI acknowledges an IRQ to the PIC(s). vector is the IDT vector
// number (32-based), not the raw IRQ line.
func sendEOI(vector uint8) {
	if vector >= pic2VectorOffset {
		amd64.Outb(pic2Command, eoiCommand)
	}
	amd64.Outb(pic1Command, eoiCommand)
}
