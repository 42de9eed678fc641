// Package console implements the kernel's two debug/output surfaces: a
// COM1 serial line writer, and a framebuffer-backed text console built
// on github.com/fogleman/gg, github.com/golang/freetype, and
// golang.org/x/image instead of a hand-rolled PSF blitter.
package console

import (
	"vkernel/internal/arch/amd64"
	"vkernel/kernel/sync"
)

const (
	com1Port = 0x3F8

	portData          = com1Port + 0
	portInterruptEn   = com1Port + 1
	portFifoCtrl      = com1Port + 2
	portLineCtrl      = com1Port + 3
	portModemCtrl     = com1Port + 4
	portLineStatus    = com1Port + 5

	lineStatusTransmitEmpty = 1 << 5
)

// Serial is a busy-wait line writer over COM1, serialized by a spin
// lock since both kernel log output and panic dumps write to it from
// arbitrary contexts including IRQ handlers.
type serial struct {
	lock sync.SpinLock
}

var Serial serial

// InitSerial programs the UART for 38400 8N1 with FIFOs enabled. Safe to
// call more than once.
func InitSerial() {
	amd64.Outb(portInterruptEn, 0x00)
	amd64.Outb(portLineCtrl, 0x80) // enable DLAB
	amd64.Outb(portData, 0x03)     // divisor low byte: 38400 baud
	amd64.Outb(portInterruptEn, 0x00)
	amd64.Outb(portLineCtrl, 0x03) // 8 bits, no parity, one stop bit
	amd64.Outb(portFifoCtrl, 0xC7)
	amd64.Outb(portModemCtrl, 0x0B)
}

func (s *serial) putByte(b byte) {
	for amd64.Inb(portLineStatus)&lineStatusTransmitEmpty == 0 {
	}
	amd64.Outb(portData, b)
}

// Write implements io.Writer. CR is inserted before every LF so output
// renders correctly on a plain terminal attached to the virtual COM1.
func (s *serial) Write(p []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, b := range p {
		if b == '\n' {
			s.putByte('\r')
		}
		s.putByte(b)
	}
	return len(p), nil
}

// ForceUnlock is called by the panic path before writing the panic
// banner: panic output takes precedence over deadlock avoidance.
func (s *serial) ForceUnlock() {
	s.lock.ForceUnlock()
}
