package console

import (
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"unsafe"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vkernel/kernel/memory"
	"vkernel/kernel/sync"
)

// FramebufferConsole draws into a linear XRGB8888/BGRX framebuffer
// handed over by the boot handoff contract's optional framebuffer
// field, through a gg drawing context so the kernel never hand-rolls a
// rasterizer. Text renders via basicfont's fixed 7x13 bitmap face
// unless a TTF has been loaded from the initrd, in which case panic
// banners render through freetype instead.
type FramebufferConsole struct {
	lock sync.SpinLock

	width, height, pitch int
	fbPhys               uintptr

	ctx *gg.Context // RGBA backbuffer, blitted to the framebuffer on Flush

	cellW, cellH int
	cursorCol    int
	cursorRow    int

	panicFont *truetype.Font
}

var Framebuffer FramebufferConsole

// framebufferReady is set once InitFramebuffer has built the backing
// context; console output before that point goes to serial only.
var framebufferReady int32

// InitFramebuffer maps a gg RGBA backbuffer sized to the negotiated
// mode and clears it to black. fbPhys, width, height, and pitch come
// straight from the boot handoff's framebuffer descriptor.
func (c *FramebufferConsole) InitFramebuffer(fbPhys uintptr, width, height, pitch int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.fbPhys = fbPhys
	c.width, c.height, c.pitch = width, height, pitch
	c.ctx = gg.NewContext(width, height)
	c.ctx.SetColor(color.Black)
	c.ctx.Clear()

	face := basicfont.Face7x13
	c.cellW, c.cellH = face.Advance, face.Height

	atomic.StoreInt32(&framebufferReady, 1)
}

// Ready reports whether InitFramebuffer has run; kernel/boot skips
// framebuffer output entirely (serial keeps working regardless) when
// the bootloader reported no usable mode.
func Ready() bool {
	return atomic.LoadInt32(&framebufferReady) != 0
}

// DrawSplash paints a simple boot panel: a dark background with a
// centered circle and a caption beneath it, exercising gg's path and
// text APIs the way a real logo draw would.
func (c *FramebufferConsole) DrawSplash(caption string) {
	if !Ready() {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	cx, cy := float64(c.width)/2, float64(c.height)/2-20
	radius := float64(c.height) / 6
	c.ctx.SetRGB(0.16, 0.45, 0.85)
	c.ctx.DrawCircle(cx, cy, radius)
	c.ctx.Fill()

	c.ctx.SetRGB(0.9, 0.9, 0.9)
	c.ctx.DrawStringAnchored(caption, cx, cy+radius+24, 0.5, 0.5)
}

// PutChar draws one glyph at the current cursor cell using the bitmap
// face, advancing the cursor and wrapping/scrolling as needed. Control
// characters ('\n', '\r') move the cursor without drawing.
func (c *FramebufferConsole) PutChar(ch byte) {
	if !Ready() {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	switch ch {
	case '\n':
		c.cursorCol = 0
		c.advanceRow()
		return
	case '\r':
		c.cursorCol = 0
		return
	}

	face := basicfont.Face7x13
	x := c.cursorCol * c.cellW
	y := (c.cursorRow+1)*c.cellH - face.Descent

	c.ctx.SetRGB(0, 0, 0)
	c.ctx.DrawRectangle(float64(x), float64(c.cursorRow*c.cellH), float64(c.cellW), float64(c.cellH))
	c.ctx.Fill()

	d := &font.Drawer{
		Dst:  c.ctx.Image().(draw.Image),
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(string(rune(ch)))

	c.cursorCol++
	if c.cursorCol*c.cellW >= c.width {
		c.cursorCol = 0
		c.advanceRow()
	}
}

func (c *FramebufferConsole) advanceRow() {
	c.cursorRow++
	if (c.cursorRow+1)*c.cellH >= c.height {
		c.cursorRow = 0 // wrap rather than scroll: no backing store to shift rows out of
	}
}

// Flush blits the RGBA backbuffer into the mapped framebuffer, through
// the direct map, converting RGBA to the BGRX byte order most virtual
// display adapters (bochs-display, QEMU's std VGA) expose.
func (c *FramebufferConsole) Flush() {
	if !Ready() {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	img := c.ctx.Image().(*image.RGBA)
	dst := framebufferBytes(c.fbPhys, c.pitch*c.height)

	for y := 0; y < c.height; y++ {
		srcRow := img.Pix[y*img.Stride : y*img.Stride+c.width*4]
		dstRow := dst[y*c.pitch : y*c.pitch+c.width*4]
		for x := 0; x < c.width; x++ {
			r, g, b, a := srcRow[x*4], srcRow[x*4+1], srcRow[x*4+2], srcRow[x*4+3]
			dstRow[x*4+0] = b
			dstRow[x*4+1] = g
			dstRow[x*4+2] = r
			dstRow[x*4+3] = a
		}
	}
}

// LoadPanicFont parses a TTF pulled from the initrd so RenderPanicBanner
// can use freetype instead of the bitmap face. Safe to call with nil
// data; RenderPanicBanner falls back to the bitmap face in that case.
func (c *FramebufferConsole) LoadPanicFont(ttfData []byte) error {
	if len(ttfData) == 0 {
		return nil
	}
	f, err := truetype.Parse(ttfData)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.panicFont = f
	c.lock.Unlock()
	return nil
}

// RenderPanicBanner draws msg across the top of the framebuffer in a
// large red banner. When a panic TTF was loaded it renders through
// freetype for a larger, anti-aliased face; otherwise it falls back to
// repeated bitmap-face lines.
func (c *FramebufferConsole) RenderPanicBanner(msg string) {
	if !Ready() {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	c.ctx.SetRGB(0.5, 0, 0)
	c.ctx.DrawRectangle(0, 0, float64(c.width), 80)
	c.ctx.Fill()

	if c.panicFont == nil {
		c.ctx.SetRGB(1, 1, 1)
		c.ctx.DrawStringAnchored(msg, float64(c.width)/2, 40, 0.5, 0.5)
		return
	}

	ftCtx := freetype.NewContext()
	ftCtx.SetDPI(72)
	ftCtx.SetFont(c.panicFont)
	ftCtx.SetFontSize(28)
	ftCtx.SetClip(c.ctx.Image().Bounds())
	ftCtx.SetDst(c.ctx.Image().(draw.Image))
	ftCtx.SetSrc(image.NewUniform(color.White))
	ftCtx.DrawString(msg, fixed.P(16, 48))
}

// framebufferBytes returns a byte slice aliasing the mapped
// framebuffer's direct-map virtual address.
func framebufferBytes(fbPhys uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(memory.PhysToVirt(fbPhys))), length)
}
