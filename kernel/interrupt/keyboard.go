package interrupt

import (
	"fmt"

	"vkernel/kernel/console"
	"vkernel/kernel/sync"
	"vkernel/kernel/task"
)

// scancodeQueueCapacity bounds the keyboard IRQ's queue; 1000 is
// generous for a device that can produce at most a few hundred
// scancodes per second.
const scancodeQueueCapacity = 1000

var (
	scancodeLock  sync.SpinLock
	scancodeQueue [scancodeQueueCapacity]uint8
	scancodeHead  int
	scancodeLen   int
	consumerWaker *task.Waker
)

// pushScancode is called only from the keyboard IRQ handler. A full
// queue drops the newest scancode and logs a warning rather than
// blocking the IRQ handler or evicting older, still-unread input.
func pushScancode(code uint8) {
	scancodeLock.Lock()
	if scancodeLen == scancodeQueueCapacity {
		scancodeLock.Unlock()
		fmt.Fprintf(&console.Serial, "WARNING: scancode queue full; dropping keyboard input\n")
		return
	}
	scancodeQueue[(scancodeHead+scancodeLen)%scancodeQueueCapacity] = code
	scancodeLen++
	w := consumerWaker
	scancodeLock.Unlock()

	if w != nil {
		w.Wake()
	}
}

// PopScancode removes and returns the oldest queued scancode, if any.
func PopScancode() (code uint8, ok bool) {
	scancodeLock.Lock()
	defer scancodeLock.Unlock()
	if scancodeLen == 0 {
		return 0, false
	}
	code = scancodeQueue[scancodeHead]
	scancodeHead = (scancodeHead + 1) % scancodeQueueCapacity
	scancodeLen--
	return code, true
}

// RegisterScancodeWaker installs the waker pushScancode wakes each time
// a scancode is queued. A newer registration silently replaces an older
// one.
func RegisterScancodeWaker(w *task.Waker) {
	scancodeLock.Lock()
	defer scancodeLock.Unlock()
	consumerWaker = w
}
