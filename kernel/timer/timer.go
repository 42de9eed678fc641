// Package timer implements a monotonic tick counter driven by the
// timer IRQ and a fixed-size slot table of pending (waker, deadline)
// pairs, protected by a spin mutex.
package timer

import (
	"sync/atomic"

	"vkernel/kernel/sync"
	"vkernel/kernel/task"
)

// SlotCount bounds how many distinct wait_n_ticks calls can be pending
// at once. Fixed capacity by design; a deque or heap would be the
// natural replacement if this ever needs to grow.
const SlotCount = 128

// FrequencyHz is the configured rate at which the timer IRQ fires.
// sleep_ms converts its argument to ticks against this value so a
// sleep request is honored in real time rather than a fixed tick count.
const FrequencyHz = 100

type slot struct {
	waker    *task.Waker
	deadline uint64
	used     bool
}

var (
	ticks uint64
	lock  sync.SpinLock
	slots [SlotCount]slot
)

// Ticks returns the current tick count with acquire semantics; reads
// are monotonic across callers.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// TickTimer advances the tick counter by one and wakes every slot whose
// deadline has elapsed. Called once per timer IRQ.
func TickTimer() {
	t := atomic.AddUint64(&ticks, 1)

	lock.Lock()
	var woken [SlotCount]*task.Waker
	n := 0
	for i := range slots {
		s := &slots[i]
		if !s.used {
			continue
		}
		if t >= s.deadline {
			woken[n] = s.waker
			n++
			*s = slot{}
		}
	}
	lock.Unlock()

	for i := 0; i < n; i++ {
		woken[i].Wake()
	}
}

// MillisToTicks converts a millisecond duration to a tick count at the
// configured frequency, rounding up so a requested sleep never resolves
// early.
func MillisToTicks(ms uint64) uint64 {
	return (ms*FrequencyHz + 999) / 1000
}

// ErrSlotsExhausted names the condition of every timer slot being in
// use. Nothing returns it: a Poll that finds the table full panics.
var ErrSlotsExhausted = "timer: no free slot"

// waiter is the Future wait_n_ticks hands to the caller. target is
// fixed at construction time: WaitTicks records the current tick count
// and computes a deadline once, up front.
type waiter struct {
	target  uint64
	arrived bool
}

// WaitTicks returns a future that resolves once at least n ticks have
// elapsed from the moment it was constructed; a WaitTicks(0) future
// resolves on its very first poll.
func WaitTicks(n uint64) task.Future {
	return &waiter{target: Ticks() + n}
}

// Poll implements task.Future: ready immediately if the target has
// already passed, otherwise registers (waker, target) into a free slot
// of the shared table and returns Pending. Polling the same waiter again
// before it fires registers a second slot entry for the same waker, and
// TickTimer then wakes that waker once per entry.
func (w *waiter) Poll(waker *task.Waker) bool {
	if w.arrived || Ticks() >= w.target {
		w.arrived = true
		return true
	}

	lock.Lock()
	defer lock.Unlock()
	for i := range slots {
		if slots[i].used {
			continue
		}
		slots[i] = slot{waker: waker, deadline: w.target, used: true}
		return false
	}
	panic("timer: out of timer slots")
}
