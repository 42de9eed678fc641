// Package sync provides the locking primitive the kernel uses for every
// shared singleton: the frame allocator, the kernel mapper, the scancode
// queue, the console, and the timer-slot table are all single
// hardware-thread structures that can still be reentered from IRQ
// context, so a plain spin loop guarded by an interrupt-disable section
// is the whole story — there is no blocking, no scheduler handoff, and
// no fairness guarantee beyond "whoever clears the flag first wins".
package sync

import (
	"sync/atomic"

	"vkernel/internal/arch/amd64"
)

// SpinLock is a test-and-set lock safe to take from both normal kernel
// control flow and interrupt handlers, provided IRQSection is used
// whenever a caller cannot otherwise guarantee interrupts are already
// off. It does not support recursion.
type SpinLock struct {
	locked uint32
}

// Lock spins until the lock is acquired. Callers that might be
// interrupted while holding it — i.e. nearly everyone outside of an IRQ
// handler itself — should use IRQSection instead.
func (l *SpinLock) Lock() {
	for !atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
	}
}

// Unlock releases the lock. Unlocking an unlocked SpinLock is a bug in
// the caller and is not detected.
func (l *SpinLock) Unlock() {
	atomic.StoreUint32(&l.locked, 0)
}

// TryLock attempts to acquire the lock without spinning, reporting
// whether it succeeded. Nothing in the kernel calls it at present; the
// panic path uses ForceUnlock instead.
func (l *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.locked, 0, 1)
}

// ForceUnlock clears the lock unconditionally. Only the panic handler
// calls this — panic output takes precedence over deadlock avoidance
// (spec's shared-resource discipline), so the serial lock is
// force-unlocked before the panic banner is written.
func (l *SpinLock) ForceUnlock() {
	atomic.StoreUint32(&l.locked, 0)
}

// IRQSection holds a SpinLock with interrupts disabled for its duration,
// matching the "spin mutex taken with interrupts disabled" discipline
// used for every structure also touched from timer and keyboard IRQ
// handlers. Release always re-enables interrupts, whatever the interrupt
// flag was before Acquire — nesting two IRQSections is not supported, mirroring the
// kernel's single-core, non-reentrant locking model.
type IRQSection struct {
	lock *SpinLock
}

// Acquire disables interrupts and takes lock, returning a token whose
// Release call undoes both in the opposite order.
func Acquire(lock *SpinLock) IRQSection {
	amd64.Cli()
	lock.Lock()
	return IRQSection{lock: lock}
}

// Release unlocks the guarded lock and re-enables interrupts.
func (s IRQSection) Release() {
	s.lock.Unlock()
	amd64.Sti()
}
