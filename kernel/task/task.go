// Package task implements the kernel's single-threaded cooperative
// executor: a map from task id to task, a bounded ready-queue of ids,
// and a waker cache keyed by task id. Nothing here spawns an OS thread
// or goroutine — "concurrency" is entirely poll-based, and the kernel
// runs one task at a time. This is deliberately not built on Go's own
// goroutines/channels: a hand-rolled Future/Waker/ready-queue design
// gives the process future (kernel/process) a real suspend point to
// hook into the timer IRQ's scheduler-return.
package task

import ksync "vkernel/kernel/sync"

// ID uniquely and monotonically identifies a task for the lifetime of
// the kernel. Never reused.
type ID uint64

// Future is the poll-based computation a task drives to completion.
// Poll returns true once the future has resolved; a task whose Poll
// returns false is expected to have arranged, via waker, to be polled
// again later — either by calling waker.Wake() itself before returning
// (self-rescheduling) or by handing waker off to some other subsystem
// (the timer wheel, the keyboard IRQ, a suspended process) that will
// call it once the condition the future is waiting on becomes true.
type Future interface {
	Poll(waker *Waker) bool
}

// ReadyQueueCapacity bounds the number of task ids that can be pending
// re-poll at once. A task that tries to wake itself when the queue is
// full silently drops the wake; the task remains in the executor's map
// and is polled again only once something else holding its waker wakes
// it. Process preemption re-enqueues through this same ready queue.
const ReadyQueueCapacity = 256

type readyQueue struct {
	lock  ksync.SpinLock
	items [ReadyQueueCapacity]ID
	head  int
	tail  int
	count int
}

func (q *readyQueue) push(id ID) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.count == ReadyQueueCapacity {
		return false
	}
	q.items[q.tail] = id
	q.tail = (q.tail + 1) % ReadyQueueCapacity
	q.count++
	return true
}

func (q *readyQueue) pop() (ID, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.count == 0 {
		return 0, false
	}
	id := q.items[q.head]
	q.head = (q.head + 1) % ReadyQueueCapacity
	q.count--
	return id, true
}

func (q *readyQueue) empty() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count == 0
}

// Waker is the shared handle a polled future hands out so that whatever
// it is waiting on can re-schedule it. A Waker holds only the id plus a
// strong handle to the ready queue — no task ever points at another
// task directly.
type Waker struct {
	id    ID
	queue *readyQueue
}

// Wake pushes this waker's task id back onto the ready queue. Waking a
// task that is not currently tracked by the executor (already completed
// and dropped) is harmless: the next drain simply finds nothing at that
// id and skips it.
func (w *Waker) Wake() {
	if w == nil || w.queue == nil {
		return
	}
	w.queue.push(w.id)
}

// ID returns the task id this waker targets, used by subsystems (timer
// wheel, keyboard queue) that need to log or dedupe on identity.
func (w *Waker) ID() ID {
	return w.id
}
