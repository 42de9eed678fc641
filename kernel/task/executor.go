package task

import (
	"vkernel/internal/arch/amd64"
	ksync "vkernel/kernel/sync"
)

type entry struct {
	future Future
}

// Executor owns every live task and the single ready queue they share.
// It is not safe for concurrent use from more than one CPU — this
// kernel never has more than one — but it is safe to touch from IRQ
// context because every access it makes to shared state goes through
// ksync primitives.
type Executor struct {
	lock       ksync.SpinLock
	tasks      map[ID]entry
	wakerCache map[ID]*Waker
	queue      readyQueue
	nextID     ID
}

// NewExecutor returns an empty executor ready to accept Spawn calls.
func NewExecutor() *Executor {
	return &Executor{
		tasks:      make(map[ID]entry),
		wakerCache: make(map[ID]*Waker),
	}
}

// Spawn registers f as a new task and places it on the ready queue for
// its first poll. Returns the id assigned, primarily useful for tests
// and diagnostics; nothing in this kernel cancels a task by id.
func (e *Executor) Spawn(f Future) ID {
	e.lock.Lock()
	id := e.nextID
	e.nextID++
	e.tasks[id] = entry{future: f}
	e.lock.Unlock()

	if !e.queue.push(id) {
		panic("task: ready queue full on spawn")
	}
	return id
}

// waker returns this task's cached waker, creating and caching one on
// first use. The cache is keyed by id and its entries live at least as
// long as the task, so external holders (the timer wheel, a suspended
// process) keep working even after the task is removed from the ready
// queue.
func (e *Executor) waker(id ID) *Waker {
	e.lock.Lock()
	defer e.lock.Unlock()
	if w, ok := e.wakerCache[id]; ok {
		return w
	}
	w := &Waker{id: id, queue: &e.queue}
	e.wakerCache[id] = w
	return w
}

// Run drains the ready queue forever. Each iteration polls every task
// that is currently ready, in ready-queue (first woken, first polled)
// order with no priority; tasks that return Ready are dropped along
// with their cached waker. When the queue empties, interrupts are
// disabled, emptiness is re-checked under the lock, and then
// EnableInterruptsAndHalt is used to close the race between "observed
// empty" and "an IRQ wakes a task" — STI's one-instruction delay
// guarantees the HLT cannot miss a wake that arrives in that window.
func (e *Executor) Run() {
	for {
		e.runReady()

		amd64.Cli()
		if !e.queue.empty() {
			amd64.Sti()
			continue
		}
		amd64.EnableInterruptsAndHalt()
	}
}

// runReady drains and polls the ready queue once. Exposed separately
// from Run so tests can drive the executor deterministically without an
// infinite loop or real interrupts.
func (e *Executor) runReady() {
	for {
		id, ok := e.queue.pop()
		if !ok {
			return
		}

		e.lock.Lock()
		t, present := e.tasks[id]
		if present {
			delete(e.tasks, id) // hole while polled
		}
		e.lock.Unlock()
		if !present {
			continue
		}

		w := e.waker(id)
		if t.future.Poll(w) {
			e.lock.Lock()
			delete(e.wakerCache, id)
			e.lock.Unlock()
			continue
		}

		e.lock.Lock()
		e.tasks[id] = t
		e.lock.Unlock()
	}
}

// Len reports how many tasks are currently tracked (in the map, not
// counting ones mid-poll with a hole). Test-only diagnostic.
func (e *Executor) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.tasks)
}
