package process

import (
	"unsafe"

	"vkernel/internal/arch/amd64"
	"vkernel/kernel/task"
)

// PerCPU holds the one piece of state that makes a context switch mean
// anything: where to switch back to. This kernel only ever brings up
// one CPU, so there is exactly one PerCPU value, but it is still
// threaded explicitly rather than hidden in package-level globals.
type PerCPU struct {
	id          uint64
	current     *Process
	schedulerRSP uintptr
}

var bootCPU PerCPU

// ThisCPU returns the (only) per-CPU state. A real SMP kernel would key
// this off APIC id; this one doesn't need to.
func ThisCPU() *PerCPU {
	return &bootCPU
}

// Current returns the process presently running on this CPU, or nil
// between processes.
func (c *PerCPU) Current() *Process {
	return c.current
}

// RunProcess installs p's address space, resumes it from wherever its
// saved Context left off, and blocks until the process switches back
// via ReturnFromProcess — either because a syscall voluntarily
// suspended it or because the timer IRQ handler preempted it — by
// which point p.State already reflects why. p.KernelStack backs the
// very first saved Context the ELF loader constructs; every later
// re-suspension saves its context on whichever of the shared per-CPU
// stacks (the TSS privilege stack for timer preemption, the syscall
// stack for a suspending syscall) was active at the moment of the
// switch, exactly as kernel/gdt's privilege stack and kernel/syscall's
// stack are shared across every process rather than allocated
// per-process.
func (c *PerCPU) RunProcess(p *Process) {
	p.Space.Load()
	c.current = p
	p.State = StateRunning

	amd64.ContextSwitch(unsafe.Pointer(&c.schedulerRSP), unsafe.Pointer(p.Context))

	c.current = nil
}

// ReturnFromProcess switches from wherever p's syscall or interrupt
// handling is currently executing back to the scheduler stack
// RunProcess switched away from. It is called from deep inside syscall
// or interrupt handling while p is the current process — never from the
// task executor itself — and returns only the next time some later
// RunProcess(p) call resumes p from this exact point. The caller must
// set p.State to whatever it should be observed as (Runnable, Waiting,
// or Killed) before calling this.
func (c *PerCPU) ReturnFromProcess(p *Process) {
	amd64.ContextSwitch(unsafe.Pointer(&p.Context), unsafe.Pointer(c.schedulerRSP))
}

// ProcessFuture adapts a Process into a task.Future so the executor can
// drive it exactly like any other task: a process is a task whose
// future polls by running it.
type ProcessFuture struct {
	p *Process
}

// NewProcessFuture wraps p for scheduling; the caller is expected to pass
// the result straight to an Executor's Spawn.
func NewProcessFuture(p *Process) *ProcessFuture {
	return &ProcessFuture{p: p}
}

// Process returns the wrapped process, for callers (kernel/syscall) that
// need to look up "the process this task belongs to" from elsewhere.
func (pf *ProcessFuture) Process() *Process {
	return pf.p
}

// Poll runs p for one slice. Interrupts stay disabled for the decision
// made immediately after RunProcess returns so a timer tick can't land
// between "p.State read" and "waker acted on" and reorder the two.
func (pf *ProcessFuture) Poll(waker *task.Waker) bool {
	p := pf.p
	if p.State == StateKilled {
		return true
	}

	p.Waker = waker
	amd64.Cli()
	ThisCPU().RunProcess(p)

	switch p.State {
	case StateRunning:
		panic("process: still Running after RunProcess returned")
	case StateRunnable:
		amd64.Sti()
		waker.Wake()
		return false
	case StateWaiting:
		amd64.Sti()
		return false
	case StateKilled:
		amd64.Sti()
		p.Space.Drop()
		return true
	default:
		panic("process: unknown state after RunProcess returned")
	}
}
