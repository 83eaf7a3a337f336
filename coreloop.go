// coreloop.go - Per-core execution loop (spec.md C8, §4.3 resume_execution,
// §4.9 swap_to_fiber).
//
// Grounded on the teacher's CPU_6502.Run goroutine loop (cpu_six5go2.go): a
// tight for-loop that checks a stop flag, executes one unit of work, and
// polls interrupt/debug state between units. Espresso generalizes "one
// unit of work" from a single 6502 opcode to "a JIT block if one is ready,
// else one interpreted instruction," and adds the scheduler/fiber handoff
// the teacher's single-CPU loop never needed: this goroutine (standing in
// for a host OS thread, spec.md §4.9) doesn't execute guest code directly —
// it resumes whatever OSThread the scheduler hands it, and that thread's own
// fiber goroutine does the executing.
package espresso

import (
	"context"
	"time"
)

// idlePollInterval bounds how long a core with no runnable thread sleeps
// before re-checking the scheduler (spec.md §4.9's idle fiber).
const idlePollInterval = 200 * time.Microsecond

// CoreLoop drives one Core: swap in the scheduler's chosen thread, resume
// its fiber until it yields or dies, save its context back out, repeat.
type CoreLoop struct {
	core     *Core
	jit      *JIT
	interp   *Interpreter
	sched    *Scheduler
	bridge   *SyscallBridge
	handlers InterruptHandlers

	quantumInstructions int // resume_execution's bounded slice, spec.md §4.9
}

func NewCoreLoop(core *Core, jit *JIT, interp *Interpreter, sched *Scheduler, bridge *SyscallBridge) *CoreLoop {
	return &CoreLoop{
		core:                core,
		jit:                 jit,
		interp:              interp,
		sched:               sched,
		bridge:              bridge,
		handlers:            DefaultInterruptHandlers(),
		quantumInstructions: 4096,
	}
}

// newGuestFiber builds the fiber backing a freshly queued OSThread: a
// persistent goroutine whose stack IS the guest thread's continuation
// across every swap. Each iteration runs one scheduling slice via whichever
// CoreLoop is currently resuming it (thread.activeLoop, set by CoreLoop.Run
// right before each Resume) so a thread migrated to a different core picks
// up that core's JIT/interpreter/bridge without the fiber body needing to
// know in advance where it will land (spec.md §4.9 swap_to_fiber).
func newGuestFiber(t *OSThread) *Fiber {
	return NewFiber(func(yield func()) {
		for {
			if t.activeLoop.runGuestSlice(t) {
				return
			}
			yield()
		}
	})
}

// Run executes until ctx is cancelled, matching the errgroup-managed
// goroutine lifetime the Machine sets up in core.go (grounded on the
// teacher's CoprocessorManager.StopAll shutdown pattern, here expressed as
// a context instead of a stop-channel broadcast because golang.org/x/sync's
// errgroup is already wired in for orchestration; see DESIGN.md).
func (cl *CoreLoop) Run(ctx context.Context) error {
	yielding := false
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		thread := cl.sched.Reschedule(cl.core.ID, yielding)
		if thread == nil {
			// Nothing runnable: idle fiber. idleStep sleeps on a short timer
			// (or until ctx is cancelled) before the scheduler is asked
			// again, rather than busy-polling the scheduler lock.
			if !cl.idleStep(ctx) {
				return nil
			}
			yielding = false
			continue
		}

		// swap_to_fiber: load this thread's saved register set into the
		// core it's about to run on, then hand control to its fiber.
		cl.core.RestoreContext(thread.Context)
		thread.activeLoop = cl

		alive := thread.fiber.Resume()

		thread.Context = cl.core.SaveContext()

		if !alive {
			cl.sched.ExitThreadNoLock(thread)
			for _, reclaimed := range cl.sched.CheckDeadContext() {
				_ = reclaimed // nothing host-side to release beyond the Go GC
			}
			yielding = false
			continue
		}
		yielding = thread.lastSliceVoluntary
	}
}

// runGuestSlice runs thread for up to quantumInstructions dispatch steps,
// each one a whole translated block or one interpreted instruction (or
// until it must yield: a syscall, or a requested exit), per spec.md §4.3's
// resume_execution. It is the single call site that chooses between a
// cached translated block and the interpreter, and the only place that
// decides whether the fiber should keep running (return false, yield) or
// stop for good (return true, thread is exiting).
func (cl *CoreLoop) runGuestSlice(thread *OSThread) (exited bool) {
	cur := cl.core
	thread.lastSliceVoluntary = false

	for i := 0; i < cl.quantumInstructions; i++ {
		if DispatchInterrupts(cur, cl.handlers) {
			cur.CIA = cur.NIA
			continue
		}
		if cur.exitRequested {
			cur.exitRequested = false
			return true
		}

		block, err := cl.jit.GetBlock(cur.CIA)
		switch {
		case err != nil:
			// ErrTranslationFailed is non-fatal (spec.md §7): the slot is
			// now Error and every future visit falls back to the
			// interpreter for this address.
			cur = cl.interp.Step(cur)
		case block != nil:
			var nia uint32
			cur, nia = block.Run(cur, cl.bridge)
			cur.CIA = nia
		default:
			cur = cl.interp.Step(cur)
		}

		if cur.exitRequested {
			cur.exitRequested = false
			return true
		}
		if cur.calledHLE {
			cur.calledHLE = false
			thread.lastSliceVoluntary = true
			return false // yield back to the scheduler after any syscall
		}
	}
	return false
}

// idleStep waits briefly for work to appear; returns false if ctx is done.
func (cl *CoreLoop) idleStep(ctx context.Context) bool {
	idleTick := time.NewTimer(idlePollInterval)
	defer idleTick.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-idleTick.C:
		return true
	}
}
