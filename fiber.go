// fiber.go - Cooperative guest-thread fibers (spec.md C9 "Fiber").
//
// Go has no stackful-coroutine primitive, so a Fiber here is a goroutine
// paired with a pair of unbuffered handshake channels: Resume blocks until
// the fiber goroutine reaches its next yield point, and the fiber goroutine
// blocks on the return trip until Resume is called again. This is the same
// request/response handshake shape as the teacher's coprocessor workers
// (coproc_worker_6502.go: a work channel in, a result channel out), reused
// here for symmetric coroutine-style transfer instead of one-shot task
// dispatch. Crucially the fiber's own goroutine IS its stack: a guest
// thread's locals and call depth live on that goroutine's stack across every
// Resume/yield round trip, even when a later Resume comes from a different
// CoreLoop (a migration to a different simulated core) — this is what keeps
// C9 a real stackful continuation rather than the tasks/futures model
// spec.md §9 rules out.
package espresso

// ThreadState is an OSThread's scheduling state (spec.md §3, §4.9).
type ThreadState int

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadWaiting
	ThreadMoribund
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadWaiting:
		return "Waiting"
	case ThreadMoribund:
		return "Moribund"
	default:
		return "Unknown"
	}
}

// AffinityAll is the default mask for a thread with no affinity restriction:
// every one of NumCores bits set.
const AffinityAll = (1 << NumCores) - 1

// OSThread is the guest-visible thread descriptor the scheduler queues and
// reschedules (spec.md §4.9's "ready queue of OSThread"). The scheduling
// fields (State, Priority, SuspendCounter, AffinityMask, Name) are read or
// written only while the scheduler's lock is held, per spec.md §6.3 ("all
// guest-thread API calls go through the scheduler lock"). Context and the
// fiber bookkeeping fields are handled without that lock by the CoreLoop
// currently running the thread.
type OSThread struct {
	ID       uint32
	Name     string
	Priority uint32 // base_priority: 0 = highest, 31 = lowest, per spec.md §4.9

	State          ThreadState
	AffinityMask   uint32 // bit i set => may run on core i
	SuspendCounter int32  // > 0 means suspended regardless of State

	EntryPoint uint32
	StackBase  uint32
	StackSize  uint32

	// Context is the saved architectural register set, valid whenever this
	// thread is not State==Running (spec.md §3's "saved context block").
	Context CoreSnapshot

	fiber      *Fiber
	activeLoop *CoreLoop // which CoreLoop is currently resuming this fiber

	// lastSliceVoluntary records whether the fiber's most recent slice ended
	// by yielding at a kernel call (true) or by quantum exhaustion (false);
	// CoreLoop.Run uses it to pick yielding vs non-yielding for the next
	// Reschedule call (spec.md §4.9 reschedule(core, yielding)).
	lastSliceVoluntary bool
}

// Fiber runs a guest thread's body on its own goroutine, yielding control
// back to the scheduler at well-defined points (end of a block, interrupt,
// syscall block).
type Fiber struct {
	toFiber chan struct{}
	toSched chan struct{}
	done    chan struct{}
}

// NewFiber starts body on a fresh goroutine, immediately parked waiting for
// the first Resume.
func NewFiber(body func(yield func())) *Fiber {
	f := &Fiber{
		toFiber: make(chan struct{}),
		toSched: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		<-f.toFiber
		body(f.yield)
		close(f.done)
		f.toSched <- struct{}{}
	}()
	return f
}

// yield is passed into body as the cooperative yield point: hand control
// back to whoever called Resume, and block until Resume is called again.
func (f *Fiber) yield() {
	f.toSched <- struct{}{}
	<-f.toFiber
}

// Resume hands control to the fiber and blocks until it yields or finishes.
// Returns true if the fiber is still alive (will accept another Resume).
func (f *Fiber) Resume() bool {
	f.toFiber <- struct{}{}
	<-f.toSched
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}
