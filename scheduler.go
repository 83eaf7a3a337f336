// scheduler.go - Global fiber scheduler (spec.md C9, §4.9).
//
// The ready queue is a single mutex-guarded slice kept sorted by priority
// with stable (FIFO within a priority) insertion, matching spec.md's
// "ready queue ordered by priority (0 highest .. 31 lowest), stable within a
// priority level" directly — the teacher has no analogous multi-thread
// scheduler, so this is grounded on spec.md's own described algorithm
// (insertion sort on append, since guest thread counts are small) rather
// than a teacher file, with the mutex-protected-shared-state style carried
// over from coprocessor_manager.go's ticket bookkeeping.
package espresso

import "sync"

// Scheduler owns the ready queue and the current-thread-per-core mapping.
type Scheduler struct {
	mu            sync.Mutex
	ready         []*OSThread
	currentThread []*OSThread // indexed by core ID
	deadSlots     []*OSThread // threads that exited, awaiting context reclaim

	// NewFiberFunc lazily builds the fiber backing a freshly queued thread
	// (spec.md §4.9 queue_thread: "ensures T has a fiber, creating one on
	// first use"). Machine installs this at construction; nil is only the
	// zero-value state before that wiring runs (or in scheduler-only tests
	// that never resume a thread).
	NewFiberFunc func(t *OSThread) *Fiber
}

func NewScheduler(numCores int) *Scheduler {
	return &Scheduler{currentThread: make([]*OSThread, numCores)}
}

// QueueThread inserts t into the ready queue, stable within its priority
// (spec.md §4.9 queue_thread).
func (s *Scheduler) QueueThread(t *OSThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueThreadLocked(t)
}

func (s *Scheduler) queueThreadLocked(t *OSThread) {
	if t.AffinityMask == 0 {
		t.AffinityMask = AffinityAll
	}
	if t.State != ThreadMoribund {
		t.State = ThreadReady
	}
	if t.fiber == nil && s.NewFiberFunc != nil {
		t.fiber = s.NewFiberFunc(t)
	}

	i := len(s.ready)
	for i > 0 && s.ready[i-1].Priority > t.Priority {
		i--
	}
	s.ready = append(s.ready, nil)
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = t
}

// removeLocked removes the ready-queue entry at index i, preserving the
// stable ordering of everything after it.
func (s *Scheduler) removeLocked(i int) {
	s.ready = append(s.ready[:i], s.ready[i+1:]...)
}

// peekNextIndexLocked scans the ready queue in priority order for the first
// thread eligible to run on coreID: Ready, not suspended, and within its
// affinity mask (spec.md §4.9 peek_next / invariants 3-4). Returns -1 if
// none qualify even though the queue isn't empty (every candidate suspended
// or affinity-excluded from this core).
func (s *Scheduler) peekNextIndexLocked(coreID int) int {
	bit := uint32(1) << uint(coreID)
	for i, t := range s.ready {
		if t.State != ThreadReady {
			continue
		}
		if t.SuspendCounter > 0 {
			continue
		}
		if t.AffinityMask&bit == 0 {
			continue
		}
		return i
	}
	return -1
}

// PeekNext returns the highest-priority thread ready to run on coreID
// without removing it (spec.md §4.9 peek_next, used by idle cores deciding
// whether to wake).
func (s *Scheduler) PeekNext(coreID int) *OSThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.peekNextIndexLocked(coreID)
	if i < 0 {
		return nil
	}
	return s.ready[i]
}

// Reschedule implements spec.md §4.9 reschedule(core, yielding): it decides
// whether coreID's currently running thread keeps the core or is swapped
// out for the next eligible ready thread, per invariant 5 / property 5:
//
//   - yielding reschedule (the running thread voluntarily gave up the core,
//     e.g. at a kernel call): only a thread at equal-or-higher priority
//     (a lower or equal base_priority number) takes over; a strictly lower
//     priority candidate does not preempt a voluntary yield either, since
//     there is no reason to switch away to worse-priority work.
//   - non-yielding reschedule (a forced check, e.g. at an interrupt
//     boundary): only a strictly higher priority candidate (strictly lower
//     base_priority number) preempts; equal priority always keeps the
//     current thread running.
//
// So a tie hands the core off on a yielding reschedule and keeps the
// current thread on a non-yielding one — the "<" versus "<=" in the two
// branches below is the whole of that distinction.
func (s *Scheduler) Reschedule(coreID int, yielding bool) *OSThread {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.currentThread[coreID]
	running := cur != nil && cur.State == ThreadRunning && cur.SuspendCounter <= 0

	if running {
		i := s.peekNextIndexLocked(coreID)
		if i < 0 {
			return cur
		}
		next := s.ready[i]
		if yielding && cur.Priority < next.Priority {
			return cur
		}
		if !yielding && cur.Priority <= next.Priority {
			return cur
		}
		s.removeLocked(i)
		cur.State = ThreadReady
		s.queueThreadLocked(cur)
		next.State = ThreadRunning
		s.currentThread[coreID] = next
		return next
	}

	if cur != nil && cur.State != ThreadMoribund {
		cur.State = ThreadReady
		s.queueThreadLocked(cur)
	}

	i := s.peekNextIndexLocked(coreID)
	if i < 0 {
		s.currentThread[coreID] = nil
		return nil
	}
	next := s.ready[i]
	s.removeLocked(i)
	next.State = ThreadRunning
	s.currentThread[coreID] = next
	return next
}

// ExitThreadNoLock retires t: marks it Moribund and moves it to the
// dead-slot list for CheckDeadContext to reclaim (spec.md §4.9
// exit_thread_no_lock — a fiber cannot free itself; CoreLoop.Run collects
// it via CheckDeadContext once the thread's fiber has finished). It takes
// the scheduler lock itself.
func (s *Scheduler) ExitThreadNoLock(t *OSThread) {
	s.mu.Lock()
	t.State = ThreadMoribund
	s.deadSlots = append(s.deadSlots, t)
	s.mu.Unlock()
}

// CheckDeadContext reclaims and returns any thread descriptors retired since
// the last call, so their Core/Fiber resources can be released (spec.md
// §4.9 check_dead_context, the "handshake" half of the exit protocol: a
// thread marks itself dead, and a later scheduler pass collects it rather
// than freeing resources out from under a thread still unwinding its own
// goroutine stack).
func (s *Scheduler) CheckDeadContext() []*OSThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	dead := s.deadSlots
	s.deadSlots = nil
	return dead
}

// CurrentThread reports coreID's currently assigned thread, if any.
func (s *Scheduler) CurrentThread(coreID int) *OSThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentThread[coreID]
}

// ThreadState reports t's scheduling state under the scheduler lock, the
// race-free way for a caller outside this package's scheduling goroutines
// to observe it (every write to State happens with s.mu held).
func (s *Scheduler) ThreadState(t *OSThread) ThreadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.State
}

// ReadyLen reports the ready-queue depth; used by tests and Introspect.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

// --- spec.md §6.3 guest-thread API: every entry point goes through s.mu ---

// SuspendThread increments t's suspend counter; a thread with a positive
// counter is never returned by peek_next/reschedule even if Ready.
func (s *Scheduler) SuspendThread(t *OSThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SuspendCounter++
}

// ResumeThread decrements t's suspend counter, floored at zero so extra
// resumes beyond matching suspends are harmless.
func (s *Scheduler) ResumeThread(t *OSThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.SuspendCounter > 0 {
		t.SuspendCounter--
	}
}

// SetAffinity restricts t to the cores named by mask (bit i = core i).
func (s *Scheduler) SetAffinity(t *OSThread, mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mask == 0 {
		mask = AffinityAll
	}
	t.AffinityMask = mask
}

// SetName renames t, purely diagnostic (debugger/introspection surfaces).
func (s *Scheduler) SetName(t *OSThread, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Name = name
}

// RunThread constructs and queues a new OSThread starting at entry with its
// own stack region, the spec.md §6.3 thread-creation entry point. The
// caller picks stackBase/stackSize (spec.md Non-goal: Espresso does not
// itself manage guest heap/stack allocation).
func (s *Scheduler) RunThread(id uint32, name string, entry, stackBase, stackSize, priority uint32) *OSThread {
	t := &OSThread{
		ID:         id,
		Name:       name,
		Priority:   priority,
		EntryPoint: entry,
		StackBase:  stackBase,
		StackSize:  stackSize,
	}
	t.Context.CIA = entry
	t.Context.NIA = entry + 4
	t.Context.GPR[1] = stackBase + stackSize // initial stack pointer, full-descending convention
	s.QueueThread(t)
	return t
}

// ExitThread is the guest-callable counterpart of ExitThreadNoLock and does
// exactly the same thing; both take the scheduler lock.
func (s *Scheduler) ExitThread(t *OSThread) {
	s.ExitThreadNoLock(t)
}

// GetDefaultThread reports the thread the scheduler considers "default" for
// coreID — the thread currently assigned to it, which for an idle core is
// nil (spec.md §6.3 get_default_thread).
func (s *Scheduler) GetDefaultThread(coreID int) *OSThread {
	return s.CurrentThread(coreID)
}

// SetDefaultThread forces coreID's current-thread slot to t without going
// through the priority gate in Reschedule — used to seed a core's first
// thread before the scheduling loop starts (spec.md §6.3
// set_default_thread).
func (s *Scheduler) SetDefaultThread(coreID int, t *OSThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != nil {
		t.State = ThreadRunning
	}
	s.currentThread[coreID] = t
}
