// core.go - Machine: top-level wiring of the three cores plus shared
// services (spec.md §3's "process-wide singletons": guest memory, code
// cache, breakpoint table, alarm service, syscall bridge, scheduler).
//
// Orchestration is golang.org/x/sync's errgroup, grounded on the teacher's
// CoprocessorManager.StopAll/StartAll pattern (coprocessor_manager.go) of
// starting N worker goroutines and tearing them all down together on first
// error or explicit Stop — errgroup.WithContext is the idiomatic library
// form of exactly that pattern, which is why it's wired in here instead of
// a hand-rolled WaitGroup+channel.
package espresso

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const NumCores = 3

// Machine is the whole Espresso emulator core: three Core instances, the
// shared guest address space, and the services that tie them together.
type Machine struct {
	Cores []*Core
	Mem   *GuestMemory

	Cache       *CodeCache
	Breakpoints *BreakpointTable
	Bridge      *SyscallBridge
	Scheduler   *Scheduler
	Alarms      *AlarmService
	GPU         *GPURing

	jit    *JIT
	interp *Interpreter
	loops  []*CoreLoop

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewMachine builds a fully wired Machine with a guestMemSize-byte address
// space. candidates, if non-nil, overrides the mmap retry ladder (§7) —
// primarily for tests.
func NewMachine(guestMemSize uint32, candidates []uintptr) (*Machine, error) {
	mem, err := NewGuestMemory(guestMemSize, candidates)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		Mem:         mem,
		Cache:       NewCodeCache(),
		Breakpoints: NewBreakpointTable(),
		Bridge:      NewSyscallBridge(),
		Scheduler:   NewScheduler(NumCores),
		GPU:         NewGPURing(4096),
	}

	m.Cores = make([]*Core, NumCores)
	for i := range m.Cores {
		m.Cores[i] = NewCore(i, mem)
	}
	m.Alarms = NewAlarmService(m.Cores)
	m.jit = NewJIT(m.Cache, m.Breakpoints, mem)
	m.interp = NewInterpreter(m.Breakpoints, m.Bridge)
	mem.SetInvalidateHook(m.jit.Invalidate)
	m.Scheduler.NewFiberFunc = newGuestFiber

	m.loops = make([]*CoreLoop, NumCores)
	for i, c := range m.Cores {
		m.loops[i] = NewCoreLoop(c, m.jit, m.interp, m.Scheduler, m.Bridge)
	}
	return m, nil
}

// Start launches the three core loops and the alarm service as a managed
// goroutine group. Returns immediately; Stop cancels the group and blocks
// until it has shut down.
func (m *Machine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	m.group = group

	for _, loop := range m.loops {
		loop := loop
		group.Go(func() error { return loop.Run(gctx) })
	}
	group.Go(func() error { return m.Alarms.Run(gctx) })
}

// Stop cancels every managed goroutine and waits for them to return.
func (m *Machine) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		return m.group.Wait()
	}
	return nil
}

// Close releases the guest address space. Call after Stop.
func (m *Machine) Close() error {
	return m.Mem.Close()
}

// QueueThread installs thread onto the ready queue, the entry point for
// spawning a new guest thread (spec.md C9).
func (m *Machine) QueueThread(thread *OSThread) {
	m.Scheduler.QueueThread(thread)
}

// JIT exposes the translation pipeline for tools that need to force a
// translation or inspect cache state directly (e.g. introspect.go, tests).
func (m *Machine) JIT() *JIT { return m.jit }

// Interpreter exposes the authoritative fallback engine for the same reason.
func (m *Machine) Interpreter() *Interpreter { return m.interp }
