// introspect.go - Debugger-facing introspection surface.
//
// Supplemented feature (SPEC_FULL.md §3): shaped directly after the
// teacher's DebuggableCPU interface (debug_interface.go) — a small,
// read-only snapshot-and-control surface a separate debugger goroutine
// drives, rather than a method set scattered across Core/Scheduler/JIT that
// a debugger would need to know the internals to call correctly.
package espresso

// CoreSnapshot is a point-in-time copy of one core's architectural state,
// safe to read after the core has been paused (spec.md §5: reading live
// state while a core runs is racy by design and not supported). It doubles
// as the saved-context block an OSThread carries while Ready or Waiting
// (spec.md §3, §4.9) — Core.SaveContext/RestoreContext move a thread's
// register set in and out of whichever core is about to run it.
type CoreSnapshot struct {
	ID    int
	GPR   [32]uint32
	FPR   [32]PairedReg
	GQR   [8]uint32
	SR    [16]uint32
	CR    uint32
	XER   uint32
	FPSCR uint32
	LR    uint32
	CTR   uint32
	CIA   uint32
	NIA   uint32
	MSR   uint32

	ReservationAddr  uint32
	ReservationValid bool
}

// Introspect is the debugger-facing view onto a Machine, mirroring the
// teacher's DebuggableCPU shape: snapshot state, install/remove
// breakpoints, single-step, and observe breakpoint/watchpoint events.
type Introspect struct {
	m *Machine
}

func NewIntrospect(m *Machine) *Introspect { return &Introspect{m: m} }

// Snapshot copies coreID's current architectural state.
func (in *Introspect) Snapshot(coreID int) CoreSnapshot {
	return in.m.Cores[coreID].SaveContext()
}

// SetBreakpoint installs a breakpoint at addr: reads, saves, and patches the
// original instruction word, and invalidates any cached translation
// covering it so the execution loop re-derives a block stopping short of
// addr (spec.md §4.6).
func (in *Introspect) SetBreakpoint(addr uint32) {
	original := in.m.Mem.Read32(addr)
	in.m.Breakpoints.Add(addr, original)
	in.m.Mem.Write32(addr, trapWord)
	in.m.jit.Invalidate(addr, 4)
}

// ClearBreakpoint restores the original instruction at addr.
func (in *Introspect) ClearBreakpoint(addr uint32) {
	original, ok := in.m.Breakpoints.Remove(addr)
	if !ok {
		return
	}
	in.m.Mem.Write32(addr, original)
	in.m.jit.Invalidate(addr, 4)
}

// BreakpointEvents exposes the breakpoint-hit stream.
func (in *Introspect) BreakpointEvents() <-chan BreakpointEvent {
	return in.m.Breakpoints.Events()
}

// SetWatch/ClearWatch/WatchEvents expose the write-watchpoint plumbing.
func (in *Introspect) SetWatch(addr uint32)   { in.m.Mem.SetWatch(addr) }
func (in *Introspect) ClearWatch(addr uint32) { in.m.Mem.ClearWatch(addr) }
func (in *Introspect) WatchEvents() <-chan uint32 { return in.m.Mem.Watches() }

// SingleStep runs exactly one interpreted instruction on coreID, bypassing
// the JIT entirely (spec.md §4.6: single-stepping must never execute
// translated code, since a block boundary might fall mid-step).
func (in *Introspect) SingleStep(coreID int) {
	in.m.interp.Step(in.m.Cores[coreID])
}

// ReadyQueueDepth reports how many threads are currently queued but not
// running on any core.
func (in *Introspect) ReadyQueueDepth() int {
	return in.m.Scheduler.ReadyLen()
}
