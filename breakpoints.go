// breakpoints.go - Breakpoint table (spec.md C6, §4.6) plus the
// SPEC_FULL.md §3 supplemented watchpoint-event plumbing.
//
// Grounded on the teacher's debug_interface.go (DebuggableCPU) and
// debug_monitor.go: a snapshot table the execution loop consults on a
// separate slow path, a channel carrying breakpoint-hit events out to a
// debugger goroutine rather than blocking the emulated core inline (the
// teacher's debug_monitor.go reads CPU state off a channel in exactly this
// shape).
package espresso

import "sync"

// BreakpointTable holds the set of installed breakpoints: guest addresses
// where the original instruction word has been swapped out for trapWord.
// Reads (HasBreakpoint from JIT.GetBlock, Snapshot from translate, Consume
// from the interpreter's trap path) take the read lock;
// Add/Remove take the write lock, matching spec.md §4.6 ("breakpoints are
// rare; optimize the steady-state check").
type BreakpointTable struct {
	mu       sync.RWMutex
	original map[uint32]uint32 // addr -> saved original word

	hits chan BreakpointEvent
}

// BreakpointEvent is delivered to Events() whenever a breakpoint fires.
type BreakpointEvent struct {
	CoreID int
	Addr   uint32
}

func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{
		original: make(map[uint32]uint32),
		hits:     make(chan BreakpointEvent, 64),
	}
}

// Add installs a breakpoint at addr, saving the instruction currently there
// so it can later be Consume()'d (re-executed) and eventually restored by
// Remove. Add only records the word; patching guest memory with trapWord is
// left to the caller (Introspect.SetBreakpoint).
func (bt *BreakpointTable) Add(addr, originalWord uint32) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.original[addr] = originalWord
}

// Remove uninstalls the breakpoint at addr, returning the original word to
// restore into guest memory (ok is false if none was set).
func (bt *BreakpointTable) Remove(addr uint32) (original uint32, ok bool) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	original, ok = bt.original[addr]
	delete(bt.original, addr)
	return
}

// HasBreakpoint is the steady-state check JIT.GetBlock makes before
// translating addr: a breakpointed address is never compiled and is run by
// the interpreter instead.
func (bt *BreakpointTable) HasBreakpoint(addr uint32) bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	_, ok := bt.original[addr]
	return ok
}

// Consume looks up and returns the saved original word for addr, used by
// the interpreter's trap handler (interp.go) to execute the real
// instruction after reporting the hit.
func (bt *BreakpointTable) Consume(addr uint32) (original uint32, fires bool) {
	bt.mu.RLock()
	original, fires = bt.original[addr]
	bt.mu.RUnlock()
	if fires {
		select {
		case bt.hits <- BreakpointEvent{Addr: addr}:
		default:
		}
	}
	return
}

// Events exposes the breakpoint-hit stream to a debugger front end
// (SPEC_FULL.md §3 Introspect).
func (bt *BreakpointTable) Events() <-chan BreakpointEvent {
	return bt.hits
}

// Snapshot returns a defensive copy of the installed addresses, used by the
// JIT translator to decide whether a block's range needs to stop short
// (spec.md §4.6: "a block must never translate across a breakpoint").
func (bt *BreakpointTable) Snapshot() map[uint32]uint32 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	out := make(map[uint32]uint32, len(bt.original))
	for k, v := range bt.original {
		out[k] = v
	}
	return out
}
