package espresso

import "testing"

func newTestJIT(t *testing.T) (*JIT, *Core, *BreakpointTable, *SyscallBridge) {
	t.Helper()
	mem, err := NewGuestMemory(65536, nil)
	if err != nil {
		t.Fatalf("NewGuestMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	bp := NewBreakpointTable()
	bridge := NewSyscallBridge()
	cache := NewCodeCache()
	core := NewCore(0, mem)
	return NewJIT(cache, bp, mem), core, bp, bridge
}

func TestJITTranslatesStraightLineBlock(t *testing.T) {
	j, core, _, bridge := newTestJIT(t)
	core.mem.Write32(0, encodeD(14, 1, 0, 10))                      // li r1, 10
	core.mem.Write32(4, encodeD(14, 2, 0, 32))                      // li r2, 32
	core.mem.Write32(8, encodeX(31, 3, 1, 2, 266, false))           // add r3, r1, r2
	core.mem.Write32(12, 18<<26|0x100|0)                            // b +0x100 (ends the block)

	block, err := j.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if block == nil {
		t.Fatal("expected a translated block")
	}
	_, nia := block.Run(core, bridge)
	if core.GPR[3] != 42 {
		t.Fatalf("expected r3=42 after block execution, got %d", core.GPR[3])
	}
	if nia != 0x10C { // branch at offset 12 + relative displacement 0x100
		t.Fatalf("expected block to end at the branch target 0x10C, got 0x%X", nia)
	}
}

func TestJITRoundTripMatchesInterpreter(t *testing.T) {
	// spec invariant: interpreting and JIT-compiling the same block must
	// produce identical architectural state, since both call the same
	// opHandler functions.
	j, core, bp, bridge := newTestJIT(t)
	core.mem.Write32(0, encodeD(14, 1, 0, 5))
	core.mem.Write32(4, encodeD(14, 2, 0, 7))
	core.mem.Write32(8, encodeX(31, 3, 1, 2, 266, false))
	core.mem.Write32(12, 18<<26|0x200|0)

	block, err := j.GetBlock(0)
	if err != nil || block == nil {
		t.Fatalf("GetBlock: %v", err)
	}
	jitCore := *core
	block.Run(&jitCore, bridge)

	interp := NewInterpreter(bp, bridge)
	interpCore := *core
	interp.Step(&interpCore)
	interp.Step(&interpCore)
	interp.Step(&interpCore)
	interp.Step(&interpCore)

	if jitCore.GPR != interpCore.GPR {
		t.Fatalf("GPR mismatch: jit=%v interp=%v", jitCore.GPR, interpCore.GPR)
	}
	if jitCore.CIA != interpCore.CIA {
		t.Fatalf("CIA mismatch: jit=0x%X interp=0x%X", jitCore.CIA, interpCore.CIA)
	}
}

func TestJITTrampolineAliasingDoesNotGrowArena(t *testing.T) {
	j, core, _, bridge := newTestJIT(t)
	core.mem.Write32(0x1000, encodeD(14, 1, 0, 99)) // li r1, 99
	core.mem.Write32(0x1004, 18<<26|0x100|0)         // b (ends block at 0x1000)

	core.mem.Write32(0x2000, 18<<26|0x03FFF000) // b -0x1000 (relative) -> target 0x1000

	if _, err := j.GetBlock(0x1000); err != nil {
		t.Fatalf("GetBlock(0x1000): %v", err)
	}
	if _, err := j.GetBlock(0x2000); err != nil {
		t.Fatalf("GetBlock(0x2000): %v", err)
	}
	_ = bridge
	if j.cache.BlockCount() != 1 {
		t.Fatalf("expected trampoline to alias rather than grow the arena, got %d blocks", j.cache.BlockCount())
	}
}

func TestJITNeverTranslatesAcrossABreakpoint(t *testing.T) {
	j, core, bp, _ := newTestJIT(t)
	core.mem.Write32(0x3000, encodeD(14, 1, 0, 1))
	core.mem.Write32(0x3004, encodeD(14, 2, 0, 2))
	core.mem.Write32(0x3008, encodeD(14, 3, 0, 3))
	bp.Add(0x3004, core.mem.Read32(0x3004))

	block, err := j.GetBlock(0x3000)
	if err != nil || block == nil {
		t.Fatalf("GetBlock: %v", err)
	}
	_, nia := block.Run(core, NewSyscallBridge())
	if nia != 0x3004 {
		t.Fatalf("expected block to stop before the breakpoint at 0x3004, got 0x%X", nia)
	}
}

func TestJITUntranslatableWordMarksError(t *testing.T) {
	j, core, _, _ := newTestJIT(t)
	core.mem.Write32(0x4000, 0xFFFFFFFF)

	if _, err := j.GetBlock(0x4000); err == nil {
		t.Fatal("expected a translation error for an undecodable word")
	}
	if j.cache.SlotState(0x4000) != slotError {
		t.Fatal("expected the slot to be left in the Error state")
	}
}
