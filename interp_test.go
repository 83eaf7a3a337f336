package espresso

import "testing"

func newTestCore(t *testing.T) (*Core, *Interpreter) {
	t.Helper()
	mem, err := NewGuestMemory(65536, nil)
	if err != nil {
		t.Fatalf("NewGuestMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	core := NewCore(0, mem)
	bp := NewBreakpointTable()
	bridge := NewSyscallBridge()
	return core, NewInterpreter(bp, bridge)
}

func encodeD(op, rd, ra uint32, simm16 uint32) uint32 {
	return op<<26 | rd<<21 | ra<<16 | (simm16 & 0xFFFF)
}

func encodeX(op, rd, ra, rb, xo uint32, rc bool) uint32 {
	w := op<<26 | rd<<21 | ra<<16 | rb<<11 | xo<<1
	if rc {
		w |= 1
	}
	return w
}

func TestInterpAddiLi(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, encodeD(14, 5, 0, 42)) // li r5, 42
	in.Step(core)
	if core.GPR[5] != 42 {
		t.Fatalf("expected r5=42, got %d", core.GPR[5])
	}
	if core.CIA != 4 {
		t.Fatalf("expected CIA advanced to 4, got %d", core.CIA)
	}
}

func TestInterpAddAndOr(t *testing.T) {
	core, in := newTestCore(t)
	core.GPR[1] = 10
	core.GPR[2] = 32
	core.mem.Write32(0, encodeX(31, 3, 1, 2, 266, false)) // add r3, r1, r2
	in.Step(core)
	if core.GPR[3] != 42 {
		t.Fatalf("expected r3=42, got %d", core.GPR[3])
	}
}

func TestInterpNopIsOriZero(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, encodeD(24, 0, 0, 0)) // ori 0,0,0 canonical nop
	before := core.GPR
	in.Step(core)
	if core.GPR != before {
		t.Fatal("nop must not mutate any register")
	}
}

func TestInterpLoadStoreRoundtrip(t *testing.T) {
	core, in := newTestCore(t)
	core.GPR[1] = 0x100 // base
	core.GPR[2] = 0xCAFEBABE
	core.mem.Write32(0, encodeD(36, 2, 1, 0))  // stw r2, 0(r1)
	core.mem.Write32(4, encodeD(32, 3, 1, 0))  // lwz r3, 0(r1)
	in.Step(core)
	in.Step(core)
	if core.GPR[3] != 0xCAFEBABE {
		t.Fatalf("load/store roundtrip failed: got 0x%X", core.GPR[3])
	}
}

func TestInterpUnconditionalBranch(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, 18<<26|0x20|0) // b +0x20 (relative, AA=0, LK=0)
	in.Step(core)
	if core.CIA != 0x20 {
		t.Fatalf("expected branch to 0x20, got 0x%X", core.CIA)
	}
}

func TestInterpBranchAndLinkSetsLR(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, 18<<26|0x10|1) // bl +0x10
	in.Step(core)
	if core.LR != 4 {
		t.Fatalf("expected LR=4, got %d", core.LR)
	}
	if core.CIA != 0x10 {
		t.Fatalf("expected branch taken to 0x10, got 0x%X", core.CIA)
	}
}

func TestInterpMtsprMfsprLR(t *testing.T) {
	core, in := newTestCore(t)
	core.GPR[4] = 0xDEADBEEF
	mtspr := encodeX(31, 4, 0, 0, 467, false) | (sprEncode(sprLR) << 11)
	core.mem.Write32(0, mtspr)
	in.Step(core)
	if core.LR != 0xDEADBEEF {
		t.Fatalf("expected LR set via mtspr, got 0x%X", core.LR)
	}

	mfspr := encodeX(31, 5, 0, 0, 339, false) | (sprEncode(sprLR) << 11)
	core.mem.Write32(4, mfspr)
	in.Step(core)
	if core.GPR[5] != 0xDEADBEEF {
		t.Fatalf("expected r5 loaded from LR via mfspr, got 0x%X", core.GPR[5])
	}
}

// sprEncode inverts sprNum's split-field encoding for test word construction.
func sprEncode(spr uint32) uint32 {
	low5 := spr >> 5
	high5 := spr & 0x1F
	return high5<<5 | low5
}

func TestInterpSyscallDispatch(t *testing.T) {
	core, in := newTestCore(t)
	in.Bridge.Register(99, func(c *Core, kcNum uint32) *Core {
		c.GPR[3] = c.GPR[3] + 1
		return c
	})
	core.GPR[0] = 99
	core.GPR[3] = 41
	core.mem.Write32(0, 17<<26) // sc
	in.Step(core)
	if core.GPR[3] != 42 {
		t.Fatalf("expected syscall handler to run, got r3=%d", core.GPR[3])
	}
	if !core.calledHLE {
		t.Fatal("expected calledHLE flag set after sc")
	}
}

func TestInterpUnknownOpcodePanics(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, 0xFFFFFFFF)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on unknown opcode")
		}
		ce, ok := r.(*CoreError)
		if !ok || ce.Kind != ErrUnknownOpcode {
			t.Fatalf("expected ErrUnknownOpcode, got %v", r)
		}
	}()
	in.Step(core)
}

func TestInterpBreakpointTrapReexecutesOriginal(t *testing.T) {
	core, in := newTestCore(t)
	original := encodeD(14, 5, 0, 7) // li r5, 7
	core.mem.Write32(0, original)
	in.Breakpoints.Add(0, original)
	core.mem.Write32(0, trapWord)

	in.Step(core)
	if core.GPR[5] != 7 {
		t.Fatalf("expected breakpoint to re-execute original instruction, r5=%d", core.GPR[5])
	}

	select {
	case ev := <-in.Breakpoints.Events():
		if ev.Addr != 0 {
			t.Fatalf("expected breakpoint event at 0, got 0x%X", ev.Addr)
		}
	default:
		t.Fatal("expected a breakpoint event to be queued")
	}
}

func TestInterpUnhandledTrapIsFatal(t *testing.T) {
	core, in := newTestCore(t)
	core.mem.Write32(0, trapWord)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on unhandled guest trap")
		}
		ce, ok := r.(*CoreError)
		if !ok || ce.Kind != ErrGuestTrap {
			t.Fatalf("expected ErrGuestTrap, got %v", r)
		}
	}()
	in.Step(core)
}
