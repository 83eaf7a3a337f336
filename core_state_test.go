package espresso

import "testing"

func TestSetCR0SignsAndZero(t *testing.T) {
	c := &Core{}
	c.SetCR0(-5, false)
	if !c.CRBit(0) {
		t.Fatal("expected LT bit set for negative result")
	}
	c.SetCR0(5, false)
	if !c.CRBit(1) {
		t.Fatal("expected GT bit set for positive result")
	}
	c.SetCR0(0, false)
	if !c.CRBit(2) {
		t.Fatal("expected EQ bit set for zero result")
	}
}

func TestInterruptSetClearIsAtomic(t *testing.T) {
	c := &Core{}
	c.SetInterrupt(IntAlarm)
	c.SetInterrupt(IntGPU)
	if c.InterruptsPending() != IntAlarm|IntGPU {
		t.Fatalf("expected both bits set, got 0x%X", c.InterruptsPending())
	}
	c.ClearInterrupt(IntAlarm)
	if c.InterruptsPending() != IntGPU {
		t.Fatalf("expected only IntGPU set, got 0x%X", c.InterruptsPending())
	}
}

func TestNewCoreHasNoAlarmPending(t *testing.T) {
	mem, _ := NewGuestMemory(4096, nil)
	defer mem.Close()
	c := NewCore(0, mem)
	if c.NextAlarmNanos.Load() != int64(^uint64(0)>>1) {
		t.Fatal("expected a freshly created core to have no alarm deadline")
	}
	if c.MSR&MSREE == 0 {
		t.Fatal("expected external interrupts enabled by default")
	}
}
