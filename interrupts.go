// interrupts.go - Interrupt dispatch (spec.md §4.8).
//
// Checked once per block/instruction boundary in the execution loop
// (coreloop.go), never mid-instruction, matching spec.md's "interrupts are
// only taken between instructions, never speculatively mid-block."
package espresso

// DispatchInterrupts checks c's pending-interrupt mask against MSR[EE] and
// runs the highest-priority pending interrupt's handler, clearing its bit.
// Returns true if an interrupt was taken (the caller should not assume NIA
// is where it would otherwise have been).
func DispatchInterrupts(c *Core, handlers InterruptHandlers) bool {
	if c.MSR&MSREE == 0 {
		return false
	}
	pending := c.InterruptsPending()
	if pending == 0 {
		return false
	}

	switch {
	case pending&IntAlarm != 0:
		c.ClearInterrupt(IntAlarm)
		handlers.OnAlarm(c)
	case pending&IntGPU != 0:
		c.ClearInterrupt(IntGPU)
		handlers.OnGPU(c)
	case pending&IntGeneric != 0:
		c.ClearInterrupt(IntGeneric)
		handlers.OnGeneric(c)
	default:
		return false
	}
	return true
}

// InterruptHandlers lets the owning Machine supply guest-visible interrupt
// vectors without this package depending on any particular OS image layout.
type InterruptHandlers struct {
	OnAlarm   func(c *Core)
	OnGPU     func(c *Core)
	OnGeneric func(c *Core)
}

// DefaultInterruptHandlers redirects execution to the conventional
// PowerPC external-interrupt vector (0x00000500), saving the interrupted
// NIA in LR (CTR and every other register are left as they are) the way
// spec.md §4.8 describes as the "minimal vector redirect" (Non-goal: full
// SRR0/SRR1 modeling).
func DefaultInterruptHandlers() InterruptHandlers {
	redirect := func(c *Core) {
		c.LR = c.NIA
		c.NIA = 0x00000500
	}
	return InterruptHandlers{OnAlarm: redirect, OnGPU: redirect, OnGeneric: redirect}
}
