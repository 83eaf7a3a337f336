// opcodes_control.go - SPR access, syscalls and traps (spec.md §4.2, C10).
package espresso

func sprNum(word uint32) uint32 {
	raw := (word >> 11) & 0x3FF
	return (raw&0x1F)<<5 | (raw >> 5)
}

const (
	sprLR  = 8
	sprCTR = 9
)

func registerControlOpcodes() {
	RegisterOpcode(31, 339, func(c *Core, word uint32, _ *SyscallBridge) *Core { // mfspr
		switch sprNum(word) {
		case sprLR:
			c.GPR[rd(word)] = c.LR
		case sprCTR:
			c.GPR[rd(word)] = c.CTR
		default:
			abortGuestVisible(ErrUnknownSPR, c.CIA, "mfspr of unmodeled spr %d", sprNum(word))
		}
		return c
	})
	RegisterOpcode(31, 467, func(c *Core, word uint32, _ *SyscallBridge) *Core { // mtspr
		switch sprNum(word) {
		case sprLR:
			c.LR = c.GPR[rd(word)]
		case sprCTR:
			c.CTR = c.GPR[rd(word)]
		default:
			abortGuestVisible(ErrUnknownSPR, c.CIA, "mtspr of unmodeled spr %d", sprNum(word))
		}
		return c
	})
	RegisterOpcode(31, 371, func(c *Core, word uint32, _ *SyscallBridge) *Core { // mftb
		tb := c.Timebase()
		switch sprNum(word) {
		case 268: // TBL
			c.GPR[rd(word)] = uint32(tb)
		case 269: // TBU
			c.GPR[rd(word)] = uint32(tb >> 32)
		default:
			abortGuestVisible(ErrUnknownSPR, c.CIA, "mftb of unmodeled tbr %d", sprNum(word))
		}
		return c
	})

	// sc: syscall bridge dispatch (spec.md C10, §4.9, §4.10). gpr[1] is
	// saved as the syscall stack head before dispatch so a handler that
	// walks the guest stack has a stable frame pointer even if it (or a
	// rescheduled thread sharing this core) mutates gpr[1] itself.
	RegisterOpcode(17, 0, func(c *Core, word uint32, bridge *SyscallBridge) *Core {
		if bridge == nil {
			abortGuestVisible(ErrGuestTrap, c.CIA, "sc with no syscall bridge installed")
		}
		c.SyscallStackHead = c.GPR[1]
		c.calledHLE = true
		return bridge.Dispatch(c)
	})

	// tw: conditional trap register-register form (form 31, XO=4). The
	// representative subset only models TO=31 (always trap), which is the
	// guest's unconditional-abort/breakpoint idiom; interp.go special-cases
	// the literal trapWord encoding before dispatch even reaches here, so
	// this handler only fires for other TO values, which are treated as
	// untaken (spec.md Non-goal: full trap-condition semantics).
	RegisterOpcode(31, 4, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c })

	// twi: trap word immediate (primary opcode 3), same simplification as tw.
	RegisterOpcode(3, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c })
}
