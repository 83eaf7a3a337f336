// opcodes_branch.go - Branch instruction handlers (spec.md §4.2).
//
// The BO/BI conditional-branch decode follows the standard PowerPC
// architecture definition rather than any one teacher file (the teacher's
// 6502/Z80 cores have no analogous three-field conditional branch), but the
// handler shape — decode fields, mutate NIA/LR, return — matches every other
// opcode handler in this package for consistency.
package espresso

const trapWord uint32 = (31 << 26) | (31 << 21) | (4 << 1) // tw 31,0,0: unconditional trap

func li(word uint32) uint32 {
	raw := word & 0x03FFFFFC
	if raw&0x02000000 != 0 {
		raw |= 0xFC000000
	}
	return raw
}

func bd(word uint32) uint32 {
	raw := word & 0xFFFC
	if raw&0x8000 != 0 {
		raw |= 0xFFFF0000
	}
	return raw
}

// branchConditionMet implements the BO/BI evaluation shared by bc, bclr,
// bcctr (spec.md glossary "BO/BI": simplified conditional-branch encoding).
func branchConditionMet(c *Core, bo, bi uint32) bool {
	ctrOK := true
	if bo&4 == 0 {
		c.CTR--
		ctrOK = (c.CTR != 0) == (bo&2 == 0)
	}
	condOK := bo&16 != 0 || c.CRBit(bi) == (bo&8 != 0)
	return ctrOK && condOK
}

func registerBranchOpcodes() {
	// b / ba / bl / bla (primary 18)
	RegisterOpcode(18, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		aa := word&2 != 0
		lk := word&1 != 0
		target := li(word)
		if !aa {
			target += c.CIA
		}
		if lk {
			c.LR = c.CIA + 4
		}
		c.NIA = target
		return c
	})

	// bc / bca / bcl / bcla (primary 16)
	RegisterOpcode(16, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		bo := rd(word)
		bi := ra(word)
		aa := word&2 != 0
		lk := word&1 != 0
		if branchConditionMet(c, bo, bi) {
			target := bd(word)
			if !aa {
				target += c.CIA
			}
			c.NIA = target
		}
		if lk {
			c.LR = c.CIA + 4
		}
		return c
	})

	// bclr / bclrl (form 19, XO=16)
	RegisterOpcode(19, 16, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		bo := rd(word)
		bi := ra(word)
		lk := word&1 != 0
		if branchConditionMet(c, bo, bi) {
			c.NIA = c.LR &^ 3
		}
		if lk {
			c.LR = c.CIA + 4
		}
		return c
	})

	// bcctr / bcctrl (form 19, XO=528)
	RegisterOpcode(19, 528, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		bo := rd(word)
		bi := ra(word)
		lk := word&1 != 0
		if branchConditionMet(c, bo, bi) {
			c.NIA = c.CTR &^ 3
		}
		if lk {
			c.LR = c.CIA + 4
		}
		return c
	})
}
