// opcodes_integer.go - Integer arithmetic/logical instruction handlers.
//
// Each handler is grounded on the same small pattern the teacher's 6502 core
// uses per-opcode function (cpu_six5go2.go, e.g. opADC/opAND): decode fields
// out of the word, mutate GPR/CR/XER, and always finish by leaving c.NIA as
// the interpreter set it (sequential) unless this is a branch handler.
package espresso

func rd(word uint32) uint32 { return (word >> 21) & 0x1F }
func ra(word uint32) uint32 { return (word >> 16) & 0x1F }
func rb(word uint32) uint32 { return (word >> 11) & 0x1F }
func simm(word uint32) uint32 { return signExtend16(word & 0xFFFF) }
func uimm(word uint32) uint32 { return word & 0xFFFF }
func rcBit(word uint32) bool { return word&1 != 0 }

func registerIntegerOpcodes() {
	// addi / li (rA=0 special case per spec.md §4.2)
	RegisterOpcode(14, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		a := uint32(0)
		if ra(word) != 0 {
			a = c.GPR[ra(word)]
		}
		c.GPR[rd(word)] = a + simm(word)
		return c
	})
	// addis
	RegisterOpcode(15, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		a := uint32(0)
		if ra(word) != 0 {
			a = c.GPR[ra(word)]
		}
		c.GPR[rd(word)] = a + (uimm(word) << 16)
		return c
	})
	// ori (also canonical nop: ori 0,0,0)
	RegisterOpcode(24, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		c.GPR[ra(word)] = c.GPR[rd(word)] | uimm(word)
		return c
	})
	RegisterOpcode(25, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		c.GPR[ra(word)] = c.GPR[rd(word)] | (uimm(word) << 16)
		return c
	})
	RegisterOpcode(26, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		c.GPR[ra(word)] = c.GPR[rd(word)] ^ uimm(word)
		return c
	})
	// andi. always sets CR0
	RegisterOpcode(28, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		v := c.GPR[rd(word)] & uimm(word)
		c.GPR[ra(word)] = v
		c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		return c
	})
	// cmpi (signed compare immediate, cr0 only)
	RegisterOpcode(11, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		a := int32(c.GPR[ra(word)])
		b := int32(simm(word))
		c.SetCR0(signCompare(a, b), c.XER&(1<<31) != 0)
		return c
	})
	// cmpli (unsigned compare logical immediate, cr0 only)
	RegisterOpcode(10, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		a := c.GPR[ra(word)]
		b := uimm(word)
		var field int32
		switch {
		case a < b:
			field = -1
		case a > b:
			field = 1
		}
		c.SetCR0(field, c.XER&(1<<31) != 0)
		return c
	})

	// --- form-31 extended arithmetic/logical ---
	RegisterOpcode(31, 266, func(c *Core, word uint32, _ *SyscallBridge) *Core { // add
		v := c.GPR[ra(word)] + c.GPR[rb(word)]
		c.GPR[rd(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})
	RegisterOpcode(31, 40, func(c *Core, word uint32, _ *SyscallBridge) *Core { // subf
		v := c.GPR[rb(word)] - c.GPR[ra(word)]
		c.GPR[rd(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})
	RegisterOpcode(31, 28, func(c *Core, word uint32, _ *SyscallBridge) *Core { // and
		v := c.GPR[rd(word)] & c.GPR[rb(word)]
		c.GPR[ra(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})
	RegisterOpcode(31, 444, func(c *Core, word uint32, _ *SyscallBridge) *Core { // or (incl. "mr" rD==rB idiom)
		v := c.GPR[rd(word)] | c.GPR[rb(word)]
		c.GPR[ra(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})
	RegisterOpcode(31, 316, func(c *Core, word uint32, _ *SyscallBridge) *Core { // xor
		v := c.GPR[rd(word)] ^ c.GPR[rb(word)]
		c.GPR[ra(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})
	RegisterOpcode(31, 124, func(c *Core, word uint32, _ *SyscallBridge) *Core { // nor
		v := ^(c.GPR[rd(word)] | c.GPR[rb(word)])
		c.GPR[ra(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})

	// rlwinm: common shift/mask form, M-form. Implemented as the representative
	// subset matching spec.md's "common compiler-generated shift idiom" note.
	RegisterOpcode(21, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		s := c.GPR[rd(word)]
		sh := (word >> 11) & 0x1F
		mb := (word >> 6) & 0x1F
		me := (word >> 1) & 0x1F
		rotated := (s << sh) | (s >> (32 - sh))
		if sh == 0 {
			rotated = s
		}
		mask := maskFromRange(mb, me)
		v := rotated & mask
		c.GPR[ra(word)] = v
		if rcBit(word) {
			c.SetCR0(int32(v), c.XER&(1<<31) != 0)
		}
		return c
	})

	// mulli
	RegisterOpcode(7, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		c.GPR[rd(word)] = c.GPR[ra(word)] * simm(word)
		return c
	})
	// subfic
	RegisterOpcode(8, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core {
		v, carry := addCarry(^c.GPR[ra(word)], simm(word)+1)
		c.GPR[rd(word)] = v
		if carry {
			c.XER |= 1 << 29
		} else {
			c.XER &^= 1 << 29
		}
		return c
	})
}

func signCompare(a, b int32) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// maskFromRange builds the PowerPC rlwinm mask (bits mb..me inclusive, MSB
// first, wrapping if mb > me).
func maskFromRange(mb, me uint32) uint32 {
	var mask uint32
	if mb <= me {
		for i := mb; i <= me; i++ {
			mask |= 1 << (31 - i)
		}
	} else {
		for i := uint32(0); i <= me; i++ {
			mask |= 1 << (31 - i)
		}
		for i := mb; i <= 31; i++ {
			mask |= 1 << (31 - i)
		}
	}
	return mask
}
