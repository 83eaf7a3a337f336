// opcodes_loadstore.go - Load/store instruction handlers (spec.md §4.2, §4.1).
//
// All widths funnel through GuestMemory's big-endian accessors
// (guest_memory.go), grounded on the teacher's machine_bus.go pattern of a
// typed accessor per width rather than one generic byte-slice helper.
package espresso

func registerLoadStoreOpcodes() {
	RegisterOpcode(32, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lwz
		c.GPR[rd(word)] = c.mem.Read32(effAddr(c, word, false))
		return c
	})
	RegisterOpcode(33, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lwzu
		addr := effAddr(c, word, false)
		c.GPR[rd(word)] = c.mem.Read32(addr)
		c.GPR[ra(word)] = addr
		return c
	})
	RegisterOpcode(34, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lbz
		c.GPR[rd(word)] = uint32(c.mem.Read8(effAddr(c, word, false)))
		return c
	})
	RegisterOpcode(35, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lbzu
		addr := effAddr(c, word, false)
		c.GPR[rd(word)] = uint32(c.mem.Read8(addr))
		c.GPR[ra(word)] = addr
		return c
	})
	RegisterOpcode(40, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lhz
		c.GPR[rd(word)] = uint32(c.mem.Read16(effAddr(c, word, false)))
		return c
	})
	RegisterOpcode(41, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lhzu
		addr := effAddr(c, word, false)
		c.GPR[rd(word)] = uint32(c.mem.Read16(addr))
		c.GPR[ra(word)] = addr
		return c
	})

	RegisterOpcode(36, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stw
		c.mem.Write32(effAddr(c, word, false), c.GPR[rd(word)])
		return c
	})
	RegisterOpcode(37, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stwu
		addr := effAddr(c, word, false)
		c.mem.Write32(addr, c.GPR[rd(word)])
		c.GPR[ra(word)] = addr
		return c
	})
	RegisterOpcode(38, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stb
		c.mem.Write8(effAddr(c, word, false), uint8(c.GPR[rd(word)]))
		return c
	})
	RegisterOpcode(39, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stbu
		addr := effAddr(c, word, false)
		c.mem.Write8(addr, uint8(c.GPR[rd(word)]))
		c.GPR[ra(word)] = addr
		return c
	})
	RegisterOpcode(44, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // sth
		c.mem.Write16(effAddr(c, word, false), uint16(c.GPR[rd(word)]))
		return c
	})
	RegisterOpcode(45, 0, func(c *Core, word uint32, _ *SyscallBridge) *Core { // sthu
		addr := effAddr(c, word, false)
		c.mem.Write16(addr, uint16(c.GPR[rd(word)]))
		c.GPR[ra(word)] = addr
		return c
	})

	// --- form-31 indexed variants: lwzx, stwx ---
	RegisterOpcode(31, 23, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lwzx
		c.GPR[rd(word)] = c.mem.Read32(indexedAddr(c, word))
		return c
	})
	RegisterOpcode(31, 151, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stwx
		c.mem.Write32(indexedAddr(c, word), c.GPR[rd(word)])
		return c
	})

	// lwarx / stwcx. (form 31): reservation-based atomics (spec.md §5).
	RegisterOpcode(31, 20, func(c *Core, word uint32, _ *SyscallBridge) *Core { // lwarx
		addr := indexedAddr(c, word)
		c.GPR[rd(word)] = c.mem.Read32(addr)
		c.ReservationAddr = addr
		c.ReservationValid = true
		return c
	})
	RegisterOpcode(31, 150, func(c *Core, word uint32, _ *SyscallBridge) *Core { // stwcx.
		addr := indexedAddr(c, word)
		success := c.ReservationValid && c.ReservationAddr == addr
		if success {
			c.mem.Write32(addr, c.GPR[rd(word)])
		}
		c.ReservationValid = false
		var field uint32
		if success {
			field = 0x2 // EQ
		}
		if c.XER&(1<<31) != 0 {
			field |= 0x1
		}
		c.CR = (c.CR &^ (uint32(0xF) << 28)) | (field << 28)
		return c
	})

	// dcbz / icbi / dcbf (form 31): cache-control. dcbz has an observable
	// effect (zeroes 32 bytes); icbi/dcbf are no-ops under emulation.
	RegisterOpcode(31, 1014, func(c *Core, word uint32, _ *SyscallBridge) *Core { // dcbz
		c.mem.Dcbz(indexedAddr(c, word))
		return c
	})
	RegisterOpcode(31, 982, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c }) // icbi
	RegisterOpcode(31, 86, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c })  // dcbf
	RegisterOpcode(31, 246, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c }) // dcbtst
	RegisterOpcode(31, 278, func(c *Core, word uint32, _ *SyscallBridge) *Core { return c }) // dcbt
}

func effAddr(c *Core, word uint32, _ bool) uint32 {
	base := uint32(0)
	if ra(word) != 0 {
		base = c.GPR[ra(word)]
	}
	return base + simm(word)
}

func indexedAddr(c *Core, word uint32) uint32 {
	base := uint32(0)
	if ra(word) != 0 {
		base = c.GPR[ra(word)]
	}
	return base + c.GPR[rb(word)]
}
