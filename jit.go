// jit.go - JIT backend (spec.md C4, §4.3).
//
// Design note - "closures as host code": a real JIT backend emits machine
// code into the block arena and jumps to it. Without a way to run the Go
// toolchain to verify raw machine-code emission on this host's actual
// architecture, Espresso's "translation" instead compiles a guest basic
// block into a Go closure that calls the exact same opHandler functions the
// interpreter uses (interp.go). This keeps spec.md §8 invariant 6
// (interpreting and compiling the same block must produce identical
// architectural state) true by construction — both paths are, literally,
// the same handler code — at the cost of not exercising a real codegen
// pipeline. The block arena, slot state machine and trampoline aliasing
// around this closure are otherwise what a real backend would need; blocks
// are not chained to each other, every block returns to the execution loop.
// See DESIGN.md.
//
// The translation-size ladder and trampoline-aliasing shape follow the
// teacher's coprocessor worker startup retry pattern (coproc_worker_6502.go
// retries a bounded sequence of shrinking work units before giving up and
// marking the unit failed) generalized from "retry smaller" to "retranslate
// at a smaller instruction-count ceiling."
package espresso

import "time"

// blockFunc is the compiled "host code" for one translated block: it runs
// the block to completion (or to the point it must return to the scheduler,
// e.g. after a syscall) and reports the core to continue on plus the next
// guest PC to resume at. The returned core differs from c only when a
// syscall inside the block caused a cross-thread reschedule (spec.md §4.10).
type blockFunc func(c *Core, bridge *SyscallBridge) (next *Core, nextPC uint32)

// translationLimits is the shrinking instruction-count ladder spec.md §4.3
// describes translation retrying against ("4096 -> ... -> 256 bytes",
// expressed here as instruction counts since Espresso's host code isn't
// byte-sized machine code).
var translationLimits = []int{1024, 256, 64}

// branchy reports whether word is one of the control-flow instructions that
// must end a block (spec.md §4.3: "a block ends at the first control-flow
// instruction or size limit").
func branchy(word uint32) bool {
	switch word >> 26 {
	case 18, 16: // b, bc
		return true
	case 17: // sc
		return true
	case 19:
		xo := (word >> 1) & 0x3FF
		return xo == 16 || xo == 528 // bclr, bcctr
	}
	return word == trapWord
}

// JIT owns the translation pipeline: decode a block, wrap it in host code,
// publish it into the shared CodeCache.
type JIT struct {
	cache       *CodeCache
	breakpoints *BreakpointTable
	mem         *GuestMemory
}

func NewJIT(cache *CodeCache, bp *BreakpointTable, mem *GuestMemory) *JIT {
	return &JIT{cache: cache, breakpoints: bp, mem: mem}
}

// GetBlock implements spec.md §4.3's get_block: the execution loop's single
// entry point into the cache+translator pipeline.
func (j *JIT) GetBlock(addr uint32) (*CodeBlock, error) {
	if block, ok := j.cache.LookupFast(addr); ok {
		return block, nil
	}

	state := j.cache.SlotState(addr)
	if state == slotError {
		return nil, nil // caller falls back to the interpreter for this address
	}
	if state == slotCompiling {
		return nil, nil // another goroutine is translating; interpret this once
	}
	if j.breakpoints.HasBreakpoint(addr) {
		return nil, nil // the interpreter runs breakpointed addresses
	}

	if !j.cache.tryBeginCompile(addr) {
		return nil, nil // lost the race; let the winner publish
	}

	for _, limit := range translationLimits {
		block, err := j.translate(addr, limit)
		if err == nil {
			return block, nil
		}
	}
	j.cache.markError(addr)
	return nil, newCoreError(ErrTranslationFailed, addr, "translation failed at every size limit")
}

// translate decodes at most limit instructions starting at addr, stopping
// at the first control-flow instruction, a breakpoint or a trap word; an
// undecodable word fails the whole translation. On success it registers the resulting closure (or, for the
// single-unconditional-branch "trampoline" case, aliases addr onto the
// target block per spec.md §4.3 step 4) and returns the published block.
func (j *JIT) translate(addr uint32, limit int) (*CodeBlock, error) {
	type step struct {
		word    uint32
		handler opHandler
	}
	var steps []step
	bps := j.breakpoints.Snapshot()

	cursor := addr
	for i := 0; i < limit; i++ {
		if _, stop := bps[cursor]; stop && cursor != addr {
			break // never translate across a breakpoint
		}
		word := j.mem.Read32(cursor)
		if word == trapWord {
			break // trapWord is left to the interpreter's trap handling
		}
		key := decodeKey(word)
		h, ok := opcodeTable[key]
		if !ok {
			return nil, newCoreError(ErrUnknownOpcode, cursor, "untranslatable word 0x%08X", word)
		}
		steps = append(steps, step{word: word, handler: h})
		if branchy(word) {
			cursor += 4
			break
		}
		cursor += 4
	}
	if len(steps) == 0 {
		return nil, newCoreError(ErrTranslationFailed, addr, "no translatable instructions at 0x%08X", addr)
	}

	// Trampoline detection (spec.md §4.3 step 4): a block consisting solely
	// of one unconditional, always-taken, non-linking branch aliases onto the
	// target's own block instead of publishing a redundant one-instruction
	// block (a bl sets LR, so it gets a block of its own).
	if len(steps) == 1 && steps[0].word>>26 == 18 && steps[0].word&1 == 0 {
		target := addr + li(steps[0].word)
		if steps[0].word&2 != 0 {
			target = li(steps[0].word)
		}
		if block, ok := j.cache.aliasTo(addr, target); ok {
			return block, nil
		}
	}

	// Syscall trampoline tail-call elision (spec.md §4.10): when a block
	// ends on sc and the instruction right after it is a bare, unconditional
	// blr (0x4E800020), fold the blr's effect (NIA = LR) into this block
	// instead of letting it become its own one-instruction block next time
	// the loop asks for it — the same "return straight through" shortcut a
	// native JIT takes for a call/return pair it can see statically.
	tailElideBLR := len(steps) > 0 && steps[len(steps)-1].word>>26 == 17 &&
		j.mem.Read32(cursor) == 0x4E800020

	frozen := steps
	var block *CodeBlock
	run := func(c *Core, bridge *SyscallBridge) (*Core, uint32) {
		var start time.Time
		profiling := c.ProfileEnabled
		if profiling {
			start = time.Now()
		}

		cur := c
		pc := addr
		for _, s := range frozen {
			cur.CIA = pc
			cur.NIA = pc + 4
			cur = s.handler(cur, s.word, bridge)
			pc = cur.NIA
		}
		if tailElideBLR {
			pc = cur.LR &^ 3
		}
		cur.CIA = pc

		if profiling && !cur.calledHLE {
			block.CallCount.Add(1)
			block.CycleTotal.Add(uint64(time.Since(start).Nanoseconds()))
		}
		return cur, pc
	}

	block = j.cache.Register(addr, run)
	return block, nil
}

// ClearCache implements spec.md §4.4's clear_cache for the full range:
// callers must have already stopped every core (Machine.Stop)
// before invoking this, since a block may be executing mid-closure when this
// runs otherwise.
func (j *JIT) ClearCache() {
	j.cache.Clear()
}

// Invalidate narrows the reset to [addr, addr+size), used when guest code
// is patched (self-modifying code) rather than wholesale unloaded.
func (j *JIT) Invalidate(addr, size uint32) {
	j.cache.Invalidate(addr, size)
}
