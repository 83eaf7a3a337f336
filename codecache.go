// codecache.go - Translated block cache (spec.md C5, §4.4).
//
// The two-level sparse index is grounded on the teacher's atomic-state style
// (cpu_six5go2.go's atomic.Bool fields for lock-free cross-goroutine flags)
// generalized to a small state machine per slot, with the index read path
// always a single atomic load. The data "arena" holding CodeBlock records is
// a plain growable slice under a commit mutex, matching spec.md §4.4's
// "mutex-guarded commit extends the region" — Go's bounds-checked growable
// slices are the idiomatic fit here, so no third-party arena allocator from
// the pack is wired in (see DESIGN.md).

package espresso

import (
	"sync"
	"sync/atomic"
)

// Slot sentinel values (spec.md §3 "Block index"). Non-negative values are
// indices into the block arena.
const (
	slotUncompiled int32 = -1
	slotCompiling  int32 = -2
	slotError      int32 = -3
)

const (
	level2Bits = 14 // word-index bits below the top 16 address bits, indexing a level-2 page
	level1Size = 1 << 16 // one entry per value of the top 16 address bits
	level2Size = 1 << 14
)

// CodeBlock is an immutable, published translated block (spec.md §3).
type CodeBlock struct {
	Address  uint32
	Run      blockFunc // "host code": a compiled closure, see jit.go
	CallCount atomic.Uint64
	CycleTotal atomic.Uint64
	// Unwind is a placeholder for platform unwind-table registration.
	// Espresso's "host code" is a Go closure, so the Go runtime already
	// knows how to unwind it; no platform unwind record is needed (see
	// DESIGN.md's note on the closures-as-host-code JIT design).
	Unwind any
}

type level2Page struct {
	slots [level2Size]atomic.Int32
}

// CodeCache owns the two-level index and the block arena (spec.md C5).
type CodeCache struct {
	level1 [level1Size]atomic.Pointer[level2Page]

	arenaMu sync.Mutex
	arena   []*CodeBlock

	invalidateMu sync.Mutex
}

// NewCodeCache creates an empty cache with its index fully Uncompiled.
func NewCodeCache() *CodeCache {
	return &CodeCache{}
}

func splitAddr(addr uint32) (l1, l2 uint32) {
	w := addr >> 2 // low 2 bits are zero (word alignment)
	l1 = (w >> level2Bits) & (level1Size - 1)
	l2 = w & (level2Size - 1)
	return
}

// slotFor returns the atomic slot for addr, lazily allocating the level-2
// page with compare-exchange; a lost race deletes the loser's page
// (spec.md §4.4).
func (cc *CodeCache) slotFor(addr uint32) *atomic.Int32 {
	l1, l2 := splitAddr(addr)
	page := cc.level1[l1].Load()
	if page == nil {
		newPage := &level2Page{}
		for i := range newPage.slots {
			newPage.slots[i].Store(slotUncompiled)
		}
		if cc.level1[l1].CompareAndSwap(nil, newPage) {
			page = newPage
		} else {
			page = cc.level1[l1].Load() // another goroutine won; use theirs
		}
	}
	return &page.slots[l2]
}

// LookupFast is the execution loop's fast path (spec.md §4.3 step 2): a
// single relaxed load. Returns (block, true) on a live hit.
func (cc *CodeCache) LookupFast(addr uint32) (*CodeBlock, bool) {
	slot := cc.slotFor(addr).Load()
	if slot >= 0 {
		return cc.arena[slot], true
	}
	return nil, false
}

// SlotState reports Uncompiled/Compiling/Error/or a non-negative index for
// addr, used by the translation protocol (§4.3) and tests.
func (cc *CodeCache) SlotState(addr uint32) int32 {
	return cc.slotFor(addr).Load()
}

// tryBeginCompile attempts the Uncompiled -> Compiling transition (§4.3
// step 1). Returns true if this caller won the race.
func (cc *CodeCache) tryBeginCompile(addr uint32) bool {
	slot := cc.slotFor(addr)
	return slot.CompareAndSwap(slotUncompiled, slotCompiling)
}

// markError publishes the Error sentinel for addr.
func (cc *CodeCache) markError(addr uint32) {
	cc.slotFor(addr).Store(slotError)
}

// aliasTo publishes addr's slot as pointing to the same block index as
// target (spec.md §4.3 step 4, the trampoline case).
func (cc *CodeCache) aliasTo(addr, target uint32) (*CodeBlock, bool) {
	idx := cc.slotFor(target).Load()
	if idx < 0 {
		return nil, false
	}
	cc.slotFor(addr).Store(idx)
	return cc.arena[idx], true
}

// Register publishes a freshly translated block (spec.md §4.4
// register_block / §5 publication ordering): bump the arena, append the
// block, then release-store the slot index. A consumer that observes a
// non-negative slot is guaranteed (by Go's happens-before rule for atomics)
// to observe the fully constructed *CodeBlock.
func (cc *CodeCache) Register(addr uint32, run blockFunc) *CodeBlock {
	block := &CodeBlock{Address: addr, Run: run}

	cc.arenaMu.Lock()
	idx := int32(len(cc.arena))
	cc.arena = append(cc.arena, block)
	cc.arenaMu.Unlock()

	cc.slotFor(addr).Store(idx)
	return block
}

// Invalidate resets every slot whose guest block overlaps [addr, addr+size)
// back to Uncompiled (spec.md §4.4). Blocks record only their start address,
// so every block starting inside the range or less than one maximum block
// length (translationLimits[0] instructions) before it is reset; this can
// also reset neighbouring blocks that end before addr. The arena entry
// itself is leaked until the next full Clear — "rationale: invalidation is
// rare and complex compensation is not worth the complexity," matching
// spec.md verbatim.
func (cc *CodeCache) Invalidate(addr, size uint32) {
	cc.invalidateMu.Lock()
	defer cc.invalidateMu.Unlock()

	cc.arenaMu.Lock()
	snapshot := make([]*CodeBlock, len(cc.arena))
	copy(snapshot, cc.arena)
	cc.arenaMu.Unlock()

	maxBlockBytes := uint32(translationLimits[0]) * 4
	lo := uint32(0)
	if addr > maxBlockBytes {
		lo = addr - maxBlockBytes
	}
	end := addr + size
	for _, b := range snapshot {
		if b == nil {
			continue
		}
		if b.Address >= lo && b.Address < end {
			cc.slotFor(b.Address).CompareAndSwap(cc.indexOf(b), slotUncompiled)
		}
	}
}

// indexOf finds a block's arena index by identity; used only by the rare
// Invalidate path, never the hot loop.
func (cc *CodeCache) indexOf(target *CodeBlock) int32 {
	cc.arenaMu.Lock()
	defer cc.arenaMu.Unlock()
	for i, b := range cc.arena {
		if b == target {
			return int32(i)
		}
	}
	return slotUncompiled
}

// Clear flushes the entire cache: every slot resets to Uncompiled and the
// arena is emptied (spec.md §4.4, §4.3 clear_cache with full range).
// Callers must ensure no core is executing translated code (spec.md §5);
// Clear itself does not pause anything, and neither does jit.go's
// ClearCache, which only forwards here.
func (cc *CodeCache) Clear() {
	for i := range cc.level1 {
		cc.level1[i].Store(nil)
	}
	cc.arenaMu.Lock()
	cc.arena = nil
	cc.arenaMu.Unlock()
}

// BlockCount reports the number of published blocks, used by tests (S6:
// trampoline aliasing must not grow this).
func (cc *CodeCache) BlockCount() int {
	cc.arenaMu.Lock()
	defer cc.arenaMu.Unlock()
	return len(cc.arena)
}
