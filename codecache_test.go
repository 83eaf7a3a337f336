package espresso

import (
	"sync"
	"testing"
)

func TestCodeCacheLookupMiss(t *testing.T) {
	cc := NewCodeCache()
	if _, ok := cc.LookupFast(0x1000); ok {
		t.Fatal("expected miss on empty cache")
	}
	if cc.SlotState(0x1000) != slotUncompiled {
		t.Fatal("expected Uncompiled for untouched address")
	}
}

func TestCodeCacheCompileTransitionIsExclusive(t *testing.T) {
	cc := NewCodeCache()
	if !cc.tryBeginCompile(0x2000) {
		t.Fatal("first tryBeginCompile should win")
	}
	if cc.tryBeginCompile(0x2000) {
		t.Fatal("second tryBeginCompile should lose once Compiling")
	}
	if cc.SlotState(0x2000) != slotCompiling {
		t.Fatal("expected Compiling state")
	}
}

func TestCodeCacheRegisterAndLookup(t *testing.T) {
	cc := NewCodeCache()
	cc.tryBeginCompile(0x3000)
	run := func(c *Core, b *SyscallBridge) (*Core, uint32) { return c, c.CIA + 4 }
	cc.Register(0x3000, run)

	block, ok := cc.LookupFast(0x3000)
	if !ok || block == nil {
		t.Fatal("expected a hit after Register")
	}
	if block.Address != 0x3000 {
		t.Fatalf("wrong address: 0x%X", block.Address)
	}
}

func TestCodeCacheMarkErrorThenInterpreterFallback(t *testing.T) {
	cc := NewCodeCache()
	cc.tryBeginCompile(0x4000)
	cc.markError(0x4000)
	if cc.SlotState(0x4000) != slotError {
		t.Fatal("expected Error sentinel")
	}
	if _, ok := cc.LookupFast(0x4000); ok {
		t.Fatal("Error slot must never report a hit")
	}
}

func TestCodeCacheInvalidateResetsOverlappingSlots(t *testing.T) {
	cc := NewCodeCache()
	cc.tryBeginCompile(0x5000)
	cc.Register(0x5000, func(c *Core, b *SyscallBridge) (*Core, uint32) { return c, c.CIA + 4 })

	cc.Invalidate(0x5000, 4)
	if cc.SlotState(0x5000) != slotUncompiled {
		t.Fatal("expected slot reset to Uncompiled after Invalidate")
	}
}

func TestCodeCacheConcurrentCompileRaceHasOneWinner(t *testing.T) {
	cc := NewCodeCache()
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cc.tryBeginCompile(0x6000) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestCodeCacheAliasToTrampoline(t *testing.T) {
	cc := NewCodeCache()
	cc.tryBeginCompile(0x7000)
	target := cc.Register(0x7000, func(c *Core, b *SyscallBridge) (*Core, uint32) { return c, c.CIA + 4 })

	cc.tryBeginCompile(0x7100)
	block, ok := cc.aliasTo(0x7100, 0x7000)
	if !ok || block != target {
		t.Fatal("expected alias to resolve to the target block")
	}
	if cc.BlockCount() != 1 {
		t.Fatalf("aliasing must not grow the arena, got %d blocks", cc.BlockCount())
	}
}

func TestCodeCacheClearResetsEverything(t *testing.T) {
	cc := NewCodeCache()
	cc.tryBeginCompile(0x8000)
	cc.Register(0x8000, func(c *Core, b *SyscallBridge) (*Core, uint32) { return c, c.CIA + 4 })
	cc.Clear()
	if cc.SlotState(0x8000) != slotUncompiled {
		t.Fatal("expected Uncompiled after Clear")
	}
	if cc.BlockCount() != 0 {
		t.Fatal("expected empty arena after Clear")
	}
}
