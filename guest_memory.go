// guest_memory.go - Flat guest address space (spec.md C2, §3, §7).
//
// Grounded on the teacher's machine_bus.go (a single contiguous byte slice
// behind typed accessors, encoding/binary swaps on every access) but upgraded
// in two ways the spec requires and the teacher's design does not: (1) guest
// integers/floats are big-endian (PowerPC), not little-endian; (2) the
// backing storage is one anonymous mmap via golang.org/x/sys whose host base
// address (chosen by the kernel) stays put for the memory's lifetime, and
// §7's HostMemoryReserve retry-then-fatal policy retries that reservation
// (see defaultCandidateBases).

package espresso

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// defaultCandidateBases lists the reservation attempts made when acquiring
// the guest address space (spec.md §7: "Retried across a set of candidate
// base addresses; fatal if all fail"). golang.org/x/sys/unix's Mmap wrapper
// does not expose an address hint (unlike raw mmap(2)), so each candidate
// here is a retry of the anonymous reservation rather than a distinct fixed
// address — a documented simplification (see DESIGN.md) that preserves the
// retry-then-fatal policy without depending on platform-specific raw
// syscalls this environment cannot verify.
var defaultCandidateBases = []uintptr{0, 0, 0}

// GuestMemory is the process-wide flat guest address space: a contiguous
// mmap'd region, owned once and shared by all three cores and the code
// cache. All guest-visible integers and floats are big-endian.
type GuestMemory struct {
	mu       sync.RWMutex
	data     []byte
	hostBase uintptr
	size     uint32

	watchMu  sync.Mutex
	watches  map[uint32]bool // supplemented feature: write watchpoints (§ SPEC_FULL.md §3)
	watchHit chan uint32

	invalidate func(addr, size uint32) // notified on every store; wired to JIT.Invalidate by Machine
}

// SetInvalidateHook installs the callback invoked after every guest store,
// letting the code cache discard translations of self-modified blocks
// (spec.md Open Question: guest self-modifying code). Machine wires this to
// JIT.Invalidate; nil (the default for a bare GuestMemory, e.g. in tests)
// disables the check.
func (g *GuestMemory) SetInvalidateHook(fn func(addr, size uint32)) {
	g.invalidate = fn
}

// NewGuestMemory reserves `size` bytes of guest address space, trying each of
// candidates in turn (defaultCandidateBases if candidates is nil). Returns a
// fatal *CoreError (ErrHostMemoryReserve) if every candidate fails.
func NewGuestMemory(size uint32, candidates []uintptr) (*GuestMemory, error) {
	if candidates == nil {
		candidates = defaultCandidateBases
	}

	var lastErr error
	for range candidates {
		flags := unix.MAP_PRIVATE | unix.MAP_ANON
		region, err := unixMmap(int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
		if err != nil {
			lastErr = err
			continue
		}
		gm := &GuestMemory{
			data:     region,
			size:     size,
			watches:  make(map[uint32]bool),
			watchHit: make(chan uint32, 16),
		}
		if len(region) > 0 {
			gm.hostBase = uintptr(unsafe.Pointer(&region[0]))
		}
		return gm, nil
	}
	return nil, newCoreError(ErrHostMemoryReserve, 0,
		"failed to reserve %d bytes across %d candidate bases: %v", size, len(candidates), lastErr)
}

// unixMmap is split out so tests can exercise the retry ladder without
// requiring every candidate address to actually be mappable on the test
// host; production code always goes through unix.Mmap.
var unixMmap = func(length, prot, flags int) ([]byte, error) {
	return unix.Mmap(-1, 0, length, prot, flags)
}

// Close releases the reserved region.
func (g *GuestMemory) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.data == nil {
		return nil
	}
	err := unix.Munmap(g.data)
	g.data = nil
	return err
}

// HostPointer implements translate(guest_addr) -> host_ptr (spec.md §4.1).
func (g *GuestMemory) HostPointer(guestAddr uint32) uintptr {
	return g.hostBase + uintptr(guestAddr)
}

func (g *GuestMemory) bound(addr uint32, width uint32) {
	if uint64(addr)+uint64(width) > uint64(g.size) {
		panic(fmt.Sprintf("guest memory access out of range: addr=0x%08X width=%d size=%d", addr, width, g.size))
	}
}

func (g *GuestMemory) Read8(addr uint32) uint8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.bound(addr, 1)
	return g.data[addr]
}

func (g *GuestMemory) Write8(addr uint32, v uint8) {
	g.mu.Lock()
	g.bound(addr, 1)
	g.data[addr] = v
	g.mu.Unlock()
	g.checkWatch(addr)
	g.notifyInvalidate(addr, 1)
}

func (g *GuestMemory) Read16(addr uint32) uint16 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.bound(addr, 2)
	return binary.BigEndian.Uint16(g.data[addr:])
}

func (g *GuestMemory) Write16(addr uint32, v uint16) {
	g.mu.Lock()
	g.bound(addr, 2)
	binary.BigEndian.PutUint16(g.data[addr:], v)
	g.mu.Unlock()
	g.checkWatch(addr)
	g.checkWatch(addr + 1)
	g.notifyInvalidate(addr, 2)
}

func (g *GuestMemory) Read32(addr uint32) uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.bound(addr, 4)
	return binary.BigEndian.Uint32(g.data[addr:])
}

func (g *GuestMemory) Write32(addr uint32, v uint32) {
	g.mu.Lock()
	g.bound(addr, 4)
	binary.BigEndian.PutUint32(g.data[addr:], v)
	g.mu.Unlock()
	for i := uint32(0); i < 4; i++ {
		g.checkWatch(addr + i)
	}
	g.notifyInvalidate(addr, 4)
}

func (g *GuestMemory) Read64(addr uint32) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.bound(addr, 8)
	return binary.BigEndian.Uint64(g.data[addr:])
}

func (g *GuestMemory) Write64(addr uint32, v uint64) {
	g.mu.Lock()
	g.bound(addr, 8)
	binary.BigEndian.PutUint64(g.data[addr:], v)
	g.mu.Unlock()
	for i := uint32(0); i < 8; i++ {
		g.checkWatch(addr + i)
	}
	g.notifyInvalidate(addr, 8)
}

func (g *GuestMemory) ReadFloat32(addr uint32) float32 {
	return math.Float32frombits(g.Read32(addr))
}

func (g *GuestMemory) WriteFloat32(addr uint32, v float32) {
	g.Write32(addr, math.Float32bits(v))
}

func (g *GuestMemory) ReadFloat64(addr uint32) float64 {
	return math.Float64frombits(g.Read64(addr))
}

func (g *GuestMemory) WriteFloat64(addr uint32, v float64) {
	g.Write64(addr, math.Float64bits(v))
}

// ReadBytes/WriteBytes support block copies (program loading, dcbz, etc.).
func (g *GuestMemory) ReadBytes(addr uint32, n uint32) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.bound(addr, n)
	out := make([]byte, n)
	copy(out, g.data[addr:addr+n])
	return out
}

func (g *GuestMemory) WriteBytes(addr uint32, b []byte) {
	g.mu.Lock()
	g.bound(addr, uint32(len(b)))
	copy(g.data[addr:], b)
	g.mu.Unlock()
	for i := range b {
		g.checkWatch(addr + uint32(i))
	}
	g.notifyInvalidate(addr, uint32(len(b)))
}

// Dcbz implements the one cache-control instruction with observable effect
// (spec.md §4.2): zero 32 bytes at addr, aligned down to a 32-byte boundary.
func (g *GuestMemory) Dcbz(addr uint32) {
	aligned := addr &^ 31
	g.mu.Lock()
	g.bound(aligned, 32)
	for i := uint32(0); i < 32; i++ {
		g.data[aligned+i] = 0
	}
	g.mu.Unlock()
	g.notifyInvalidate(aligned, 32)
}

func (g *GuestMemory) notifyInvalidate(addr, size uint32) {
	if g.invalidate != nil {
		g.invalidate(addr, size)
	}
}

// --- Watchpoints (SPEC_FULL.md §3 supplemented feature) ---

// SetWatch arms a write-watchpoint at addr.
func (g *GuestMemory) SetWatch(addr uint32) {
	g.watchMu.Lock()
	g.watches[addr] = true
	g.watchMu.Unlock()
}

func (g *GuestMemory) ClearWatch(addr uint32) {
	g.watchMu.Lock()
	delete(g.watches, addr)
	g.watchMu.Unlock()
}

// Watches returns a channel that receives the address of every watched
// write. Buffered; a full channel drops the notification rather than
// blocking the writer (watchpoints are a debug aid, not a correctness
// mechanism).
func (g *GuestMemory) Watches() <-chan uint32 {
	return g.watchHit
}

func (g *GuestMemory) checkWatch(addr uint32) {
	g.watchMu.Lock()
	hit := g.watches[addr]
	g.watchMu.Unlock()
	if hit {
		select {
		case g.watchHit <- addr:
		default:
		}
	}
}

// Size returns the size of the reserved guest address space in bytes.
func (g *GuestMemory) Size() uint32 { return g.size }
