// errors.go - Error taxonomy for the Espresso core.
//
// Mirrors the error-kind table in spec.md §7: a closed set of kinds, each with
// a fixed fatality policy. Fallible constructors and operations return a
// *CoreError; SchedulerInvariantViolation and similar programmer-error
// conditions panic instead, following the teacher's ensureOpcodeTableReady
// convention (cpu_six5go2.go) of panicking only on states that should be
// structurally impossible.

package espresso

import "fmt"

// ErrorKind identifies which of the §7 error categories a CoreError belongs to.
type ErrorKind int

const (
	// ErrTranslationFailed: JIT translation of a block failed even at the
	// smallest limit. Non-fatal: the slot is marked Error and the
	// interpreter handles that address from then on.
	ErrTranslationFailed ErrorKind = iota
	// ErrUnknownOpcode: interpreter decoded a word it has no handler for.
	ErrUnknownOpcode
	// ErrUnknownSPR: mfspr/mtspr referenced an unmodeled special register.
	ErrUnknownSPR
	// ErrGuestTrap: a trap instruction fired with no matching breakpoint.
	ErrGuestTrap
	// ErrAllocFailed: the code cache could not commit more arena.
	ErrAllocFailed
	// ErrHostMemoryReserve: every candidate base address failed to reserve.
	ErrHostMemoryReserve
	// ErrSchedulerInvariant: a scheduler bookkeeping invariant was violated.
	ErrSchedulerInvariant
	// ErrAlarmFailure: the alarm thread failed to join/stop cleanly.
	ErrAlarmFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTranslationFailed:
		return "TranslationFailed"
	case ErrUnknownOpcode:
		return "UnknownOpcode"
	case ErrUnknownSPR:
		return "UnknownSPR"
	case ErrGuestTrap:
		return "GuestTrap"
	case ErrAllocFailed:
		return "AllocFailed"
	case ErrHostMemoryReserve:
		return "HostMemoryReserve"
	case ErrSchedulerInvariant:
		return "SchedulerInvariantViolation"
	case ErrAlarmFailure:
		return "AlarmFailure"
	default:
		return "Unknown"
	}
}

// CoreError is the error type returned or panicked with across the core.
type CoreError struct {
	Kind    ErrorKind
	Addr    uint32 // guest address relevant to the error, if any
	Message string
}

func (e *CoreError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s at 0x%08X: %s", e.Kind, e.Addr, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Fatal reports whether this error kind, per spec.md §7, must abort the
// emulator rather than degrade gracefully.
func (e *CoreError) Fatal() bool {
	switch e.Kind {
	case ErrTranslationFailed, ErrAlarmFailure:
		return false
	default:
		return true
	}
}

func newCoreError(kind ErrorKind, addr uint32, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Addr: addr, Message: fmt.Sprintf(format, args...)}
}

// abortGuestVisible panics with a fatal CoreError. Used for the error kinds
// spec.md §7 marks fatal on guest-visible paths (UnknownOpcode, GuestTrap):
// continuing would diverge silently from the real hardware.
func abortGuestVisible(kind ErrorKind, addr uint32, format string, args ...any) {
	panic(newCoreError(kind, addr, format, args...))
}
