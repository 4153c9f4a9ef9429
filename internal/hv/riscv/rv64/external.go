package rv64

import "errors"

// Memory is the guest physical-memory collaborator this core consumes
// (spec.md §6). The core never owns guest RAM; it only ever loads PTEs
// and atomically updates their A/D bits through this interface.
type Memory interface {
	Load32(pa uint64) (uint32, error)
	Load64(pa uint64) (uint64, error)

	// CompareAndSwapPTE atomically installs newPTE over oldPTE at pa if
	// the memory there is RAM-backed and still holds oldPTE. isRAM
	// reports whether pa resolved to a CAS-capable RAM location at all;
	// when it is false the walker must fail the translation rather than
	// silently skip the A/D update (spec.md §4.3's MMIO/ROM case).
	CompareAndSwapPTE(pa uint64, oldPTE, newPTE uint64, size int) (swapped, isRAM bool, err error)
}

// PMP is the physical-memory-protection predicate this core consumes.
type PMP interface {
	HasPrivileges(h *Hart, pa uint64, size int, access Access, mode Privilege) bool
}

// TLB is the host emulator's translation cache. The core only ever
// installs successful translations and flushes on virt-mode transitions.
type TLB interface {
	SetPage(h *Hart, vpage, ppage uint64, prot Permission, mmuIdx int, pageSize uint64)
	Flush(h *Hart)
}

// Unwinder performs the execution engine's non-local transfer of control
// out of the currently executing translation block. The MMU facade calls
// it after a fault has been fully dispatched into the hart's trap state,
// so that control returns to the engine's fetch loop with the guest PC
// already pointing at the trap vector. Implementations built around
// panic/recover should panic from here; the facade's own return value
// stays correct for callers (tests, debug probes) whose Unwinder simply
// returns.
type Unwinder interface {
	UnwindTrap(h *Hart)
}

// Notifier is the asynchronous, coalescing-tolerant cross-thread work
// queue spec.md §5 requires update_mip to schedule on: "after your
// current translation block, raise (or clear) the hard-interrupt line."
type Notifier interface {
	NotifyInterruptLine(h *Hart, raise bool)
}

// ErrPMPDenied is the PmpFail outcome of spec.md §7's Translate result
// enum: a physical memory protection check rejected an otherwise-valid
// translation.
var ErrPMPDenied = errors.New("rv64: pmp denied access")

// errAlreadyClaimed is ClaimInterrupts's failure: one of the requested
// lines is already owned by another claimant.
var errAlreadyClaimed = errors.New("rv64: interrupt already claimed")

// TrapError is a guest-visible architectural exception: a synchronous
// cause paired with the trap-value that should land in scause/mcause's
// companion tval register.
type TrapError struct {
	Cause uint64
	Tval  uint64
}

func (e *TrapError) Error() string {
	return "rv64: trap cause=" + uitoa(e.Cause) + " tval=0x" + uitohex(e.Tval)
}

// Trap builds a TrapError for the given synchronous cause and tval.
func Trap(cause, tval uint64) error {
	return &TrapError{Cause: cause, Tval: tval}
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func uitohex(v uint64) string {
	if v == 0 {
		return "0"
	}
	const digits = "0123456789abcdef"
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}
