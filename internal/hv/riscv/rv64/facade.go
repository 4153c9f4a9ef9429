package rv64

// Facade bundles the external collaborators the MMU facade (spec.md §4.5)
// needs to turn a raw Translate result into TLB fills, probes, and fully
// dispatched traps. A zero Facade is unusable; construct one with
// NewFacade.
type Facade struct {
	Memory   Memory
	PMP      PMP
	TLB      TLB
	Unwinder Unwinder
}

// NewFacade wires the four consumed collaborators spec.md §6 names as the
// MMU facade's dependencies.
func NewFacade(mem Memory, pmp PMP, tlb TLB, unwinder Unwinder) *Facade {
	return &Facade{Memory: mem, PMP: pmp, TLB: tlb, Unwinder: unwinder}
}

// pageFaultApplies mirrors raise_mmu_exception's page_fault_exceptions
// boolean: a first-stage translation reports a page fault (rather than a
// bare access fault) only when the walk was actually paging (satp.MODE
// not Bare) and the failure wasn't a PMP violation. It also tracks the
// forceHS sticky bit the H-extension's second-stage walker would flip;
// since this core's second-stage (guest-physical) translation is out of
// scope beyond what spec.md names (see DESIGN.md), first_stage is always
// true here and forceHS is simply cleared.
func (h *Hart) pageFaultApplies(pmpViolation bool) bool {
	h.setForceHSExcep(false)
	if pmpViolation {
		return false
	}
	wp := h.walkParams()
	return wp.base != SatpBare
}

func faultCause(access Access, pageFault bool) uint64 {
	if pageFault {
		return pageFaultCause(access)
	}
	return accessFaultCause(access)
}

// TLBFill is the facade's main entry point (spec.md §4.5's tlb_fill): it
// translates va, applies the PMP check against the translated physical
// page, and on success installs the mapping into the TLB. On failure, a
// probe request simply reports false; a real fault is fully dispatched
// through DoInterrupt and the Unwinder is invoked so control never
// returns past this call with invalid state.
func (f *Facade) TLBFill(h *Hart, va uint64, size int, access Access, probe bool) bool {
	mode := h.EffectivePrivilege(access)

	pa, prot, err := h.Translate(f.Memory, f.PMP, va, access, mode)

	pmpViolation := false
	if err == nil && h.HasExtension(FeaturePMP) && f.PMP != nil &&
		!f.PMP.HasPrivileges(h, pa, size, access, mode) {
		err = ErrPMPDenied
	}
	if err == ErrPMPDenied {
		pmpViolation = true
	}

	if err == nil {
		if f.TLB != nil {
			f.TLB.SetPage(h, va&^(pageSize-1), pa&^(pageSize-1), prot, int(mode), pageSize)
		}
		return true
	}

	if probe {
		return false
	}

	pageFault := h.pageFaultApplies(pmpViolation)
	cause := faultCause(access, pageFault)
	if te, ok := err.(*TrapError); ok {
		h.Badaddr = te.Tval
	} else {
		h.Badaddr = va
	}

	h.DoInterrupt(false, cause, h.Badaddr, TrapDeps{TLB: f.TLB})
	if f.Unwinder != nil {
		f.Unwinder.UnwindTrap(h)
	}
	return false
}

const pageSize = 1 << pageShift

// GetPhysPageDebug performs a non-faulting probe translation (spec.md
// §4.5's get_phys_page_debug): it never raises an architectural exception
// and reports ok=false instead of a trap when the address doesn't
// translate.
func (f *Facade) GetPhysPageDebug(h *Hart, va uint64) (pa uint64, ok bool) {
	mode := h.EffectivePrivilege(AccessLoad)
	pa, _, err := h.Translate(f.Memory, f.PMP, va, AccessLoad, mode)
	if err != nil {
		return 0, false
	}
	return pa, true
}

// UnassignedAccess handles a bus access that resolved to no device or
// memory region: always an access fault (never a page fault), since the
// guest physical address itself had nothing backing it.
func (f *Facade) UnassignedAccess(h *Hart, addr uint64, isWrite bool) {
	access := AccessLoad
	if isWrite {
		access = AccessStore
	}
	h.Badaddr = addr
	h.DoInterrupt(false, accessFaultCause(access), addr, TrapDeps{TLB: f.TLB})
	if f.Unwinder != nil {
		f.Unwinder.UnwindTrap(h)
	}
}

// UnalignedAccess handles a misaligned guest access the host couldn't
// satisfy with a single bus transaction.
func (f *Facade) UnalignedAccess(h *Hart, addr uint64, access Access) {
	var cause uint64
	switch access {
	case AccessFetch:
		cause = CauseInsnMisaligned
	case AccessStore:
		cause = CauseStoreMisaligned
	default:
		cause = CauseLoadMisaligned
	}
	h.Badaddr = addr
	h.DoInterrupt(false, cause, addr, TrapDeps{TLB: f.TLB})
	if f.Unwinder != nil {
		f.Unwinder.UnwindTrap(h)
	}
}
