package rv64

import "math/bits"

// TrapDeps bundles the external collaborators DoInterrupt needs: only a
// TLB, to flush on the virt-mode transitions an H-ext trap entry can
// cause via SetVirtEnabled. A plain synchronous exception with no RVH
// hart never touches it, so TrapDeps{} (nil TLB) is a valid zero value
// for those callers.
type TrapDeps struct {
	TLB TLB
}

// addressBearing reports whether cause carries a faulting address in
// Stval/Mtval, per riscv_cpu_do_interrupt's tval switch.
func addressBearing(cause uint64) bool {
	switch cause {
	case CauseInsnMisaligned, CauseInsnAccessFault,
		CauseLoadMisaligned, CauseStoreMisaligned,
		CauseLoadAccessFault, CauseStoreAccessFault,
		CauseInsnPageFault, CauseLoadPageFault, CauseStorePageFault:
		return true
	default:
		return false
	}
}

// DoInterrupt is the trap dispatcher (spec.md §4.4): it takes a raw
// async/cause pair (already resolved by LocalIRQPending for interrupts,
// or by whatever raised a TrapError for exceptions) and performs the full
// entry sequence — ECALL refinement, delegation routing between S-mode
// and M-mode (including the H-extension's VS/HS sub-routing), CSR
// writeback, and vectored PC computation.
//
// badaddr is the hart's already-recorded faulting address (Hart.Badaddr);
// callers that raised the trap via a *TrapError should have copied its
// Tval into Badaddr first. async selects mideleg/mcause's interrupt bit
// over medeleg/the exception encoding.
func (h *Hart) DoInterrupt(async bool, cause uint64, badaddr uint64, deps TrapDeps) {
	h.Badaddr = badaddr

	deleg := h.Medeleg
	if async {
		deleg = h.Mideleg
	}

	var tval uint64
	if !async {
		if addressBearing(cause) {
			tval = h.Badaddr
		}
		if cause == CauseEcallU {
			switch {
			case h.Priv == PrivMachine:
				cause = CauseEcallM
			case h.Priv == PrivSupervisor && h.VirtEnabled():
				cause = CauseEcallVS
			case h.Priv == PrivSupervisor && !h.VirtEnabled():
				cause = CauseEcallHS
			case h.Priv == PrivUser:
				cause = CauseEcallU
			}
		}
	}

	const xlen = 64

	if h.Priv <= PrivSupervisor && cause < xlen && (deleg>>cause)&1 != 0 {
		h.trapToSupervisor(async, cause, tval, deps)
		return
	}
	h.trapToMachine(async, cause, tval, deps)
}

func (h *Hart) trapToSupervisor(async bool, cause, tval uint64, deps TrapDeps) {
	if h.HasExtension(FeatureRVH) {
		hdeleg := h.Hedeleg
		if async {
			hdeleg = h.Hideleg
		}

		switch {
		case h.VirtEnabled() && (hdeleg>>cause)&1 != 0 && !h.ForceHSExcepEnabled():
			// Trap to VS-mode: state stays in the VS-mode shadow CSRs,
			// nothing to swap.
		case h.VirtEnabled():
			// Trap into HS-mode from virt.
			h.SwapBackgroundRegs()
			h.setHstatusField(HstatusSP2V, boolField(h.Hstatus&HstatusSPV != 0))
			h.setHstatusField(HstatusSP2P, boolField(h.Mstatus&MstatusSPP != 0))
			h.setHstatusField(HstatusSPV, boolField(h.VirtEnabled()))
			h.setHstatusField(HstatusSTL, boolField(h.ForceHSExcepEnabled()))
			h.SetVirtEnabled(deps.TLB, false)
			h.setForceHSExcep(false)
		default:
			// Trap into HS-mode, already non-virt.
			h.setHstatusField(HstatusSP2V, boolField(h.Hstatus&HstatusSPV != 0))
			h.setHstatusField(HstatusSP2P, boolField(h.Mstatus&MstatusSPP != 0))
			h.setHstatusField(HstatusSPV, boolField(h.VirtEnabled()))
		}
	}

	s := h.Mstatus
	if h.priorInterruptEnable(MstatusSIE) {
		s |= MstatusSPIE
	} else {
		s &^= MstatusSPIE
	}
	s = setField(s, MstatusSPP, MstatusSPPShift, uint64(h.Priv))
	s &^= MstatusSIE
	h.Mstatus = s

	h.Scause = cause | asyncBit(async)
	h.Sepc = h.PC
	h.Stval = tval
	h.PC = vectoredPC(h.Stvec, async, cause)
	h.SetMode(PrivSupervisor)
}

func (h *Hart) trapToMachine(async bool, cause, tval uint64, deps TrapDeps) {
	if h.HasExtension(FeatureRVH) {
		if h.VirtEnabled() {
			h.SwapBackgroundRegs()
		}
		if h.VirtEnabled() {
			h.Mstatus |= MstatusMPV
		} else {
			h.Mstatus &^= MstatusMPV
		}
		if h.ForceHSExcepEnabled() {
			h.Mstatus |= MstatusMTL
		} else {
			h.Mstatus &^= MstatusMTL
		}
		h.SetVirtEnabled(deps.TLB, false)
	}

	s := h.Mstatus
	if h.priorInterruptEnable(MstatusMIE) {
		s |= MstatusMPIE
	} else {
		s &^= MstatusMPIE
	}
	s = setField(s, MstatusMPP, MstatusMPPShift, uint64(h.Priv))
	s &^= MstatusMIE
	h.Mstatus = s

	h.Mcause = cause | asyncBit(async)
	h.Mepc = h.PC
	h.Mtval = tval
	h.PC = vectoredPC(h.Mtvec, async, cause)
	h.SetMode(PrivMachine)
}

// asyncBit places the async flag in the CSR's top bit, per spec.md §9's
// resolved mcause/scause encoding: cause | (async << (XLEN-1)).
func asyncBit(async bool) uint64 {
	if async {
		return 1 << 63
	}
	return 0
}

// vectoredPC computes the post-trap PC: the tvec base (4-byte aligned) plus
// cause*4 when the mode is vectored (tvec&3 == 1) and the trap is
// asynchronous.
func vectoredPC(tvec uint64, async bool, cause uint64) uint64 {
	base := (tvec >> 2) << 2
	if async && tvec&3 == 1 {
		return base + cause*4
	}
	return base
}

func boolField(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func setField(v, mask uint64, shift uint, value uint64) uint64 {
	return (v &^ mask) | ((value << shift) & mask)
}

func (h *Hart) setHstatusField(mask uint64, value uint64) {
	shift := bits.TrailingZeros64(mask)
	h.Hstatus = (h.Hstatus &^ mask) | ((value << shift) & mask)
}
