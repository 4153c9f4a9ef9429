package rv64

// Page-table entry flags.
const (
	PteV = 1 << 0 // Valid
	PteR = 1 << 1 // Readable
	PteW = 1 << 2 // Writable
	PteX = 1 << 3 // Executable
	PteU = 1 << 4 // User accessible
	PteG = 1 << 5 // Global
	PteA = 1 << 6 // Accessed
	PteD = 1 << 7 // Dirty
)

const (
	pageShift   = 12
	ptePPNShift = 10
)

// walkFormat describes one Sv3x page-table layout: level count, bits per
// index, and PTE size in bytes. legacyVMMode and satp's MODE field both
// resolve onto this same table in walkParams, so the walker itself
// (walkPageTable/walkOnce) never branches on priv_ver.
type walkFormat struct {
	levels    int
	ptIdxBits int
	pteSize   int
}

var walkFormats = map[SatpMode]walkFormat{
	SatpSv32: {levels: 2, ptIdxBits: 10, pteSize: 4},
	SatpSv39: {levels: 3, ptIdxBits: 9, pteSize: 8},
	SatpSv48: {levels: 4, ptIdxBits: 9, pteSize: 8},
	SatpSv57: {levels: 5, ptIdxBits: 9, pteSize: 8},
}

// legacy priv<1.10 MSTATUS_VM encodings, normalized onto the same SatpMode
// rows the >=1.10 satp.MODE field uses, so mmu.go only ever switches on
// one enum (spec.md §4's supplemented detail from cpu_helper.c).
const (
	legacyVMBare = 0
	legacyVMSv32 = 8
	legacyVMSv39 = 9
	legacyVMSv48 = 10
)

func legacyVMMode(vm uint64) SatpMode {
	switch vm {
	case legacyVMBare:
		return SatpBare
	case legacyVMSv32:
		return SatpSv32
	case legacyVMSv39:
		return SatpSv39
	case legacyVMSv48:
		return SatpSv48
	default:
		panic("rv64: legacyVMMode: unknown MSTATUS_VM encoding")
	}
}

// walkParams is the resolved, priv_ver-independent input to walkPageTable.
type walkParams struct {
	base SatpMode
	root uint64 // PPN<<PAGESHIFT of the root table
	sum  bool
	mxr  bool
}

// satp110Mode maps the RV64 satp.MODE field's architectural encoding
// (Bare=0, Sv39=8, Sv48=9, Sv57=10) onto the unified SatpMode enum.
func satp110Mode(field uint64) SatpMode {
	switch field {
	case 0:
		return SatpBare
	case 8:
		return SatpSv39
	case 9:
		return SatpSv48
	case 10:
		return SatpSv57
	default:
		panic("rv64: satp110Mode: unknown SATP_MODE field")
	}
}

func (h *Hart) walkParams() walkParams {
	mxr := h.Mstatus&MstatusMXR != 0
	if h.PrivVer == PrivVersion110 {
		mode := satp110Mode((h.Satp >> 60) & 0xf)
		return walkParams{
			base: mode,
			root: (h.Satp & ((1 << 44) - 1)) << pageShift,
			sum:  h.Mstatus&MstatusSUM != 0,
			mxr:  mxr,
		}
	}
	// Legacy: sptbr holds the bare PPN (no MODE field of its own; VM
	// lives in mstatus), and SUM is inverted as MSTATUS_PUM.
	const mstatusPUM = 1 << 18 // legacy encoding reuses the SUM bit position
	const mstatusVMShift = 24
	const mstatusVMMask = 0x1f << mstatusVMShift
	vm := (h.Mstatus & mstatusVMMask) >> mstatusVMShift
	return walkParams{
		base: legacyVMMode(vm),
		root: h.Satp << pageShift,
		sum:  h.Mstatus&mstatusPUM == 0,
		mxr:  mxr,
	}
}

// canonicalAddress reports whether va's bits above va_bits-1 are a proper
// sign extension of bit va_bits-1, generalized to the format's VA width
// rather than hardcoded to Sv39.
func canonicalAddress(va uint64, vaBits int) bool {
	mask := (uint64(1) << (64 - uint(vaBits-1))) - 1
	maskedMSBs := (va >> uint(vaBits-1)) & mask
	return maskedMSBs == 0 || maskedMSBs == mask
}

// Translate performs the core page-table-walk translation of spec.md §4.3:
// MPRV/MPP mode substitution, Bare-mode and no-MMU short-circuits, then a
// full walk with PMP-gated PTE reads and atomic accessed/dirty-bit
// maintenance. On success it returns the translated physical address and
// the permission mask the TLB should cache; on failure it returns either
// a *TrapError (already classified by the caller via the Fail outcome) or
// ErrPMPDenied.
//
// mode is the already-resolved effective privilege (after any MPRV/MPP
// substitution the caller has applied via EffectivePrivilege); Translate
// itself does not re-derive it, since facade.go needs the substituted mode
// for its own PMP check too.
func (h *Hart) Translate(mem Memory, pmp PMP, va uint64, access Access, mode Privilege) (pa uint64, prot Permission, err error) {
	if mode == PrivMachine || !h.HasExtension(FeatureMMU) {
		return va, PermRead | PermWrite | PermExec, nil
	}

	wp := h.walkParams()
	if wp.base == SatpBare {
		return va, PermRead | PermWrite | PermExec, nil
	}

	format, ok := walkFormats[wp.base]
	if !ok {
		panic("rv64: Translate: unknown SATP_MODE")
	}

	return h.walkPageTable(mem, pmp, va, access, mode, wp, format)
}

// EffectivePrivilege applies the MPRV/MPP mode substitution spec.md §4.3
// describes: in M-mode, a non-fetch access translates as if it were made
// from mstatus.MPP when MPRV is set.
func (h *Hart) EffectivePrivilege(access Access) Privilege {
	mode := h.Priv
	if mode == PrivMachine && access != AccessFetch && h.Mstatus&MstatusMPRV != 0 {
		mode = Privilege((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	}
	return mode
}

func (h *Hart) walkPageTable(mem Memory, pmp PMP, va uint64, access Access, mode Privilege, wp walkParams, format walkFormat) (uint64, Permission, error) {
	vaBits := pageShift + format.levels*format.ptIdxBits
	if !canonicalAddress(va, vaBits) {
		return 0, 0, Trap(pageFaultCause(access), va)
	}

	// A CAS failure while setting A/D bits means another hart raced us
	// to update the same PTE; restart the entire walk from the root
	// rather than resuming mid-table, since the race may have changed
	// any level above the leaf too.
	for attempt := 0; attempt < maxWalkRestarts; attempt++ {
		pa, prot, restart, err := h.walkOnce(mem, pmp, va, access, mode, wp, format)
		if restart {
			continue
		}
		return pa, prot, err
	}
	panic("rv64: walkPageTable: too many CAS restarts")
}

// maxWalkRestarts bounds the CAS-restart loop so a pathologically
// contended PTE can't spin the walker forever inside one call.
const maxWalkRestarts = 64

func (h *Hart) walkOnce(mem Memory, pmp PMP, va uint64, access Access, mode Privilege, wp walkParams, format walkFormat) (pa uint64, prot Permission, restart bool, err error) {
	base := wp.root
	ptShift := (format.levels - 1) * format.ptIdxBits

	for level := 0; level < format.levels; level, ptShift = level+1, ptShift-format.ptIdxBits {
		idx := (va >> uint(pageShift+ptShift)) & ((1 << uint(format.ptIdxBits)) - 1)
		pteAddr := base + idx*uint64(format.pteSize)

		if h.HasExtension(FeaturePMP) && pmp != nil &&
			!pmp.HasPrivileges(h, pteAddr, format.pteSize, AccessLoad, PrivSupervisor) {
			return 0, 0, false, ErrPMPDenied
		}

		var pte uint64
		var loadErr error
		if format.pteSize == 4 {
			var v32 uint32
			v32, loadErr = mem.Load32(pteAddr)
			pte = uint64(v32)
		} else {
			pte, loadErr = mem.Load64(pteAddr)
		}
		if loadErr != nil {
			return 0, 0, false, Trap(pageFaultCause(access), va)
		}

		ppn := pte >> ptePPNShift

		switch {
		case pte&PteV == 0:
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case pte&(PteR|PteW|PteX) == 0:
			// Inner PTE, continue walking.
			base = ppn << pageShift
			continue
		case pte&(PteR|PteW|PteX) == PteW:
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case pte&(PteR|PteW|PteX) == (PteW | PteX):
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case pte&PteU != 0 && mode != PrivUser && (!wp.sum || access == AccessFetch):
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case pte&PteU == 0 && mode != PrivSupervisor:
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case ppn&((1<<uint(ptShift))-1) != 0:
			// Misaligned superpage.
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case access == AccessLoad && pte&PteR == 0 && !(pte&PteX != 0 && wp.mxr):
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case access == AccessStore && pte&PteW == 0:
			return 0, 0, false, Trap(pageFaultCause(access), va)
		case access == AccessFetch && pte&PteX == 0:
			return 0, 0, false, Trap(pageFaultCause(access), va)
		default:
			updated := pte | PteA
			if access == AccessStore {
				updated |= PteD
			}
			if updated != pte {
				swapped, isRAM, casErr := mem.CompareAndSwapPTE(pteAddr, pte, updated, format.pteSize)
				if casErr != nil {
					return 0, 0, false, Trap(pageFaultCause(access), va)
				}
				if !isRAM {
					// Misconfigured PTE in ROM, or MMIO that can't be
					// updated atomically.
					return 0, 0, false, Trap(pageFaultCause(access), va)
				}
				if !swapped {
					return 0, 0, true, nil
				}
				pte = updated
			}

			vpn := va >> pageShift
			physPage := ppn | (vpn & ((1 << uint(ptShift)) - 1))
			leafPA := physPage << pageShift

			var leafProt Permission
			if pte&PteR != 0 || (pte&PteX != 0 && wp.mxr) {
				leafProt |= PermRead
			}
			if pte&PteX != 0 {
				leafProt |= PermExec
			}
			if pte&PteW != 0 && access == AccessStore {
				leafProt |= PermWrite
			}
			return leafPA, leafProt, false, nil
		}
	}
	return 0, 0, false, Trap(pageFaultCause(access), va)
}

func pageFaultCause(access Access) uint64 {
	switch access {
	case AccessFetch:
		return CauseInsnPageFault
	case AccessStore:
		return CauseStorePageFault
	default:
		return CauseLoadPageFault
	}
}

func accessFaultCause(access Access) uint64 {
	switch access {
	case AccessFetch:
		return CauseInsnAccessFault
	case AccessStore:
		return CauseStoreAccessFault
	default:
		return CauseLoadAccessFault
	}
}
