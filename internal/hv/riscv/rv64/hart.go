// Package rv64 implements the privileged-architecture core of an RV64
// hart: CSR state, interrupt arbitration, page-table translation, and
// trap entry. It does not decode or execute instructions, own guest
// physical memory, or model devices — those are supplied by the host
// emulator through the interfaces in external.go.
package rv64

import (
	"log/slog"
	"sync/atomic"
)

// Privilege levels. H (2) is reserved and is never stored in Hart.Priv;
// set_mode coerces it to U.
type Privilege uint8

const (
	PrivUser       Privilege = 0
	PrivSupervisor Privilege = 1
	privHReserved  Privilege = 2
	PrivMachine    Privilege = 3
)

func (p Privilege) String() string {
	switch p {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	default:
		return "?"
	}
}

// PrivVersion distinguishes the two CSR layouts spec.md's open questions
// care about: the legacy sptbr/MSTATUS_VM addressing and the >=1.10 satp
// scheme, and the legacy UIE<<priv prior-interrupt-enable encoding.
type PrivVersion uint8

const (
	PrivVersion110 PrivVersion = iota
	PrivVersionLegacy
)

// Feature bits for Hart.Features.
type Feature uint8

const (
	FeatureMMU Feature = 1 << iota
	FeaturePMP
	FeatureRVH
)

// Access is the kind of memory access being translated or checked.
type Access uint8

const (
	AccessLoad Access = iota
	AccessStore
	AccessFetch
)

func (a Access) String() string {
	switch a {
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	case AccessFetch:
		return "fetch"
	default:
		return "access?"
	}
}

// Permission is a mask of the protections a successful translation grants.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExec
)

// mstatus bits.
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
	MstatusUXL  uint64 = 3 << 32
	MstatusMPV  uint64 = 1 << 38
	MstatusMTL  uint64 = 1 << 40
	MstatusSD   uint64 = 1 << 63
)

const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
	MstatusFSShift  = 13
)

// mip/mie/vsip/vsie bits share one layout.
const (
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
)

// hstatus bits. The H-extension's draft encoding (inherited from the
// original QEMU implementation this core is modelled on) is not restated
// bit-exactly by spec.md, so this layout is self-consistent rather than
// lifted from a ratified ISA manual.
const (
	HstatusSPV  uint64 = 1 << 7
	HstatusSP2V uint64 = 1 << 8
	HstatusSP2P uint64 = 1 << 9
	HstatusSTL  uint64 = 1 << 10
)

// SatpMode is the unified SATP/HGATP MODE field, spanning both the legacy
// and >=1.10 encodings (legacy sptbr/MSTATUS_VM values are normalized onto
// these by walkParams on each translation; see legacyVMMode in mmu.go).
type SatpMode uint8

const (
	SatpBare SatpMode = iota
	SatpSv32
	SatpSv39
	SatpSv48
	SatpSv57
)

// Exception causes (synchronous).
const (
	CauseInsnMisaligned   uint64 = 0
	CauseInsnAccessFault  uint64 = 1
	CauseIllegalInsn      uint64 = 2
	CauseBreakpoint       uint64 = 3
	CauseLoadMisaligned   uint64 = 4
	CauseLoadAccessFault  uint64 = 5
	CauseStoreMisaligned  uint64 = 6
	CauseStoreAccessFault uint64 = 7
	CauseEcallU           uint64 = 8
	CauseEcallHS          uint64 = 9
	CauseEcallVS          uint64 = 10
	CauseEcallM           uint64 = 11
	CauseInsnPageFault    uint64 = 12
	CauseLoadPageFault    uint64 = 13
	CauseStorePageFault   uint64 = 15
)

// Interrupt causes (the XLEN-1 async bit is applied separately by the
// dispatcher; these are the bare indices the arbiter returns).
const (
	IntSSoftware uint64 = 1
	IntMSoftware uint64 = 3
	IntSTimer    uint64 = 5
	IntMTimer    uint64 = 7
	IntSExternal uint64 = 9
	IntMExternal uint64 = 11
)

// NoInterrupt is returned by LocalIRQPending when nothing is deliverable.
const NoInterrupt = -1

// Hart is the emulated processor context: the privileged architectural
// state a dynamic-translation emulator mutates on every trap, translation,
// and interrupt check. Only the owning execution thread writes the
// non-atomic fields below; mip and vsip are the exception: both are atomic
// and safe to read from any thread (Mip, Vsip), and UpdateMIP is the
// any-thread writer of mip.
type Hart struct {
	Priv    Privilege
	PC      uint64
	Badaddr uint64
	LoadRes int64 // -1 means no reservation

	// Machine-mode CSRs.
	Mstatus  uint64
	Mie      uint64
	mip      atomic.Uint64
	Mideleg  uint64
	Medeleg  uint64
	Mtvec    uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64
	Mscratch uint64
	Mhartid  uint64
	Miclaim  uint64

	// Supervisor-mode CSRs. Sstatus is a masked view of Mstatus and is
	// not stored separately.
	Stvec    uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Sscratch uint64
	Satp     uint64

	// H-extension CSRs.
	Hstatus uint64
	Hedeleg uint64
	Hideleg uint64
	Hgatp   uint64

	// Virtual-supervisor shadow CSRs.
	Vsstatus  uint64
	Vsie      uint64
	vsip      atomic.Uint64
	Vstvec    uint64
	Vsepc     uint64
	Vscause   uint64
	Vstval    uint64
	Vsscratch uint64
	Vsatp     uint64

	// virt packs the V (virt-enabled) and forceHS flags spec.md §3
	// describes as one virtualisation state word. Only the owning
	// thread touches it.
	virt uint8

	Features Feature
	PrivVer  PrivVersion

	// Notifier is the consumed asynchronous cross-thread work queue
	// (spec.md §6's run_on collaborator). NewHart always installs an
	// AsyncLineNotifier; callers may replace it. UpdateMIP sends no
	// notification while it is nil.
	Notifier Notifier

	Logger *slog.Logger
}

const (
	virtOn      uint8 = 1 << 0
	virtForceHS uint8 = 1 << 1
)

// NewHart creates a hart at machine-reset state: priv=M, mstatus=0 (all
// interrupts disabled), mip=0, load_res=-1. pc is the reset vector.
func NewHart(pc uint64, features Feature, privVer PrivVersion) *Hart {
	h := &Hart{
		Priv:     PrivMachine,
		PC:       pc,
		LoadRes:  -1,
		Features: features,
		PrivVer:  privVer,
	}
	h.Notifier = NewAsyncLineNotifier(h)
	return h
}

// Reset restores machine-reset state without replacing the hart's
// collaborators (Notifier, Logger).
func (h *Hart) Reset(pc uint64) {
	h.Priv = PrivMachine
	h.PC = pc
	h.Badaddr = 0
	h.LoadRes = -1
	h.Mstatus = 0
	h.Mie = 0
	h.mip.Store(0)
	h.Mideleg = 0
	h.Medeleg = 0
	h.Mtvec = 0
	h.Mepc = 0
	h.Mcause = 0
	h.Mtval = 0
	h.Mscratch = 0
	h.Miclaim = 0
	h.Stvec = 0
	h.Sepc = 0
	h.Scause = 0
	h.Stval = 0
	h.Sscratch = 0
	h.Satp = 0
	h.Hstatus = 0
	h.Hedeleg = 0
	h.Hideleg = 0
	h.Hgatp = 0
	h.Vsstatus = 0
	h.Vsie = 0
	h.vsip.Store(0)
	h.Vstvec = 0
	h.Vsepc = 0
	h.Vscause = 0
	h.Vstval = 0
	h.Vsscratch = 0
	h.Vsatp = 0
	h.virt = 0
}

// HasExtension reports whether the given feature is present on this hart.
func (h *Hart) HasExtension(f Feature) bool {
	return h.Features&f != 0
}

// PrivVersion returns the hart's privilege-spec version.
func (h *Hart) PrivVersion() PrivVersion {
	return h.PrivVer
}

func (h *Hart) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// MMUIndex is the engine-visible mmu_index(hart, is_fetch) query: the
// privilege level to translate under. A user-mode-only build would
// return 0 unconditionally; this core always has an MMU path, so it is
// simply the current privilege.
func (h *Hart) MMUIndex(isFetch bool) int {
	return int(h.Priv)
}

// VirtEnabled reports the V flag of the virtualisation state word. Always
// false without RVH.
func (h *Hart) VirtEnabled() bool {
	return h.HasExtension(FeatureRVH) && h.virt&virtOn != 0
}

// ForceHSExcepEnabled reports the sticky forceHS flag.
func (h *Hart) ForceHSExcepEnabled() bool {
	return h.HasExtension(FeatureRVH) && h.virt&virtForceHS != 0
}

// setForceHSExcep sets or clears the sticky forceHS flag. A no-op without
// RVH, matching SetVirtEnabled's guard.
func (h *Hart) setForceHSExcep(enable bool) {
	if !h.HasExtension(FeatureRVH) {
		return
	}
	if enable {
		h.virt |= virtForceHS
	} else {
		h.virt &^= virtForceHS
	}
}
