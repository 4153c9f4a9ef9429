package rv64

// Mip returns the current interrupt-pending register. Safe from any thread.
func (h *Hart) Mip() uint64 {
	return h.mip.Load()
}

// Vsip returns the current virtual-supervisor interrupt-pending register.
func (h *Hart) Vsip() uint64 {
	return h.vsip.Load()
}

// ClaimInterrupts exclusively reserves the given interrupt lines for a
// single owner (typically a device model). It fails if any requested line
// is already claimed, matching riscv_cpu_claim_interrupts's single-writer
// semantics (spec.md §4.1).
func (h *Hart) ClaimInterrupts(interrupts uint64) error {
	if h.Miclaim&interrupts != 0 {
		return errAlreadyClaimed
	}
	h.Miclaim |= interrupts
	return nil
}

// UpdateMIP atomically applies (mip & ~mask) | (value & mask) to mip and
// schedules an asynchronous notification of the resulting hard-interrupt
// line state on the hart's Notifier. It returns the pre-update value. Any
// thread may call this; the CAS loop is what makes update_mip safe to call
// from a device model's thread while the owning hart is executing.
func (h *Hart) UpdateMIP(mask, value uint64) uint64 {
	for {
		old := h.mip.Load()
		next := (old &^ mask) | (value & mask)
		if h.mip.CompareAndSwap(old, next) {
			if h.Notifier != nil {
				h.Notifier.NotifyInterruptLine(h, next != 0)
			}
			return old
		}
	}
}

// SetMode installs newpriv as the current privilege level. H (2) is
// reserved and is silently coerced to U, matching riscv_cpu_set_mode. Any
// other value above M panics: spec.md §7 classes an out-of-range privilege
// as an internal invariant violation, not a guest-visible fault.
func (h *Hart) SetMode(newpriv Privilege) {
	if newpriv > PrivMachine {
		panic("rv64: SetMode: privilege out of range")
	}
	if newpriv == privHReserved {
		newpriv = PrivUser
	}
	h.Priv = newpriv

	// Clearing the load reservation on every privilege change prevents an
	// SC in one context from succeeding against a reservation placed by
	// another; ISA 2.2 requires this, and later revisions still expect
	// it alongside the kernel's own SC-based yield.
	h.LoadRes = -1
}

// SetVirtEnabled sets or clears the virtualisation-enabled (V) flag. A
// no-op without RVH. The TLB is flushed on every actual transition, never
// on a no-op set to the same value.
func (h *Hart) SetVirtEnabled(tlb TLB, enable bool) {
	if !h.HasExtension(FeatureRVH) {
		return
	}
	if h.VirtEnabled() != enable && tlb != nil {
		tlb.Flush(h)
	}
	if enable {
		h.virt |= virtOn
	} else {
		h.virt &^= virtOn
	}
}

// FPEnabled reports whether floating-point state is currently accessible:
// mstatus.FS must be non-zero, and if virtualisation is active vsstatus.FS
// must also be set.
func (h *Hart) FPEnabled() bool {
	if h.Mstatus&MstatusFS == 0 {
		return false
	}
	if h.VirtEnabled() && h.Vsstatus&MstatusFS == 0 {
		return false
	}
	return true
}

// SwapBackgroundRegs exchanges the active S-mode CSRs with their VS-mode
// shadows, used on every HS<->VS-mode boundary crossing. Panics if RVH is
// not present; callers (trap.go) only ever invoke this from inside an
// RVH-gated branch.
func (h *Hart) SwapBackgroundRegs() {
	if !h.HasExtension(FeatureRVH) {
		panic("rv64: SwapBackgroundRegs: RVH not present")
	}

	mstatusMask := MstatusMXR | MstatusSUM | MstatusFS | MstatusSPP | MstatusSPIE | MstatusSIE | MstatusUXL
	sieMask := MipSEIP | MipSTIP | MipSSIP

	tmp := h.Vsstatus & mstatusMask
	h.Vsstatus = h.Mstatus & mstatusMask
	h.Mstatus = (h.Mstatus &^ mstatusMask) | tmp

	tmp = h.Vsie & sieMask
	h.Vsie = h.Mie & sieMask
	h.Mie = (h.Mie &^ sieMask) | tmp

	h.Vstvec, h.Stvec = h.Stvec, h.Vstvec
	h.Vsscratch, h.Sscratch = h.Sscratch, h.Vsscratch
	h.Vsepc, h.Sepc = h.Sepc, h.Vsepc
	h.Vscause, h.Scause = h.Scause, h.Vscause
	h.Vstval, h.Stval = h.Stval, h.Vstval
	h.Vsatp, h.Satp = h.Satp, h.Vsatp

	pending := h.vsip.Load()
	pending = h.UpdateMIP(MipSSIP|MipSTIP|MipSEIP, pending)
	pending &= MipSSIP | MipSTIP | MipSEIP
	h.vsip.Store(pending)
}

// priorInterruptEnable selects the bit SPIE/MPIE should capture from the
// current mstatus when entering a trap: SIE/MIE under priv >= 1.10, or the
// legacy UIE<<priv encoding otherwise (spec.md §9's second Open Question).
// The legacy encoding is clamped here to the S/M-mode bit it would have
// aliased onto, since this core never models a U-mode interrupt-enable
// trap target.
func (h *Hart) priorInterruptEnable(mieLike uint64) bool {
	if h.PrivVer == PrivVersion110 {
		return h.Mstatus&mieLike != 0
	}
	switch mieLike {
	case MstatusSIE:
		return h.Mstatus&MstatusSPIE != 0
	case MstatusMIE:
		return h.Mstatus&MstatusMPIE != 0
	default:
		return false
	}
}
