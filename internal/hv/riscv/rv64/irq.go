package rv64

import "math/bits"

// LocalIRQPending implements the interrupt arbiter (spec.md §4.2): it
// decides which single pending interrupt, if any, is currently
// deliverable, honoring per-privilege global-enable gating and
// mideleg-based routing, with virtual-supervisor interrupts taking
// priority whenever virtualisation is active. Ties are broken toward the
// lowest-numbered cause (count-trailing-zeros), matching
// riscv_cpu_local_irq_pending's use of ctz64.
//
// Returns NoInterrupt if nothing is deliverable.
func (h *Hart) LocalIRQPending() int {
	mstatusMIE := h.Mstatus&MstatusMIE != 0
	mstatusSIE := h.Mstatus&MstatusSIE != 0
	vsstatusSIE := h.Vsstatus&MstatusSIE != 0

	pending := h.mip.Load() & h.Mie
	hsPending := h.vsip.Load() & h.Vsie

	mEnabled := h.Priv < PrivMachine || (h.Priv == PrivMachine && mstatusMIE)
	sEnabled := h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && mstatusSIE)
	vsEnabled := h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && vsstatusSIE)

	var irqs uint64
	if mEnabled {
		irqs |= pending &^ h.Mideleg
	}
	if sEnabled {
		irqs |= pending & h.Mideleg
	}

	if h.VirtEnabled() {
		var pendingHS uint64
		if vsEnabled {
			pendingHS = hsPending
		}
		if pendingHS != 0 {
			h.setForceHSExcep(true)
			return bits.TrailingZeros64(pendingHS)
		}
	}

	if irqs != 0 {
		return bits.TrailingZeros64(irqs)
	}
	return NoInterrupt
}

// ExecInterrupt is the engine-visible hook equivalent to
// riscv_cpu_exec_interrupt: given that the host has a hard-interrupt
// request pending, it checks whether the arbiter actually has a
// deliverable interrupt and, if so, dispatches it through DoInterrupt and
// reports true so the caller knows to unwind the current translation
// block. hardIRQPending models cs->interrupt_request & CPU_INTERRUPT_HARD
// — the host's own signal that *something* may be pending, separate from
// the architectural decision of *what*.
func (h *Hart) ExecInterrupt(hardIRQPending bool, deps TrapDeps) bool {
	if !hardIRQPending {
		return false
	}
	cause := h.LocalIRQPending()
	if cause < 0 {
		return false
	}
	h.DoInterrupt(true, uint64(cause), 0, deps)
	return true
}
