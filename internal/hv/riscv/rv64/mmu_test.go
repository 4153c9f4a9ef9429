package rv64

import (
	"errors"
	"testing"
)

func sv39SATP(rootPPN uint64) uint64 {
	const satpModeSv39Field = 8 // architectural satp.MODE encoding, not the SatpMode enum ordinal
	return (uint64(satpModeSv39Field) << 60) | (rootPPN & ((1 << 44) - 1))
}

// buildSv39Leaf installs a three-level Sv39 walk from a root at rootPA
// down to a single 4KiB leaf mapping va -> leafPPN with the given PTE
// flags, returning the leaf PTE's own physical address.
func buildSv39Leaf(mem *fakeMemory, rootPA, va uint64, leafPPN uint64, leafFlags uint64) uint64 {
	const ptIdxBits = 9
	const entries = 1 << ptIdxBits

	l2idx := (va >> (12 + 18)) & (entries - 1)
	l1idx := (va >> (12 + 9)) & (entries - 1)
	l0idx := (va >> 12) & (entries - 1)

	l1PA := rootPA + 0x1000
	l0PA := rootPA + 0x2000

	mem.setPTE(rootPA+l2idx*8, ((l1PA>>12)<<10)|PteV)
	mem.setPTE(l1PA+l1idx*8, ((l0PA>>12)<<10)|PteV)
	leafPA := l0PA + l0idx*8
	mem.setPTE(leafPA, (leafPPN<<10)|leafFlags)
	return leafPA
}

func TestTranslateSv39LeafWalk(t *testing.T) {
	h := newTestHart(FeatureMMU)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = sv39SATP(0x10)

	mem := newFakeMemory()
	const rootPA = 0x10000
	buildSv39Leaf(mem, rootPA, 0x4000, 0x55, PteV|PteR|PteW|PteA|PteD)

	pa, prot, err := h.Translate(mem, nil, 0x4000, AccessLoad, PrivSupervisor)
	if err != nil {
		t.Fatalf("Translate() error = %v, want nil", err)
	}
	wantPA := uint64(0x55) << 12
	if pa != wantPA {
		t.Errorf("pa = %#x, want %#x", pa, wantPA)
	}
	if prot&PermRead == 0 {
		t.Errorf("prot = %#x, want PermRead set", prot)
	}
}

func TestTranslateMisalignedSuperpage(t *testing.T) {
	h := newTestHart(FeatureMMU)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = sv39SATP(0x20)

	mem := newFakeMemory()
	const rootPA = 0x20000
	const va uint64 = 0x40000000 // selects a level-1 (2MiB superpage) slot

	l2idx := (va >> (12 + 18)) & 0x1ff
	l1idx := (va >> (12 + 9)) & 0x1ff
	const l1PA = rootPA + 0x1000
	// A leaf PTE at level 1 (not the final level) with a misaligned PPN
	// (low bit of the superpage-level PPN set) must fault rather than
	// silently truncate the physical address.
	mem.setPTE(rootPA+l2idx*8, ((l1PA>>12)<<10)|PteV)
	mem.setPTE(l1PA+l1idx*8, (uint64(0x41)<<10)|PteV|PteR|PteW)

	_, _, err := h.Translate(mem, nil, va, AccessLoad, PrivSupervisor)
	var te *TrapError
	if !errors.As(err, &te) {
		t.Fatalf("Translate() error = %v, want *TrapError for misaligned superpage", err)
	}
	if te.Cause != CauseLoadPageFault {
		t.Errorf("Cause = %d, want %d", te.Cause, CauseLoadPageFault)
	}
}

func TestTranslateAccessedDirtyBitCASRestart(t *testing.T) {
	h := newTestHart(FeatureMMU)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = sv39SATP(0x30)

	mem := newFakeMemory()
	const rootPA = 0x30000
	leafPA := buildSv39Leaf(mem, rootPA, 0x8000, 0x66, PteV|PteR|PteW)

	// Simulate a racing hart that updates the leaf PTE concurrently with
	// our own accessed-bit CAS: the first CompareAndSwapPTE call fails,
	// and the walker must restart from the root and succeed on retry.
	mem.simulateRaceOnce(leafPA)

	pa, _, err := h.Translate(mem, nil, 0x8000, AccessLoad, PrivSupervisor)
	if err != nil {
		t.Fatalf("Translate() error = %v, want nil after restart", err)
	}
	wantPA := uint64(0x66) << 12
	if pa != wantPA {
		t.Errorf("pa = %#x, want %#x", pa, wantPA)
	}
	if mem.ram[leafPA]&PteA == 0 {
		t.Error("accessed bit not set after translation")
	}
}

func TestTranslatePMPDeniesWalk(t *testing.T) {
	h := newTestHart(FeatureMMU | FeaturePMP)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = sv39SATP(0x40)

	mem := newFakeMemory()
	const rootPA = 0x40000
	buildSv39Leaf(mem, rootPA, 0xc000, 0x77, PteV|PteR)

	pmp := newFakePMP()
	pmp.denyPA[rootPA] = true

	_, _, err := h.Translate(mem, pmp, 0xc000, AccessLoad, PrivSupervisor)
	if !errors.Is(err, ErrPMPDenied) {
		t.Errorf("Translate() error = %v, want ErrPMPDenied", err)
	}
}

func TestTranslateBareModePassthrough(t *testing.T) {
	h := newTestHart(FeatureMMU)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = uint64(SatpBare) << 60

	pa, prot, err := h.Translate(nil, nil, 0xdeadbeef, AccessLoad, PrivSupervisor)
	if err != nil {
		t.Fatalf("Translate() error = %v, want nil in Bare mode", err)
	}
	if pa != 0xdeadbeef {
		t.Errorf("pa = %#x, want identity mapping", pa)
	}
	if prot != (PermRead | PermWrite | PermExec) {
		t.Errorf("prot = %#x, want full permissions", prot)
	}
}

func TestTranslateReservedLeafFlagsFault(t *testing.T) {
	h := newTestHart(FeatureMMU)
	h.PrivVer = PrivVersion110
	h.Priv = PrivSupervisor
	h.Satp = sv39SATP(0x50)

	mem := newFakeMemory()
	const rootPA = 0x50000
	// PTE_W alone is a reserved leaf encoding.
	buildSv39Leaf(mem, rootPA, 0x10000, 0x88, PteV|PteW)

	_, _, err := h.Translate(mem, nil, 0x10000, AccessLoad, PrivSupervisor)
	var te *TrapError
	if !errors.As(err, &te) {
		t.Fatalf("Translate() error = %v, want *TrapError", err)
	}
}
