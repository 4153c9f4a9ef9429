package rv64

import "sync"

// fakeMemory is a flat byte-addressed RAM backing for page-table walks in
// tests: no device models, no bus, just a map keyed by physical address.
type fakeMemory struct {
	mu        sync.Mutex
	ram       map[uint64]uint64 // aligned 8-byte word storage, keyed by address
	mmio      map[uint64]bool   // addresses that are NOT RAM-backed (CAS-incapable)
	raceOnce  map[uint64]bool   // addresses whose first CAS attempt simulates a lost race
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		ram:      make(map[uint64]uint64),
		mmio:     make(map[uint64]bool),
		raceOnce: make(map[uint64]bool),
	}
}

// simulateRaceOnce arranges for the next CompareAndSwapPTE at pa to fail
// as though another hart updated the PTE first, forcing the walker to
// restart from the root.
func (m *fakeMemory) simulateRaceOnce(pa uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raceOnce[pa] = true
}

func (m *fakeMemory) setPTE(pa, pte uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ram[pa] = pte
}

func (m *fakeMemory) markMMIO(pa uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mmio[pa] = true
}

func (m *fakeMemory) Load32(pa uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(m.ram[pa]), nil
}

func (m *fakeMemory) Load64(pa uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ram[pa], nil
}

func (m *fakeMemory) CompareAndSwapPTE(pa uint64, oldPTE, newPTE uint64, size int) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mmio[pa] {
		return false, false, nil
	}
	if m.raceOnce[pa] {
		m.raceOnce[pa] = false
		return false, true, nil
	}
	if m.ram[pa] != oldPTE {
		return false, true, nil
	}
	m.ram[pa] = newPTE
	return true, true, nil
}

// fakePMP grants every access except those whose exact starting address is
// listed in denyPA.
type fakePMP struct {
	denyPA map[uint64]bool
}

func newFakePMP() *fakePMP {
	return &fakePMP{denyPA: make(map[uint64]bool)}
}

func (p *fakePMP) HasPrivileges(h *Hart, pa uint64, size int, access Access, mode Privilege) bool {
	return !p.denyPA[pa]
}

// fakeTLB records SetPage/Flush calls for assertions without modelling an
// actual cache.
type fakeTLB struct {
	sets    int
	flushes int
	lastVA  uint64
	lastPA  uint64
	lastMap Permission
}

func (t *fakeTLB) SetPage(h *Hart, vpage, ppage uint64, prot Permission, mmuIdx int, pageSize uint64) {
	t.sets++
	t.lastVA, t.lastPA, t.lastMap = vpage, ppage, prot
}

func (t *fakeTLB) Flush(h *Hart) {
	t.flushes++
}

// fakeUnwinder records that a trap unwound control rather than performing
// a real non-local jump, since tests run in a single goroutine with no
// translation-block loop to escape from.
type fakeUnwinder struct {
	unwound int
}

func (u *fakeUnwinder) UnwindTrap(h *Hart) {
	u.unwound++
}

// fakeNotifier records the sequence of raise/clear calls synchronously,
// replacing AsyncLineNotifier's goroutine for deterministic tests.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []bool
}

func (n *fakeNotifier) NotifyInterruptLine(h *Hart, raise bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, raise)
}

func (n *fakeNotifier) last() (bool, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return false, false
	}
	return n.calls[len(n.calls)-1], true
}

func newTestHart(features Feature) *Hart {
	h := NewHart(0x1000, features, PrivVersion110)
	h.Notifier = &fakeNotifier{}
	return h
}
