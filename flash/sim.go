package flash

import (
	"encoding/binary"
	"fmt"
)

// Sim implements Device against an in-memory flash image for host-side
// testing. It enforces the rules real flash punishes silently: words can
// only be written into a page erased since its last write, page erases must
// be page-aligned, and reads of words that were erased but never rewritten
// are forbidden inside a critical section (the copy-and-reset routine must
// never depend on data it has already destroyed). Violations are recorded
// in Faults rather than panicking, so tests can assert on them.
type Sim struct {
	pageSize uint32
	appStart uint32
	mem      []byte

	// valid marks words that hold programmed (or factory preloaded) data.
	// A page erase invalidates every word in the page; WriteWord makes a
	// single word valid again.
	valid map[uint32]bool

	eraseCounts map[uint32]int
	inCritical  bool
	wasReset    bool

	Faults []string
}

// NewSim creates a simulated flash of numPages pages with the application
// region starting at appStart. The initial contents read as erased but are
// considered valid, as factory-programmed flash would be.
func NewSim(pageSize, numPages, appStart uint32) *Sim {
	s := &Sim{
		pageSize:    pageSize,
		appStart:    appStart,
		mem:         make([]byte, pageSize*numPages),
		valid:       make(map[uint32]bool),
		eraseCounts: make(map[uint32]int),
	}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	for addr := uint32(0); addr < uint32(len(s.mem)); addr += 4 {
		s.valid[addr] = true
	}
	return s
}

func (s *Sim) PageSize() uint32 { return s.pageSize }
func (s *Sim) Size() uint32     { return uint32(len(s.mem)) }
func (s *Sim) AppStart() uint32 { return s.appStart }
func (s *Sim) Name() string     { return "sim" }

func (s *Sim) fault(format string, args ...interface{}) {
	s.Faults = append(s.Faults, fmt.Sprintf(format, args...))
}

func (s *Sim) ErasePage(addr uint32) {
	if addr%s.pageSize != 0 {
		s.fault("erase of unaligned address 0x%08X", addr)
		return
	}
	if addr >= uint32(len(s.mem)) {
		s.fault("erase outside flash at 0x%08X", addr)
		return
	}
	for a := addr; a < addr+s.pageSize; a++ {
		s.mem[a] = 0xFF
	}
	for a := addr; a < addr+s.pageSize; a += 4 {
		s.valid[a] = false
	}
	s.eraseCounts[addr]++
}

func (s *Sim) WriteWord(addr uint32, value uint32) {
	if addr%4 != 0 {
		s.fault("write of unaligned address 0x%08X", addr)
		return
	}
	if addr+4 > uint32(len(s.mem)) {
		s.fault("write outside flash at 0x%08X", addr)
		return
	}
	if current := binary.LittleEndian.Uint32(s.mem[addr:]); current != EraseValue {
		s.fault("write to non-erased word at 0x%08X (holds 0x%08X)", addr, current)
		return
	}
	binary.LittleEndian.PutUint32(s.mem[addr:], value)
	s.valid[addr] = true
}

func (s *Sim) ReadWord(addr uint32) uint32 {
	if addr%4 != 0 {
		s.fault("read of unaligned address 0x%08X", addr)
		return EraseValue
	}
	if addr+4 > uint32(len(s.mem)) {
		s.fault("read outside flash at 0x%08X", addr)
		return EraseValue
	}
	if s.inCritical && !s.valid[addr] {
		s.fault("critical-section read of erased word at 0x%08X", addr)
	}
	return binary.LittleEndian.Uint32(s.mem[addr:])
}

func (s *Sim) Critical(fn func()) {
	if s.inCritical {
		s.fault("nested critical section")
	}
	s.inCritical = true
	fn()
	s.inCritical = false
}

func (s *Sim) Reset() {
	s.wasReset = true
}

// WasReset reports whether Reset has been triggered.
func (s *Sim) WasReset() bool { return s.wasReset }

// EraseCount returns how many times the page starting at addr was erased.
func (s *Sim) EraseCount(addr uint32) int { return s.eraseCounts[addr] }

// Bytes returns a copy of n bytes of flash contents starting at addr.
func (s *Sim) Bytes(addr, n uint32) []byte {
	out := make([]byte, n)
	copy(out, s.mem[addr:addr+n])
	return out
}

// Preload programs data directly at addr, marking the covered words valid.
// Intended for test setup of a pre-existing application image.
func (s *Sim) Preload(addr uint32, data []byte) {
	copy(s.mem[addr:], data)
	for a := addr &^ 3; a < addr+uint32(len(data)); a += 4 {
		s.valid[a] = true
	}
}
