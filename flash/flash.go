// Package flash abstracts the word-addressable paged flash controller that
// the direct-flash storage backend writes through. The Device interface maps
// one to one onto the NVMC register operations of nRF-class parts; a
// register-backed implementation for embedded targets and an in-memory
// simulator for host-side testing are provided.
package flash

// EraseValue is the bit pattern flash reads as after a page erase. Partial
// trailing words are padded with it.
const EraseValue uint32 = 0xFFFFFFFF

// Device is the capability contract for a flash controller. All operations
// are blocking: erase and word writes poll the controller's ready flag and
// return only once the operation has committed. A stuck controller stalls
// the caller; that is a hardware-failure scenario, not handled here.
type Device interface {
	// PageSize returns the minimum erasable unit in bytes.
	PageSize() uint32
	// Size returns the total flash size in bytes.
	Size() uint32
	// AppStart returns the address where the running application begins
	// (after any bootloader or SoftDevice).
	AppStart() uint32

	// ErasePage erases one page; addr must be the first address of the
	// page.
	ErasePage(addr uint32)
	// WriteWord writes one 32-bit word at a word-aligned address. The
	// containing page must have been erased since it was last written.
	WriteWord(addr uint32, value uint32)
	// ReadWord reads one 32-bit word at a word-aligned address.
	ReadWord(addr uint32) uint32

	// Critical runs fn with interrupts disabled. Nothing else executes
	// until fn returns; fn must not depend on timers or the scheduler.
	Critical(fn func())
	// Reset triggers a system reset. On hardware it does not return.
	Reset()

	// Name identifies the platform, for diagnostics.
	Name() string
}
