package fastbleota

import "github.com/pkg/errors"

// Storage errors returned by backend Begin and End.
var (
	ErrStorageInit     = errors.New("storage init failed")
	ErrStorageSize     = errors.New("size exceeds storage capacity")
	ErrStorageFinalize = errors.New("storage finalize failed")
	ErrStorageInactive = errors.New("no update in progress")
)

// The Storage interface is the contract between the update controller and a
// firmware staging backend. The controller drives exactly one transfer at a
// time: Begin, any number of Writes, then End (or Abort at any point), and
// finally Apply after a successful End.
//
// Implementations must accept Write chunks of arbitrary size, not just
// page-multiples, and must treat a short write as unrecoverable (the
// controller aborts the session on any shortfall).
type Storage interface {
	// Begin prepares the destination region for exactly size bytes.
	// It must only be called while inactive.
	Begin(size int) error
	// Write stores the next chunk and returns the number of bytes
	// accepted. A return smaller than len(p) is fatal.
	Write(p []byte) int
	// End flushes any buffered partial word, padded with the erase value,
	// and marks the backend inactive. Called exactly once when all
	// declared bytes have been written.
	End() error
	// Abort discards the in-flight transfer. Always safe to call,
	// including when inactive; the backend is ready for a fresh Begin.
	Abort()
	// Apply commits the staged image and resets the device. It never
	// returns on success and must only be reached after a successful End.
	Apply()

	MaxSize() int
	BytesWritten() int
	IsActive() bool
	PlatformName() string
}
