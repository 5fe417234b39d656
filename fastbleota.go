// Package fastbleota implements the device side of the FastBLEOTA firmware
// update protocol: an update controller state machine fed with raw frames
// from a wireless transport, a storage backend contract, and two backend
// realizations (a thin delegating backend and a direct flash-paging backend
// found in the flash sub-package's Device implementations).
//
// The package contains three main components: Controller, Storage and
// Uploader. Controller consumes frames from the transport's data channel,
// streams them into a Storage backend while accumulating a CRC-32, and
// publishes fixed-layout progress records on the progress channel. Storage
// is the capability contract both backends implement. Uploader is the host
// side of the same protocol, usable over any Link (a serial bridge link is
// included).
//
// Also included is a command line tool, found in the cmd/fastbleota
// directory, that serves as both an example on how to use the library and a
// fully functional host program to upload firmware images to devices.
package fastbleota

// State is the update controller state. The numeric values cross the wire in
// progress records and must not be reordered.
type State uint8

const (
	StateIdle State = iota
	// StateWaitingInit is reserved for wire compatibility with deployed
	// upload clients; the controller never enters it.
	StateWaitingInit
	StateReceiving
	StateValidating
	StateApplying
	StateError
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingInit:
		return "waiting"
	case StateReceiving:
		return "receiving"
	case StateValidating:
		return "validating"
	case StateApplying:
		return "applying"
	case StateError:
		return "error"
	default:
		return "unknown state"
	}
}

// ErrorCode identifies a transfer failure. The numeric values cross the wire
// in progress records and must not be reordered.
type ErrorCode uint8

const (
	ErrorNone ErrorCode = iota
	ErrorInitPacketInvalid
	ErrorSizeTooLarge
	ErrorStorageBeginFailed
	ErrorWriteFailed
	ErrorCRCMismatch
	ErrorSizeMismatch
	ErrorFinalizeFailed
	// ErrorTimeout is reserved; idle-transfer timeouts are left to an
	// external watchdog collaborator.
	ErrorTimeout
	ErrorAborted
	ErrorNotSupported
)

// String returns a human readable error description.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "no error"
	case ErrorInitPacketInvalid:
		return "invalid init packet"
	case ErrorSizeTooLarge:
		return "firmware too large"
	case ErrorStorageBeginFailed:
		return "storage begin failed"
	case ErrorWriteFailed:
		return "write failed"
	case ErrorCRCMismatch:
		return "CRC mismatch"
	case ErrorSizeMismatch:
		return "size mismatch"
	case ErrorFinalizeFailed:
		return "finalize failed"
	case ErrorTimeout:
		return "timeout"
	case ErrorAborted:
		return "aborted"
	case ErrorNotSupported:
		return "not supported"
	default:
		return "unknown error"
	}
}

// Control channel command bytes.
const (
	CommandAbort     = 0x00
	CommandReset     = 0x01
	CommandApply     = 0x02
	CommandGetStatus = 0x03
)

// AckValue is the single-byte flow-control acknowledgement notified on the
// control channel every ack-interval accepted chunks.
const AckValue = 0x01

// DefaultAckInterval is the default flow-control cadence in chunks.
// An interval of 0 disables acks entirely.
const DefaultAckInterval = 20
