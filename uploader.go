package fastbleota

import (
	"time"

	"github.com/pkg/errors"
)

// Link is the host-side view of a device running the update service: a
// writable data channel, a writable control channel, and the notifications
// the device pushes back (progress records and flow-control acks). The
// package includes a serial bridge realization; a BLE central realization
// maps WriteData/WriteControl onto characteristic writes and the reads onto
// notification queues.
type Link interface {
	WriteData(p []byte) error
	WriteControl(b byte) error
	// ReadAck consumes one flow-control acknowledgement, waiting up to
	// timeout for it to arrive.
	ReadAck(timeout time.Duration) error
	// ReadProgress consumes the next progress notification, waiting up
	// to timeout for it to arrive. A non-positive timeout returns
	// immediately unless a notification is already queued.
	ReadProgress(timeout time.Duration) (ProgressRecord, error)
}

// UploaderOptions holds upload tuning parameters.
type UploaderOptions struct {
	// ChunkSize is the data frame payload size. Defaults to 244 bytes,
	// the usable payload of a 247-byte BLE MTU.
	ChunkSize int
	// AckInterval must match the device's flow-control cadence; the
	// uploader pauses for an acknowledgement every AckInterval chunks.
	// 0 disables the pauses.
	AckInterval int
	// Timeout bounds each wait for a device notification.
	Timeout time.Duration
	// SkipCRC declares a zero CRC in the init packet, telling the device
	// to skip integrity verification. The transferred image is then
	// entirely unauthenticated; only use this for development images.
	SkipCRC bool
}

// Uploader drives a complete firmware transfer from the host side: reset,
// init packet, chunked streaming with flow control, and completion wait.
type Uploader struct {
	link     Link
	options  UploaderOptions
	progress func(ProgressRecord)
}

// NewUploader creates an uploader over the given link. Zero option fields
// are replaced with defaults.
func NewUploader(link Link, options UploaderOptions) *Uploader {
	if options.ChunkSize <= 0 {
		options.ChunkSize = 244
	}
	if options.AckInterval < 0 {
		options.AckInterval = DefaultAckInterval
	}
	if options.Timeout <= 0 {
		options.Timeout = 5 * time.Second
	}
	return &Uploader{link: link, options: options}
}

// SetProgressHandler registers a callback invoked for every progress record
// received during Upload.
func (u *Uploader) SetProgressHandler(fn func(ProgressRecord)) {
	u.progress = fn
}

func (u *Uploader) emit(record ProgressRecord) {
	if u.progress != nil {
		u.progress(record)
	}
}

// Upload transfers a complete firmware image and waits until the device
// reports it is applying the update (after which the device resets).
func (u *Uploader) Upload(firmware []byte) error {
	if len(firmware) == 0 {
		return errors.New("empty firmware image")
	}

	// Put the device into a known state; a previous failed transfer may
	// have left it in error.
	if err := u.link.WriteControl(CommandReset); err != nil {
		return errors.Wrap(err, "reset")
	}
	record, err := u.link.ReadProgress(u.options.Timeout)
	if err != nil {
		return errors.Wrap(err, "waiting for reset confirmation")
	}
	if record.State != StateIdle {
		return errors.Errorf("device did not return to idle, state %v", record.State)
	}

	crc := uint32(0)
	if !u.options.SkipCRC {
		crc = CRC32(firmware)
	}
	init := InitPacket{FirmwareSize: uint32(len(firmware)), FirmwareCRC: crc}
	pkgLog.Infof("starting transfer: size=%d crc=0x%08X chunk=%d",
		len(firmware), crc, u.options.ChunkSize)
	if err := u.link.WriteData(init.Bytes()); err != nil {
		return errors.Wrap(err, "init packet")
	}
	record, err = u.link.ReadProgress(u.options.Timeout)
	if err != nil {
		return errors.Wrap(err, "waiting for transfer start")
	}
	if record.State != StateReceiving {
		return errors.Errorf("device rejected init packet: %v", record.Error)
	}

	chunks := 0
	for offset := 0; offset < len(firmware); offset += u.options.ChunkSize {
		end := offset + u.options.ChunkSize
		if end > len(firmware) {
			end = len(firmware)
		}
		if err := u.link.WriteData(firmware[offset:end]); err != nil {
			return errors.Wrapf(err, "chunk at offset %d", offset)
		}
		chunks++
		if u.options.AckInterval > 0 && chunks%u.options.AckInterval == 0 {
			if err := u.link.ReadAck(u.options.Timeout); err != nil {
				return errors.Wrapf(err, "flow-control ack after chunk %d", chunks)
			}
		}
		if done, err := u.drainProgress(); done {
			return err
		}
	}

	return u.waitForCompletion()
}

// drainProgress forwards any progress notifications that have already
// arrived without blocking the transfer. It reports whether a terminal
// state was observed, and with what outcome.
func (u *Uploader) drainProgress() (bool, error) {
	for {
		record, err := u.link.ReadProgress(0)
		if err != nil {
			return false, nil
		}
		u.emit(record)
		if done, err := terminal(record); done {
			return true, err
		}
	}
}

// waitForCompletion consumes progress records until the device reaches a
// terminal condition: applying (success) or error.
func (u *Uploader) waitForCompletion() error {
	deadline := time.Now().Add(u.options.Timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("timed out waiting for completion")
		}
		record, err := u.link.ReadProgress(remaining)
		if err != nil {
			return errors.Wrap(err, "waiting for completion")
		}
		u.emit(record)
		if done, err := terminal(record); done {
			return err
		}
	}
}

// terminal reports whether a progress record ends the transfer.
func terminal(record ProgressRecord) (bool, error) {
	switch record.State {
	case StateError:
		return true, errors.Errorf("device reported error: %v", record.Error)
	case StateApplying:
		pkgLog.Infof("transfer complete, device applying update")
		return true, nil
	}
	return false, nil
}

// Abort sends the abort command.
func (u *Uploader) Abort() error {
	return errors.Wrap(u.link.WriteControl(CommandAbort), "abort")
}

// Reset sends the reset command.
func (u *Uploader) Reset() error {
	return errors.Wrap(u.link.WriteControl(CommandReset), "reset")
}

// Apply asks the device to finalize and apply previously written data.
func (u *Uploader) Apply() error {
	return errors.Wrap(u.link.WriteControl(CommandApply), "apply")
}

// Status requests and returns a fresh progress snapshot.
func (u *Uploader) Status() (ProgressRecord, error) {
	if err := u.link.WriteControl(CommandGetStatus); err != nil {
		return ProgressRecord{}, errors.Wrap(err, "status request")
	}
	record, err := u.link.ReadProgress(u.options.Timeout)
	return record, errors.Wrap(err, "status")
}
