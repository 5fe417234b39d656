package fastbleota

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// InitPacketSize is the exact length of an init frame; a first frame of any
// other length is a framing error.
const InitPacketSize = 9

// ProgressRecordSize is the exact length of a progress record.
const ProgressRecordSize = 15

// InitPacket is the first frame of a transfer, declaring the image about to
// be streamed. A FirmwareCRC of zero skips the integrity check.
type InitPacket struct {
	FirmwareSize uint32
	FirmwareCRC  uint32
	Flags        uint8
}

// ParseInitPacket decodes a 9-byte little-endian init frame.
func ParseInitPacket(data []byte) (InitPacket, error) {
	if len(data) != InitPacketSize {
		return InitPacket{}, errors.Errorf("init packet must be %d bytes, got %d", InitPacketSize, len(data))
	}
	return InitPacket{
		FirmwareSize: binary.LittleEndian.Uint32(data[0:]),
		FirmwareCRC:  binary.LittleEndian.Uint32(data[4:]),
		Flags:        data[8],
	}, nil
}

// Bytes returns the 9-byte wire encoding of the init packet.
func (p InitPacket) Bytes() []byte {
	b := make([]byte, InitPacketSize)
	binary.LittleEndian.PutUint32(b[0:], p.FirmwareSize)
	binary.LittleEndian.PutUint32(b[4:], p.FirmwareCRC)
	b[8] = p.Flags
	return b
}

// ProgressRecord is the fixed-layout snapshot published on the progress
// channel: state, error, whole percent, byte counters and the running CRC,
// packed little-endian with no padding.
type ProgressRecord struct {
	State         State
	Error         ErrorCode
	Percent       uint8
	BytesReceived uint32
	BytesExpected uint32
	CRC           uint32
}

// Bytes returns the 15-byte wire encoding of the progress record.
func (r ProgressRecord) Bytes() []byte {
	b := make([]byte, ProgressRecordSize)
	b[0] = byte(r.State)
	b[1] = byte(r.Error)
	b[2] = r.Percent
	binary.LittleEndian.PutUint32(b[3:], r.BytesReceived)
	binary.LittleEndian.PutUint32(b[7:], r.BytesExpected)
	binary.LittleEndian.PutUint32(b[11:], r.CRC)
	return b
}

// ParseProgressRecord decodes a progress record as published by the device.
// Used by the host-side uploader.
func ParseProgressRecord(data []byte) (ProgressRecord, error) {
	if len(data) < ProgressRecordSize {
		return ProgressRecord{}, errors.Errorf("progress record must be %d bytes, got %d", ProgressRecordSize, len(data))
	}
	return ProgressRecord{
		State:         State(data[0]),
		Error:         ErrorCode(data[1]),
		Percent:       data[2],
		BytesReceived: binary.LittleEndian.Uint32(data[3:]),
		BytesExpected: binary.LittleEndian.Uint32(data[7:]),
		CRC:           binary.LittleEndian.Uint32(data[11:]),
	}, nil
}
