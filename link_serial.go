package fastbleota

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Bridge frame types. A development board exposes the update service over a
// UART bridge with a minimal framing: sync byte, type, little-endian uint16
// length, payload. Host-to-device frames carry data/control channel writes;
// device-to-host frames carry progress records and flow-control acks.
const (
	bridgeSync          = 0x55
	bridgeFrameData     = 0x01
	bridgeFrameControl  = 0x02
	bridgeFrameProgress = 0x81
	bridgeFrameAck      = 0x82
)

// ErrLinkTimeout is returned when an expected device notification does not
// arrive in time.
var ErrLinkTimeout = errors.New("link read timed out")

// SerialLink implements Link over a serial UART bridge.
type SerialLink struct {
	portConfig serial.Config
	port       *serial.Port
	rw         io.ReadWriter

	progressQueue []ProgressRecord
	ackQueue      int
}

// NewSerialLink creates a link over the named serial port. Connect opens the
// port.
func NewSerialLink(port string, baud int) (*SerialLink, error) {
	l := new(SerialLink)
	l.portConfig.Name = port
	l.portConfig.Baud = baud
	// Short read timeout so notification waits can poll their deadline.
	l.portConfig.ReadTimeout = 50 * time.Millisecond
	return l, nil
}

// Connect opens the serial port.
func (l *SerialLink) Connect() error {
	var err error
	l.port, err = serial.OpenPort(&l.portConfig)
	if err != nil {
		return err
	}
	// On Linux with USB serial ports, give received data time to make
	// its way up the driver stack before flushing.
	time.Sleep(time.Millisecond * 100)
	l.port.Flush()
	l.rw = l.port
	return nil
}

// Disconnect closes the serial port.
func (l *SerialLink) Disconnect() {
	if l.port != nil {
		l.port.Close()
	}
}

func (l *SerialLink) writeFrame(frameType byte, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	frame[0] = bridgeSync
	frame[1] = frameType
	binary.LittleEndian.PutUint16(frame[2:], uint16(len(payload)))
	copy(frame[4:], payload)
	_, err := l.rw.Write(frame)
	return err
}

func (l *SerialLink) recv(count int) ([]byte, error) {
	resp := make([]byte, 0, count)
	for len(resp) < cap(resp) {
		buf := make([]byte, cap(resp)-len(resp))
		n, err := l.rw.Read(buf)
		if err != nil {
			return nil, err
		}
		resp = append(resp, buf[:n]...)
	}
	return resp, nil
}

// readFrame reads one device-to-host frame, resynchronizing on the sync
// byte if the stream contains noise.
func (l *SerialLink) readFrame() (byte, []byte, error) {
	for {
		b, err := l.recv(1)
		if err != nil {
			return 0, nil, err
		}
		if b[0] == bridgeSync {
			break
		}
	}
	header, err := l.recv(3)
	if err != nil {
		return 0, nil, err
	}
	length := int(binary.LittleEndian.Uint16(header[1:]))
	payload, err := l.recv(length)
	if err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

// pump reads incoming frames into the notification queues until deadline or
// until stop reports the wait is satisfied.
func (l *SerialLink) pump(deadline time.Time, stop func() bool) error {
	for !stop() {
		if !time.Now().Before(deadline) {
			return ErrLinkTimeout
		}
		frameType, payload, err := l.readFrame()
		if err != nil {
			// The port read timeout expired with no data; keep
			// polling until the caller's deadline.
			continue
		}
		switch frameType {
		case bridgeFrameProgress:
			record, err := ParseProgressRecord(payload)
			if err != nil {
				pkgLog.Debugf("discarding bad progress frame: %v", err)
				continue
			}
			l.progressQueue = append(l.progressQueue, record)
		case bridgeFrameAck:
			l.ackQueue++
		default:
			pkgLog.Debugf("discarding frame type 0x%02X", frameType)
		}
	}
	return nil
}

func (l *SerialLink) WriteData(p []byte) error {
	return l.writeFrame(bridgeFrameData, p)
}

func (l *SerialLink) WriteControl(b byte) error {
	return l.writeFrame(bridgeFrameControl, []byte{b})
}

func (l *SerialLink) ReadAck(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if err := l.pump(deadline, func() bool { return l.ackQueue > 0 }); err != nil {
		return err
	}
	l.ackQueue--
	return nil
}

func (l *SerialLink) ReadProgress(timeout time.Duration) (ProgressRecord, error) {
	deadline := time.Now().Add(timeout)
	if err := l.pump(deadline, func() bool { return len(l.progressQueue) > 0 }); err != nil {
		return ProgressRecord{}, err
	}
	record := l.progressQueue[0]
	l.progressQueue = l.progressQueue[1:]
	return record, nil
}
