package fastbleota

import (
	"bytes"
	"testing"
	"time"
)

// fakeBridge is the byte stream of a bridge as seen from the host: reads
// come from the device-to-host buffer, writes land in the host-to-device
// buffer.
type fakeBridge struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (f *fakeBridge) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeBridge) Write(p []byte) (int, error) { return f.out.Write(p) }

func newFakeLink() (*SerialLink, *fakeBridge) {
	bridge := &fakeBridge{}
	return &SerialLink{rw: bridge}, bridge
}

func TestBridgeWriteFraming(t *testing.T) {
	link, bridge := newFakeLink()

	if err := link.WriteData([]byte{0xAA, 0xBB, 0xCC}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x55, 0x01, 0x03, 0x00, 0xAA, 0xBB, 0xCC}
	if got := bridge.out.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("data frame = % X, want % X", got, want)
	}

	bridge.out.Reset()
	if err := link.WriteControl(CommandAbort); err != nil {
		t.Fatal(err)
	}
	want = []byte{0x55, 0x02, 0x01, 0x00, 0x00}
	if got := bridge.out.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("control frame = % X, want % X", got, want)
	}
}

func progressFrame(record ProgressRecord) []byte {
	payload := record.Bytes()
	frame := []byte{0x55, bridgeFrameProgress, byte(len(payload)), 0x00}
	return append(frame, payload...)
}

func TestBridgeReadProgress(t *testing.T) {
	link, bridge := newFakeLink()

	record := ProgressRecord{State: StateReceiving, Percent: 10, BytesReceived: 100, BytesExpected: 1000}
	// Line noise before the sync byte must be skipped.
	bridge.in.Write([]byte{0x00, 0xFF, 0x13})
	bridge.in.Write(progressFrame(record))

	got, err := link.ReadProgress(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got != record {
		t.Errorf("record = %+v, want %+v", got, record)
	}
}

func TestBridgeAckInterleavedWithProgress(t *testing.T) {
	link, bridge := newFakeLink()

	record := ProgressRecord{State: StateReceiving, Percent: 50}
	bridge.in.Write(progressFrame(record))
	bridge.in.Write([]byte{0x55, bridgeFrameAck, 0x01, 0x00, AckValue})

	// ReadAck must queue, not discard, the progress record it skips.
	if err := link.ReadAck(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	got, err := link.ReadProgress(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != record {
		t.Errorf("queued record = %+v, want %+v", got, record)
	}
}

func TestBridgeReadTimeout(t *testing.T) {
	link, _ := newFakeLink()
	if err := link.ReadAck(10 * time.Millisecond); err != ErrLinkTimeout {
		t.Fatalf("err = %v, want %v", err, ErrLinkTimeout)
	}
	if _, err := link.ReadProgress(10 * time.Millisecond); err != ErrLinkTimeout {
		t.Fatalf("err = %v, want %v", err, ErrLinkTimeout)
	}
}
