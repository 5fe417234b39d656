package fastbleota

import (
	"bytes"
	"testing"
)

// fakeStorage records the controller's storage traffic.
type fakeStorage struct {
	maxSize    int
	beginErr   error
	endErr     error
	shortWrite bool

	active  bool
	buf     bytes.Buffer
	written int

	begins, ends, aborts, applies int
}

func newFakeStorage(maxSize int) *fakeStorage {
	return &fakeStorage{maxSize: maxSize}
}

func (f *fakeStorage) Begin(size int) error {
	f.begins++
	if f.beginErr != nil {
		return f.beginErr
	}
	f.buf.Reset()
	f.written = 0
	f.active = true
	return nil
}

func (f *fakeStorage) Write(p []byte) int {
	if !f.active {
		return 0
	}
	if f.shortWrite && len(p) > 0 {
		p = p[:len(p)-1]
	}
	f.buf.Write(p)
	f.written += len(p)
	return len(p)
}

func (f *fakeStorage) End() error {
	f.ends++
	f.active = false
	return f.endErr
}

func (f *fakeStorage) Abort() {
	f.aborts++
	f.active = false
}

func (f *fakeStorage) Apply() { f.applies++ }

func (f *fakeStorage) MaxSize() int         { return f.maxSize }
func (f *fakeStorage) BytesWritten() int    { return f.written }
func (f *fakeStorage) IsActive() bool       { return f.active }
func (f *fakeStorage) PlatformName() string { return "fake" }

// recordingTransport collects everything the controller publishes.
type recordingTransport struct {
	records []ProgressRecord
	acks    []byte
}

func (r *recordingTransport) PublishProgress(record []byte) {
	parsed, err := ParseProgressRecord(record)
	if err != nil {
		panic(err)
	}
	r.records = append(r.records, parsed)
}

func (r *recordingTransport) NotifyControl(value byte) {
	r.acks = append(r.acks, value)
}

func (r *recordingTransport) last() ProgressRecord {
	return r.records[len(r.records)-1]
}

// eventRecorder counts user callbacks.
type eventRecorder struct {
	NopCallbacks
	starts, completes, aborts int
	errs                      []ErrorCode
}

func (e *eventRecorder) OnStart(expectedSize int, expectedCRC uint32) { e.starts++ }
func (e *eventRecorder) OnComplete()                                  { e.completes++ }
func (e *eventRecorder) OnError(code ErrorCode)                       { e.errs = append(e.errs, code) }
func (e *eventRecorder) OnAbort()                                     { e.aborts++ }

func newTestController(maxSize int, opts ...Option) (*Controller, *fakeStorage, *recordingTransport) {
	storage := newFakeStorage(maxSize)
	transport := &recordingTransport{}
	c := NewController(storage, transport, opts...)
	return c, storage, transport
}

func initPacket(size int, crc uint32) []byte {
	return InitPacket{FirmwareSize: uint32(size), FirmwareCRC: crc}.Bytes()
}

func TestNewControllerPublishesIdleSnapshot(t *testing.T) {
	_, _, transport := newTestController(1024)
	if len(transport.records) != 1 {
		t.Fatalf("got %d records, want 1", len(transport.records))
	}
	record := transport.last()
	if record.State != StateIdle || record.Error != ErrorNone {
		t.Fatalf("initial record = %+v", record)
	}
}

func TestInitPacketStartsTransfer(t *testing.T) {
	events := &eventRecorder{}
	c, storage, transport := newTestController(1024, WithCallbacks(events))

	c.ProcessDataPacket(initPacket(512, 0xCBF43926))

	if c.State() != StateReceiving {
		t.Fatalf("state = %v, want receiving", c.State())
	}
	if storage.begins != 1 {
		t.Errorf("begins = %d, want 1", storage.begins)
	}
	if events.starts != 1 {
		t.Errorf("OnStart calls = %d, want 1", events.starts)
	}
	record := transport.last()
	if record.BytesExpected != 512 || record.BytesReceived != 0 {
		t.Errorf("record = %+v", record)
	}
}

func TestInitPacketRejections(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		want   ErrorCode
	}{
		{"wrong length", make([]byte, 8), ErrorInitPacketInvalid},
		{"zero size", initPacket(0, 0), ErrorInitPacketInvalid},
		{"too large", initPacket(2048, 0), ErrorSizeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, storage, transport := newTestController(1024)
			c.ProcessDataPacket(tt.packet)
			if c.State() != StateError {
				t.Fatalf("state = %v, want error", c.State())
			}
			if c.LastError() != tt.want {
				t.Errorf("error = %v, want %v", c.LastError(), tt.want)
			}
			if storage.begins != 0 {
				t.Errorf("begin called %d times before validation", storage.begins)
			}
			if record := transport.last(); record.Error != tt.want {
				t.Errorf("published error = %v, want %v", record.Error, tt.want)
			}
		})
	}
}

func TestStorageBeginFailure(t *testing.T) {
	c, storage, _ := newTestController(1024)
	storage.beginErr = ErrStorageInit

	c.ProcessDataPacket(initPacket(512, 0))

	if c.LastError() != ErrorStorageBeginFailed {
		t.Fatalf("error = %v, want storage begin failed", c.LastError())
	}
	if storage.aborts == 0 {
		t.Error("backend not aborted on error")
	}
}

func TestCompleteTransfer(t *testing.T) {
	events := &eventRecorder{}
	c, storage, transport := newTestController(4096, WithCallbacks(events))

	firmware := make([]byte, 300)
	for i := range firmware {
		firmware[i] = byte(i)
	}
	c.ProcessDataPacket(initPacket(len(firmware), CRC32(firmware)))
	for offset := 0; offset < len(firmware); offset += 100 {
		c.ProcessDataPacket(firmware[offset : offset+100])
	}

	if c.State() != StateApplying {
		t.Fatalf("state = %v, want applying", c.State())
	}
	if storage.ends != 1 || storage.applies != 1 {
		t.Fatalf("ends = %d, applies = %d, want 1 and 1", storage.ends, storage.applies)
	}
	if events.completes != 1 {
		t.Errorf("OnComplete calls = %d, want 1", events.completes)
	}
	if !bytes.Equal(storage.buf.Bytes(), firmware) {
		t.Error("stored image differs from sent image")
	}

	// The validating and applying transitions must both have been
	// published within the same processing step as the final chunk.
	sawValidating := false
	for _, record := range transport.records {
		if record.State == StateValidating {
			sawValidating = true
		}
	}
	if !sawValidating {
		t.Error("validating state never published")
	}
	if transport.last().State != StateApplying {
		t.Errorf("last record state = %v, want applying", transport.last().State)
	}
}

func TestCRCMismatch(t *testing.T) {
	events := &eventRecorder{}
	c, storage, _ := newTestController(4096, WithCallbacks(events))

	firmware := make([]byte, 64)
	c.ProcessDataPacket(initPacket(len(firmware), 0x12345678))
	c.ProcessDataPacket(firmware)

	if c.LastError() != ErrorCRCMismatch {
		t.Fatalf("error = %v, want crc mismatch", c.LastError())
	}
	if storage.applies != 0 {
		t.Error("apply invoked despite CRC mismatch")
	}
	if len(events.errs) != 1 || events.errs[0] != ErrorCRCMismatch {
		t.Errorf("OnError calls = %v", events.errs)
	}
}

// A declared CRC of zero skips verification entirely; this is the accepted
// unauthenticated-update mode.
func TestZeroCRCSkipsVerification(t *testing.T) {
	c, storage, _ := newTestController(4096)

	firmware := make([]byte, 64)
	c.ProcessDataPacket(initPacket(len(firmware), 0))
	c.ProcessDataPacket(firmware)

	if c.State() != StateApplying {
		t.Fatalf("state = %v, want applying", c.State())
	}
	if storage.applies != 1 {
		t.Errorf("applies = %d, want 1", storage.applies)
	}
}

func TestChunkWriteFailure(t *testing.T) {
	c, storage, _ := newTestController(4096)
	storage.shortWrite = true

	c.ProcessDataPacket(initPacket(64, 0))
	c.ProcessDataPacket(make([]byte, 32))

	if c.LastError() != ErrorWriteFailed {
		t.Fatalf("error = %v, want write failed", c.LastError())
	}
}

func TestOverrun(t *testing.T) {
	c, storage, transport := newTestController(4096)

	c.ProcessDataPacket(initPacket(10, 0))
	c.ProcessDataPacket(make([]byte, 16))

	if c.LastError() != ErrorSizeMismatch {
		t.Fatalf("error = %v, want size mismatch", c.LastError())
	}
	// The published percent is bounded even though 16 of 10 bytes landed.
	if got := transport.last().Percent; got != 100 {
		t.Errorf("published percent = %d, want 100", got)
	}
	if storage.applies != 0 || storage.ends != 0 {
		t.Error("completion path ran after overrun")
	}

	// No further writes are accepted.
	written := storage.written
	c.ProcessDataPacket(make([]byte, 8))
	if storage.written != written {
		t.Error("write accepted in error state")
	}
}

func TestResetAlwaysPublishesOneSnapshot(t *testing.T) {
	c, storage, transport := newTestController(4096)

	// From idle.
	before := len(transport.records)
	c.Reset()
	if len(transport.records) != before+1 {
		t.Fatalf("reset from idle published %d records, want 1", len(transport.records)-before)
	}

	// Mid-transfer: the backend write is aborted and counters zeroed.
	c.ProcessDataPacket(initPacket(100, 0))
	c.ProcessDataPacket(make([]byte, 40))
	before = len(transport.records)
	aborts := storage.aborts
	c.Reset()
	if len(transport.records) != before+1 {
		t.Fatalf("reset mid-transfer published %d records, want 1", len(transport.records)-before)
	}
	if storage.aborts != aborts+1 {
		t.Error("in-flight backend write not aborted")
	}
	record := transport.last()
	if record.State != StateIdle || record.BytesReceived != 0 || record.BytesExpected != 0 {
		t.Errorf("post-reset record = %+v", record)
	}

	// From error.
	c.ProcessDataPacket(make([]byte, 3))
	c.ProcessControlCommand(CommandReset)
	if c.State() != StateIdle || c.LastError() != ErrorNone {
		t.Errorf("state = %v error = %v after reset", c.State(), c.LastError())
	}
}

func TestAbortCommand(t *testing.T) {
	events := &eventRecorder{}
	c, _, _ := newTestController(4096, WithCallbacks(events))

	c.ProcessDataPacket(initPacket(100, 0))
	c.ProcessControlCommand(CommandAbort)

	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	if events.aborts != 1 {
		t.Errorf("OnAbort calls = %d, want 1", events.aborts)
	}
}

func TestFlowControlCadence(t *testing.T) {
	c, _, transport := newTestController(4096, WithAckInterval(4))

	c.ProcessDataPacket(initPacket(1000, 0))
	for i := 0; i < 10; i++ {
		c.ProcessDataPacket(make([]byte, 10))
	}

	if len(transport.acks) != 2 {
		t.Fatalf("got %d acks after 10 chunks at interval 4, want 2", len(transport.acks))
	}
	for _, ack := range transport.acks {
		if ack != AckValue {
			t.Errorf("ack value = 0x%02X, want 0x%02X", ack, AckValue)
		}
	}
}

func TestFlowControlDisabled(t *testing.T) {
	c, _, transport := newTestController(4096, WithAckInterval(0))

	c.ProcessDataPacket(initPacket(1000, 0))
	for i := 0; i < 50; i++ {
		c.ProcessDataPacket(make([]byte, 10))
	}
	if len(transport.acks) != 0 {
		t.Fatalf("got %d acks with flow control disabled", len(transport.acks))
	}
}

func TestGetStatusRepublishes(t *testing.T) {
	c, _, transport := newTestController(4096)
	c.ProcessDataPacket(initPacket(100, 0))

	before := len(transport.records)
	state := c.State()
	c.ProcessControlCommand(CommandGetStatus)

	if len(transport.records) != before+1 {
		t.Fatal("get status did not republish")
	}
	if c.State() != state {
		t.Error("get status changed state")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	c, _, transport := newTestController(4096)
	before := len(transport.records)
	c.ProcessControlCommand(0x7F)
	if c.State() != StateIdle || len(transport.records) != before {
		t.Error("unknown command had an effect")
	}
}

func TestApplyCommandFromIdle(t *testing.T) {
	c, storage, _ := newTestController(4096)

	// Nothing staged: apply is a no-op.
	c.ProcessControlCommand(CommandApply)
	if storage.applies != 0 {
		t.Fatal("apply ran with no staged data")
	}

	// With staged bytes the completion path runs without a new frame.
	storage.written = 128
	storage.active = true
	c.ProcessControlCommand(CommandApply)
	if storage.ends != 1 || storage.applies != 1 {
		t.Fatalf("ends = %d, applies = %d, want 1 and 1", storage.ends, storage.applies)
	}
}

func TestProgressNotifiedPerWholePercent(t *testing.T) {
	c, _, transport := newTestController(4096)

	c.ProcessDataPacket(initPacket(1000, 0))
	before := len(transport.records)

	// One chunk crossing a percent boundary notifies; a second chunk
	// inside the same percent does not.
	c.ProcessDataPacket(make([]byte, 15))
	c.ProcessDataPacket(make([]byte, 3))
	if got := len(transport.records) - before; got != 1 {
		t.Fatalf("got %d notifications across one percent boundary, want 1", got)
	}

	record := transport.last()
	if record.Percent != 1 {
		t.Errorf("percent = %d, want 1", record.Percent)
	}
}

func TestSubscribedRepublishesSnapshot(t *testing.T) {
	c, _, transport := newTestController(4096)
	before := len(transport.records)
	c.Subscribed()
	if len(transport.records) != before+1 {
		t.Fatal("subscription did not republish the snapshot")
	}
	if transport.last().State != StateIdle {
		t.Errorf("snapshot state = %v, want idle", transport.last().State)
	}
}

func TestGetProgress(t *testing.T) {
	c, _, _ := newTestController(4096)
	if c.GetProgress() != 0 {
		t.Fatalf("idle progress = %v, want 0", c.GetProgress())
	}
	c.ProcessDataPacket(initPacket(200, 0))
	c.ProcessDataPacket(make([]byte, 50))
	if c.GetProgress() != 25 {
		t.Fatalf("progress = %v, want 25", c.GetProgress())
	}
}
