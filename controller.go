package fastbleota

// Controller owns the transfer state machine. It consumes raw frames from
// the transport's data channel, single command bytes from its control
// channel, streams accepted chunks into the storage backend while
// accumulating a CRC-32, and publishes a progress record on every state or
// whole-percent change.
//
// All methods must be invoked from a single logical thread; the wireless
// stack delivers one frame or control byte at a time and never reenters the
// controller. At most one transfer is active at any moment, enforced by the
// state machine itself.
type Controller struct {
	storage   Storage
	transport Transport
	callbacks Callbacks

	ackInterval uint32

	state        State
	lastError    ErrorCode
	expectedSize int
	receivedSize int
	expectedCRC  uint32
	runningCRC   uint32
	chunkCount   uint32
	lastPercent  uint8
}

// Option configures a Controller.
type Option func(*Controller)

// WithCallbacks registers a user-event receiver. The controller holds the
// single reference but never owns it.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Controller) {
		if cb != nil {
			c.callbacks = cb
		}
	}
}

// WithAckInterval sets the flow-control cadence: an acknowledgement byte is
// notified on the control channel every n accepted chunks. n = 0 disables
// flow control.
func WithAckInterval(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.ackInterval = uint32(n)
		}
	}
}

// NewController creates an update controller over the given storage backend
// and transport. It immediately publishes an idle progress record so the
// progress channel holds a consistent snapshot before the first subscriber.
func NewController(storage Storage, transport Transport, opts ...Option) *Controller {
	c := &Controller{
		storage:     storage,
		transport:   transport,
		callbacks:   NopCallbacks{},
		ackInterval: DefaultAckInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	pkgLog.Infof("update controller initialized on %s", storage.PlatformName())
	return c
}

// State returns the current transfer state.
func (c *Controller) State() State { return c.state }

// LastError returns the error kind of the most recent error transition. It
// is only meaningful while State is StateError.
func (c *Controller) LastError() ErrorCode { return c.lastError }

// Platform returns the storage backend's platform name.
func (c *Controller) Platform() string { return c.storage.PlatformName() }

// GetProgress returns the transfer completion as a percentage. It is a
// reporting value only; completion decisions use exact byte counts.
func (c *Controller) GetProgress() float64 {
	if c.expectedSize == 0 {
		return 0
	}
	return float64(c.receivedSize) * 100 / float64(c.expectedSize)
}

// Reset aborts any in-flight backend write, zeroes the session and returns
// to StateIdle. It is idempotent and always publishes exactly one progress
// record, even from StateIdle, so observers see a consistent snapshot.
func (c *Controller) Reset() {
	if c.state == StateReceiving || c.state == StateValidating {
		c.storage.Abort()
	}
	c.state = StateIdle
	c.lastError = ErrorNone
	c.expectedSize = 0
	c.receivedSize = 0
	c.expectedCRC = 0
	c.runningCRC = crcInit()
	c.chunkCount = 0
	c.lastPercent = 0
	c.SendProgressNotification()
}

// ProcessDataPacket handles one frame written to the data channel: the init
// packet while idle, a firmware chunk while receiving. Frames are ignored in
// the error state; only an explicit reset or abort command leaves it.
func (c *Controller) ProcessDataPacket(data []byte) {
	switch c.state {
	case StateIdle:
		c.processInitPacket(data)
	case StateReceiving:
		c.processDataChunk(data)
	}
}

func (c *Controller) processInitPacket(data []byte) {
	init, err := ParseInitPacket(data)
	if err != nil {
		pkgLog.Infof("bad init packet: %v", err)
		c.setError(ErrorInitPacketInvalid)
		return
	}
	if init.FirmwareSize == 0 {
		c.setError(ErrorInitPacketInvalid)
		return
	}
	if int(init.FirmwareSize) > c.storage.MaxSize() {
		pkgLog.Infof("firmware too large: %d > %d", init.FirmwareSize, c.storage.MaxSize())
		c.setError(ErrorSizeTooLarge)
		return
	}
	if err := c.storage.Begin(int(init.FirmwareSize)); err != nil {
		pkgLog.Infof("storage begin failed: %v", err)
		c.setError(ErrorStorageBeginFailed)
		return
	}

	c.expectedSize = int(init.FirmwareSize)
	c.expectedCRC = init.FirmwareCRC
	c.receivedSize = 0
	c.runningCRC = crcInit()
	c.chunkCount = 0
	c.lastPercent = 0
	c.state = StateReceiving

	pkgLog.Infof("transfer started: size=%d crc=0x%08X flags=0x%02X",
		init.FirmwareSize, init.FirmwareCRC, init.Flags)
	c.SendProgressNotification()
	c.callbacks.OnStart(c.expectedSize, c.expectedCRC)
}

func (c *Controller) processDataChunk(data []byte) {
	c.runningCRC = crcUpdate(c.runningCRC, data)

	written := c.storage.Write(data)
	if written != len(data) {
		pkgLog.Infof("chunk write failed: wrote %d of %d", written, len(data))
		c.setError(ErrorWriteFailed)
		return
	}

	c.receivedSize += written
	c.chunkCount++

	if c.receivedSize > c.expectedSize {
		pkgLog.Infof("received %d bytes, expected %d", c.receivedSize, c.expectedSize)
		c.setError(ErrorSizeMismatch)
		return
	}

	percent := uint8(c.receivedSize * 100 / c.expectedSize)
	if percent != c.lastPercent || c.receivedSize == c.expectedSize {
		c.lastPercent = percent
		c.SendProgressNotification()
		c.callbacks.OnProgress(c.receivedSize, c.expectedSize, c.GetProgress())
	}

	if c.ackInterval > 0 && c.chunkCount%c.ackInterval == 0 {
		c.transport.NotifyControl(AckValue)
	}

	if c.receivedSize == c.expectedSize {
		c.finalizeUpdate()
	}
}

// finalizeUpdate runs the completion path: CRC validation, storage
// finalization and the irreversible apply. A declared CRC of zero skips the
// integrity check; that unauthenticated mode is accepted deliberately so
// clients can push unsigned development images.
func (c *Controller) finalizeUpdate() {
	c.state = StateValidating
	c.SendProgressNotification()

	crc := crcFinalize(c.runningCRC)
	pkgLog.Infof("validating %d bytes in %d chunks: crc=0x%08X expected=0x%08X",
		c.receivedSize, c.chunkCount, crc, c.expectedCRC)
	if c.expectedCRC != 0 && crc != c.expectedCRC {
		c.setError(ErrorCRCMismatch)
		return
	}

	if err := c.storage.End(); err != nil {
		pkgLog.Infof("storage end failed: %v", err)
		c.setError(ErrorFinalizeFailed)
		return
	}

	c.state = StateApplying
	c.SendProgressNotification()
	c.callbacks.OnComplete()

	pkgLog.Infof("applying update")
	c.storage.Apply()
	// Apply resets the device under success; reaching here means the
	// backend declined (or a test double returned).
}

// ProcessControlCommand handles one command byte written to the control
// channel. Unknown commands are logged and ignored.
func (c *Controller) ProcessControlCommand(command byte) {
	switch command {
	case CommandAbort:
		pkgLog.Infof("abort command received")
		c.callbacks.OnAbort()
		c.Reset()
	case CommandReset:
		pkgLog.Infof("reset command received")
		c.Reset()
	case CommandApply:
		pkgLog.Infof("apply command received")
		if c.state == StateIdle && c.storage.BytesWritten() > 0 {
			c.finalizeUpdate()
		}
	case CommandGetStatus:
		c.SendProgressNotification()
	default:
		pkgLog.Debugf("unknown control command 0x%02X", command)
	}
}

// Subscribed tells the controller a client has subscribed to the progress
// channel. The transport adapter calls it on the first subscription so the
// new observer immediately sees a consistent snapshot.
func (c *Controller) Subscribed() {
	c.SendProgressNotification()
}

// SendProgressNotification publishes a fresh progress record snapshot on the
// progress channel.
func (c *Controller) SendProgressNotification() {
	percent := 0
	if c.expectedSize > 0 {
		percent = c.receivedSize * 100 / c.expectedSize
	}
	// An overrun leaves receivedSize above expectedSize; the wire field
	// is bounded to 0-100.
	if percent > 100 {
		percent = 100
	}
	record := ProgressRecord{
		State:         c.state,
		Error:         c.lastError,
		Percent:       uint8(percent),
		BytesReceived: uint32(c.receivedSize),
		BytesExpected: uint32(c.expectedSize),
		CRC:           crcFinalize(c.runningCRC),
	}
	c.transport.PublishProgress(record.Bytes())
}

// setError aborts the backend, transitions to the error state and publishes
// one progress record carrying the error code. The progress channel is the
// only externally visible error surface; no error crosses the controller
// boundary any other way.
func (c *Controller) setError(code ErrorCode) {
	c.lastError = code
	c.state = StateError
	c.storage.Abort()
	pkgLog.Infof("update failed: %v", code)
	c.SendProgressNotification()
	c.callbacks.OnError(code)
}
