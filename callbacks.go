package fastbleota

// Callbacks receives user-level transfer events. Implementations should
// return quickly; they run inside the transport's frame-processing context.
// Embed NopCallbacks to implement only the events of interest:
//
//	type myEvents struct{ fastbleota.NopCallbacks }
//
//	func (myEvents) OnComplete() { ... }
type Callbacks interface {
	// OnStart is called once a valid init packet has been accepted and
	// the storage backend prepared.
	OnStart(expectedSize int, expectedCRC uint32)
	// OnProgress is called on every whole-percent change.
	OnProgress(received, expected int, percent float64)
	// OnComplete is called after the image has been validated and
	// finalized, immediately before it is applied.
	OnComplete()
	// OnError is called on any error transition.
	OnError(code ErrorCode)
	// OnAbort is called when the client sends the abort command, before
	// the session is reset.
	OnAbort()
}

// NopCallbacks is a Callbacks implementation that ignores every event.
type NopCallbacks struct{}

func (NopCallbacks) OnStart(expectedSize int, expectedCRC uint32)       {}
func (NopCallbacks) OnProgress(received, expected int, percent float64) {}
func (NopCallbacks) OnComplete()                                        {}
func (NopCallbacks) OnError(code ErrorCode)                             {}
func (NopCallbacks) OnAbort()                                           {}
