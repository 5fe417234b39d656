package fastbleota

// Transport is the outbound half of the wireless adapter the controller
// publishes through. The adapter owns all link bookkeeping (connections,
// subscriptions, attribute metadata); the controller only ever pushes
// values. Calls into the controller are expected to be serialized by the
// underlying stack, one frame or control byte at a time, so Transport
// implementations are invoked from that same single logical thread.
//
// On a subscriber's first subscription to the progress channel the adapter
// should call Controller.Subscribed once, so the new observer immediately
// sees a consistent snapshot.
type Transport interface {
	// PublishProgress sets the progress channel value to a 15-byte
	// progress record and notifies subscribers.
	PublishProgress(record []byte)
	// NotifyControl notifies a single byte on the control channel,
	// used for flow-control acknowledgements.
	NotifyControl(value byte)
}
