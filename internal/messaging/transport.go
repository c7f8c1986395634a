package messaging

import "context"

// PublishResult is the non-error outcome of Transport.Publish.
type PublishResult int

// Publish results.
const (
	// PublishOK means the transport accepted the message.
	PublishOK PublishResult = iota

	// PublishWouldBlock means the transport has no room right now. It will
	// call TransportEvents.OnCanSend once room is available again.
	PublishWouldBlock
)

func (r PublishResult) String() string {
	if r == PublishWouldBlock {
		return "would_block"
	}
	return "ok"
}

// Session is the opaque handle returned by Transport.Connect.
type Session any

// Transport is the broker connection the messaging core drives.
//
// Publish must be safe to call repeatedly with the same message after a
// PublishWouldBlock result.
type Transport interface {
	Connect(ctx context.Context, cfg TransportConfig, events TransportEvents) (Session, error)
	Disconnect(session Session) error
	Publish(session Session, msg *OutboundMessage, destination Topic) (PublishResult, error)
}

// TransportEvents receives the asynchronous notifications of a Transport.
// Implementations must not block, except OnPublishFailed.
type TransportEvents interface {
	OnCanSend()
	OnServiceDown(err error)
	OnReconnected(event ServiceEvent)
	OnReconnecting(event ServiceEvent)

	// OnPublishFailed reports a message the transport accepted with
	// PublishOK but could not deliver. It runs the owning publisher's
	// failure listener, so transports call it from their own completion
	// goroutine and never from a client library callback.
	OnPublishFailed(msg *OutboundMessage, destination Topic, err error)
}
