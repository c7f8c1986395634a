package messaging

import (
	"errors"
	"fmt"
)

// Domain-specific errors for messaging operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrIllegalState is returned when an operation is not valid for the
	// current lifecycle state (publish before Start, connect after Disconnect).
	ErrIllegalState = errors.New("messaging: illegal state")

	// ErrPublisherOverflow is returned when back-pressure rejects a message:
	// the buffer is full, or the transport would block under BackPressureNone.
	ErrPublisherOverflow = errors.New("messaging: publisher overflow")

	// ErrIncompleteMessageDelivery is returned by Terminate when messages were
	// still buffered once the grace period elapsed.
	// The concrete error is *IncompleteMessageDeliveryError.
	ErrIncompleteMessageDelivery = errors.New("messaging: incomplete message delivery")

	// ErrServiceDown is returned or reported when the transport has declared
	// the session down.
	ErrServiceDown = errors.New("messaging: service down")

	// ErrTransport wraps any other failure reported by the transport.
	ErrTransport = errors.New("messaging: transport failure")

	// ErrInvalidArgument is returned for malformed configuration, destinations
	// or listeners.
	ErrInvalidArgument = errors.New("messaging: invalid argument")

	// ErrConnection is returned when the transport fails to establish a session.
	ErrConnection = errors.New("messaging: connection failed")
)

// IncompleteMessageDeliveryError reports the messages that were dropped when a
// publisher terminated with a non-empty buffer.
type IncompleteMessageDeliveryError struct {
	// Undelivered is the number of dropped messages.
	Undelivered int

	// Dropped holds the dropped messages in enqueue order.
	Dropped []*BufferedMessage
}

func (e *IncompleteMessageDeliveryError) Error() string {
	return fmt.Sprintf("%s: %d message(s) undelivered", ErrIncompleteMessageDelivery, e.Undelivered)
}

// Unwrap makes errors.Is(err, ErrIncompleteMessageDelivery) hold.
func (e *IncompleteMessageDeliveryError) Unwrap() error {
	return ErrIncompleteMessageDelivery
}
