package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a session that has been
	// disconnected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when every connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a message cannot be handed to the client.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidSession is returned when a session from another transport is used.
	ErrInvalidSession = errors.New("mqtt: invalid session")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrTimeout is returned when a connection attempt times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrReconnectExhausted is reported as the service-down cause once the
	// configured reconnection attempts are used up.
	ErrReconnectExhausted = errors.New("mqtt: reconnection attempts exhausted")
)
