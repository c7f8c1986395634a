package valkey

import "errors"

// Domain-specific errors for Valkey operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when every connection attempt fails.
	ErrConnectionFailed = errors.New("valkey: connection failed")

	// ErrNotConnected is returned when publishing on a closed session.
	ErrNotConnected = errors.New("valkey: not connected")

	// ErrPublishFailed is returned when a payload cannot be prepared.
	ErrPublishFailed = errors.New("valkey: publish failed")

	// ErrInvalidSession is returned when a session from another transport is used.
	ErrInvalidSession = errors.New("valkey: invalid session")

	// ErrInvalidBrokerURI is returned for a broker URI that is not redis:// or rediss://.
	ErrInvalidBrokerURI = errors.New("valkey: invalid broker uri")

	// ErrReconnectExhausted is reported as the service-down cause once the
	// configured reconnection attempts are used up.
	ErrReconnectExhausted = errors.New("valkey: reconnection attempts exhausted")
)
