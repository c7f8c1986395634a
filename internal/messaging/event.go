package messaging

import "time"

// ServiceEvent describes a connection-level occurrence delivered to listeners.
type ServiceEvent struct {
	Timestamp time.Time
	Message   string
	Cause     error
	BrokerURI string
}

// ReconnectionListener is invoked after the transport has re-established a
// lost session.
type ReconnectionListener func(ServiceEvent)

// ReconnectionAttemptListener is invoked each time the transport starts a
// reconnection attempt.
type ReconnectionAttemptListener func(ServiceEvent)

// ServiceInterruptionListener is invoked once the transport declares the
// session down.
type ServiceInterruptionListener func(ServiceEvent)

// ListenerID identifies a registered listener for later removal.
type ListenerID uint64

type listenerKind int

const (
	kindReconnected listenerKind = iota
	kindReconnectAttempt
	kindServiceInterrupted
)

func (k listenerKind) String() string {
	switch k {
	case kindReconnected:
		return "reconnected"
	case kindReconnectAttempt:
		return "reconnect_attempt"
	case kindServiceInterrupted:
		return "service_interrupted"
	default:
		return "unknown"
	}
}

type registration struct {
	id ListenerID
	fn func(ServiceEvent)
}
