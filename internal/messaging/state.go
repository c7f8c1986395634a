package messaging

import "fmt"

// ConnectionState is the lifecycle state of a Service.
//
//	NotConnected --Connect--> Connecting --ok--> Connected --Disconnect--> Disconnecting --> Disconnected
//	     ^                        |                  |
//	     +-------- failure -------+                  +--transport down--> Down --Disconnect--> Disconnecting
//
// Down is terminal for the session: Connect fails until a new Service is built.
type ConnectionState int

// Connection states.
const (
	NotConnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	Disconnected
	Down
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("connection_state(%d)", int(s))
	}
}

var connectionTransitions = map[ConnectionState][]ConnectionState{
	NotConnected:  {Connecting, Disconnecting},
	Connecting:    {Connected, NotConnected, Down},
	Connected:     {Disconnecting, Down},
	Disconnecting: {Disconnected},
	Down:          {Disconnecting},
	Disconnected:  nil,
}

func (s ConnectionState) canTransitionTo(next ConnectionState) bool {
	for _, allowed := range connectionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PublisherState is the lifecycle state of a Publisher.
//
//	NotStarted -> Starting -> Started <-> Ready <-> NotReady -> Terminating -> Terminated
//
// Terminated has no transition out. A publisher that was never started moves
// straight to Terminated.
type PublisherState int

// Publisher states.
const (
	NotStarted PublisherState = iota
	Starting
	Started
	Ready
	NotReady
	Terminating
	Terminated
)

func (s PublisherState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Ready:
		return "ready"
	case NotReady:
		return "not_ready"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("publisher_state(%d)", int(s))
	}
}

var publisherTransitions = map[PublisherState][]PublisherState{
	NotStarted:  {Starting, Terminated},
	Starting:    {Started, Terminating},
	Started:     {Ready, NotReady, Terminating},
	Ready:       {NotReady, Terminating},
	NotReady:    {Ready, Terminating},
	Terminating: {Terminated},
	Terminated:  nil,
}

func (s PublisherState) canTransitionTo(next PublisherState) bool {
	for _, allowed := range publisherTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// active reports whether a publisher in this state accepts work.
func (s PublisherState) active() bool {
	return s == Started || s == Ready || s == NotReady
}
