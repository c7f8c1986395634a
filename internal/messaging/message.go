package messaging

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Message limits.
const (
	// maxPayloadSize caps a single payload (1MB).
	maxPayloadSize = 1 << 20

	// maxTopicLength is the longest destination accepted, in bytes.
	maxTopicLength = 65535
)

// DeliveryMode selects how the transport is asked to deliver a message.
type DeliveryMode int

// Delivery modes.
const (
	// DeliveryDirect is fire-and-forget: messages still buffered when the
	// service goes down are reported to the failure listener.
	DeliveryDirect DeliveryMode = iota

	// DeliveryPersistent asks the transport for acknowledged delivery.
	// Buffered messages are kept (not reported) when the service goes down.
	DeliveryPersistent
)

func (m DeliveryMode) String() string {
	if m == DeliveryPersistent {
		return "persistent"
	}
	return "direct"
}

// ParseDeliveryMode converts a configuration string to a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return DeliveryDirect, nil
	case "persistent":
		return DeliveryPersistent, nil
	default:
		return DeliveryDirect, fmt.Errorf("%w: unknown delivery mode %q", ErrInvalidArgument, s)
	}
}

// Topic is a publish destination.
type Topic string

// Validate checks that the topic is usable as a publish destination.
// Wildcards are only meaningful for subscriptions and are rejected here.
func (t Topic) Validate() error {
	if t == "" {
		return fmt.Errorf("%w: destination cannot be empty", ErrInvalidArgument)
	}
	if len(t) > maxTopicLength {
		return fmt.Errorf("%w: destination length %d exceeds maximum %d", ErrInvalidArgument, len(t), maxTopicLength)
	}
	if strings.ContainsAny(string(t), "+#\x00") {
		return fmt.Errorf("%w: destination %q contains a wildcard or NUL", ErrInvalidArgument, string(t))
	}
	return nil
}

// OutboundMessage is a message handed to the transport.
type OutboundMessage struct {
	Payload        []byte
	Properties     map[string]string
	CorrelationTag []byte
	DeliveryMode   DeliveryMode
	Timestamp      time.Time

	// publisher is set on the copy a Publisher hands to the transport so
	// that late failures reach its failure listener.
	publisher *Publisher
}

// PublishOption customises a single publish call.
type PublishOption func(*OutboundMessage)

// WithProperties attaches user properties to the message.
func WithProperties(props map[string]string) PublishOption {
	return func(m *OutboundMessage) {
		if len(props) == 0 {
			return
		}
		if m.Properties == nil {
			m.Properties = make(map[string]string, len(props))
		}
		maps.Copy(m.Properties, props)
	}
}

// WithCorrelationTag attaches an opaque token used to match delivery
// acknowledgements and failure reports back to the publish call.
func WithCorrelationTag(tag []byte) PublishOption {
	return func(m *OutboundMessage) {
		m.CorrelationTag = append([]byte(nil), tag...)
	}
}

// clone returns a copy that the publisher owns from here on.
func (m *OutboundMessage) clone() *OutboundMessage {
	out := &OutboundMessage{
		Payload:        append([]byte(nil), m.Payload...),
		CorrelationTag: append([]byte(nil), m.CorrelationTag...),
		DeliveryMode:   m.DeliveryMode,
		Timestamp:      m.Timestamp,
	}
	if m.Properties != nil {
		out.Properties = maps.Clone(m.Properties)
	}
	return out
}

// BufferedMessage is a message waiting in a publisher buffer.
type BufferedMessage struct {
	Message     *OutboundMessage
	Destination Topic

	// Seq is the enqueue order within the owning publisher, starting at 1.
	Seq uint64
}
