package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// Reasons a message ends up in the journal.
const (
	// ReasonPublishFailed is a buffered message the transport rejected.
	ReasonPublishFailed = "publish_failed"

	// ReasonServiceDown is a buffered message pending when the service went down.
	ReasonServiceDown = "service_down"

	// ReasonUndelivered is a message still buffered when Terminate's grace
	// period ran out.
	ReasonUndelivered = "undelivered"
)

// Letter is one undelivered message.
type Letter struct {
	ID             string            `json:"id"`
	ClientID       string            `json:"client_id"`
	Destination    string            `json:"destination"`
	Payload        []byte            `json:"payload"`
	Properties     map[string]string `json:"properties,omitempty"`
	CorrelationTag []byte            `json:"correlation_tag,omitempty"`
	DeliveryMode   string            `json:"delivery_mode"`
	Reason         string            `json:"reason"`
	Error          string            `json:"error"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Filter controls which letters List returns.
type Filter struct {
	Destination string // optional: exact destination
	Reason      string // optional: one of the Reason constants
	Limit       int    // default 50, max 200
	Offset      int    // pagination offset
}

// ListResult is a page of letters, most recent first.
type ListResult struct {
	Letters []Letter `json:"letters"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository stores dead letters.
type Repository interface {
	Create(ctx context.Context, letter *Letter) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// FromFailure builds a letter from a failure listener report.
func FromFailure(clientID string, f messaging.PublishFailure) *Letter {
	reason := ReasonPublishFailed
	if errors.Is(f.Err, messaging.ErrServiceDown) {
		reason = ReasonServiceDown
	}
	l := fromMessage(clientID, f.Message, f.Destination, reason, f.Err)
	if !f.Timestamp.IsZero() {
		l.CreatedAt = f.Timestamp.UTC()
	}
	return l
}

// FromTermination builds one letter per message dropped by Terminate.
// It returns nil unless err is an *messaging.IncompleteMessageDeliveryError.
func FromTermination(clientID string, err error) []*Letter {
	var incomplete *messaging.IncompleteMessageDeliveryError
	if !errors.As(err, &incomplete) {
		return nil
	}

	letters := make([]*Letter, 0, len(incomplete.Dropped))
	for _, m := range incomplete.Dropped {
		letters = append(letters, fromMessage(clientID, m.Message, m.Destination, ReasonUndelivered, err))
	}
	return letters
}

func fromMessage(clientID string, msg *messaging.OutboundMessage, dest messaging.Topic, reason string, cause error) *Letter {
	l := &Letter{
		ClientID:    clientID,
		Destination: string(dest),
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if cause != nil {
		l.Error = cause.Error()
	}
	if msg != nil {
		l.Payload = msg.Payload
		l.Properties = msg.Properties
		l.CorrelationTag = msg.CorrelationTag
		l.DeliveryMode = msg.DeliveryMode.String()
	}
	if l.DeliveryMode == "" {
		l.DeliveryMode = messaging.DeliveryDirect.String()
	}
	return l
}
