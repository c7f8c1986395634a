package influxdb

import (
	"errors"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// Measurements written by Telemetry.
const (
	MeasurementPublisherStats  = "publisher_stats"
	MeasurementConnectionEvent = "connection_events"
	MeasurementPublishFailure  = "publish_failures"
)

func statsPoint(clientID string, stats messaging.Stats, state messaging.ConnectionState, ts time.Time) *write.Point {
	return write.NewPointWithMeasurement(MeasurementPublisherStats).
		AddTag("client_id", clientID).
		AddTag("state", state.String()).
		AddField("published", stats.Published).
		AddField("would_block", stats.WouldBlock).
		AddField("overflow", stats.Overflow).
		AddField("failed", stats.Failed).
		AddField("dropped", stats.Dropped).
		AddField("readiness_notifications", stats.ReadinessNotifications).
		AddField("reconnects", stats.Reconnects).
		AddField("reconnect_attempts", stats.ReconnectAttempts).
		AddField("service_down", stats.ServiceDown).
		SetTime(ts).
		SortTags().
		SortFields()
}

func connectionEventPoint(clientID, kind string, event messaging.ServiceEvent) *write.Point {
	p := write.NewPointWithMeasurement(MeasurementConnectionEvent).
		AddTag("client_id", clientID).
		AddTag("kind", kind).
		AddField("message", event.Message).
		SetTime(orNow(event.Timestamp))
	if event.BrokerURI != "" {
		p.AddTag("broker", event.BrokerURI)
	}
	if event.Cause != nil {
		p.AddField("cause", event.Cause.Error())
	}
	return p.SortTags().SortFields()
}

func failurePoint(clientID string, f messaging.PublishFailure) *write.Point {
	size := 0
	if f.Message != nil {
		size = len(f.Message.Payload)
	}
	p := write.NewPointWithMeasurement(MeasurementPublishFailure).
		AddTag("client_id", clientID).
		AddTag("topic", string(f.Destination)).
		AddTag("reason", failureReason(f.Err)).
		AddField("bytes", size).
		SetTime(orNow(f.Timestamp))
	if f.Err != nil {
		p.AddField("error", f.Err.Error())
	}
	return p.SortTags().SortFields()
}

// failureReason buckets a failure into a low-cardinality tag value.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, messaging.ErrServiceDown):
		return "service_down"
	case errors.Is(err, messaging.ErrTransport):
		return "transport"
	case errors.Is(err, messaging.ErrIllegalState):
		return "illegal_state"
	default:
		return "other"
	}
}

func orNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
