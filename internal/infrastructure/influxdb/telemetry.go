package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// Telemetry writes the telemetry of one messaging service to an InfluxDB
// bucket. Every point carries the service's client_id tag.
//
// Points go through the client's non-blocking write API, so the Record
// methods never wait on the network. A nil or closed Telemetry drops
// points, which lets callers record unconditionally.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Telemetry struct {
	client   influxdb2.Client
	writer   api.WriteAPI
	clientID string
	closed   atomic.Bool

	errMu   sync.RWMutex
	onError func(error)
	errDone chan struct{}
}

// Open pings the server and returns a Telemetry that tags its points with
// clientID.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: influxdb section of the configuration
//   - clientID: Application ID of the messaging service
//
// Returns:
//   - *Telemetry: Ready to record
//   - error: ErrDisabled when cfg.Enabled is false, ErrUnreachable when the ping fails
func Open(ctx context.Context, cfg config.InfluxDBConfig, clientID string) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	t := &Telemetry{
		client:   client,
		writer:   client.WriteAPI(cfg.Org, cfg.Bucket),
		clientID: clientID,
		errDone:  make(chan struct{}),
	}
	go t.forwardErrors(t.writer.Errors())
	return t, nil
}

// clientOptions maps the batch settings; non-positive values use the
// defaults.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server not ready")
	}
	return nil
}

func (t *Telemetry) forwardErrors(errs <-chan error) {
	defer close(t.errDone)
	for err := range errs {
		t.errMu.RLock()
		fn := t.onError
		t.errMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// OnWriteError sets the callback for failed batch writes.
func (t *Telemetry) OnWriteError(fn func(error)) {
	t.errMu.Lock()
	t.onError = fn
	t.errMu.Unlock()
}

// HealthCheck pings the server.
func (t *Telemetry) HealthCheck(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ping(ctx, t.client); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

// Close flushes pending points and releases the client. Closing twice is
// a no-op.
func (t *Telemetry) Close() {
	if t == nil || !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.client.Close()
	<-t.errDone
}

// RecordStats writes one publisher_stats sample.
func (t *Telemetry) RecordStats(stats messaging.Stats, state messaging.ConnectionState) {
	if t.usable() {
		t.writer.WritePoint(statsPoint(t.clientID, stats, state, time.Now()))
	}
}

// RecordConnectionEvent writes a connection_events point. kind is one of
// reconnecting, reconnected or service_down.
func (t *Telemetry) RecordConnectionEvent(kind string, event messaging.ServiceEvent) {
	if t.usable() {
		t.writer.WritePoint(connectionEventPoint(t.clientID, kind, event))
	}
}

// RecordFailure writes a publish_failures point.
func (t *Telemetry) RecordFailure(f messaging.PublishFailure) {
	if t.usable() {
		t.writer.WritePoint(failurePoint(t.clientID, f))
	}
}

func (t *Telemetry) usable() bool {
	return t != nil && !t.closed.Load()
}
