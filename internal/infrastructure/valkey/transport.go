package valkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/wire"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

const (
	defaultInFlight       = 64
	defaultPublishTimeout = 5 * time.Second
	defaultProbeInterval  = 5 * time.Second
	closeTimeout          = time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures the Valkey specifics that TransportConfig does not cover.
type Options struct {
	// InFlight caps PUBLISH commands awaiting a reply before Publish
	// reports would-block.
	InFlight int

	// PublishTimeout bounds a single PUBLISH round trip.
	PublishTimeout time.Duration

	// ProbeInterval is the PING period used to detect a lost connection
	// while healthy. Zero means the keep-alive interval, or 5s.
	ProbeInterval time.Duration
}

// Transport implements messaging.Transport with Valkey PUBLISH.
//
// valkey-go reconnects on its own, so connection loss is detected with a
// PING probe: a failed probe starts the reconnection attempts, each one
// reported as reconnecting, and the first successful probe afterwards is
// reported as reconnected. Running out of attempts declares the service down.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Transport struct {
	opts Options

	// dial is replaced in tests.
	dial func(valkey.ClientOption) (conn, error)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTransport creates a Valkey transport.
func NewTransport(opts Options) *Transport {
	if opts.InFlight < 1 {
		opts.InFlight = defaultInFlight
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	return &Transport{
		opts: opts,
		dial: dialValkey,
	}
}

// SetLogger sets a logger for connection and publish events.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// session is the messaging.Session handed out by Transport.
type session struct {
	t      *Transport
	conn   conn
	cfg    messaging.TransportConfig
	events messaging.TransportEvents
	window *wire.Window

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// Connect dials the server and confirms it with PING, retrying
// cfg.ConnectionRetries times (forever for -1).
//
// Returns:
//   - messaging.Session: The connected session
//   - error: wrapping ErrInvalidBrokerURI or ErrConnectionFailed
func (t *Transport) Connect(ctx context.Context, cfg messaging.TransportConfig, events messaging.TransportEvents) (messaging.Session, error) {
	opt, err := buildClientOption(cfg)
	if err != nil {
		return nil, err
	}

	c, err := t.connectWithRetry(ctx, cfg, opt)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		t:      t,
		conn:   c,
		cfg:    cfg,
		events: events,
		window: wire.NewWindow(t.opts.InFlight),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.monitor(t.probeInterval(cfg))

	if logger := t.getLogger(); logger != nil {
		logger.Info("valkey connected", "broker", cfg.BrokerURI, "client_id", cfg.ClientID)
	}
	return s, nil
}

func (t *Transport) connectWithRetry(ctx context.Context, cfg messaging.TransportConfig, opt valkey.ClientOption) (conn, error) {
	for attempt := 0; ; attempt++ {
		c, err := t.attempt(ctx, cfg, opt)
		if err == nil {
			return c, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
		if cfg.ConnectionRetries >= 0 && attempt >= cfg.ConnectionRetries {
			return nil, fmt.Errorf("%w: after %d attempt(s): %w", ErrConnectionFailed, attempt+1, err)
		}
		if logger := t.getLogger(); logger != nil {
			logger.Warn("valkey connection attempt failed", "broker", cfg.BrokerURI, "attempt", attempt+1, "error", err)
		}

		timer := time.NewTimer(cfg.ReconnectionAttemptsWaitInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *Transport) attempt(ctx context.Context, cfg messaging.TransportConfig, opt valkey.ClientOption) (conn, error) {
	c, err := t.dial(opt)
	if err != nil {
		return nil, err
	}

	pctx := ctx
	if cfg.ConnectionAttemptTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, cfg.ConnectionAttemptTimeout)
		defer cancel()
	}
	if err := c.ping(pctx); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (t *Transport) probeInterval(cfg messaging.TransportConfig) time.Duration {
	switch {
	case t.opts.ProbeInterval > 0:
		return t.opts.ProbeInterval
	case cfg.KeepAliveInterval > 0:
		return cfg.KeepAliveInterval
	default:
		return defaultProbeInterval
	}
}

// monitor probes the connection and turns failures into reconnect and
// service-down events.
func (s *session) monitor(interval time.Duration) {
	defer close(s.done)

	wait := interval
	attempts := 0
	var lostErr error

	for {
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := s.probe()
		if s.ctx.Err() != nil {
			return
		}

		switch {
		case err == nil && lostErr != nil:
			lostErr = nil
			attempts = 0
			wait = interval
			s.events.OnReconnected(messaging.ServiceEvent{
				Timestamp: time.Now(),
				Message:   "reconnected",
				BrokerURI: s.cfg.BrokerURI,
			})
			s.events.OnCanSend()

		case err == nil:

		default:
			if lostErr == nil {
				lostErr = err
				if logger := s.t.getLogger(); logger != nil {
					logger.Warn("valkey connection lost", "broker", s.cfg.BrokerURI, "error", err)
				}
			}

			limit := s.cfg.ReconnectionAttempts
			if limit == 0 || (limit > 0 && attempts >= limit) {
				cause := err
				if limit > 0 {
					cause = fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
				}
				if logger := s.t.getLogger(); logger != nil {
					logger.Error("valkey service down", "broker", s.cfg.BrokerURI, "error", cause)
				}
				s.events.OnServiceDown(cause)
				return
			}

			attempts++
			wait = s.cfg.ReconnectionAttemptsWaitInterval
			s.events.OnReconnecting(messaging.ServiceEvent{
				Timestamp: time.Now(),
				Message:   fmt.Sprintf("reconnection attempt %d", attempts),
				Cause:     lostErr,
				BrokerURI: s.cfg.BrokerURI,
			})
		}
	}
}

func (s *session) probe() error {
	ctx := s.ctx
	if s.cfg.ConnectionAttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.cfg.ConnectionAttemptTimeout)
		defer cancel()
	}
	return s.conn.ping(ctx)
}

// Publish sends PUBLISH asynchronously through the in-flight window.
//
// The payload is compressed at cfg.CompressionLevel. Valkey PUBLISH carries
// only the payload, so Properties and CorrelationTag are not sent.
func (t *Transport) Publish(sess messaging.Session, msg *messaging.OutboundMessage, destination messaging.Topic) (messaging.PublishResult, error) {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return messaging.PublishOK, ErrInvalidSession
	}

	payload, err := wire.Compress(s.cfg.CompressionLevel, msg.Payload)
	if err != nil {
		return messaging.PublishOK, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	channel := string(destination)

	accepted, err := s.window.Submit(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, t.opts.PublishTimeout)
		defer cancel()
		return s.conn.publish(ctx, channel, payload)
	}, func(err error) {
		s.events.OnCanSend()
		if err != nil {
			if logger := t.getLogger(); logger != nil {
				logger.Warn("valkey publish failed", "channel", channel, "error", err)
			}
			s.events.OnPublishFailed(msg, destination, fmt.Errorf("%w: %w", ErrPublishFailed, err))
		}
	})
	if err != nil {
		return messaging.PublishOK, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if !accepted {
		return messaging.PublishWouldBlock, nil
	}
	return messaging.PublishOK, nil
}

// Disconnect stops the probe, waits briefly for in-flight publishes and
// closes the client.
func (t *Transport) Disconnect(sess messaging.Session) error {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return ErrInvalidSession
	}

	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.window.Close(ctx); err != nil {
			if logger := t.getLogger(); logger != nil {
				logger.Warn("valkey publishes still in flight at disconnect", "in_flight", s.window.InFlight())
			}
		}

		s.cancel()
		<-s.done
		s.conn.close()

		if logger := t.getLogger(); logger != nil {
			logger.Info("valkey disconnected", "broker", s.cfg.BrokerURI)
		}
	})
	return nil
}

// HealthCheck sends PING on the session's connection.
func (t *Transport) HealthCheck(ctx context.Context, sess messaging.Session) error {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return ErrInvalidSession
	}
	if err := s.conn.ping(ctx); err != nil {
		return fmt.Errorf("valkey health check: %w", err)
	}
	return nil
}
