package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/wire"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Transport implements messaging.Transport on eclipse/paho.mqtt.golang.
//
// Publishes are asynchronous: each one holds a slot of the session's
// in-flight window until its token completes, and a full window is reported
// as would-block. Token completion signals CanSend.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Transport struct {
	opts Options

	// newClient is replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTransport creates an MQTT transport.
//
// Returns:
//   - *Transport: Transport ready to pass to messaging.NewService
//   - error: ErrInvalidQoS if opts.QoS is above 2
func NewTransport(opts Options) (*Transport, error) {
	if opts.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if opts.InFlight < 1 {
		opts.InFlight = defaultInFlight
	}
	return &Transport{
		opts:      opts,
		newClient: pahomqtt.NewClient,
	}, nil
}

// SetLogger sets a logger for connection and acknowledgement events.
// If not set, they are not logged.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// session is the messaging.Session handed out by Transport.
type session struct {
	t       *Transport
	client  pahomqtt.Client
	cfg     messaging.TransportConfig
	events  messaging.TransportEvents
	window  *wire.Window
	status  string

	mu       sync.Mutex
	lost     bool
	lostErr  error
	attempts int
	closing  bool
	down     bool
}

// Connect establishes an MQTT session.
//
// It performs the following setup:
//  1. Builds connection options from cfg (broker URL, auth, TLS, keep-alive)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Wires paho's connection handlers to events
//  4. Attempts the connection, retrying cfg.ConnectionRetries times
//  5. Publishes online status (from the OnConnect handler)
//
// Parameters:
//   - ctx: Cancels the connection attempts
//   - cfg: Validated session options
//   - events: Receives CanSend, reconnect and service-down notifications
//
// Returns:
//   - messaging.Session: The connected session
//   - error: wrapping ErrConnectionFailed or ErrTimeout
func (t *Transport) Connect(ctx context.Context, cfg messaging.TransportConfig, events messaging.TransportEvents) (messaging.Session, error) {
	opts := buildClientOptions(cfg)

	s := &session{
		t:      t,
		cfg:    cfg,
		events: events,
		window: wire.NewWindow(t.opts.InFlight),
		status: t.opts.StatusTopic,
	}
	if s.status == "" {
		s.status = Topics{}.PublisherStatus(cfg.ClientID)
	}
	configureLWT(opts, cfg.ClientID, s.status)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.handleReconnecting()
	})

	s.client = t.newClient(opts)

	if err := s.connectWithRetry(ctx); err != nil {
		_ = s.window.Close(context.Background())
		return nil, err
	}

	if logger := t.getLogger(); logger != nil {
		logger.Info("mqtt connected", "broker", cfg.BrokerURI, "client_id", cfg.ClientID)
	}
	return s, nil
}

// connectWithRetry makes up to ConnectionRetries+1 attempts (forever for -1),
// pausing ReconnectionAttemptsWaitInterval between them.
func (s *session) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := waitToken(ctx, s.client.Connect(), s.cfg.ConnectionAttemptTimeout)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
		if s.cfg.ConnectionRetries >= 0 && attempt >= s.cfg.ConnectionRetries {
			return fmt.Errorf("%w: after %d attempt(s): %w", ErrConnectionFailed, attempt+1, lastErr)
		}

		if logger := s.t.getLogger(); logger != nil {
			logger.Warn("mqtt connection attempt failed", "broker", s.cfg.BrokerURI, "attempt", attempt+1, "error", err)
		}

		timer := time.NewTimer(s.cfg.ReconnectionAttemptsWaitInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-timer.C:
		}
	}
}

// waitToken waits for token, bounded by ctx and a non-zero timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("%w: connect after %v", ErrTimeout, timeout)
	}
}

// handleConnect is called when the connection is established, initially
// and after every automatic reconnect.
func (s *session) handleConnect() {
	s.mu.Lock()
	reconnected := s.lost
	s.lost = false
	s.lostErr = nil
	s.attempts = 0
	closing := s.closing
	s.mu.Unlock()

	if closing {
		return
	}

	s.client.Publish(s.status, 1, true, buildOnlinePayload(s.cfg.ClientID, s.cfg.CompressionLevel))

	if reconnected {
		s.events.OnReconnected(messaging.ServiceEvent{
			Timestamp: time.Now(),
			Message:   "reconnected",
			BrokerURI: s.cfg.BrokerURI,
		})
		s.events.OnCanSend()
	}
}

// handleConnectionLost is called by paho when an established connection drops.
func (s *session) handleConnectionLost(err error) {
	s.mu.Lock()
	if s.closing || s.down {
		s.mu.Unlock()
		return
	}
	s.lost = true
	s.lostErr = err
	retry := s.cfg.ReconnectionAttempts != 0
	s.mu.Unlock()

	if logger := s.t.getLogger(); logger != nil {
		logger.Warn("mqtt connection lost", "broker", s.cfg.BrokerURI, "error", err)
	}

	if !retry {
		s.serviceDown(err)
	}
}

// handleReconnecting is called by paho before each reconnection attempt.
func (s *session) handleReconnecting() {
	s.mu.Lock()
	if s.closing || s.down {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	cause := s.lostErr
	limit := s.cfg.ReconnectionAttempts
	s.mu.Unlock()

	if limit > 0 && attempt > limit {
		if cause == nil {
			cause = ErrReconnectExhausted
		} else {
			cause = fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
		}
		s.serviceDown(cause)
		// paho keeps retrying until the client is disconnected. Disconnect
		// waits on the reconnect goroutine that is calling this handler.
		go s.client.Disconnect(0)
		return
	}

	s.events.OnReconnecting(messaging.ServiceEvent{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("reconnection attempt %d", attempt),
		Cause:     cause,
		BrokerURI: s.cfg.BrokerURI,
	})
}

func (s *session) serviceDown(cause error) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	s.mu.Unlock()

	if logger := s.t.getLogger(); logger != nil {
		logger.Error("mqtt service down", "broker", s.cfg.BrokerURI, "error", cause)
	}
	s.events.OnServiceDown(cause)
}

// Publish hands msg to paho without waiting for the broker.
//
// Direct delivery uses QoS 0; persistent delivery uses Options.QoS. The
// payload is compressed at cfg.CompressionLevel. MQTT 3.1.1 has no user
// properties, so Properties and CorrelationTag are not sent.
//
// Returns:
//   - messaging.PublishResult: PublishWouldBlock when the in-flight window is full
//   - error: ErrInvalidSession, ErrNotConnected or ErrPublishFailed
func (t *Transport) Publish(sess messaging.Session, msg *messaging.OutboundMessage, destination messaging.Topic) (messaging.PublishResult, error) {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return messaging.PublishOK, ErrInvalidSession
	}

	payload, err := wire.Compress(s.cfg.CompressionLevel, msg.Payload)
	if err != nil {
		return messaging.PublishOK, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	qos := byte(0)
	if msg.DeliveryMode == messaging.DeliveryPersistent {
		qos = t.opts.QoS
	}
	topic := string(destination)

	accepted, err := s.window.Submit(func() error {
		token := s.client.Publish(topic, qos, t.opts.Retained, payload)
		token.Wait()
		return token.Error()
	}, func(err error) {
		s.events.OnCanSend()
		if err != nil {
			if logger := t.getLogger(); logger != nil {
				logger.Warn("mqtt publish not acknowledged", "topic", topic, "qos", qos, "error", err)
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

// Disconnect gracefully closes the session.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Waits for in-flight publishes for the quiesce period
//  3. Disconnects from broker
func (t *Transport) Disconnect(sess messaging.Session) error {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return ErrInvalidSession
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	if s.client.IsConnected() {
		token := s.client.Publish(s.status, 1, true, buildOfflinePayload(s.cfg.ClientID))
		token.WaitTimeout(defaultStatusTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDisconnectQuiesce*time.Millisecond)
	defer cancel()
	if err := s.window.Close(ctx); err != nil {
		if logger := t.getLogger(); logger != nil {
			logger.Warn("mqtt publishes still in flight at disconnect", "in_flight", s.window.InFlight())
		}
	}

	s.client.Disconnect(defaultDisconnectQuiesce)

	if logger := t.getLogger(); logger != nil {
		logger.Info("mqtt disconnected", "broker", s.cfg.BrokerURI)
	}
	return nil
}

// HealthCheck verifies the session's connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - sess: Session returned by Connect
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (t *Transport) HealthCheck(ctx context.Context, sess messaging.Session) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	s, ok := sess.(*session)
	if !ok || s == nil {
		return ErrInvalidSession
	}
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}
