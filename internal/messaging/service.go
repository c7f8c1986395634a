package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// applicationIDPrefix prefixes generated client identifiers.
const applicationIDPrefix = "app_"

// Service owns one transport session: its connection state, the listener
// registry with its event dispatcher, the shared flow-control signals and
// the publishers created from it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listeners run on the dispatcher goroutine, one at a time. A listener
//     must not call Disconnect (use DisconnectAsync instead).
type Service struct {
	transport Transport
	cfg       TransportConfig
	flow      *flowControl
	stats     counters

	// opMu serialises Connect and Disconnect.
	opMu sync.Mutex

	mu       sync.Mutex
	state    ConnectionState
	session  Session
	down     chan struct{}
	downOnce sync.Once

	listenerMu     sync.Mutex
	nextListenerID ListenerID
	listeners      map[listenerKind][]registration
	dispatcher     *dispatcher

	publishersMu     sync.Mutex
	publishers       map[*Publisher]struct{}
	publishersClosed bool

	connectOp    asyncOp
	disconnectOp asyncOp

	logger   Logger
	loggerMu sync.RWMutex
}

// NewService validates cfg and creates a Service in the NotConnected state.
//
// When cfg.ClientID is empty an application id of the form "app_<uuid>" is
// generated.
//
// Parameters:
//   - transport: The broker transport to drive
//   - cfg: Session options, validated here
//
// Returns:
//   - *Service: Service ready to Connect
//   - error: wrapping ErrInvalidArgument if the transport is nil or cfg is invalid
func NewService(transport Transport, cfg TransportConfig) (*Service, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = applicationIDPrefix + uuid.NewString()
	}

	return &Service{
		transport:  transport,
		cfg:        cfg,
		flow:       newFlowControl(),
		state:      NotConnected,
		down:       make(chan struct{}),
		listeners:  make(map[listenerKind][]registration),
		publishers: make(map[*Publisher]struct{}),
		logger:     noopLogger{},
	}, nil
}

// SetLogger sets the logger used by the service and its publishers.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Service) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// ApplicationID returns the client identifier presented to the broker.
func (s *Service) ApplicationID() string {
	return s.cfg.ClientID
}

// BrokerURI returns the configured broker address.
func (s *Service) BrokerURI() string {
	return s.cfg.BrokerURI
}

// State returns the current connection state.
func (s *Service) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the state is Connected.
func (s *Service) IsConnected() bool {
	return s.State() == Connected
}

// Stats returns the transmit counters of the service and its publishers.
func (s *Service) Stats() Stats {
	return s.stats.snapshot()
}

// transitionLocked moves to next if the transition is legal. Caller holds s.mu.
func (s *Service) transitionLocked(next ConnectionState) error {
	if !s.state.canTransitionTo(next) {
		return fmt.Errorf("%w: connection cannot move from %s to %s", ErrIllegalState, s.state, next)
	}
	s.state = next
	return nil
}

func (s *Service) currentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Connect establishes the transport session.
//
// Connect is idempotent while Connecting or Connected. It does not retry:
// retry behaviour is configured on the transport through TransportConfig.
//
// Parameters:
//   - ctx: Bounds the session-establish call
//
// Returns:
//   - error: ErrIllegalState once disconnecting, disconnected or down;
//     ErrConnection if the transport fails
func (s *Service) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case Connecting, Connected:
		s.mu.Unlock()
		return nil
	case Disconnecting, Disconnected, Down:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot connect while %s", ErrIllegalState, st)
	}
	if err := s.transitionLocked(Connecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	logger := s.getLogger()
	logger.Debug("connecting", "broker", s.cfg.BrokerURI, "client_id", s.cfg.ClientID)

	session, err := s.transport.Connect(ctx, s.cfg, serviceEvents{s: s})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.state == Connecting {
			s.state = NotConnected
		}
		return fmt.Errorf("%w: %s: %w", ErrConnection, s.cfg.BrokerURI, err)
	}

	s.session = session
	if s.state == Down {
		return fmt.Errorf("%w: service went down while connecting to %s", ErrConnection, s.cfg.BrokerURI)
	}
	if err := s.transitionLocked(Connected); err != nil {
		return err
	}

	logger.Info("connected", "broker", s.cfg.BrokerURI, "client_id", s.cfg.ClientID)
	return nil
}

// sessionHealthChecker is implemented by transports that can check a live
// session.
type sessionHealthChecker interface {
	HealthCheck(ctx context.Context, session Session) error
}

// HealthCheck reports whether the session is usable. Transports that
// implement HealthCheck(ctx, Session) are asked directly; otherwise the
// connection state decides.
//
// Returns:
//   - error: ErrServiceDown when down, ErrIllegalState without a session,
//     or the transport's health error
func (s *Service) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	state, session := s.state, s.session
	s.mu.Unlock()

	switch {
	case state == Down:
		return fmt.Errorf("%w: %s", ErrServiceDown, s.cfg.BrokerURI)
	case state != Connected || session == nil:
		return fmt.Errorf("%w: service is %s", ErrIllegalState, state)
	}

	if hc, ok := s.transport.(sessionHealthChecker); ok {
		return hc.HealthCheck(ctx, session)
	}
	return nil
}

// ConnectAsync starts Connect in the background. While an attempt is in
// flight every caller receives the same Future.
func (s *Service) ConnectAsync() *Future {
	return s.connectOp.run(func() error {
		return s.Connect(context.Background())
	})
}

// Disconnect releases the transport session.
//
// It terminates every publisher of the service without a grace period,
// stops the event dispatcher (queued events are dropped) and disconnects
// the transport. Disconnect is idempotent.
//
// Returns:
//   - error: wrapping ErrTransport if the transport fails to disconnect;
//     the service is Disconnected regardless
func (s *Service) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	if err := s.transitionLocked(Disconnecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	logger := s.getLogger()
	logger.Debug("disconnecting", "broker", s.cfg.BrokerURI)

	// Workers still hold the session until their publisher has stopped.
	s.terminatePublishers()
	s.stopDispatcher()

	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	var err error
	if session != nil {
		if derr := s.transport.Disconnect(session); derr != nil {
			err = fmt.Errorf("%w: disconnect: %w", ErrTransport, derr)
		}
	}

	s.mu.Lock()
	s.state = Disconnected
	s.mu.Unlock()

	logger.Info("disconnected", "broker", s.cfg.BrokerURI)
	return err
}

// DisconnectAsync starts Disconnect in the background with the same
// single-in-flight guarantee as ConnectAsync.
func (s *Service) DisconnectAsync() *Future {
	return s.disconnectOp.run(s.Disconnect)
}

func (s *Service) terminatePublishers() {
	s.publishersMu.Lock()
	s.publishersClosed = true
	pubs := make([]*Publisher, 0, len(s.publishers))
	for p := range s.publishers {
		pubs = append(pubs, p)
	}
	s.publishersMu.Unlock()

	for _, p := range pubs {
		var incomplete *IncompleteMessageDeliveryError
		if err := p.TerminateNow(); errors.As(err, &incomplete) {
			s.getLogger().Warn("publisher dropped messages on disconnect", "undelivered", incomplete.Undelivered)
		}
	}
}

func (s *Service) register(p *Publisher) error {
	s.publishersMu.Lock()
	defer s.publishersMu.Unlock()
	if s.publishersClosed {
		return fmt.Errorf("%w: service is disconnected", ErrIllegalState)
	}
	s.publishers[p] = struct{}{}
	return nil
}

func (s *Service) forget(p *Publisher) {
	s.publishersMu.Lock()
	delete(s.publishers, p)
	s.publishersMu.Unlock()
}

// =============================================================================
// Listeners
// =============================================================================

// AddReconnectionListener registers l for reconnection events.
func (s *Service) AddReconnectionListener(l ReconnectionListener) (ListenerID, error) {
	if l == nil {
		return 0, fmt.Errorf("%w: reconnection listener is nil", ErrInvalidArgument)
	}
	return s.addListener(kindReconnected, l)
}

// AddReconnectionAttemptListener registers l for reconnection-attempt events.
func (s *Service) AddReconnectionAttemptListener(l ReconnectionAttemptListener) (ListenerID, error) {
	if l == nil {
		return 0, fmt.Errorf("%w: reconnection attempt listener is nil", ErrInvalidArgument)
	}
	return s.addListener(kindReconnectAttempt, l)
}

// AddServiceInterruptionListener registers l for service-down events.
func (s *Service) AddServiceInterruptionListener(l ServiceInterruptionListener) (ListenerID, error) {
	if l == nil {
		return 0, fmt.Errorf("%w: service interruption listener is nil", ErrInvalidArgument)
	}
	return s.addListener(kindServiceInterrupted, l)
}

// RemoveReconnectionListener unregisters a reconnection listener.
// Unknown ids are ignored.
func (s *Service) RemoveReconnectionListener(id ListenerID) {
	s.removeListener(kindReconnected, id)
}

// RemoveReconnectionAttemptListener unregisters a reconnection-attempt
// listener. Unknown ids are ignored.
func (s *Service) RemoveReconnectionAttemptListener(id ListenerID) {
	s.removeListener(kindReconnectAttempt, id)
}

// RemoveServiceInterruptionListener unregisters a service-interruption
// listener. Unknown ids are ignored.
func (s *Service) RemoveServiceInterruptionListener(id ListenerID) {
	s.removeListener(kindServiceInterrupted, id)
}

func (s *Service) addListener(kind listenerKind, fn func(ServiceEvent)) (ListenerID, error) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if st := s.State(); st == Disconnecting || st == Disconnected {
		return 0, fmt.Errorf("%w: cannot add listener while %s", ErrIllegalState, st)
	}

	if s.dispatcher == nil {
		s.dispatcher = newDispatcher(s.getLogger())
		s.dispatcher.start()
	}

	s.nextListenerID++
	id := s.nextListenerID
	s.listeners[kind] = append(s.listeners[kind], registration{id: id, fn: fn})
	return id, nil
}

func (s *Service) removeListener(kind listenerKind, id ListenerID) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	regs := s.listeners[kind]
	for i, r := range regs {
		if r.id == id {
			s.listeners[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// dispatch queues event for every listener of kind, in registration order.
func (s *Service) dispatch(kind listenerKind, event ServiceEvent) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.dispatcher == nil {
		return
	}
	regs := s.listeners[kind]
	items := make([]dispatchItem, 0, len(regs))
	for _, r := range regs {
		items = append(items, dispatchItem{kind: kind, fn: r.fn, event: event})
	}
	s.dispatcher.enqueue(items...)
}

func (s *Service) stopDispatcher() {
	s.listenerMu.Lock()
	d := s.dispatcher
	s.dispatcher = nil
	s.listeners = make(map[listenerKind][]registration)
	s.listenerMu.Unlock()

	if d == nil {
		return
	}
	if dropped := d.shutdown(); dropped > 0 {
		s.getLogger().Debug("dropped queued listener events", "count", dropped)
	}
}

// =============================================================================
// Transport notifications
// =============================================================================

// serviceEvents receives transport notifications without exposing the
// callbacks on Service itself.
type serviceEvents struct {
	s *Service
}

func (e serviceEvents) OnCanSend() {
	e.s.flow.signalCanSend()
}

func (e serviceEvents) OnServiceDown(err error) {
	e.s.handleServiceDown(err)
}

func (e serviceEvents) OnPublishFailed(msg *OutboundMessage, destination Topic, err error) {
	err = fmt.Errorf("%w: %w", ErrTransport, err)
	if msg == nil || msg.publisher == nil {
		e.s.stats.failed.Add(1)
		e.s.getLogger().Warn("publish failed", "destination", string(destination), "error", err)
		return
	}
	msg.publisher.notifyFailure(&BufferedMessage{Message: msg, Destination: destination}, err)
}

func (e serviceEvents) OnReconnected(event ServiceEvent) {
	e.s.stats.reconnects.Add(1)
	e.s.getLogger().Info("reconnected", "broker", event.BrokerURI)
	e.s.dispatch(kindReconnected, e.s.fillEvent(event))
}

func (e serviceEvents) OnReconnecting(event ServiceEvent) {
	e.s.stats.reconnectAttempts.Add(1)
	e.s.getLogger().Warn("reconnecting", "broker", event.BrokerURI, "cause", event.Cause)
	e.s.dispatch(kindReconnectAttempt, e.s.fillEvent(event))
}

func (s *Service) fillEvent(event ServiceEvent) ServiceEvent {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.BrokerURI == "" {
		event.BrokerURI = s.cfg.BrokerURI
	}
	return event
}

func (s *Service) handleServiceDown(cause error) {
	s.mu.Lock()
	if !s.state.canTransitionTo(Down) {
		s.mu.Unlock()
		return
	}
	s.state = Down
	s.mu.Unlock()

	s.downOnce.Do(func() { close(s.down) })
	s.stats.serviceDown.Add(1)
	s.getLogger().Error("service down", "broker", s.cfg.BrokerURI, "error", cause)

	s.dispatch(kindServiceInterrupted, s.fillEvent(ServiceEvent{
		Message: "service down",
		Cause:   cause,
	}))
}
