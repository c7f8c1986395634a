package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReadinessListener is invoked when a publisher can accept work again after
// a would-block or overflow episode.
type ReadinessListener func()

// PublishFailure describes a buffered message the worker could not deliver.
type PublishFailure struct {
	Message     *OutboundMessage
	Destination Topic
	Err         error
	Timestamp   time.Time
}

// PublishFailureListener receives failures of buffered publishes, whose
// Publish call has already returned.
type PublishFailureListener func(PublishFailure)

// Publisher sends messages through a Service under one back-pressure policy.
//
// Buffered policies run a worker goroutine that drains the buffer in FIFO
// order. Registering a readiness listener adds a second goroutine. Both are
// joined by Terminate.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Ordering is guaranteed only between messages of the same publisher.
type Publisher struct {
	svc *Service
	cfg PublisherConfig
	buf *buffer

	mu    sync.Mutex
	state PublisherState

	// termMu serialises Terminate.
	termMu sync.Mutex

	terminating chan struct{}
	stopWorker  chan struct{}
	workerDone  chan struct{}
	empty       chan struct{}
	emptyOnce   sync.Once

	readinessMu   sync.Mutex
	readiness     ReadinessListener
	readinessStop chan struct{}
	readinessDone chan struct{}
	episodes      chan struct{}
	notified      atomic.Bool

	failureMu sync.RWMutex
	onFailure PublishFailureListener

	startOp     asyncOp
	terminateOp asyncOp
}

// NewPublisher creates a publisher in the NotStarted state.
//
// Parameters:
//   - cfg: Back-pressure policy, buffer capacity and delivery mode
//
// Returns:
//   - *Publisher: Publisher ready to Start
//   - error: ErrInvalidArgument for a bad config, ErrIllegalState once the
//     service is disconnected
func (s *Service) NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Publisher{
		svc:           s,
		cfg:           cfg,
		state:         NotStarted,
		terminating:   make(chan struct{}),
		stopWorker:    make(chan struct{}),
		empty:         make(chan struct{}),
		readinessStop: make(chan struct{}),
		episodes:      make(chan struct{}, 1),
	}
	if cfg.buffered() {
		p.buf = newBuffer(cfg.BufferCapacity)
	}
	// No episode is open until the first would-block or overflow.
	p.notified.Store(true)

	if err := s.register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the configuration the publisher was built with.
func (p *Publisher) Config() PublisherConfig {
	return p.cfg
}

// State returns the current publisher state.
func (p *Publisher) State() PublisherState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsRunning reports whether the publisher accepts messages.
func (p *Publisher) IsRunning() bool {
	return p.State().active()
}

// IsTerminating reports whether Terminate is in progress.
func (p *Publisher) IsTerminating() bool {
	return p.State() == Terminating
}

// IsTerminated reports whether the publisher has terminated.
func (p *Publisher) IsTerminated() bool {
	return p.State() == Terminated
}

// Buffered returns the number of messages waiting in the buffer.
func (p *Publisher) Buffered() int {
	if p.buf == nil {
		return 0
	}
	return p.buf.len()
}

func (p *Publisher) transitionLocked(next PublisherState) error {
	if p.state == next {
		return nil
	}
	if !p.state.canTransitionTo(next) {
		return fmt.Errorf("%w: publisher cannot move from %s to %s", ErrIllegalState, p.state, next)
	}
	p.state = next
	return nil
}

// markNotReady flips an active publisher to NotReady.
func (p *Publisher) markNotReady() {
	p.mu.Lock()
	if p.state.active() {
		p.state = NotReady
	}
	p.mu.Unlock()
}

// Start moves the publisher to Started and, for buffered policies, launches
// the worker goroutine. Starting a running publisher is a no-op.
//
// Returns:
//   - error: ErrIllegalState if terminating/terminated or the service is not connected
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.state == Terminating || p.state == Terminated:
		return fmt.Errorf("%w: publisher is %s", ErrIllegalState, p.state)
	case p.state.active():
		return nil
	}

	if st := p.svc.State(); st != Connected {
		return fmt.Errorf("%w: service is %s", ErrIllegalState, st)
	}

	if err := p.transitionLocked(Starting); err != nil {
		return err
	}
	if p.buf != nil {
		p.workerDone = make(chan struct{})
		go p.runWorker()
	}
	if err := p.transitionLocked(Started); err != nil {
		return err
	}

	p.svc.getLogger().Debug("publisher started",
		"back_pressure", p.cfg.BackPressure.String(),
		"capacity", p.cfg.BufferCapacity,
	)
	return nil
}

// StartAsync runs Start in the background.
func (p *Publisher) StartAsync() *Future {
	return p.startOp.run(p.Start)
}

// IsReady reports, without blocking, whether Publish would accept a message
// now. It updates the state to Ready when capacity is available.
func (p *Publisher) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isReadyLocked()
}

func (p *Publisher) isReadyLocked() bool {
	if !p.state.active() || p.svc.State() == Down {
		return false
	}

	if p.buf != nil && !p.buf.full() {
		p.state = Ready
		return true
	}

	canSend, wouldBlock := p.svc.flow.state()
	if p.state == NotReady && canSend {
		p.state = Ready
		return true
	}
	// A would-block clears once the transport signals CanSend again.
	if (p.state == Started || p.state == Ready) && (!wouldBlock || canSend) {
		return true
	}
	return false
}

// Publish sends payload to destination.
//
// Under BackPressureNone the transport is called directly. Under the
// buffered policies the message is queued and delivered by the worker;
// later failures go to the PublishFailureListener.
//
// Parameters:
//   - payload: Message body (max 1MB)
//   - destination: Publish topic (no wildcards)
//   - opts: Properties and correlation tag
//
// Returns:
//   - error: ErrInvalidArgument, ErrIllegalState, ErrPublisherOverflow,
//     ErrServiceDown or ErrTransport
func (p *Publisher) Publish(payload []byte, destination Topic, opts ...PublishOption) error {
	return p.PublishMessage(&OutboundMessage{Payload: payload}, destination, opts...)
}

// PublishString publishes a string payload.
func (p *Publisher) PublishString(payload string, destination Topic, opts ...PublishOption) error {
	return p.Publish([]byte(payload), destination, opts...)
}

// PublishMessage publishes a prepared message. The message is copied, so the
// caller may reuse it once PublishMessage returns.
func (p *Publisher) PublishMessage(msg *OutboundMessage, destination Topic, opts ...PublishOption) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidArgument)
	}
	if err := destination.Validate(); err != nil {
		return err
	}
	if len(msg.Payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrInvalidArgument, len(msg.Payload), maxPayloadSize)
	}

	out := msg.clone()
	for _, opt := range opts {
		opt(out)
	}
	out.DeliveryMode = p.cfg.DeliveryMode
	out.publisher = p
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}

	if err := p.checkReady(); err != nil {
		return err
	}

	if p.buf == nil {
		return p.publishDirect(out, destination)
	}
	return p.enqueue(&BufferedMessage{Message: out, Destination: destination})
}

func (p *Publisher) checkReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case NotStarted, Starting, Terminating, Terminated:
		return fmt.Errorf("%w: publisher is %s", ErrIllegalState, p.state)
	}
	if p.svc.State() == Down {
		return fmt.Errorf("%w: cannot publish to %s", ErrServiceDown, p.svc.BrokerURI())
	}

	if p.isReadyLocked() {
		return nil
	}
	if p.state == NotReady && p.cfg.BackPressure != BackPressureBlock {
		p.svc.stats.overflow.Add(1)
		return fmt.Errorf("%w: publisher is not ready", ErrPublisherOverflow)
	}
	// Started or Ready with a would-block pending: the transport or the
	// buffer decides.
	return nil
}

func (p *Publisher) publishDirect(msg *OutboundMessage, destination Topic) error {
	session := p.svc.currentSession()
	if session == nil {
		return fmt.Errorf("%w: service is %s", ErrIllegalState, p.svc.State())
	}

	epoch := p.svc.flow.snapshot()
	res, err := p.svc.transport.Publish(session, msg, destination)
	if err != nil {
		p.svc.stats.failed.Add(1)
		if p.svc.State() == Down {
			return fmt.Errorf("%w: %w", ErrServiceDown, err)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if res == PublishWouldBlock {
		p.svc.flow.markWouldBlock(epoch)
		p.svc.stats.wouldBlock.Add(1)
		p.svc.stats.overflow.Add(1)
		p.markNotReady()
		p.beginEpisode()
		return fmt.Errorf("%w: transport would block", ErrPublisherOverflow)
	}

	p.svc.flow.publishSucceeded()
	p.svc.stats.published.Add(1)
	return nil
}

func (p *Publisher) enqueue(item *BufferedMessage) error {
	var err error
	if p.cfg.BackPressure == BackPressureReject {
		err = p.buf.tryPush(item)
	} else {
		err = p.buf.push(item)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBufferFull):
		p.svc.stats.overflow.Add(1)
		p.beginEpisode()
		return fmt.Errorf("%w: buffer full (capacity %d)", ErrPublisherOverflow, p.buf.capacity())
	default:
		return fmt.Errorf("%w: publisher is terminating", ErrIllegalState)
	}
}

// SetPublishFailureListener sets the callback for failed buffered publishes
// and for messages the transport accepted but later could not deliver.
// Without one, failures are logged.
func (p *Publisher) SetPublishFailureListener(l PublishFailureListener) {
	p.failureMu.Lock()
	p.onFailure = l
	p.failureMu.Unlock()
}

func (p *Publisher) notifyFailure(item *BufferedMessage, err error) {
	p.svc.stats.failed.Add(1)

	p.failureMu.RLock()
	l := p.onFailure
	p.failureMu.RUnlock()

	logger := p.svc.getLogger()
	if l == nil {
		logger.Warn("publish failed",
			"destination", string(item.Destination),
			"error", err,
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("publish failure listener panic recovered",
				"destination", string(item.Destination),
				"panic", r,
			)
		}
	}()
	l(PublishFailure{
		Message:     item.Message,
		Destination: item.Destination,
		Err:         err,
		Timestamp:   time.Now(),
	})
}

// Terminate stops the publisher, giving buffered messages up to grace to
// drain.
//
// An in-flight transport call is never cancelled; grace only bounds how long
// Terminate waits before forced cleanup. A publisher that was never started
// terminates immediately, and terminating twice is a no-op.
//
// Parameters:
//   - grace: Maximum time to wait for the buffer to drain (>= 0)
//
// Returns:
//   - error: ErrInvalidArgument for a negative grace, or
//     *IncompleteMessageDeliveryError if messages were dropped
func (p *Publisher) Terminate(grace time.Duration) error {
	if grace < 0 {
		return fmt.Errorf("%w: grace period must not be negative, got %v", ErrInvalidArgument, grace)
	}

	p.termMu.Lock()
	defer p.termMu.Unlock()

	p.mu.Lock()
	switch p.state {
	case Terminated:
		p.mu.Unlock()
		return nil
	case NotStarted:
		p.state = Terminated
		p.mu.Unlock()
		p.stopReadiness()
		p.svc.forget(p)
		return nil
	}
	if err := p.transitionLocked(Terminating); err != nil {
		p.mu.Unlock()
		return err
	}
	workerDone := p.workerDone
	p.mu.Unlock()

	close(p.terminating)
	if p.buf != nil {
		p.buf.close()
	}

	logger := p.svc.getLogger()
	if workerDone != nil && grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-p.empty:
		case <-workerDone:
		case <-timer.C:
			logger.Warn("publisher grace period elapsed", "grace", grace, "buffered", p.buf.len())
		}
		timer.Stop()
	}

	close(p.stopWorker)
	if workerDone != nil {
		<-workerDone
	}
	p.stopReadiness()

	p.mu.Lock()
	err := p.transitionLocked(Terminated)
	p.mu.Unlock()
	p.svc.forget(p)
	if err != nil {
		return err
	}

	if p.buf == nil {
		return nil
	}
	dropped := p.buf.drain()
	if len(dropped) == 0 {
		logger.Debug("publisher terminated")
		return nil
	}

	p.svc.stats.dropped.Add(uint64(len(dropped)))
	return &IncompleteMessageDeliveryError{Undelivered: len(dropped), Dropped: dropped}
}

// TerminateNow terminates without waiting for the buffer to drain.
func (p *Publisher) TerminateNow() error {
	return p.Terminate(0)
}

// TerminateAsync runs Terminate in the background.
func (p *Publisher) TerminateAsync(grace time.Duration) *Future {
	return p.terminateOp.run(func() error {
		return p.Terminate(grace)
	})
}
