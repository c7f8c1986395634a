package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockSession is the session handle handed out by MockTransport.
type mockSession struct {
	id int
}

type mockPublish struct {
	Destination Topic
	Payload     string
	Message     *OutboundMessage
}

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu          sync.Mutex
	events      TransportEvents
	connects    int
	disconnects int
	connectErr  error
	connectGate chan struct{}

	attempts   []mockPublish
	published  []mockPublish
	wouldBlock int
	blockAll   bool
	publishErr error
	delay      time.Duration
	gate       chan struct{}
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Connect(ctx context.Context, _ TransportConfig, events TransportEvents) (Session, error) {
	m.mu.Lock()
	gate := m.connectGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.connects++
	m.events = events
	return &mockSession{id: m.connects}, nil
}

func (m *MockTransport) Disconnect(_ Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *MockTransport) Publish(_ Session, msg *OutboundMessage, destination Topic) (PublishResult, error) {
	call := mockPublish{Destination: destination, Payload: string(msg.Payload), Message: msg}

	m.mu.Lock()
	m.attempts = append(m.attempts, call)
	gate := m.gate
	delay := m.delay
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return PublishOK, m.publishErr
	}
	if m.blockAll {
		return PublishWouldBlock, nil
	}
	if m.wouldBlock > 0 {
		m.wouldBlock--
		return PublishWouldBlock, nil
	}
	m.published = append(m.published, call)
	return PublishOK, nil
}

func (m *MockTransport) SetWouldBlock(n int) {
	m.mu.Lock()
	m.wouldBlock = n
	m.mu.Unlock()
}

func (m *MockTransport) SetBlockAll(block bool) {
	m.mu.Lock()
	m.blockAll = block
	m.mu.Unlock()
}

func (m *MockTransport) SetPublishError(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *MockTransport) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *MockTransport) SetGate(gate chan struct{}) {
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
}

func (m *MockTransport) Events() TransportEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func (m *MockTransport) SignalCanSend() {
	m.Events().OnCanSend()
}

func (m *MockTransport) GetAttempts() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.attempts...)
}

func (m *MockTransport) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockTransport) PublishedPayloads() []string {
	var out []string
	for _, p := range m.GetPublished() {
		out = append(out, p.Payload)
	}
	return out
}

func (m *MockTransport) Counts() (connects, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects
}

var errMockTransport = errors.New("mock transport failure")

// testConfig returns a valid transport configuration for testing.
func testConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.BrokerURI = "tcp://127.0.0.1:1883"
	return cfg
}

// newConnectedService returns a connected Service that is disconnected when
// the test ends.
func newConnectedService(t *testing.T, tr *MockTransport) *Service {
	t.Helper()

	svc, err := NewService(tr, testConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Disconnect() })

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return svc
}

// newStartedPublisher creates and starts a publisher on svc.
func newStartedPublisher(t *testing.T, svc *Service, cfg PublisherConfig) *Publisher {
	t.Helper()

	pub, err := svc.NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := pub.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return pub
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
