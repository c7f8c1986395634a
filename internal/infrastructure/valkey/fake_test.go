package valkey

import (
	"context"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

type fakePublish struct {
	Channel string
	Payload []byte
}

// fakeConn implements conn for testing.
type fakeConn struct {
	mu        sync.Mutex
	pingErrs  []error
	pingErr   error
	pings     int
	closes    int
	publishes  []fakePublish
	gate       chan struct{}
	publishErr error
}

func (c *fakeConn) publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	c.publishes = append(c.publishes, fakePublish{Channel: channel, Payload: payload})
	gate := c.gate
	err := c.publishErr
	c.mu.Unlock()

	if gate == nil {
		return err
	}
	select {
	case <-gate:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if len(c.pingErrs) > 0 {
		err := c.pingErrs[0]
		c.pingErrs = c.pingErrs[1:]
		return err
	}
	return c.pingErr
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setPublishErr(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setGate(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

func (c *fakeConn) getPublishes() []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakePublish(nil), c.publishes...)
}

func (c *fakeConn) counts() (pings, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings, c.closes
}

type publishFailure struct {
	Message     *messaging.OutboundMessage
	Destination messaging.Topic
	Err         error
}

// recordingEvents implements messaging.TransportEvents.
type recordingEvents struct {
	mu           sync.Mutex
	canSend      int
	reconnecting []messaging.ServiceEvent
	reconnected  []messaging.ServiceEvent
	down         []error
	failed       []publishFailure
}

func (e *recordingEvents) OnPublishFailed(msg *messaging.OutboundMessage, destination messaging.Topic, err error) {
	e.mu.Lock()
	e.failed = append(e.failed, publishFailure{Message: msg, Destination: destination, Err: err})
	e.mu.Unlock()
}

func (e *recordingEvents) failures() []publishFailure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]publishFailure(nil), e.failed...)
}

func (e *recordingEvents) OnCanSend() {
	e.mu.Lock()
	e.canSend++
	e.mu.Unlock()
}

func (e *recordingEvents) OnServiceDown(err error) {
	e.mu.Lock()
	e.down = append(e.down, err)
	e.mu.Unlock()
}

func (e *recordingEvents) OnReconnected(ev messaging.ServiceEvent) {
	e.mu.Lock()
	e.reconnected = append(e.reconnected, ev)
	e.mu.Unlock()
}

func (e *recordingEvents) OnReconnecting(ev messaging.ServiceEvent) {
	e.mu.Lock()
	e.reconnecting = append(e.reconnecting, ev)
	e.mu.Unlock()
}

func (e *recordingEvents) snapshot() (canSend, reconnecting, reconnected int, down []error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canSend, len(e.reconnecting), len(e.reconnected), append([]error(nil), e.down...)
}

// newFakeTransport returns a transport that dials the returned conn and
// records the options it was dialled with.
func newFakeTransport(opts Options) (*Transport, *fakeConn, *[]valkey.ClientOption) {
	tr := NewTransport(opts)
	fc := &fakeConn{}
	var dialled []valkey.ClientOption
	var mu sync.Mutex
	tr.dial = func(o valkey.ClientOption) (conn, error) {
		mu.Lock()
		dialled = append(dialled, o)
		mu.Unlock()
		return fc, nil
	}
	return tr, fc, &dialled
}

func testTransportConfig() messaging.TransportConfig {
	cfg := messaging.DefaultTransportConfig()
	cfg.BrokerURI = "redis://127.0.0.1:6379"
	cfg.ClientID = "graylogic-test"
	cfg.ReconnectionAttemptsWaitInterval = time.Millisecond
	return cfg
}
