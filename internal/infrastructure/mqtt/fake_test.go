package mqtt

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// fakeToken implements pahomqtt.Token.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublish struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// fakeClient implements pahomqtt.Client for testing.
type fakeClient struct {
	opts *pahomqtt.ClientOptions

	mu          sync.Mutex
	connectErrs []error
	connects    int
	connected   bool
	disconnects int
	publishes   []fakePublish
	gate        chan struct{}
	publishErr  error
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	c.connects++
	var err error
	if len(c.connectErrs) > 0 {
		err = c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
	}
	if err == nil {
		c.connected = true
	}
	c.mu.Unlock()

	if err == nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return newDoneToken(err)
}

func (c *fakeClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}

	c.mu.Lock()
	c.publishes = append(c.publishes, fakePublish{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	gate := c.gate
	err := c.publishErr
	c.mu.Unlock()

	if gate == nil {
		return newDoneToken(err)
	}
	return &fakeToken{done: gate, err: err}
}

func (c *fakeClient) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newDoneToken(errors.New("not supported"))
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newDoneToken(errors.New("not supported"))
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token {
	return newDoneToken(nil)
}

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (c *fakeClient) setGate(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

func (c *fakeClient) setPublishError(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *fakeClient) getPublishes() []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakePublish(nil), c.publishes...)
}

func (c *fakeClient) counts() (connects, disconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects
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

// newFakeTransport returns a transport whose sessions use the returned client.
func newFakeTransport(t interface{ Fatalf(string, ...any) }, opts Options) (*Transport, *fakeClient) {
	tr, err := NewTransport(opts)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	fc := &fakeClient{}
	tr.newClient = func(o *pahomqtt.ClientOptions) pahomqtt.Client {
		fc.opts = o
		return fc
	}
	return tr, fc
}

func testTransportConfig() messaging.TransportConfig {
	cfg := messaging.DefaultTransportConfig()
	cfg.BrokerURI = "tcp://127.0.0.1:1883"
	cfg.ClientID = "graylogic-test"
	return cfg
}
