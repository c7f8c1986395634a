package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testTopic Topic = "graylogic/test/out"

// failureRecorder collects PublishFailure reports.
type failureRecorder struct {
	mu       sync.Mutex
	failures []PublishFailure
}

func (r *failureRecorder) listener(f PublishFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *failureRecorder) get() []PublishFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PublishFailure(nil), r.failures...)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestPublisher_StartRequiresConnectedService(t *testing.T) {
	svc, err := NewService(NewMockTransport(), testConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Disconnect() })

	pub, err := svc.NewPublisher(PublisherConfig{})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := pub.Start(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Start() error = %v, want ErrIllegalState", err)
	}
	if pub.State() != NotStarted {
		t.Errorf("State() = %v, want %v", pub.State(), NotStarted)
	}
}

func TestPublisher_PublishBeforeStart(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())

	pub, err := svc.NewPublisher(PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 2})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := pub.PublishString("x", testTopic); !errors.Is(err, ErrIllegalState) {
		t.Errorf("PublishString() error = %v, want ErrIllegalState", err)
	}
}

func TestPublisher_StartIdempotent(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureBlock, BufferCapacity: 2})

	if err := pub.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if !pub.IsRunning() {
		t.Errorf("IsRunning() = false, state %v", pub.State())
	}
}

func TestPublisher_StartAsync(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub, err := svc.NewPublisher(PublisherConfig{})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.StartAsync().Wait(ctx); err != nil {
		t.Fatalf("StartAsync().Wait() error = %v", err)
	}
	if pub.State() != Started {
		t.Errorf("State() = %v, want %v", pub.State(), Started)
	}
}

func TestPublisher_InvalidConfig(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())

	tests := []struct {
		name string
		cfg  PublisherConfig
	}{
		{"reject without capacity", PublisherConfig{BackPressure: BackPressureReject}},
		{"block with negative capacity", PublisherConfig{BackPressure: BackPressureBlock, BufferCapacity: -1}},
		{"unknown policy", PublisherConfig{BackPressure: BackPressure(42), BufferCapacity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.NewPublisher(tt.cfg); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("NewPublisher() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestPublisher_InvalidArguments(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	tests := []struct {
		name        string
		payload     []byte
		destination Topic
	}{
		{"empty destination", []byte("x"), ""},
		{"single-level wildcard", []byte("x"), "graylogic/+/out"},
		{"multi-level wildcard", []byte("x"), "graylogic/#"},
		{"topic too long", []byte("x"), Topic(strings.Repeat("a", maxTopicLength+1))},
		{"payload too large", make([]byte, maxPayloadSize+1), testTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := pub.Publish(tt.payload, tt.destination); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Publish() error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if err := pub.PublishMessage(nil, testTopic); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("PublishMessage(nil) error = %v, want ErrInvalidArgument", err)
	}
}

// =============================================================================
// Ordering and back-pressure
// =============================================================================

func TestPublisher_FIFO(t *testing.T) {
	for _, policy := range []BackPressure{BackPressureReject, BackPressureBlock} {
		t.Run(policy.String(), func(t *testing.T) {
			tr := NewMockTransport()
			svc := newConnectedService(t, tr)
			pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: policy, BufferCapacity: 16})

			want := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
			for _, m := range want {
				if err := pub.PublishString(m, testTopic); err != nil {
					t.Fatalf("PublishString(%q) error = %v", m, err)
				}
			}

			waitFor(t, "all messages published", func() bool { return len(tr.GetPublished()) == len(want) })
			if diff := cmp.Diff(want, tr.PublishedPayloads()); diff != "" {
				t.Errorf("publish order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPublisher_RejectOverflow(t *testing.T) {
	tr := NewMockTransport()
	tr.SetBlockAll(true)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 3})

	for _, m := range []string{"a", "b", "c"} {
		if err := pub.PublishString(m, testTopic); err != nil {
			t.Fatalf("PublishString(%q) error = %v", m, err)
		}
	}

	start := time.Now()
	err := pub.PublishString("d", testTopic)
	if !errors.Is(err, ErrPublisherOverflow) {
		t.Fatalf("PublishString() on full buffer error = %v, want ErrPublisherOverflow", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("PublishString() on full buffer took %v, want fast failure", elapsed)
	}
	if got := pub.Buffered(); got != 3 {
		t.Errorf("Buffered() = %d, want 3", got)
	}
	if got := svc.Stats().Overflow; got == 0 {
		t.Error("Stats().Overflow = 0, want > 0")
	}

	var incomplete *IncompleteMessageDeliveryError
	err = pub.TerminateNow()
	if !errors.As(err, &incomplete) {
		t.Fatalf("TerminateNow() error = %v, want *IncompleteMessageDeliveryError", err)
	}
	if incomplete.Undelivered != 3 {
		t.Errorf("Undelivered = %d, want 3", incomplete.Undelivered)
	}
	if !errors.Is(err, ErrIncompleteMessageDelivery) {
		t.Errorf("TerminateNow() error does not match ErrIncompleteMessageDelivery")
	}

	var seqs []uint64
	for _, m := range incomplete.Dropped {
		seqs = append(seqs, m.Seq)
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, seqs); diff != "" {
		t.Errorf("dropped sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_BlockWaitsForSpace(t *testing.T) {
	tr := NewMockTransport()
	gate := make(chan struct{})
	tr.SetGate(gate)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureBlock, BufferCapacity: 1})

	if err := pub.PublishString("a", testTopic); err != nil {
		t.Fatalf("PublishString(a) error = %v", err)
	}
	waitFor(t, "worker holding head", func() bool { return len(tr.GetAttempts()) == 1 })

	done := make(chan error, 1)
	go func() {
		done <- pub.PublishString("b", testTopic)
	}()

	select {
	case err := <-done:
		close(gate)
		t.Fatalf("PublishString(b) returned %v while buffer was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PublishString(b) error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PublishString(b) still blocked after space freed")
	}

	waitFor(t, "both published", func() bool { return len(tr.GetPublished()) == 2 })
	if diff := cmp.Diff([]string{"a", "b"}, tr.PublishedPayloads()); diff != "" {
		t.Errorf("publish order mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_WouldBlockRetriesHead(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 8})

	for _, m := range []string{"a", "b", "c"} {
		if err := pub.PublishString(m, testTopic); err != nil {
			t.Fatalf("PublishString(%q) error = %v", m, err)
		}
	}

	waitFor(t, "first attempt", func() bool { return len(tr.GetAttempts()) >= 1 })
	// The worker holds "a" until the transport signals it can send again.
	time.Sleep(20 * time.Millisecond)
	if got := len(tr.GetAttempts()); got != 1 {
		t.Fatalf("attempts before CanSend = %d, want 1", got)
	}

	tr.SignalCanSend()

	waitFor(t, "all published", func() bool { return len(tr.GetPublished()) == 3 })

	var attempts []string
	for _, a := range tr.GetAttempts() {
		attempts = append(attempts, a.Payload)
	}
	if diff := cmp.Diff([]string{"a", "a", "b", "c"}, attempts); diff != "" {
		t.Errorf("attempt order mismatch (-want +got):\n%s", diff)
	}
	if got := svc.Stats().WouldBlock; got != 1 {
		t.Errorf("Stats().WouldBlock = %d, want 1", got)
	}
}

func TestPublisher_NoneWouldBlock(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	if err := pub.PublishString("a", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Fatalf("PublishString() error = %v, want ErrPublisherOverflow", err)
	}
	if pub.State() != NotReady {
		t.Errorf("State() = %v, want %v", pub.State(), NotReady)
	}
	if pub.IsReady() {
		t.Error("IsReady() = true before CanSend")
	}

	// Rejected without reaching the transport while not ready.
	if err := pub.PublishString("a", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Errorf("PublishString() while not ready error = %v, want ErrPublisherOverflow", err)
	}
	if got := len(tr.GetAttempts()); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}

	tr.SignalCanSend()

	if !pub.IsReady() {
		t.Fatal("IsReady() = false after CanSend")
	}
	if pub.State() != Ready {
		t.Errorf("State() = %v, want %v", pub.State(), Ready)
	}
	if err := pub.PublishString("b", testTopic); err != nil {
		t.Fatalf("PublishString() after CanSend error = %v", err)
	}
	if diff := cmp.Diff([]string{"b"}, tr.PublishedPayloads()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_NoneRecoversWithoutReadinessListener(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})
	sibling := newStartedPublisher(t, svc, PublisherConfig{})

	if err := pub.PublishString("a", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Fatalf("PublishString() error = %v, want ErrPublisherOverflow", err)
	}

	tr.SignalCanSend()
	tr.SignalCanSend()

	if !sibling.IsReady() {
		t.Error("sibling IsReady() = false after CanSend")
	}
	if err := sibling.PublishString("c", testTopic); err != nil {
		t.Fatalf("sibling PublishString() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := pub.PublishString("b", testTopic); err != nil {
			t.Fatalf("PublishString() #%d after CanSend error = %v", i, err)
		}
	}

	if got := len(tr.GetAttempts()); got != 7 {
		t.Errorf("transport attempts = %d, want 7", got)
	}
	if diff := cmp.Diff([]string{"c", "b", "b", "b", "b", "b"}, tr.PublishedPayloads()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_NoneSiblingSeesWouldBlockAgain(t *testing.T) {
	tr := NewMockTransport()
	tr.SetBlockAll(true)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})
	sibling := newStartedPublisher(t, svc, PublisherConfig{})

	if err := pub.PublishString("a", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Fatalf("PublishString() error = %v, want ErrPublisherOverflow", err)
	}
	if sibling.IsReady() {
		t.Error("sibling IsReady() = true while the transport would block")
	}

	// The sibling still asks the transport, which decides.
	if err := sibling.PublishString("b", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Errorf("sibling PublishString() error = %v, want ErrPublisherOverflow", err)
	}
	if sibling.State() != NotReady {
		t.Errorf("sibling State() = %v, want %v", sibling.State(), NotReady)
	}
	if got := len(tr.GetAttempts()); got != 2 {
		t.Errorf("transport attempts = %d, want 2", got)
	}
}

func TestPublisher_TransportErrorDirect(t *testing.T) {
	tr := NewMockTransport()
	tr.SetPublishError(errMockTransport)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	err := pub.PublishString("a", testTopic)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, errMockTransport) {
		t.Errorf("PublishString() error = %v, want ErrTransport wrapping transport error", err)
	}
}

// =============================================================================
// Readiness
// =============================================================================

func TestPublisher_ReadinessOncePerEpisode(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	var calls atomic.Int32
	if err := pub.SetReadinessListener(func() { calls.Add(1) }); err != nil {
		t.Fatalf("SetReadinessListener() error = %v", err)
	}

	if err := pub.PublishString("a", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		t.Fatalf("PublishString() error = %v, want ErrPublisherOverflow", err)
	}

	for i := 0; i < 3; i++ {
		tr.SignalCanSend()
	}

	waitFor(t, "readiness notification", func() bool { return calls.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("readiness calls = %d, want 1", got)
	}

	pub.NotifyWhenReady()
	waitFor(t, "re-armed readiness notification", func() bool { return calls.Load() == 2 })

	if got := svc.Stats().ReadinessNotifications; got != 2 {
		t.Errorf("Stats().ReadinessNotifications = %d, want 2", got)
	}
}

func TestPublisher_ReadinessAfterBufferOverflow(t *testing.T) {
	tr := NewMockTransport()
	gate := make(chan struct{})
	tr.SetGate(gate)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 1})

	ready := make(chan struct{}, 4)
	if err := pub.SetReadinessListener(func() { ready <- struct{}{} }); err != nil {
		t.Fatalf("SetReadinessListener() error = %v", err)
	}

	if err := pub.PublishString("a", testTopic); err != nil {
		t.Fatalf("PublishString(a) error = %v", err)
	}
	waitFor(t, "worker holding head", func() bool { return len(tr.GetAttempts()) == 1 })

	if err := pub.PublishString("b", testTopic); !errors.Is(err, ErrPublisherOverflow) {
		close(gate)
		t.Fatalf("PublishString(b) error = %v, want ErrPublisherOverflow", err)
	}

	close(gate)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("readiness listener not invoked after buffer drained")
	}
	if err := pub.PublishString("b", testTopic); err != nil {
		t.Errorf("PublishString(b) after readiness error = %v", err)
	}
}

func TestPublisher_ReadinessSingleSlot(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	var first, second atomic.Int32
	if err := pub.SetReadinessListener(func() { first.Add(1) }); err != nil {
		t.Fatalf("SetReadinessListener() error = %v", err)
	}
	if err := pub.SetReadinessListener(func() { second.Add(1) }); err != nil {
		t.Fatalf("second SetReadinessListener() error = %v", err)
	}
	if err := pub.SetReadinessListener(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetReadinessListener(nil) error = %v, want ErrInvalidArgument", err)
	}

	_ = pub.PublishString("a", testTopic)
	tr.SignalCanSend()

	waitFor(t, "first listener", func() bool { return first.Load() == 1 })
	if got := second.Load(); got != 0 {
		t.Errorf("second listener calls = %d, want 0", got)
	}
}

func TestPublisher_ReadinessListenerPanic(t *testing.T) {
	tr := NewMockTransport()
	tr.SetWouldBlock(1)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	var calls atomic.Int32
	if err := pub.SetReadinessListener(func() {
		calls.Add(1)
		panic("listener failure")
	}); err != nil {
		t.Fatalf("SetReadinessListener() error = %v", err)
	}

	_ = pub.PublishString("a", testTopic)
	tr.SignalCanSend()
	waitFor(t, "readiness call", func() bool { return calls.Load() == 1 })

	if err := pub.PublishString("b", testTopic); err != nil {
		t.Errorf("PublishString() after listener panic error = %v", err)
	}
}

// =============================================================================
// Termination
// =============================================================================

func TestPublisher_TerminateDrains(t *testing.T) {
	tr := NewMockTransport()
	tr.SetDelay(50 * time.Millisecond)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 4})

	for _, m := range []string{"a", "b", "c"} {
		if err := pub.PublishString(m, testTopic); err != nil {
			t.Fatalf("PublishString(%q) error = %v", m, err)
		}
	}

	if err := pub.Terminate(time.Second); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if !pub.IsTerminated() {
		t.Errorf("State() = %v, want %v", pub.State(), Terminated)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, tr.PublishedPayloads()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_TerminateTwice(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureBlock, BufferCapacity: 2})

	if err := pub.Terminate(time.Second); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if err := pub.Terminate(time.Second); err != nil {
		t.Errorf("second Terminate() error = %v", err)
	}
}

func TestPublisher_TerminateNotStarted(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub, err := svc.NewPublisher(PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 2})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	if err := pub.TerminateNow(); err != nil {
		t.Fatalf("TerminateNow() error = %v", err)
	}
	if pub.State() != Terminated {
		t.Errorf("State() = %v, want %v", pub.State(), Terminated)
	}
	if err := pub.Start(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Start() after terminate error = %v, want ErrIllegalState", err)
	}
}

func TestPublisher_TerminateNegativeGrace(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub := newStartedPublisher(t, svc, PublisherConfig{})

	if err := pub.Terminate(-time.Second); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Terminate(-1s) error = %v, want ErrInvalidArgument", err)
	}
	if !pub.IsRunning() {
		t.Errorf("State() = %v after rejected terminate, want running", pub.State())
	}
}

func TestPublisher_PublishAfterTerminate(t *testing.T) {
	configs := map[string]PublisherConfig{
		"none":   {},
		"reject": {BackPressure: BackPressureReject, BufferCapacity: 2},
		"block":  {BackPressure: BackPressureBlock, BufferCapacity: 2},
	}

	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			svc := newConnectedService(t, NewMockTransport())
			pub := newStartedPublisher(t, svc, cfg)

			if err := pub.TerminateNow(); err != nil {
				t.Fatalf("TerminateNow() error = %v", err)
			}
			if err := pub.PublishString("late", testTopic); !errors.Is(err, ErrIllegalState) {
				t.Errorf("PublishString() after terminate error = %v, want ErrIllegalState", err)
			}
			if pub.IsReady() {
				t.Error("IsReady() = true after terminate")
			}
		})
	}
}

func TestPublisher_LifecycleCheckedBeforeServiceDown(t *testing.T) {
	t.Run("terminated", func(t *testing.T) {
		tr := NewMockTransport()
		svc := newConnectedService(t, tr)
		pub := newStartedPublisher(t, svc, PublisherConfig{})

		if err := pub.TerminateNow(); err != nil {
			t.Fatalf("TerminateNow() error = %v", err)
		}
		tr.Events().OnServiceDown(errMockTransport)

		if err := pub.PublishString("late", testTopic); !errors.Is(err, ErrIllegalState) {
			t.Errorf("PublishString() after terminate error = %v, want ErrIllegalState", err)
		}
	})

	t.Run("not started", func(t *testing.T) {
		tr := NewMockTransport()
		svc := newConnectedService(t, tr)
		pub, err := svc.NewPublisher(PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 2})
		if err != nil {
			t.Fatalf("NewPublisher() error = %v", err)
		}
		tr.Events().OnServiceDown(errMockTransport)

		if err := pub.PublishString("early", testTopic); !errors.Is(err, ErrIllegalState) {
			t.Errorf("PublishString() before start error = %v, want ErrIllegalState", err)
		}
	})
}

func TestPublisher_TerminateReleasesBlockedProducer(t *testing.T) {
	tr := NewMockTransport()
	tr.SetBlockAll(true)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureBlock, BufferCapacity: 1})

	if err := pub.PublishString("a", testTopic); err != nil {
		t.Fatalf("PublishString(a) error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- pub.PublishString("b", testTopic)
	}()
	time.Sleep(20 * time.Millisecond)

	var incomplete *IncompleteMessageDeliveryError
	if err := pub.TerminateNow(); !errors.As(err, &incomplete) {
		t.Fatalf("TerminateNow() error = %v, want *IncompleteMessageDeliveryError", err)
	}
	if incomplete.Undelivered != 1 {
		t.Errorf("Undelivered = %d, want 1", incomplete.Undelivered)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrIllegalState) {
			t.Errorf("blocked PublishString() error = %v, want ErrIllegalState", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked producer not released by terminate")
	}
}

func TestPublisher_TerminateAsync(t *testing.T) {
	svc := newConnectedService(t, NewMockTransport())
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 2})

	f := pub.TerminateAsync(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("TerminateAsync().Wait() error = %v", err)
	}
	if !pub.IsTerminated() {
		t.Errorf("State() = %v, want %v", pub.State(), Terminated)
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestPublisher_ServiceDownReportsPending(t *testing.T) {
	tr := NewMockTransport()
	tr.SetBlockAll(true)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 4})

	rec := &failureRecorder{}
	pub.SetPublishFailureListener(rec.listener)

	for _, m := range []string{"a", "b", "c"} {
		if err := pub.PublishString(m, testTopic); err != nil {
			t.Fatalf("PublishString(%q) error = %v", m, err)
		}
	}
	waitFor(t, "first attempt", func() bool { return len(tr.GetAttempts()) >= 1 })

	tr.Events().OnServiceDown(errMockTransport)

	waitFor(t, "failure reports", func() bool { return len(rec.get()) == 3 })

	var got []string
	for _, f := range rec.get() {
		if !errors.Is(f.Err, ErrServiceDown) {
			t.Errorf("failure Err = %v, want ErrServiceDown", f.Err)
		}
		got = append(got, string(f.Message.Payload))
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("failure order mismatch (-want +got):\n%s", diff)
	}

	if err := pub.PublishString("d", testTopic); !errors.Is(err, ErrServiceDown) {
		t.Errorf("PublishString() after down error = %v, want ErrServiceDown", err)
	}
}

func TestPublisher_TransportErrorReported(t *testing.T) {
	tr := NewMockTransport()
	tr.SetPublishError(errMockTransport)
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{BackPressure: BackPressureReject, BufferCapacity: 2})

	rec := &failureRecorder{}
	pub.SetPublishFailureListener(rec.listener)

	if err := pub.PublishString("a", testTopic); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	waitFor(t, "failure report", func() bool { return len(rec.get()) == 1 })
	f := rec.get()[0]
	if !errors.Is(f.Err, ErrTransport) || !errors.Is(f.Err, errMockTransport) {
		t.Errorf("failure Err = %v, want ErrTransport wrapping transport error", f.Err)
	}
	if f.Destination != testTopic {
		t.Errorf("failure Destination = %q, want %q", f.Destination, testTopic)
	}
	if got := svc.Stats().Failed; got != 1 {
		t.Errorf("Stats().Failed = %d, want 1", got)
	}
}

func TestPublisher_LateTransportFailureReported(t *testing.T) {
	configs := map[string]PublisherConfig{
		"none":   {},
		"reject": {BackPressure: BackPressureReject, BufferCapacity: 2},
	}

	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			tr := NewMockTransport()
			svc := newConnectedService(t, tr)
			pub := newStartedPublisher(t, svc, cfg)
			other := newStartedPublisher(t, svc, cfg)

			rec := &failureRecorder{}
			pub.SetPublishFailureListener(rec.listener)
			otherRec := &failureRecorder{}
			other.SetPublishFailureListener(otherRec.listener)

			if err := pub.PublishString("a", testTopic); err != nil {
				t.Fatalf("PublishString() error = %v", err)
			}
			waitFor(t, "publish", func() bool { return len(tr.GetPublished()) == 1 })

			sent := tr.GetPublished()[0]
			tr.Events().OnPublishFailed(sent.Message, sent.Destination, errMockTransport)

			failures := rec.get()
			if len(failures) != 1 {
				t.Fatalf("failures = %d, want 1", len(failures))
			}
			f := failures[0]
			if !errors.Is(f.Err, ErrTransport) || !errors.Is(f.Err, errMockTransport) {
				t.Errorf("failure Err = %v, want ErrTransport wrapping transport error", f.Err)
			}
			if string(f.Message.Payload) != "a" || f.Destination != testTopic {
				t.Errorf("failure = %q to %q, want %q to %q", f.Message.Payload, f.Destination, "a", testTopic)
			}
			if got := len(otherRec.get()); got != 0 {
				t.Errorf("other publisher failures = %d, want 0", got)
			}
			if got := svc.Stats().Failed; got != 1 {
				t.Errorf("Stats().Failed = %d, want 1", got)
			}
		})
	}
}

func TestPublisher_LateFailureWithoutPublisher(t *testing.T) {
	tr := NewMockTransport()
	svc := newConnectedService(t, tr)

	tr.Events().OnPublishFailed(&OutboundMessage{Payload: []byte("x")}, testTopic, errMockTransport)

	if got := svc.Stats().Failed; got != 1 {
		t.Errorf("Stats().Failed = %d, want 1", got)
	}
}

func TestPublisher_MessageOptionsCopied(t *testing.T) {
	tr := NewMockTransport()
	svc := newConnectedService(t, tr)
	pub := newStartedPublisher(t, svc, PublisherConfig{DeliveryMode: DeliveryPersistent})

	props := map[string]string{"room": "kitchen"}
	tag := []byte("tag-1")
	if err := pub.PublishString("a", testTopic, WithProperties(props), WithCorrelationTag(tag)); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}
	props["room"] = "hall"
	tag[0] = 'X'

	published := tr.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published = %d, want 1", len(published))
	}
	msg := published[0].Message
	if diff := cmp.Diff(map[string]string{"room": "kitchen"}, msg.Properties); diff != "" {
		t.Errorf("Properties mismatch (-want +got):\n%s", diff)
	}
	if string(msg.CorrelationTag) != "tag-1" {
		t.Errorf("CorrelationTag = %q, want %q", msg.CorrelationTag, "tag-1")
	}
	if msg.DeliveryMode != DeliveryPersistent {
		t.Errorf("DeliveryMode = %v, want %v", msg.DeliveryMode, DeliveryPersistent)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}
