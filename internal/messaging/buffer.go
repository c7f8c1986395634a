package messaging

import (
	"errors"
	"sync"
)

var (
	errBufferFull   = errors.New("buffer full")
	errBufferClosed = errors.New("buffer closed")
)

// buffer is the bounded FIFO between Publish callers and the worker.
//
// slots holds one token per occupied position: a token is taken before a
// message is appended and given back after it is removed, so producers
// blocked on slots wake exactly when a position frees up.
type buffer struct {
	slots    chan struct{}
	notEmpty chan struct{}
	released chan struct{}

	mu     sync.Mutex
	items  []*BufferedMessage
	seq    uint64
	closed bool
}

func newBuffer(capacity int) *buffer {
	return &buffer{
		slots:    make(chan struct{}, capacity),
		notEmpty: make(chan struct{}, 1),
		released: make(chan struct{}),
	}
}

// tryPush appends m or fails with errBufferFull without waiting.
func (b *buffer) tryPush(m *BufferedMessage) error {
	select {
	case b.slots <- struct{}{}:
	default:
		return errBufferFull
	}
	return b.append(m)
}

// push waits for a free position, or fails once the buffer is closed.
func (b *buffer) push(m *BufferedMessage) error {
	select {
	case b.slots <- struct{}{}:
	case <-b.released:
		return errBufferClosed
	}
	return b.append(m)
}

func (b *buffer) append(m *BufferedMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.slots
		return errBufferClosed
	}
	b.seq++
	m.Seq = b.seq
	b.items = append(b.items, m)
	b.mu.Unlock()

	select {
	case b.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// peek returns the head without removing it.
func (b *buffer) peek() (*BufferedMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[0], true
}

// pop removes the head. Only the worker pops.
func (b *buffer) pop() {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return
	}
	b.items[0] = nil
	b.items = b.items[1:]
	b.mu.Unlock()
	<-b.slots
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *buffer) capacity() int {
	return cap(b.slots)
}

func (b *buffer) full() bool {
	return len(b.slots) == cap(b.slots)
}

// close rejects further pushes and wakes blocked producers.
func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.released)
	}
}

// drain removes and returns everything still buffered.
func (b *buffer) drain() []*BufferedMessage {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()

	for range items {
		<-b.slots
	}
	return items
}
