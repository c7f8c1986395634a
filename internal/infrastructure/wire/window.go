package wire

import (
	"context"
	"errors"
	"sync"
)

// ErrWindowClosed is returned by Submit after Close.
var ErrWindowClosed = errors.New("wire: window closed")

// Window is a fixed-size in-flight window for asynchronous publishes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Window struct {
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWindow creates a window admitting size concurrent operations.
// Sizes below 1 are raised to 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{slots: make(chan struct{}, size)}
}

// Submit runs op on its own goroutine if a slot is free.
//
// The slot is released when op returns, before complete is called with
// op's error, so complete may Submit again. complete may be nil.
//
// Returns:
//   - bool: false if the window is full (nothing was started)
//   - error: ErrWindowClosed after Close
func (w *Window) Submit(op func() error, complete func(error)) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false, ErrWindowClosed
	}

	select {
	case w.slots <- struct{}{}:
	default:
		return false, nil
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		err := op()
		<-w.slots
		if complete != nil {
			complete(err)
		}
	}()
	return true, nil
}

// InFlight returns the number of operations currently running.
func (w *Window) InFlight() int {
	return len(w.slots)
}

// Size returns the window capacity.
func (w *Window) Size() int {
	return cap(w.slots)
}

// Close rejects further submissions and waits for running operations to
// finish or ctx to end.
func (w *Window) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
