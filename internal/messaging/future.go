package messaging

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous lifecycle operation.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the operation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation finishes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// asyncOp runs at most one operation at a time; callers arriving while it
// runs share its Future.
type asyncOp struct {
	mu      sync.Mutex
	current *Future
}

func (a *asyncOp) run(fn func() error) *Future {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		select {
		case <-a.current.done:
		default:
			return a.current
		}
	}

	f := newFuture()
	a.current = f
	go func() {
		f.complete(fn())
	}()
	return f
}
