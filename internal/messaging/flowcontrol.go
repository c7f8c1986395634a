package messaging

import "sync"

// flowControl holds the CanSend and WouldBlock signals shared by every
// publisher of one Service.
//
// ready is closed while canSend is true and replaced when it is cleared, so
// waiters select on it together with their stop channels.
type flowControl struct {
	mu         sync.Mutex
	canSend    bool
	wouldBlock bool
	epoch      uint64
	ready      chan struct{}
}

func newFlowControl() *flowControl {
	ready := make(chan struct{})
	close(ready)
	return &flowControl{canSend: true, ready: ready}
}

// snapshot returns the CanSend epoch; it must be taken before a publish attempt.
func (f *flowControl) snapshot() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

// signalCanSend records an OnCanSend notification from the transport.
func (f *flowControl) signalCanSend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	if !f.canSend {
		f.canSend = true
		close(f.ready)
	}
}

// markWouldBlock records a would-block result for an attempt started at
// epoch. CanSend stays set if the transport signalled it after the attempt
// began, otherwise the waiter would miss that signal.
func (f *flowControl) markWouldBlock(epoch uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wouldBlock = true
	if f.canSend && f.epoch == epoch {
		f.canSend = false
		f.ready = make(chan struct{})
	}
}

// publishSucceeded records an accepted publish.
func (f *flowControl) publishSucceeded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.canSend {
		f.canSend = true
		close(f.ready)
	}
	f.wouldBlock = false
}

func (f *flowControl) clearWouldBlock() {
	f.mu.Lock()
	f.wouldBlock = false
	f.mu.Unlock()
}

func (f *flowControl) state() (canSend, wouldBlock bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canSend, f.wouldBlock
}

// waitCanSend blocks until CanSend is set or one of the channels closes.
// Nil channels are ignored. It reports whether CanSend was observed.
func (f *flowControl) waitCanSend(stop, down <-chan struct{}) bool {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()

	select {
	case <-ready:
		return true
	case <-stop:
		return false
	case <-down:
		return false
	}
}
