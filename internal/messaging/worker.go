package messaging

import "fmt"

// runWorker drains the buffer against the transport in FIFO order.
//
// The head is only popped once the transport accepts it; a would-block
// leaves it in place and the same message is retried after CanSend.
func (p *Publisher) runWorker() {
	defer close(p.workerDone)

	for {
		select {
		case <-p.stopWorker:
			return
		default:
		}

		if p.svc.State() == Down {
			p.failPending()
			return
		}

		item, ok := p.buf.peek()
		if !ok {
			if p.terminationRequested() {
				p.emptyOnce.Do(func() { close(p.empty) })
				return
			}
			select {
			case <-p.buf.notEmpty:
			case <-p.terminating:
			case <-p.stopWorker:
				return
			case <-p.svc.down:
			}
			continue
		}

		if !p.publishHead(item) {
			return
		}
	}
}

// publishHead makes one delivery attempt for the head of the buffer. It
// returns false when the worker was told to stop while waiting.
func (p *Publisher) publishHead(item *BufferedMessage) bool {
	session := p.svc.currentSession()
	if session == nil {
		p.buf.pop()
		p.notifyFailure(item, fmt.Errorf("%w: service is %s", ErrIllegalState, p.svc.State()))
		p.afterPop()
		return true
	}

	epoch := p.svc.flow.snapshot()
	res, err := p.svc.transport.Publish(session, item.Message, item.Destination)
	if err != nil {
		if p.svc.State() == Down {
			// Reported with the rest of the buffer on the next iteration.
			return true
		}
		p.buf.pop()
		p.notifyFailure(item, fmt.Errorf("%w: %w", ErrTransport, err))
		p.afterPop()
		return true
	}

	if res == PublishOK {
		p.buf.pop()
		p.svc.flow.publishSucceeded()
		p.svc.stats.published.Add(1)
		p.afterPop()
		return true
	}

	p.svc.flow.markWouldBlock(epoch)
	p.svc.stats.wouldBlock.Add(1)
	if p.buf.full() {
		p.markNotReady()
	}
	p.beginEpisode()

	if p.svc.flow.waitCanSend(p.stopWorker, p.svc.down) {
		return true
	}
	select {
	case <-p.stopWorker:
		return false
	default:
		return true
	}
}

// failPending reports every buffered message as undeliverable once the
// service is down. Persistent messages stay buffered for Terminate to report.
func (p *Publisher) failPending() {
	if p.cfg.DeliveryMode == DeliveryDirect {
		for _, item := range p.buf.drain() {
			p.notifyFailure(item, fmt.Errorf("%w: %s", ErrServiceDown, p.svc.BrokerURI()))
		}
	}
	p.svc.getLogger().Warn("publisher worker stopped: service down", "buffered", p.buf.len())

	if p.terminationRequested() {
		p.emptyOnce.Do(func() { close(p.empty) })
	}
}

func (p *Publisher) terminationRequested() bool {
	select {
	case <-p.terminating:
		return true
	default:
		return false
	}
}

// afterPop wakes the readiness goroutine while an episode is unresolved.
func (p *Publisher) afterPop() {
	if !p.notified.Load() {
		p.poke()
	}
}
