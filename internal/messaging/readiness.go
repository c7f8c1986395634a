package messaging

import "fmt"

// SetReadinessListener registers the publisher's readiness callback and
// starts the goroutine that invokes it.
//
// There is a single slot: once a listener is registered, later calls are
// ignored. The callback fires at most once per would-block or overflow
// episode; NotifyWhenReady re-arms it.
func (p *Publisher) SetReadinessListener(l ReadinessListener) error {
	if l == nil {
		return fmt.Errorf("%w: readiness listener is nil", ErrInvalidArgument)
	}

	p.readinessMu.Lock()
	defer p.readinessMu.Unlock()

	if st := p.State(); st == Terminating || st == Terminated {
		return fmt.Errorf("%w: publisher is %s", ErrIllegalState, st)
	}
	if p.readiness != nil {
		p.svc.getLogger().Debug("readiness listener already registered")
		return nil
	}

	p.readiness = l
	p.readinessDone = make(chan struct{})
	go p.runReadiness(l)
	return nil
}

// NotifyWhenReady asks for one more readiness notification, even if one was
// already delivered for the current episode.
func (p *Publisher) NotifyWhenReady() {
	p.beginEpisode()
}

// beginEpisode starts a new not-ready episode: the next readiness check may
// notify again.
func (p *Publisher) beginEpisode() {
	p.notified.Store(false)
	p.poke()
}

func (p *Publisher) poke() {
	select {
	case p.episodes <- struct{}{}:
	default:
	}
}

func (p *Publisher) runReadiness(l ReadinessListener) {
	defer close(p.readinessDone)

	for {
		select {
		case <-p.readinessStop:
			return
		case <-p.svc.down:
			return
		case <-p.episodes:
		}

		if p.notified.Load() {
			continue
		}
		if !p.svc.flow.waitCanSend(p.readinessStop, p.svc.down) {
			return
		}
		if !p.IsReady() || (p.buf != nil && p.buf.full()) {
			continue
		}
		if !p.notified.CompareAndSwap(false, true) {
			continue
		}

		p.svc.flow.clearWouldBlock()
		p.svc.stats.readinessNotifications.Add(1)
		p.invokeReadiness(l)
	}
}

func (p *Publisher) invokeReadiness(l ReadinessListener) {
	defer func() {
		if r := recover(); r != nil {
			p.svc.getLogger().Error("readiness listener panic recovered", "panic", r)
		}
	}()
	l()
}

func (p *Publisher) stopReadiness() {
	p.readinessMu.Lock()
	done := p.readinessDone
	select {
	case <-p.readinessStop:
	default:
		close(p.readinessStop)
	}
	p.readinessMu.Unlock()

	if done != nil {
		<-done
	}
}
