package messaging

import "sync"

type dispatchItem struct {
	kind  listenerKind
	fn    func(ServiceEvent)
	event ServiceEvent
}

// dispatcher delivers listener events one at a time, in enqueue order, on
// its own goroutine so a slow or faulty listener never stalls the transport.
//
// Events still queued at shutdown are dropped.
type dispatcher struct {
	logger Logger

	mu    sync.Mutex
	queue []dispatchItem

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newDispatcher(logger Logger) *dispatcher {
	return &dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	go d.run()
}

func (d *dispatcher) enqueue(items ...dispatchItem) {
	if len(items) == 0 {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, items...)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) next() (dispatchItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return dispatchItem{}, false
	}
	item := d.queue[0]
	d.queue[0] = dispatchItem{}
	d.queue = d.queue[1:]
	return item, true
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		for {
			select {
			case <-d.stop:
				return
			default:
			}

			item, ok := d.next()
			if !ok {
				break
			}
			d.invoke(item)
		}
	}
}

func (d *dispatcher) invoke(item dispatchItem) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panic recovered",
				"listener", item.kind.String(),
				"panic", r,
			)
		}
	}()
	item.fn(item.event)
}

// shutdown stops the goroutine, waits for it and returns how many queued
// events were dropped. It must not be called from a listener.
func (d *dispatcher) shutdown() int {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := len(d.queue)
	d.queue = nil
	return dropped
}
