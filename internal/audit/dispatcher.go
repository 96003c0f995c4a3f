package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher delivers events to its sinks from a single background
// goroutine, in emission order. A nil *Dispatcher is valid and discards
// everything.
type Dispatcher struct {
	dropIfFull bool
	sinks      []Sink
	queue      chan Event
	stopped    chan struct{}

	// mu guards closing queue against concurrent sends.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher starts a dispatcher over sinks. It returns nil when cfg is
// disabled or there is nothing to deliver to.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if !cfg.Enabled || len(live) == 0 {
		return nil
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	d := &Dispatcher{
		dropIfFull: cfg.DropIfFull,
		sinks:      live,
		queue:      make(chan Event, size),
		stopped:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for event := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, event)
		}
	}
}

// deliver isolates sinks from each other: a panic in one is counted and the
// remaining sinks still see the event.
func (d *Dispatcher) deliver(s Sink, event Event) {
	defer func() {
		if recover() != nil {
			d.failed.Add(1)
		}
	}()
	s.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full buffer drops the event and bumps
// [Dispatcher.Dropped]; otherwise Emit waits for room or ctx. Events emitted
// after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops intake and blocks until every queued event has been delivered.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped reports events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed reports how many sink deliveries panicked.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
