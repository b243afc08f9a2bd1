package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher hands events to a Sink on one goroutine in emit order. A nil
// *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	queue      chan Event

	// Senders hold mu shared, so queue is closed only with no send in progress.
	mu       sync.RWMutex
	closing  bool
	stopping chan struct{}
	stopOnce sync.Once

	// sinkCtx is cancelled when Close gives up waiting for the sink.
	sinkCtx context.Context
	abandon context.CancelFunc
	exited  chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, cfg.BufferSize),
		stopping:   make(chan struct{}),
		exited:     make(chan struct{}),
	}
	d.sinkCtx, d.abandon = context.WithCancel(context.Background())
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	for event := range d.queue {
		if d.sinkCtx.Err() != nil {
			d.dropped.Add(1)
			continue
		}
		d.sink.Emit(d.sinkCtx, event)
		if d.sinkCtx.Err() != nil {
			d.dropped.Add(1)
			continue
		}
		d.delivered.Add(1)
	}
}

// Emit queues event. With DropIfFull a full queue drops it at once; otherwise
// Emit waits for room until ctx ends or Close starts. Events emitted after
// Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closing {
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
		d.dropped.Add(1)
	case <-d.stopping:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// ends. On ctx expiry the sink context is cancelled and whatever is still
// queued is counted as dropped. Close may be called more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.stopOnce.Do(func() { close(d.stopping) })

	d.mu.Lock()
	if !d.closing {
		d.closing = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.exited:
		return nil
	case <-ctx.Done():
		d.abandon()
		return fmt.Errorf("flush events: %w", ctx.Err())
	}
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
