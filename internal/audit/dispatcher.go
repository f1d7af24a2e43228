package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Retain lists event types that wait for buffer room even with
	// DropIfFull. The wait still ends with the caller's context.
	Retain []string
}

// Dispatcher asynchronously forwards audit events to a sink. Lost events
// are counted per event type; a sink that panics loses that one event and
// delivery continues.
type Dispatcher struct {
	sink       Sink
	logger     *zap.Logger
	dropIfFull bool
	retain     map[string]struct{}

	queue     chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	dropped      atomic.Uint64
	sinkFailures atomic.Uint64
	dropsMu      sync.Mutex
	drops        map[string]uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled; a nil Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink, logger *zap.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		sink:       sink,
		logger:     logger,
		dropIfFull: cfg.DropIfFull,
		retain:     make(map[string]struct{}, len(cfg.Retain)),
		queue:      make(chan Event, cfg.BufferSize),
		done:       make(chan struct{}),
		drops:      make(map[string]uint64),
	}
	for _, eventType := range cfg.Retain {
		d.retain[eventType] = struct{}{}
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued at Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkFailures.Add(1)
			d.logger.Warn("audit sink panicked", zap.String("event_type", event.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full buffer drops the event unless
// its type is retained; otherwise Emit waits for room or ctx. An event
// abandoned because ctx ended is counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !d.retained(event.EventType) {
		select {
		case d.queue <- event:
		case <-d.done:
		default:
			d.countDrop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.done:
	case <-ctx.Done():
		d.countDrop(event.EventType)
	}
}

func (d *Dispatcher) retained(eventType string) bool {
	_, ok := d.retain[eventType]
	return ok
}

func (d *Dispatcher) countDrop(eventType string) {
	d.dropped.Add(1)
	d.dropsMu.Lock()
	d.drops[eventType]++
	d.dropsMu.Unlock()
}

// Close drains queued events and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped is the total number of events lost to backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByEvent copies the drop counts keyed by event type.
func (d *Dispatcher) DroppedByEvent() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.dropsMu.Lock()
	defer d.dropsMu.Unlock()
	for eventType, n := range d.drops {
		out[eventType] = n
	}
	return out
}

// SinkFailures counts deliveries lost to a panicking sink.
func (d *Dispatcher) SinkFailures() uint64 {
	if d == nil {
		return 0
	}
	return d.sinkFailures.Load()
}
