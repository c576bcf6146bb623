package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of events buffered before new ones are dropped.
const DefaultQueueSize = 1024

// Logger is the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sink receives events from the Bus on its delivery goroutine.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

type namedSink struct {
	name string
	sink Sink
}

// Bus queues events and delivers them to every sink in registration order.
//
// Status events are ordered by device row version: one older than the last
// status delivered for the same device is discarded, so sinks always end on
// the committed status even when two writers publish out of order.
type Bus struct {
	queue   chan Event
	mu      sync.RWMutex
	sinks   []namedSink
	logger  Logger
	dropped atomic.Int64
	stale   atomic.Int64

	// statusVersion is owned by the Run goroutine.
	statusVersion map[int64]int64
}

// NewBus creates a bus with the given queue size. Zero selects DefaultQueueSize.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queue:         make(chan Event, queueSize),
		logger:        noopLogger{},
		statusVersion: make(map[int64]int64),
	}
}

// SetLogger sets the logger for delivery failures.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// AddSink registers a sink. Sinks should be added before Run.
func (b *Bus) AddSink(name string, s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
	b.mu.Unlock()
}

// Publish enqueues e without blocking. It reports false when the event was
// dropped because the queue is full.
func (b *Bus) Publish(e Event) bool {
	if b == nil {
		return true
	}
	select {
	case b.queue <- e:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, queue full", "kind", e.Kind, "device_code", e.DeviceCode)
		return false
	}
}

// Dropped returns the number of events discarded so far.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Stale returns the number of status events discarded as out of order.
func (b *Bus) Stale() int64 {
	if b == nil {
		return 0
	}
	return b.stale.Load()
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.queue:
			b.deliver(ctx, e)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	// Sinks get a fresh context so the final events are not cancelled
	// on arrival.
	ctx := context.Background()
	for {
		select {
		case e := <-b.queue:
			b.deliver(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	if !b.inOrder(e) {
		b.stale.Add(1)
		b.logger.Debug("stale status event discarded",
			"device_code", e.DeviceCode,
			"status", e.Status,
			"version", e.Version,
		)
		return
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Deliver(ctx, e); err != nil {
			b.logger.Warn("event delivery failed",
				"sink", s.name,
				"kind", e.Kind,
				"device_code", e.DeviceCode,
				"error", err,
			)
		}
	}
}

// inOrder records e's version and reports whether it is newer than the last
// status delivered for the device.
func (b *Bus) inOrder(e Event) bool {
	if e.Kind != KindStatusChanged || e.Version == 0 {
		return true
	}
	if last, ok := b.statusVersion[e.DeviceID]; ok && e.Version <= last {
		return false
	}
	b.statusVersion[e.DeviceID] = e.Version
	return true
}
