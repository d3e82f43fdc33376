package activation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/straja-ai/liverstage/internal/redact"
)

// Sink consumes prediction events (stdout, file, webhook).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Metrics is a point-in-time copy of delivery counters.
type Metrics struct {
	enqueued    uint64
	dropped     uint64
	sinkSuccess map[string]uint64
	sinkFailure map[string]uint64
}

func (m Metrics) Enqueued() uint64 { return m.enqueued }
func (m Metrics) Dropped() uint64  { return m.dropped }
func (m Metrics) SinkSuccess(name string) uint64 {
	return m.sinkSuccess[name]
}
func (m Metrics) SinkFailure(name string) uint64 {
	return m.sinkFailure[name]
}

type sinkCounters struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// Emitter buffers events and delivers them to sinks off the request path.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	counters        map[string]*sinkCounters // fixed at construction
	enqueued        atomic.Uint64
	dropped         atomic.Uint64
	shutdownTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
}

// NewEmitter starts background workers delivering to sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Second
	}

	em := &Emitter{
		queue:           make(chan *Event, queueSize),
		sinks:           sinks,
		counters:        make(map[string]*sinkCounters, len(sinks)),
		shutdownTimeout: shutdownTimeout,
	}
	for _, s := range sinks {
		em.counters[s.Name()] = &sinkCounters{}
	}

	for i := 0; i < workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

// Emit enqueues ev without blocking; a full queue drops the event.
func (e *Emitter) Emit(_ context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return
	}

	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
	}
}

// Close stops accepting events and waits up to the shutdown timeout for the
// queue to drain before closing sinks.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Logf("activation: shutdown timeout, %d events still queued", len(e.queue))
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Logf("activation: sink %s close error: %v", s.Name(), err)
		}
	}
}

// MetricsSnapshot copies the current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	if e == nil {
		return Metrics{}
	}
	m := Metrics{
		enqueued:    e.enqueued.Load(),
		dropped:     e.dropped.Load(),
		sinkSuccess: make(map[string]uint64, len(e.counters)),
		sinkFailure: make(map[string]uint64, len(e.counters)),
	}
	for name, c := range e.counters {
		m.sinkSuccess[name] = c.success.Load()
		m.sinkFailure[name] = c.failure.Load()
	}
	return m
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev *Event) {
	for _, s := range e.sinks {
		c := e.counters[s.Name()]
		if err := s.Deliver(context.Background(), ev); err != nil {
			redact.Logf("activation: sink %s failed: %v", s.Name(), err)
			c.failure.Add(1)
			continue
		}
		c.success.Add(1)
	}
}

// StdoutSink writes events through the process log.
type StdoutSink struct{}

func (StdoutSink) Name() string { return "stdout" }

func (StdoutSink) Deliver(_ context.Context, ev *Event) error {
	LogEvent(ev)
	return nil
}

func (StdoutSink) Close(context.Context) error { return nil }
