// Package telemetry delivers session events to dashboards and time-series
// stores without ever blocking the control loop.
//
// A Dispatcher queues protocol messages and hands them to a Publisher on
// its own goroutine. Metrics that arrive faster than the configured rate,
// and any event arriving while the queue is full, are dropped and counted.
// Session lifecycle events (state, trajectory, summary) are never rate
// limited.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Sink accepts telemetry events. Send must not block.
type Sink interface {
	Send(t protocol.MessageType, payload any)
}

// Scoper hands out sinks stamped with a system and session.
type Scoper interface {
	For(system, session string) Sink
}

// Publisher delivers one message to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg *protocol.Message) error
}

// Drop reasons reported to Prometheus.
const (
	DropRateLimited = "rate_limited"
	DropQueueFull   = "queue_full"
	DropEncode      = "encode"
	DropPublish     = "publish"
	DropClosed      = "closed"
)

// Config tunes the dispatcher.
type Config struct {
	QueueSize int           `yaml:"queue_size" json:"queue_size"`
	Rate      float64       `yaml:"rate" json:"rate"` // events per second
	Burst     int           `yaml:"burst" json:"burst"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"` // per publish
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize: 64,
		Rate:      20,
		Burst:     10,
		Timeout:   httpc.TelemetryTimeout,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics counts sent and dropped events on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Dispatcher is a rate-limited, bounded, asynchronous Sink.
type Dispatcher struct {
	pub     Publisher
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Collector
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *protocol.Message
	done   chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher publishing to pub.
func NewDispatcher(pub Publisher, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	d := &Dispatcher{
		pub:     pub,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.Component("telemetry"),
		queue:   make(chan *protocol.Message, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// Send queues an unattributed event.
func (d *Dispatcher) Send(t protocol.MessageType, payload any) {
	d.enqueue(t, payload, "", "")
}

// For returns a Sink that stamps every event with system and session.
func (d *Dispatcher) For(system, session string) Sink {
	return &scoped{d: d, system: system, session: session}
}

type scoped struct {
	d               *Dispatcher
	system, session string
}

func (s *scoped) Send(t protocol.MessageType, payload any) {
	s.d.enqueue(t, payload, s.system, s.session)
}

func (d *Dispatcher) enqueue(t protocol.MessageType, payload any, system, session string) {
	if !lifecycle(t) && !d.limiter.Allow() {
		d.drop(DropRateLimited)
		return
	}

	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		d.log.Debug("encode failed", "type", t, "error", err)
		d.drop(DropEncode)
		return
	}
	msg.From(system, session)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(DropClosed)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.drop(DropQueueFull)
	}
}

// lifecycle reports whether t is sent a bounded number of times per
// session. Those messages skip the rate limiter; the queue still bounds them.
func lifecycle(t protocol.MessageType) bool {
	switch t {
	case protocol.TypeSummary, protocol.TypeTrajectory, protocol.TypeState:
		return true
	}
	return false
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		err := d.pub.Publish(ctx, msg)
		cancel()
		if err != nil {
			d.log.Debug("publish failed", "publisher", d.pub.Name(), "type", msg.Type, "error", err)
			d.drop(DropPublish)
			continue
		}
		d.sent.Add(1)
		if d.metrics != nil {
			d.metrics.TelemetrySent.WithLabelValues(d.pub.Name()).Inc()
		}
	}
}

func (d *Dispatcher) drop(reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.TelemetryDrops.WithLabelValues(reason).Inc()
	}
}

// Stats returns the sent and dropped counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Dropped: d.dropped.Load()}
}

// Close stops accepting events and waits for the queue to drain or ctx
// to end. The publisher is closed afterwards if it implements io.Closer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if c, ok := d.pub.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type discard struct{}

func (discard) Send(protocol.MessageType, any) {}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}
