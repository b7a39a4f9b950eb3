// Package web serves the telemetry dashboard: a Node-RED compatible
// ingest endpoint, a JSON API over recent events and past runs, live
// websocket feeds and Prometheus metrics.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/cloud"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Event sources.
const (
	SourceHTTP  = "http"
	SourceRobot = "ws"
	SourceLocal = "local"
)

// DefaultEventKeep is the event buffer size when Options leaves it unset.
const DefaultEventKeep = 500

// RunLister reads stored runs, newest first.
type RunLister interface {
	List(ctx context.Context, system string, limit int) ([]history.Run, error)
}

// Options configures a Server.
type Options struct {
	Addr      string
	EventKeep int
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	// Metrics counts ingested events when set.
	Metrics *metrics.Collector
	// Runs backs /api/runs; the route answers 503 when nil.
	Runs RunLister
	// ViewerIdle disconnects silent browsers; one minute when zero.
	ViewerIdle time.Duration
}

// Event is one message received by the dashboard.
type Event struct {
	Seq      uint64            `json:"seq"`
	Received time.Time         `json:"received"`
	Source   string            `json:"source"`
	Robot    string            `json:"robot,omitempty"`
	Message  *protocol.Message `json:"message"`
}

// SystemState is the latest known state of one reporting system.
type SystemState struct {
	System   string                `json:"system"`
	Session  string                `json:"session,omitempty"`
	LastSeen time.Time             `json:"last_seen"`
	Events   uint64                `json:"events"`
	Metrics  *protocol.MetricsData `json:"metrics,omitempty"`
	Summary  *protocol.SummaryData `json:"summary,omitempty"`
}

// Status is the dashboard overview returned by /api/status.
type Status struct {
	Uptime  float64                `json:"uptime_seconds"`
	Events  uint64                 `json:"events"`
	Viewers int                    `json:"viewers"`
	Robots  int                    `json:"robots"`
	Dropped uint64                 `json:"dropped_broadcasts"`
	Systems map[string]SystemState `json:"systems"`
}

// Server is the dashboard server.
type Server struct {
	app     *fiber.App
	addr    string
	log     *slog.Logger
	started time.Time

	keep    int
	mu      sync.RWMutex
	events  []Event
	seq     uint64
	systems map[string]*SystemState

	viewers *hub.Hub
	robots  *cloud.Hub

	metrics *metrics.Collector
	runs    RunLister
}

// NewServer creates a dashboard server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.EventKeep <= 0 {
		opts.EventKeep = DefaultEventKeep
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:    opts.Addr,
		log:     log.Component("web"),
		started: time.Now(),
		keep:    opts.EventKeep,
		events:  make([]Event, 0, opts.EventKeep),
		systems: make(map[string]*SystemState),
		viewers: hub.New("telemetry", hub.WithTiming(hub.Timing{IdleTimeout: opts.ViewerIdle})),
		robots:  cloud.NewHub(),
		metrics: opts.Metrics,
		runs:    opts.Runs,
	}
	s.robots.OnMessage(func(robotID string, msg *protocol.Message) {
		s.Ingest(SourceRobot, robotID, msg)
	})

	app := fiber.New(fiber.Config{
		AppName:               "Rover Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for browser dashboards served elsewhere
	app.Use(cors.New())

	// Node-RED compatible ingest
	app.Post("/robo-data", s.handleIngest)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/runs", s.handleRuns)
	s.robots.RegisterAPIRoutes(api)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// Browser feed
	app.Use("/ws/telemetry", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))

	// Robot sessions streaming over websocket
	s.robots.RegisterRoutes(app)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Robots returns the robot connection hub.
func (s *Server) Robots() *cloud.Hub {
	return s.robots
}

// Viewers returns the number of connected browser feeds.
func (s *Server) Viewers() int {
	return s.viewers.Viewers()
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.viewers.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.log.Info("dashboard shutting down")
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

// Ingest records a message, updates the per-system state and forwards
// the event to browser feeds. robot names the websocket connection the
// message arrived on, if any.
func (s *Server) Ingest(source, robot string, msg *protocol.Message) {
	now := time.Now()

	s.mu.Lock()
	s.seq++
	ev := Event{Seq: s.seq, Received: now, Source: source, Robot: robot, Message: msg}
	if len(s.events) == s.keep {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, ev)
	s.updateSystem(msg, now)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IngestEvents.WithLabelValues(source, string(msg.Type)).Inc()
	}
	if err := s.viewers.BroadcastJSON(ev); err != nil {
		s.log.Debug("broadcast failed", "error", err)
	}
}

// updateSystem folds msg into the latest state of its system. Caller
// holds s.mu.
func (s *Server) updateSystem(msg *protocol.Message, now time.Time) {
	name := msg.System
	if name == "" {
		name = "unknown"
	}
	st, ok := s.systems[name]
	if !ok {
		st = &SystemState{System: name}
		s.systems[name] = st
	}
	st.LastSeen = now
	st.Events++
	if msg.Session != "" {
		st.Session = msg.Session
	}

	switch msg.Type {
	case protocol.TypeMetrics:
		if m, err := msg.GetMetricsData(); err == nil {
			st.Metrics = m
		}
	case protocol.TypeSummary:
		if sum, err := msg.GetSummaryData(); err == nil {
			st.Summary = sum
		}
	}
}

// Name implements telemetry.Publisher so a run can feed an in-process
// dashboard directly.
func (s *Server) Name() string { return "dashboard" }

// Publish records msg as a local event.
func (s *Server) Publish(_ context.Context, msg *protocol.Message) error {
	s.Ingest(SourceLocal, "", msg)
	return nil
}

// EventFilter selects events for Events.
type EventFilter struct {
	Type   protocol.MessageType
	System string
	Limit  int
}

// Events returns the most recent matching events, oldest first.
func (s *Server) Events(f EventFilter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if f.Type != "" && ev.Message.Type != f.Type {
			continue
		}
		if f.System != "" && ev.Message.System != f.System {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Status returns the dashboard overview.
func (s *Server) Status() Status {
	s.mu.RLock()
	systems := make(map[string]SystemState, len(s.systems))
	for k, v := range s.systems {
		systems[k] = *v
	}
	total := s.seq
	s.mu.RUnlock()

	return Status{
		Uptime:  time.Since(s.started).Seconds(),
		Events:  total,
		Viewers: s.viewers.Viewers(),
		Robots:  s.robots.RobotCount(),
		Dropped: s.viewers.Dropped(),
		Systems: systems,
	}
}
