package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/web"
)

// drainTimeout bounds how long queued telemetry may take to publish
// after a session ends.
const drainTimeout = 5 * time.Second

// sessionFlags are shared by the nav, vacuum and route commands.
type sessionFlags struct {
	dashboard bool
	linger    bool
	plotDir   string
	duration  time.Duration
	realtime  bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dashboard, "dashboard", false, "serve the dashboard while the session runs")
	cmd.Flags().BoolVar(&f.linger, "linger", false, "keep serving the dashboard after the session ends")
	cmd.Flags().StringVar(&f.plotDir, "plot-dir", "", "write PNG plots of the session to this directory")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "session length in simulated time (config when 0)")
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "pace the loop against the wall clock")
}

// runtime holds what every command shares: metrics registry, telemetry
// dispatcher, run history and the optional in-process dashboard.
type runtime struct {
	cfg        config.Config
	log        *slog.Logger
	registry   *prometheus.Registry
	collector  *metrics.Collector
	dispatcher *telemetry.Dispatcher
	dashboard  *web.Server
	history    *history.DB
	linger     bool

	drainOnce sync.Once
	drainErr  error
}

// newRuntime wires telemetry and storage from cfg. With dashboard set the
// web server is started by run and receives every message locally.
func newRuntime(cfg config.Config, dashboard, linger bool) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		log:      log.Component("rover"),
		registry: prometheus.NewRegistry(),
		linger:   linger,
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.collector = metrics.NewCollector(rt.registry)

	if path := cfg.Storage.History; path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
		db, err := history.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		rt.history = db
	}

	var pubs telemetry.Fanout
	pub, err := telemetry.NewPublisher(cfg.Telemetry)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if pub != nil {
		pubs = append(pubs, pub)
	}

	if dashboard {
		opts := web.Options{
			Addr:       cfg.Dashboard.Addr,
			EventKeep:  cfg.Dashboard.EventKeep,
			Gatherer:   rt.registry,
			Metrics:    rt.collector,
			ViewerIdle: cfg.Dashboard.ViewerIdle,
		}
		if rt.history != nil {
			opts.Runs = rt.history
		}
		rt.dashboard = web.NewServer(opts)
		pubs = append(pubs, rt.dashboard)
	}

	if len(pubs) > 0 {
		rt.dispatcher = telemetry.NewDispatcher(pubs, telemetry.DispatcherConfig(cfg.Telemetry),
			telemetry.WithMetrics(rt.collector))
		rt.log.Info("telemetry enabled", "backend", cfg.Telemetry.Backend, "dashboard", dashboard)
	}
	return rt, nil
}

// scoper returns the session telemetry source, nil when telemetry is off.
func (rt *runtime) scoper() telemetry.Scoper {
	if rt.dispatcher == nil {
		return nil
	}
	return rt.dispatcher
}

// run executes session, next to the dashboard when one is configured.
// Queued telemetry is drained before the dashboard stops.
func (rt *runtime) run(ctx context.Context, session func(context.Context) error) error {
	if rt.dashboard == nil {
		err := session(ctx)
		return errors.Join(err, rt.drain())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.dashboard.Start(gctx)
	})
	g.Go(func() error {
		err := session(gctx)
		if derr := rt.drain(); derr != nil {
			rt.log.Warn("telemetry drain incomplete", "error", derr)
		}
		if rt.linger && err == nil {
			rt.log.Info("session finished, dashboard still serving", "addr", rt.cfg.Dashboard.Addr)
			return nil
		}
		cancel()
		return err
	})
	return g.Wait()
}

// drain flushes and closes the dispatcher once.
func (rt *runtime) drain() error {
	rt.drainOnce.Do(func() {
		if rt.dispatcher == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		rt.drainErr = rt.dispatcher.Close(ctx)
		stats := rt.dispatcher.Stats()
		rt.log.Debug("telemetry drained", "sent", stats.Sent, "dropped", stats.Dropped)
	})
	return rt.drainErr
}

// Close releases storage and telemetry.
func (rt *runtime) Close() error {
	err := rt.drain()
	if rt.history != nil {
		err = errors.Join(err, rt.history.Close())
	}
	return err
}

// record stores a finished run when history is enabled. Failures are
// logged; the session result stands without them.
func (rt *runtime) record(ctx context.Context, run *history.Run) {
	if rt.history == nil {
		return
	}
	id, err := rt.history.Add(context.WithoutCancel(ctx), run)
	if err != nil {
		rt.log.Warn("failed to record run", "system", run.System, "error", err)
		return
	}
	rt.log.Debug("run recorded", "system", run.System, "id", id)
}

// plotFile joins the plot directory and name, or returns "" when plots
// are off.
func plotFile(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}
