// Package vacuum runs the coverage robot: a fixed-timestep session that
// explores a room, builds an occupancy and coverage map, and learns
// from the runs recorded before it.
package vacuum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/explore"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/mapping"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/sensor"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/world"
)

// System is the telemetry system name of the vacuum robot.
const System = "vacuum"

// MapPrefix names saved maps: map_exec_<execution>.
const MapPrefix = "map_exec_"

// World is the physics collaborator the robot drives.
type World interface {
	sensor.RayCaster
	Pose() (geom.Pose, error)
	SetVelocity(linear, angular float64) error
	Contacts() ([]world.Contact, error)
	Step(dt float64) error
	GroundID() int
}

// HistoryStore keeps finished runs. *history.DB satisfies it.
type HistoryStore interface {
	Add(ctx context.Context, r *history.Run) (int64, error)
	History(ctx context.Context, system string) ([]history.Run, error)
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCovered      Outcome = "coverage_reached"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeDisconnected Outcome = "disconnected"
)

// Config tunes one session.
type Config struct {
	// Rate is the control frequency in Hz.
	Rate     float64       `yaml:"rate" json:"rate"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	RealTime bool          `yaml:"realtime" json:"realtime"`

	// TargetCoverage (percent) ends the session once MinTime has passed.
	TargetCoverage float64       `yaml:"target_coverage" json:"target_coverage"`
	MinTime        time.Duration `yaml:"min_time" json:"min_time"`

	// Tick intervals.
	TrajectoryEvery int `yaml:"trajectory_every" json:"trajectory_every"`
	FlushEvery      int `yaml:"flush_every" json:"flush_every"`
	LogEvery        int `yaml:"log_every" json:"log_every"`
	SuggestEvery    int `yaml:"suggest_every" json:"suggest_every"`

	Seed     int64   `yaml:"seed" json:"seed"`
	NoiseStd float64 `yaml:"noise_std" json:"noise_std"`
	// Range of every sensor in the fan (m).
	Range float64 `yaml:"range" json:"range"`

	// Execution numbers the run; 0 means one past the stored history.
	// From the second execution on the explorer reads the map and the
	// history suggestions.
	Execution int `yaml:"execution" json:"execution"`
	// LoadMap names a saved map to start from instead of a blank one.
	LoadMap string `yaml:"load_map" json:"load_map"`

	Map     mapping.Config `yaml:"map" json:"map"`
	Explore explore.Config `yaml:"explore" json:"explore"`
	Metrics metrics.Config `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns a five-minute run at 120 Hz.
func DefaultConfig() Config {
	return Config{
		Rate:            120,
		Duration:        300 * time.Second,
		TargetCoverage:  95,
		MinTime:         10 * time.Second,
		TrajectoryEvery: 5,
		FlushEvery:      10,
		LogEvery:        100,
		SuggestEvery:    60,
		Seed:            1,
		NoiseStd:        0.02,
		Range:           2.0,
		Map:             mapping.DefaultConfig(),
		Explore:         explore.DefaultConfig(),
		Metrics:         metrics.DefaultConfig(),
	}
}

// Dt returns the control timestep in seconds.
func (c Config) Dt() float64 {
	if c.Rate <= 0 {
		return 1.0 / 120.0
	}
	return 1 / c.Rate
}

// Option configures a Session.
type Option func(*Session)

// WithTelemetry sends session telemetry through t.
func WithTelemetry(t telemetry.Scoper) Option {
	return func(s *Session) { s.scoper = t }
}

// WithCollector exports loop counters to c.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

// WithStore loads and saves maps through st.
func WithStore(st mapping.Store) Option {
	return func(s *Session) { s.store = st }
}

// WithHistory reads past runs from h and records this one.
func WithHistory(h HistoryStore) Option {
	return func(s *Session) { s.history = h }
}

// WithSession overrides the generated session id.
func WithSession(id string) Option {
	return func(s *Session) { s.session = id }
}

// Result summarizes a finished session.
type Result struct {
	Session     string                    `json:"session"`
	Outcome     Outcome                   `json:"outcome"`
	Execution   int                       `json:"execution"`
	Ticks       int                       `json:"ticks"`
	Time        float64                   `json:"time"` // simulated seconds
	Metrics     metrics.Snapshot          `json:"metrics"`
	Coverage    float64                   `json:"coverage_percent"`
	Efficiency  float64                   `json:"efficiency"`
	Escapes     int                       `json:"escapes"`
	Start       geom.Pose                 `json:"start"`
	End         geom.Pose                 `json:"end"`
	Trajectory  []mapping.TrajectoryPoint `json:"trajectory"`
	MapName     string                    `json:"map,omitempty"`
	RunID       int64                     `json:"run_id,omitempty"`
	Improvement *history.Improvement      `json:"improvement,omitempty"`
}

// Session is one vacuum run. Not safe for concurrent use.
type Session struct {
	cfg   Config
	world World
	log   *slog.Logger

	session   string
	sink      telemetry.Sink
	scoper    telemetry.Scoper
	collector *metrics.Collector
	store     mapping.Store
	history   HistoryStore

	sensors  *sensor.Array
	explorer *explore.Explorer
	grid     *mapping.Grid
	rec      *metrics.Recorder

	past        []history.Run
	suggestions *history.Suggestions

	ticks    int
	now      float64
	start    geom.Pose
	pose     geom.Pose
	readings sensor.Readings
	last     explore.Decision
	coverage float64

	escapes     int
	escapeStart *float64
}

// New prepares a session for w. It reads the run history and the map
// named by cfg.LoadMap when the matching collaborators are set.
func New(ctx context.Context, w World, cfg Config, opts ...Option) (*Session, error) {
	def := DefaultConfig()
	if cfg.TrajectoryEvery <= 0 {
		cfg.TrajectoryEvery = def.TrajectoryEvery
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = def.FlushEvery
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = def.LogEvery
	}
	if cfg.SuggestEvery <= 0 {
		cfg.SuggestEvery = def.SuggestEvery
	}
	if cfg.Range <= 0 {
		cfg.Range = def.Range
	}

	start, err := w.Pose()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		world: w,
		sensors: sensor.NewArray(sensor.ArrayConfig{
			Layout:   sensor.FiveFan,
			NoiseStd: cfg.NoiseStd,
			Range:    cfg.Range,
			Seed:     cfg.Seed,
		}),
		explorer: explore.New(cfg.Explore),
		grid:     mapping.New(cfg.Map),
		rec:      metrics.NewRecorder(cfg.Metrics),
		start:    start,
		pose:     start,
		sink:     telemetry.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.session == "" {
		s.session = uuid.NewString()
	}
	if s.scoper != nil {
		s.sink = s.scoper.For(System, s.session)
	}
	s.log = log.Component(System).With("session", s.session)

	if s.history != nil {
		past, err := s.history.History(ctx, System)
		if err != nil {
			return nil, fmt.Errorf("failed to load run history: %w", err)
		}
		s.past = past
	}
	if s.cfg.Execution <= 0 {
		s.cfg.Execution = len(s.past) + 1
	}

	if cfg.LoadMap != "" && s.store != nil {
		g, err := s.store.Load(cfg.LoadMap)
		if err != nil {
			return nil, fmt.Errorf("failed to load map %q: %w", cfg.LoadMap, err)
		}
		if g != nil {
			s.grid = g
			s.coverage = g.CoveragePercent()
			s.log.Info("map loaded", "name", cfg.LoadMap, "coverage", round2(s.coverage))
		} else {
			s.log.Warn("map not found, starting blank", "name", cfg.LoadMap)
		}
	}
	return s, nil
}

// Session returns the session id.
func (s *Session) Session() string { return s.session }

// Execution returns the run number.
func (s *Session) Execution() int { return s.cfg.Execution }

// Ticks returns the number of completed ticks.
func (s *Session) Ticks() int { return s.ticks }

// Time returns the simulated time in seconds.
func (s *Session) Time() float64 { return s.now }

// Grid exposes the live map.
func (s *Session) Grid() *mapping.Grid { return s.grid }

// Decision returns the last explorer decision.
func (s *Session) Decision() explore.Decision { return s.last }

// Suggestions returns the history suggestions in use, nil before the
// first refresh or on a first execution.
func (s *Session) Suggestions() *history.Suggestions { return s.suggestions }

// learning reports whether the explorer gets the map and suggestions.
func (s *Session) learning() bool { return s.cfg.Execution > 1 }

// Step runs one control tick.
func (s *Session) Step() error {
	dt := s.cfg.Dt()

	pose, err := s.world.Pose()
	if err != nil {
		return err
	}
	readings := s.sensors.Read(s.world, pose)

	s.grid.MarkRays(pose, s.rays(readings))
	s.grid.Visit(pose.X, pose.Y, dt)
	if s.ticks%s.cfg.TrajectoryEvery == 0 {
		s.grid.AddTrajectory(pose, s.now)
	}
	if s.learning() && (s.suggestions == nil || s.ticks%s.cfg.SuggestEvery == 0) {
		sg := history.Suggest(s.past, s.grid)
		s.suggestions = &sg
	}

	contacts, err := s.world.Contacts()
	if err != nil {
		return err
	}
	collision := s.rec.Collision(world.TouchingObstacle(contacts, s.world.GroundID()), s.now)

	in := explore.Input{
		Pose:      pose,
		Readings:  readings,
		Collision: collision,
		Time:      s.now,
	}
	if s.learning() {
		in.Map = s.grid
		in.Suggestions = s.suggestions
	}
	d := s.explorer.Decide(in)

	if err := s.world.SetVelocity(d.Command.Linear, d.Command.Angular); err != nil {
		return err
	}
	if err := s.world.Step(dt); err != nil {
		return err
	}

	s.rec.Move(pose.Position(), s.now)
	s.rec.Lateral(readings.Get(sensor.Left, s.cfg.Range), readings.Get(sensor.Right, s.cfg.Range))
	s.rec.Energy(d.Command.Linear, d.Command.Angular, dt)

	s.pose, s.readings, s.last = pose, readings, d
	s.coverage = s.grid.CoveragePercent()
	s.count(d, collision)
	s.advance()

	if s.ticks%s.cfg.FlushEvery == 0 {
		s.flush()
	}
	if s.ticks%s.cfg.LogEvery == 0 {
		s.progress()
	}
	return nil
}

func (s *Session) rays(r sensor.Readings) []mapping.Ray {
	rays := make([]mapping.Ray, 0, len(r))
	for _, d := range s.sensors.Directions() {
		rays = append(rays, mapping.Ray{
			Angle:    d.Offset(),
			Distance: r.Get(d, s.cfg.Range),
			MaxRange: s.sensors.MaxRange(d),
		})
	}
	return rays
}

func (s *Session) count(d explore.Decision, collision bool) {
	esc := s.explorer.Escape()
	started := esc.StartedAt()
	newEscape := started != nil && started != s.escapeStart
	s.escapeStart = started
	if newEscape {
		s.escapes++
		s.log.Debug("escape", "trigger", esc.Trigger(), "t", s.now)
	}

	if s.collector == nil {
		return
	}
	s.collector.Ticks.WithLabelValues(System).Inc()
	s.collector.ModeTicks.WithLabelValues(System, d.State.String()).Inc()
	if collision {
		s.collector.Collisions.WithLabelValues(System).Inc()
	}
	if newEscape {
		s.collector.Escapes.WithLabelValues(System, string(esc.Trigger())).Inc()
	}
}

func (s *Session) advance() {
	s.ticks++
	s.now = float64(s.ticks) * s.cfg.Dt()
}

// Run explores until the coverage target is met, the duration elapses,
// ctx is canceled or the world disconnects. It then records the run,
// saves the map and sends the final telemetry even when ctx is done.
// The error joins a fatal world error with any storage failure; the
// Result is valid either way.
func (s *Session) Run(ctx context.Context) (Result, error) {
	var tick <-chan time.Time
	if s.cfg.RealTime {
		ticker := time.NewTicker(time.Duration(s.cfg.Dt() * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	maxTicks := int(math.Ceil(s.cfg.Duration.Seconds() * s.cfg.Rate))
	minTime := s.cfg.MinTime.Seconds()
	s.log.Info("session started",
		"execution", s.cfg.Execution,
		"past_runs", len(s.past),
		"start", s.start.Position(),
		"rate", s.cfg.Rate,
		"duration", s.cfg.Duration)
	s.sendState(true, "started")

	outcome := OutcomeTimeout
	var runErr error
loop:
	for s.ticks < maxTicks {
		if tick != nil {
			select {
			case <-ctx.Done():
				outcome = OutcomeCanceled
				break loop
			case <-tick:
			}
		} else if ctx.Err() != nil {
			outcome = OutcomeCanceled
			break
		}

		if err := s.Step(); err != nil {
			if world.IsFatal(err) {
				outcome, runErr = OutcomeDisconnected, err
				break
			}
			s.log.Warn("world error, stopping for this tick", "error", err)
			if err := s.world.SetVelocity(0, 0); err != nil {
				s.log.Debug("stop after world error failed", "error", err)
			}
			s.advance()
			continue
		}
		if s.coverage >= s.cfg.TargetCoverage && s.now > minTime {
			outcome = OutcomeCovered
			break
		}
	}

	if outcome != OutcomeDisconnected {
		if err := s.world.SetVelocity(0, 0); err != nil && !errors.Is(err, world.ErrDisconnected) {
			s.log.Debug("final stop failed", "error", err)
		}
	}
	res, err := s.finish(context.WithoutCancel(ctx), outcome)
	return res, errors.Join(runErr, err)
}

func (s *Session) finish(ctx context.Context, outcome Outcome) (Result, error) {
	s.flush()
	snap := s.rec.Snapshot()
	efficiency := history.Efficiency(s.coverage, snap.Energy)

	res := Result{
		Session:    s.session,
		Outcome:    outcome,
		Execution:  s.cfg.Execution,
		Ticks:      s.ticks,
		Time:       s.now,
		Metrics:    snap,
		Coverage:   s.coverage,
		Efficiency: efficiency,
		Escapes:    s.escapes,
		Start:      s.start,
		End:        s.pose,
		Trajectory: s.grid.Trajectory(),
	}

	var errs []error
	if s.history != nil {
		run := &history.Run{
			Session:     s.session,
			System:      System,
			Outcome:     string(outcome),
			Duration:    s.now,
			Ticks:       s.ticks,
			Collisions:  snap.Collisions,
			Distance:    snap.Distance,
			Energy:      snap.Energy,
			Coverage:    s.coverage,
			Efficiency:  efficiency,
			LateralMean: snap.LateralErrorMean,
			StartX:      s.start.X,
			StartY:      s.start.Y,
			EndX:        s.pose.X,
			EndY:        s.pose.Y,
		}
		if id, err := s.history.Add(ctx, run); err != nil {
			errs = append(errs, err)
		} else {
			res.RunID = id
			if imp, ok := history.Improve(append(s.past, *run)); ok {
				res.Improvement = &imp
			}
		}
	}

	if s.store != nil {
		name := fmt.Sprintf("%s%d", MapPrefix, s.cfg.Execution)
		if err := s.store.Save(name, s.grid); err != nil {
			errs = append(errs, fmt.Errorf("failed to save map %q: %w", name, err))
		} else {
			res.MapName = name
			s.log.Info("map saved", "name", name)
		}
	}

	actual := make([]protocol.TimedPoint, len(res.Trajectory))
	for i, p := range res.Trajectory {
		actual[i] = protocol.TimedPoint{X: p.X, Y: p.Y, T: p.T}
	}
	s.sink.Send(protocol.TypeTrajectory, protocol.TrajectoryData{Actual: actual})

	s.sink.Send(protocol.TypeSummary, protocol.SummaryData{
		Outcome:          string(outcome),
		Duration:         s.now,
		Ticks:            s.ticks,
		Collisions:       snap.Collisions,
		Distance:         snap.Distance,
		LateralErrorMean: snap.LateralErrorMean,
		LateralErrorStd:  snap.LateralErrorStd,
		Energy:           snap.Energy,
		Escapes:          s.escapes,
		Coverage:         s.coverage,
		Efficiency:       efficiency,
	})
	s.sendState(false, string(outcome))

	if s.collector != nil {
		s.collector.Sessions.WithLabelValues(System, string(outcome)).Inc()
	}

	if imp := res.Improvement; imp != nil {
		s.log.Info("efficiency improvement",
			"time_reduction", round2(imp.TimeReduction),
			"energy_reduction", round2(imp.EnergyReduction),
			"improvement", imp.Efficiency)
	}
	s.log.Info("session finished",
		"outcome", outcome,
		"execution", s.cfg.Execution,
		"t", round2(s.now),
		"coverage", round2(s.coverage),
		"energy", round2(snap.Energy),
		"collisions", snap.Collisions,
		"efficiency", efficiency,
		"escapes", s.escapes)
	return res, errors.Join(errs...)
}

// flush sends a metrics message.
func (s *Session) flush() {
	snap := s.rec.Snapshot()
	s.sink.Send(protocol.TypeMetrics, protocol.MetricsData{
		Time:             s.now,
		X:                s.pose.X,
		Y:                s.pose.Y,
		Heading:          s.pose.Heading,
		Mode:             s.last.State.String(),
		Collisions:       snap.Collisions,
		Distance:         snap.Distance,
		LateralErrorMean: snap.LateralErrorMean,
		Energy:           snap.Energy,
		Coverage:         s.coverage,
		Readings:         s.readings.Named(),
	})

	if s.collector != nil {
		s.collector.Distance.WithLabelValues(System).Set(snap.Distance)
		s.collector.Energy.WithLabelValues(System).Set(snap.Energy)
		s.collector.Coverage.WithLabelValues(System).Set(s.coverage)
		s.collector.LateralError.WithLabelValues(System).Observe(snap.LateralErrorMean)
	}
}

func (s *Session) progress() {
	s.log.Info("progress",
		"t", round2(s.now),
		"coverage", round2(s.coverage),
		"linear", round2(s.last.Command.Linear),
		"angular", round2(s.last.Command.Angular),
		"energy", round2(s.rec.TotalEnergy()),
		"collisions", s.rec.Collisions(),
		"state", s.last.State)
}

func (s *Session) sendState(running bool, detail string) {
	s.sink.Send(protocol.TypeState, protocol.StateData{Connected: true, Running: running, Detail: detail})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
