// Package mobile runs the obstacle-avoiding mobile robot: one
// fixed-timestep session driving from a start pose to a goal point
// through a world collaborator.
//
// Each tick is strictly sequential: sensor read, decision, actuation,
// physics step, metrics, telemetry. Only the control loop touches the
// robot's state, so nothing here is locked.
package mobile

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/nav"
	"github.com/teslashibe/go-rover/pkg/path"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/sensor"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/world"
)

// System is the telemetry system name of the mobile robot.
const System = "mobile"

// World is the physics collaborator the robot drives.
type World interface {
	sensor.RayCaster
	Pose() (geom.Pose, error)
	SetVelocity(linear, angular float64) error
	Contacts() ([]world.Contact, error)
	Step(dt float64) error
	GroundID() int
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeGoal         Outcome = "goal_reached"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeDisconnected Outcome = "disconnected"
)

// Config tunes one session.
type Config struct {
	Goal geom.Vec2 `yaml:"goal" json:"goal"`

	// Rate is the control frequency in Hz.
	Rate float64 `yaml:"rate" json:"rate"`
	// Duration caps the session in simulated time.
	Duration time.Duration `yaml:"duration" json:"duration"`
	// GoalRadius ends the session once the robot is this close (m).
	GoalRadius float64 `yaml:"goal_radius" json:"goal_radius"`
	// FlushEvery is the number of ticks between metrics messages.
	FlushEvery int `yaml:"flush_every" json:"flush_every"`
	// RealTime paces ticks against the wall clock.
	RealTime bool `yaml:"realtime" json:"realtime"`

	Seed         int64   `yaml:"seed" json:"seed"`
	NoiseStd     float64 `yaml:"noise_std" json:"noise_std"`
	PathSegments int     `yaml:"path_segments" json:"path_segments"`

	Nav     nav.Config     `yaml:"nav" json:"nav"`
	Path    path.Config    `yaml:"path" json:"path"`
	Metrics metrics.Config `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns the obstacle-course session.
func DefaultConfig() Config {
	return Config{
		Goal:         world.CourseGoal,
		Rate:         240,
		Duration:     120 * time.Second,
		GoalRadius:   0.3,
		FlushEvery:   240,
		Seed:         1,
		NoiseStd:     0.02,
		PathSegments: 50,
		Nav:          nav.DefaultConfig(),
		Path:         path.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
	}
}

// Dt returns the control timestep in seconds.
func (c Config) Dt() float64 {
	if c.Rate <= 0 {
		return 1.0 / 240.0
	}
	return 1 / c.Rate
}

// Option configures a Robot.
type Option func(*Robot)

// WithTelemetry sends session telemetry through t.
func WithTelemetry(t telemetry.Scoper) Option {
	return func(r *Robot) { r.scoper = t }
}

// WithCollector exports loop counters to c.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Robot) { r.collector = c }
}

// WithSession overrides the generated session id.
func WithSession(id string) Option {
	return func(r *Robot) { r.session = id }
}

// Result summarizes a finished session.
type Result struct {
	Session      string                    `json:"session"`
	Outcome      Outcome                   `json:"outcome"`
	Ticks        int                       `json:"ticks"`
	Time         float64                   `json:"time"` // simulated seconds
	Metrics      metrics.Snapshot          `json:"metrics"`
	GoalDistance float64                   `json:"goal_distance"`
	Escapes      int                       `json:"escapes"`
	Start        geom.Pose                 `json:"start"`
	End          geom.Pose                 `json:"end"`
	Reference    path.Reference            `json:"reference"`
	Trajectory   []metrics.TrajectoryPoint `json:"trajectory"`
}

// Robot is one mobile-robot session. Not safe for concurrent use.
type Robot struct {
	cfg   Config
	world World
	log   *slog.Logger

	session   string
	sink      telemetry.Sink
	scoper    telemetry.Scoper
	collector *metrics.Collector

	sensors *sensor.Array
	nav     *nav.Navigator
	tracker *path.Tracker
	rec     *metrics.Recorder

	ticks    int
	now      float64
	start    geom.Pose
	pose     geom.Pose
	readings sensor.Readings
	last     nav.Decision
	goalDist float64

	escapes     int
	escapeStart *float64
}

// New creates a session for w. The reference path runs straight from
// the current pose to cfg.Goal.
func New(w World, cfg Config, opts ...Option) (*Robot, error) {
	if cfg.PathSegments <= 0 {
		cfg.PathSegments = 50
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 240
	}

	start, err := w.Pose()
	if err != nil {
		return nil, err
	}

	r := &Robot{
		cfg:   cfg,
		world: w,
		sensors: sensor.NewArray(sensor.ArrayConfig{
			Layout:   sensor.SevenRing,
			NoiseStd: cfg.NoiseStd,
			Seed:     cfg.Seed,
		}),
		nav:      nav.New(cfg.Nav),
		rec:      metrics.NewRecorder(cfg.Metrics),
		start:    start,
		pose:     start,
		goalDist: start.DistanceTo(cfg.Goal),
		sink:     telemetry.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.session == "" {
		r.session = uuid.NewString()
	}
	if r.scoper != nil {
		r.sink = r.scoper.For(System, r.session)
	}
	r.log = log.Component(System).With("session", r.session)

	ref := path.Straight(start.Position(), cfg.Goal, cfg.PathSegments)
	r.tracker = path.NewTracker(ref, cfg.Goal, cfg.Path)
	return r, nil
}

// Session returns the session id.
func (r *Robot) Session() string { return r.session }

// Ticks returns the number of completed ticks.
func (r *Robot) Ticks() int { return r.ticks }

// Time returns the simulated time in seconds.
func (r *Robot) Time() float64 { return r.now }

// Pose returns the pose read at the start of the last tick.
func (r *Robot) Pose() geom.Pose { return r.pose }

// GoalDistance returns the distance to the goal at the last tick.
func (r *Robot) GoalDistance() float64 { return r.goalDist }

// Decision returns the last navigator decision.
func (r *Robot) Decision() nav.Decision { return r.last }

// Recorder exposes the session metrics.
func (r *Robot) Recorder() *metrics.Recorder { return r.rec }

// Step runs one control tick. A recoverable world error leaves the tick
// unfinished; the caller decides whether to continue.
func (r *Robot) Step() error {
	dt := r.cfg.Dt()

	pose, err := r.world.Pose()
	if err != nil {
		return err
	}
	readings := r.sensors.Read(r.world, pose)

	contacts, err := r.world.Contacts()
	if err != nil {
		return err
	}
	collision := r.rec.Collision(world.TouchingObstacle(contacts, r.world.GroundID()), r.now)

	steerErr, _ := r.tracker.HeadingError(pose)
	d := r.nav.Decide(nav.Input{
		Pose:       pose,
		Goal:       r.cfg.Goal,
		Readings:   readings,
		SteerError: steerErr,
		Collision:  collision,
		Time:       r.now,
		Dt:         dt,
	})

	if err := r.world.SetVelocity(d.Command.Linear, d.Command.Angular); err != nil {
		return err
	}
	if err := r.world.Step(dt); err != nil {
		return err
	}

	maxRange := r.cfg.Nav.DefaultRange
	r.rec.Move(pose.Position(), r.now)
	r.rec.Lateral(readings.Get(sensor.Left, maxRange), readings.Get(sensor.Right, maxRange))
	r.rec.Energy(d.Command.Linear, d.Command.Angular, dt)

	r.pose, r.readings, r.last = pose, readings, d
	r.goalDist = pose.DistanceTo(r.cfg.Goal)
	r.count(d, collision)
	r.advance()

	if r.ticks%r.cfg.FlushEvery == 0 {
		r.flush()
	}
	return nil
}

// count updates escape bookkeeping and the Prometheus series.
func (r *Robot) count(d nav.Decision, collision bool) {
	esc := r.nav.Escape()
	started := esc.StartedAt()
	newEscape := started != nil && started != r.escapeStart
	r.escapeStart = started
	if newEscape {
		r.escapes++
		r.log.Debug("escape", "trigger", esc.Trigger(), "t", r.now)
	}

	if r.collector == nil {
		return
	}
	r.collector.Ticks.WithLabelValues(System).Inc()
	r.collector.ModeTicks.WithLabelValues(System, d.Mode.String()).Inc()
	if collision {
		r.collector.Collisions.WithLabelValues(System).Inc()
	}
	if newEscape {
		r.collector.Escapes.WithLabelValues(System, string(esc.Trigger())).Inc()
	}
}

func (r *Robot) advance() {
	r.ticks++
	r.now = float64(r.ticks) * r.cfg.Dt()
}

// Run drives until the goal is reached, the duration elapses, ctx is
// canceled or the world disconnects, then flushes final telemetry. The
// error is non-nil only for a fatal world error; the Result is valid
// either way.
func (r *Robot) Run(ctx context.Context) (Result, error) {
	var tick <-chan time.Time
	if r.cfg.RealTime {
		ticker := time.NewTicker(time.Duration(r.cfg.Dt() * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	maxTicks := int(math.Ceil(r.cfg.Duration.Seconds() * r.cfg.Rate))
	r.log.Info("session started",
		"start", r.start.Position(),
		"goal", r.cfg.Goal,
		"rate", r.cfg.Rate,
		"duration", r.cfg.Duration)
	r.sendState(true, "started")

	outcome := OutcomeTimeout
	var runErr error
loop:
	for r.ticks < maxTicks {
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

		if err := r.Step(); err != nil {
			if world.IsFatal(err) {
				outcome, runErr = OutcomeDisconnected, err
				break
			}
			r.log.Warn("world error, stopping for this tick", "error", err)
			if err := r.world.SetVelocity(0, 0); err != nil {
				r.log.Debug("stop after world error failed", "error", err)
			}
			r.advance()
			continue
		}
		if r.goalDist < r.cfg.GoalRadius {
			outcome = OutcomeGoal
			break
		}
	}

	if outcome != OutcomeDisconnected {
		if err := r.world.SetVelocity(0, 0); err != nil && !errors.Is(err, world.ErrDisconnected) {
			r.log.Debug("final stop failed", "error", err)
		}
	}
	return r.finish(outcome), runErr
}

func (r *Robot) finish(outcome Outcome) Result {
	r.flush()
	snap := r.rec.Snapshot()

	res := Result{
		Session:      r.session,
		Outcome:      outcome,
		Ticks:        r.ticks,
		Time:         r.now,
		Metrics:      snap,
		GoalDistance: r.goalDist,
		Escapes:      r.escapes,
		Start:        r.start,
		End:          r.pose,
		Reference:    r.tracker.Reference(),
		Trajectory:   r.rec.Trajectory(),
	}

	traj := protocol.TrajectoryData{
		Reference: make([]protocol.Point, len(res.Reference)),
		Actual:    make([]protocol.TimedPoint, len(res.Trajectory)),
	}
	for i, p := range res.Reference {
		traj.Reference[i] = protocol.Point{X: p.X, Y: p.Y}
	}
	for i, p := range res.Trajectory {
		traj.Actual[i] = protocol.TimedPoint{X: p.X, Y: p.Y, T: p.T}
	}
	r.sink.Send(protocol.TypeTrajectory, traj)

	r.sink.Send(protocol.TypeSummary, protocol.SummaryData{
		Outcome:          string(outcome),
		Duration:         r.now,
		Ticks:            r.ticks,
		Collisions:       snap.Collisions,
		Distance:         snap.Distance,
		LateralErrorMean: snap.LateralErrorMean,
		LateralErrorStd:  snap.LateralErrorStd,
		Energy:           snap.Energy,
		Escapes:          r.escapes,
		GoalDistance:     r.goalDist,
	})
	r.sendState(false, string(outcome))

	if r.collector != nil {
		r.collector.Sessions.WithLabelValues(System, string(outcome)).Inc()
	}
	r.log.Info("session finished",
		"outcome", outcome,
		"t", round2(r.now),
		"goal_distance", round2(r.goalDist),
		"collisions", snap.Collisions,
		"distance", round2(snap.Distance),
		"energy", round2(snap.Energy),
		"escapes", r.escapes)
	return res
}

// flush sends a metrics message and logs a progress line.
func (r *Robot) flush() {
	snap := r.rec.Snapshot()
	front := r.readings.Get(sensor.Front, r.cfg.Nav.DefaultRange)

	r.sink.Send(protocol.TypeMetrics, protocol.MetricsData{
		Time:             r.now,
		X:                r.pose.X,
		Y:                r.pose.Y,
		Heading:          r.pose.Heading,
		Mode:             r.last.Mode.String(),
		Collisions:       snap.Collisions,
		Distance:         snap.Distance,
		LateralErrorMean: snap.LateralErrorMean,
		Energy:           snap.Energy,
		GoalDistance:     r.goalDist,
		Readings:         r.readings.Named(),
	})

	if r.collector != nil {
		r.collector.Distance.WithLabelValues(System).Set(snap.Distance)
		r.collector.Energy.WithLabelValues(System).Set(snap.Energy)
		r.collector.GoalDistance.WithLabelValues(System).Set(r.goalDist)
		r.collector.LateralError.WithLabelValues(System).Observe(snap.LateralErrorMean)
	}

	r.log.Info("progress",
		"t", round2(r.now),
		"x", round2(r.pose.X),
		"y", round2(r.pose.Y),
		"goal_distance", round2(r.goalDist),
		"front", round2(front),
		"collisions", snap.Collisions,
		"mode", r.last.Mode)
}

func (r *Robot) sendState(running bool, detail string) {
	r.sink.Send(protocol.TypeState, protocol.StateData{Connected: true, Running: running, Detail: detail})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
