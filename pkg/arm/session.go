// Package arm runs the planar manipulator: per-joint PID position
// control through a sequence of joint-angle setpoints.
//
// A setpoint is done once the mean joint error stays inside the
// tolerance for the hold time, or when its timeout runs out. Every
// setpoint change resets the controllers and the settle clock.
package arm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/world"
)

// System is the telemetry system name of the manipulator.
const System = "arm"

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeSettled      Outcome = "settled"
	OutcomeUnsettled    Outcome = "not_settled"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeDisconnected Outcome = "disconnected"
)

// Config tunes one session.
type Config struct {
	// Setpoints are joint angles in radians, one slice per setpoint.
	Setpoints [][]float64 `yaml:"setpoints" json:"setpoints"`

	Rate float64 `yaml:"rate" json:"rate"`
	// SetpointTimeout gives up on a setpoint in simulated time.
	SetpointTimeout time.Duration `yaml:"setpoint_timeout" json:"setpoint_timeout"`
	MaxTorque       float64       `yaml:"max_torque" json:"max_torque"`
	// Tolerance is the mean absolute joint error counted as on target (rad).
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// Hold is how long the error must stay inside Tolerance.
	Hold       time.Duration `yaml:"hold" json:"hold"`
	FlushEvery int           `yaml:"flush_every" json:"flush_every"`
	TraceEvery int           `yaml:"trace_every" json:"trace_every"`
	RealTime   bool          `yaml:"realtime" json:"realtime"`
	// LinkLength places the tip in telemetry.
	LinkLength float64 `yaml:"link_length" json:"link_length"`

	PID pid.Config `yaml:"pid" json:"pid"`
}

// DefaultConfig moves the two-link arm to 45°/30°, then to 90°/-45°.
func DefaultConfig() Config {
	return Config{
		Setpoints:       [][]float64{{math.Pi / 4, math.Pi / 6}, {math.Pi / 2, -math.Pi / 4}},
		Rate:            240,
		SetpointTimeout: 10 * time.Second,
		MaxTorque:       15,
		Tolerance:       0.05,
		Hold:            500 * time.Millisecond,
		FlushEvery:      240,
		TraceEvery:      12,
		LinkLength:      0.5,
		PID:             pid.JointConfig(),
	}
}

// Dt returns the control timestep in seconds.
func (c Config) Dt() float64 {
	if c.Rate <= 0 {
		return 1.0 / 240.0
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

// WithSession overrides the generated session id.
func WithSession(id string) Option {
	return func(s *Session) { s.session = id }
}

// SetpointResult is the response to one setpoint.
type SetpointResult struct {
	Target  []float64 `json:"target"`
	Settled bool      `json:"settled"`
	// SettleTime runs from the setpoint change to the end of the hold.
	SettleTime float64 `json:"settle_time"`
	// Overshoot is the largest travel past the target on any joint (rad).
	Overshoot float64 `json:"overshoot"`
	MeanError float64 `json:"mean_error"` // rad, over joints and ticks
	Energy    float64 `json:"energy"`     // Σ τ²·dt
	Ticks     int     `json:"ticks"`
}

// Sample is the joint state at one instant.
type Sample struct {
	T      float64   `json:"t"`
	Angles []float64 `json:"angles"`
}

// Result summarizes a finished session.
type Result struct {
	Session   string           `json:"session"`
	Outcome   Outcome          `json:"outcome"`
	Ticks     int              `json:"ticks"`
	Time      float64          `json:"time"`
	Setpoints []SetpointResult `json:"setpoints"`
	Energy    float64          `json:"energy"`
	MeanError float64          `json:"mean_error"`
	Overshoot float64          `json:"overshoot"`
	Final     []float64        `json:"final"`
	Trace     []Sample         `json:"trace"`
}

// SettleTime returns the longest settle time among settled setpoints.
func (r Result) SettleTime() float64 {
	var longest float64
	for _, sp := range r.Setpoints {
		if sp.Settled && sp.SettleTime > longest {
			longest = sp.SettleTime
		}
	}
	return longest
}

// setpoint is the bookkeeping of the setpoint being tracked.
type setpoint struct {
	res    SetpointResult
	start  float64
	dir    []float64 // sign of the initial error per joint
	since  float64   // entered the tolerance band; negative when outside
	errSum float64
	errN   int
}

// Session is one manipulator run. Not safe for concurrent use.
type Session struct {
	cfg    Config
	joints Joints
	log    *slog.Logger

	session   string
	sink      telemetry.Sink
	scoper    telemetry.Scoper
	collector *metrics.Collector

	ctrl    []*pid.Controller
	torques []float64
	errs    []float64

	ticks   int
	now     float64
	angles  []float64
	posErr  float64
	energy  float64
	errSum  float64
	errN    int
	sp      setpoint
	results []SetpointResult
	trace   []Sample
}

// New creates a session for j. Every setpoint must name one angle per joint.
func New(j Joints, cfg Config, opts ...Option) (*Session, error) {
	if len(cfg.Setpoints) == 0 {
		return nil, errors.New("no setpoints")
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 240
	}
	if cfg.TraceEvery <= 0 {
		cfg.TraceEvery = 1
	}
	if cfg.MaxTorque <= 0 {
		cfg.MaxTorque = math.Inf(1)
	}

	angles, err := j.Angles()
	if err != nil {
		return nil, err
	}
	for i, sp := range cfg.Setpoints {
		if len(sp) != len(angles) {
			return nil, fmt.Errorf("setpoint %d has %d angles for %d joints", i+1, len(sp), len(angles))
		}
	}

	s := &Session{
		cfg:     cfg,
		joints:  j,
		sink:    telemetry.Discard,
		ctrl:    make([]*pid.Controller, len(angles)),
		torques: make([]float64, len(angles)),
		errs:    make([]float64, len(angles)),
		angles:  angles,
	}
	for i := range s.ctrl {
		s.ctrl[i] = pid.New(cfg.PID)
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
	return s, nil
}

// Session returns the session id.
func (s *Session) Session() string { return s.session }

// Ticks returns the number of completed ticks.
func (s *Session) Ticks() int { return s.ticks }

// Time returns the simulated time in seconds.
func (s *Session) Time() float64 { return s.now }

// Angles returns the joint angles read at the start of the last tick.
func (s *Session) Angles() []float64 { return append([]float64(nil), s.angles...) }

// Torques returns the torques applied at the last tick.
func (s *Session) Torques() []float64 { return append([]float64(nil), s.torques...) }

// Track switches to a new target: controllers and the settle clock restart.
func (s *Session) Track(target []float64) {
	for _, c := range s.ctrl {
		c.Reset()
	}
	s.sp = setpoint{
		res:   SetpointResult{Target: append([]float64(nil), target...)},
		start: s.now,
		since: -1,
	}
}

// Settled reports whether the current setpoint has settled.
func (s *Session) Settled() bool { return s.sp.res.Settled }

// Step runs one control tick toward the tracked target. A recoverable
// error leaves the tick unfinished; the caller decides whether to continue.
func (s *Session) Step() error {
	if s.sp.res.Target == nil {
		s.Track(s.cfg.Setpoints[0])
	}
	dt := s.cfg.Dt()
	sp := &s.sp

	angles, err := s.joints.Angles()
	if err != nil {
		return err
	}

	var sumAbs float64
	for i, c := range s.ctrl {
		e := geom.NormalizeAngle(sp.res.Target[i] - angles[i])
		s.errs[i] = e
		s.torques[i] = geom.Clamp(c.Update(e, dt), -s.cfg.MaxTorque, s.cfg.MaxTorque)
		sumAbs += math.Abs(e)
	}
	if sp.dir == nil {
		sp.dir = make([]float64, len(s.errs))
		for i, e := range s.errs {
			if e != 0 {
				sp.dir[i] = geom.Sign(e)
			}
		}
	}

	if err := s.joints.SetTorques(s.torques); err != nil {
		return err
	}
	if err := s.joints.Step(dt); err != nil {
		return err
	}

	var energy float64
	for i, e := range s.errs {
		energy += s.torques[i] * s.torques[i] * dt
		if over := -sp.dir[i] * e; over > sp.res.Overshoot {
			sp.res.Overshoot = over
		}
	}
	n := float64(len(s.errs))
	sp.res.Energy += energy
	sp.errSum += sumAbs
	sp.errN += len(s.errs)
	sp.res.Ticks++
	s.energy += energy
	s.errSum += sumAbs
	s.errN += len(s.errs)
	s.angles = angles
	s.posErr = sumAbs / n

	s.advance()
	s.settle()
	s.count()

	if s.ticks%s.cfg.TraceEvery == 0 {
		s.trace = append(s.trace, Sample{T: s.now, Angles: angles})
	}
	if s.ticks%s.cfg.FlushEvery == 0 {
		s.flush()
	}
	return nil
}

// settle advances the settle clock with the error measured this tick.
func (s *Session) settle() {
	sp := &s.sp
	if sp.res.Settled {
		return
	}
	if s.posErr >= s.cfg.Tolerance {
		sp.since = -1
		return
	}
	if sp.since < 0 {
		sp.since = s.now
		return
	}
	if s.now-sp.since >= s.cfg.Hold.Seconds() {
		sp.res.Settled = true
		sp.res.SettleTime = s.now - sp.start
		s.log.Info("setpoint settled",
			"setpoint", len(s.results)+1,
			"t", round2(s.now),
			"settle_time", round2(sp.res.SettleTime),
			"overshoot", round3(sp.res.Overshoot))
	}
}

func (s *Session) count() {
	if s.collector == nil {
		return
	}
	s.collector.Ticks.WithLabelValues(System).Inc()
	s.collector.ModeTicks.WithLabelValues(System, s.mode()).Inc()
}

func (s *Session) mode() string {
	if s.sp.res.Settled {
		return "holding"
	}
	return "settling"
}

func (s *Session) advance() {
	s.ticks++
	s.now = float64(s.ticks) * s.cfg.Dt()
}

// Run tracks every setpoint in turn, then relaxes the joints and sends
// final telemetry. The error is non-nil only for a fatal joint error;
// the Result is valid either way.
func (s *Session) Run(ctx context.Context) (Result, error) {
	var tick <-chan time.Time
	if s.cfg.RealTime {
		ticker := time.NewTicker(time.Duration(s.cfg.Dt() * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	perSetpoint := int(math.Ceil(s.cfg.SetpointTimeout.Seconds() * s.cfg.Rate))
	s.log.Info("session started",
		"joints", len(s.ctrl),
		"setpoints", len(s.cfg.Setpoints),
		"rate", s.cfg.Rate,
		"timeout", s.cfg.SetpointTimeout)
	s.sendState(true, "started")

	var stopped Outcome
	var runErr error
setpoints:
	for _, target := range s.cfg.Setpoints {
		s.Track(target)
		for n := 0; n < perSetpoint && !s.sp.res.Settled; n++ {
			if tick != nil {
				select {
				case <-ctx.Done():
					stopped = OutcomeCanceled
					break setpoints
				case <-tick:
				}
			} else if ctx.Err() != nil {
				stopped = OutcomeCanceled
				break setpoints
			}

			if err := s.Step(); err != nil {
				if world.IsFatal(err) {
					stopped, runErr = OutcomeDisconnected, err
					break setpoints
				}
				s.log.Warn("joint error, relaxing for this tick", "error", err)
				if err := s.relax(); err != nil {
					s.log.Debug("relax after joint error failed", "error", err)
				}
				s.advance()
			}
		}
		s.close()
	}

	if stopped != OutcomeDisconnected {
		if err := s.relax(); err != nil && !errors.Is(err, world.ErrDisconnected) {
			s.log.Debug("final relax failed", "error", err)
		}
	}
	return s.finish(stopped), runErr
}

// close files the current setpoint into the results.
func (s *Session) close() {
	sp := s.sp
	if sp.errN > 0 {
		sp.res.MeanError = sp.errSum / float64(sp.errN)
	}
	if !sp.res.Settled {
		s.log.Warn("setpoint not settled",
			"setpoint", len(s.results)+1,
			"t", round2(s.now),
			"error", round3(s.posErr))
	}
	s.results = append(s.results, sp.res)
}

func (s *Session) relax() error {
	return s.joints.SetTorques(make([]float64, len(s.ctrl)))
}

func (s *Session) finish(stopped Outcome) Result {
	s.flush()

	outcome := stopped
	if outcome == "" {
		outcome = OutcomeSettled
		for _, sp := range s.results {
			if !sp.Settled {
				outcome = OutcomeUnsettled
			}
		}
	}

	res := Result{
		Session:   s.session,
		Outcome:   outcome,
		Ticks:     s.ticks,
		Time:      s.now,
		Setpoints: s.results,
		Energy:    s.energy,
		Final:     s.Angles(),
		Trace:     s.trace,
	}
	if s.errN > 0 {
		res.MeanError = s.errSum / float64(s.errN)
	}
	for _, sp := range s.results {
		res.Overshoot = math.Max(res.Overshoot, sp.Overshoot)
	}

	traj := protocol.TrajectoryData{
		Reference: make([]protocol.Point, len(s.cfg.Setpoints)),
		Actual:    make([]protocol.TimedPoint, len(res.Trace)),
	}
	for i, target := range s.cfg.Setpoints {
		tip := Tip(target, s.cfg.LinkLength)
		traj.Reference[i] = protocol.Point{X: tip.X, Y: tip.Y}
	}
	for i, smp := range res.Trace {
		tip := Tip(smp.Angles, s.cfg.LinkLength)
		traj.Actual[i] = protocol.TimedPoint{X: tip.X, Y: tip.Y, T: smp.T}
	}
	s.sink.Send(protocol.TypeTrajectory, traj)

	s.sink.Send(protocol.TypeSummary, protocol.SummaryData{
		Outcome:       string(outcome),
		Duration:      s.now,
		Ticks:         s.ticks,
		Energy:        s.energy,
		PositionError: res.MeanError,
		Overshoot:     res.Overshoot,
		SettleTime:    res.SettleTime(),
	})
	s.sendState(false, string(outcome))

	if s.collector != nil {
		s.collector.Sessions.WithLabelValues(System, string(outcome)).Inc()
	}
	s.log.Info("session finished",
		"outcome", outcome,
		"t", round2(s.now),
		"energy", round2(s.energy),
		"mean_error", round3(res.MeanError),
		"overshoot", round3(res.Overshoot))
	return res
}

// flush sends a metrics message and logs a progress line.
func (s *Session) flush() {
	tip := Tip(s.angles, s.cfg.LinkLength)
	var heading float64
	for _, a := range s.angles {
		heading += a
	}

	s.sink.Send(protocol.TypeMetrics, protocol.MetricsData{
		Time:          s.now,
		X:             tip.X,
		Y:             tip.Y,
		Heading:       geom.NormalizeAngle(heading),
		Mode:          s.mode(),
		Energy:        s.energy,
		Joints:        s.Angles(),
		PositionError: s.posErr,
	})

	if s.collector != nil {
		s.collector.Energy.WithLabelValues(System).Set(s.energy)
	}

	s.log.Info("progress",
		"t", round2(s.now),
		"angles", roundAll(s.angles),
		"target", roundAll(s.sp.res.Target),
		"error", round3(s.posErr))
}

func (s *Session) sendState(running bool, detail string) {
	s.sink.Send(protocol.TypeState, protocol.StateData{Connected: true, Running: running, Detail: detail})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = round3(v)
	}
	return out
}
