package route

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// System is the telemetry system name of delivery missions.
const System = "route"

// Outcome is how a mission ended.
type Outcome string

const (
	OutcomeComplete Outcome = "mission_complete"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

// MissionConfig tunes a delivery mission. The vehicle is a point whose
// velocity comes from one PID per axis on the position error, capped at
// Speed; it only learns about a stop once the stop is within DetectRadius.
type MissionConfig struct {
	Rate     float64       `yaml:"rate" json:"rate"` // Hz
	Duration time.Duration `yaml:"duration" json:"duration"`

	Base  geom.Vec3 `yaml:"base" json:"base"`
	Speed float64   `yaml:"speed" json:"speed"` // m/s
	// PatrolFactor scales the commanded velocity and its cap while searching.
	PatrolFactor float64 `yaml:"patrol_factor" json:"patrol_factor"`
	// PID turns the position error on each axis into a velocity.
	PID pid.Config `yaml:"pid" json:"pid"`

	DetectRadius   float64       `yaml:"detect_radius" json:"detect_radius"`
	ReplanInterval time.Duration `yaml:"replan_interval" json:"replan_interval"`

	// The patrol circles Base at PatrolRadius, stepping PatrolStep
	// radians each time the current waypoint is within PatrolReach.
	PatrolRadius float64 `yaml:"patrol_radius" json:"patrol_radius"`
	PatrolStep   float64 `yaml:"patrol_step" json:"patrol_step"`
	PatrolReach  float64 `yaml:"patrol_reach" json:"patrol_reach"`
	// HomeRadius counts the vehicle as back at Base.
	HomeRadius float64 `yaml:"home_radius" json:"home_radius"`

	FlushEvery int    `yaml:"flush_every" json:"flush_every"`
	Planner    Config `yaml:"planner" json:"planner"`
}

// DefaultMissionConfig returns a 50 m square area patrolled at 20 m.
func DefaultMissionConfig() MissionConfig {
	return MissionConfig{
		Rate:           20,
		Duration:       10 * time.Minute,
		Speed:          2.0,
		PatrolFactor:   0.5,
		PID:            pid.DefaultConfig(),
		DetectRadius:   5.0,
		ReplanInterval: time.Second,
		PatrolRadius:   20,
		PatrolStep:     math.Pi / 8,
		PatrolReach:    2.0,
		HomeRadius:     1.0,
		FlushEvery:     20,
		Planner:        DefaultConfig(),
	}
}

// Dt returns the step in seconds.
func (c MissionConfig) Dt() float64 {
	if c.Rate <= 0 {
		return 1.0 / 20.0
	}
	return 1 / c.Rate
}

// Delivery records one delivered stop.
type Delivery struct {
	ID       int     `json:"id"`
	Detected float64 `json:"detected"` // simulated seconds
	At       float64 `json:"at"`
}

// MissionResult summarizes a finished mission.
type MissionResult struct {
	Session    string      `json:"session"`
	Outcome    Outcome     `json:"outcome"`
	Ticks      int         `json:"ticks"`
	Time       float64     `json:"time"`
	Distance   float64     `json:"distance"`
	Detected   int         `json:"detected"`
	Deliveries []Delivery  `json:"deliveries"`
	Plans      int         `json:"plans"`
	Path       []geom.Vec3 `json:"path"`
}

// MeanDeliveryTime is the average time from detection to delivery.
func (r MissionResult) MeanDeliveryTime() float64 {
	if len(r.Deliveries) == 0 {
		return 0
	}
	total := 0.0
	for _, d := range r.Deliveries {
		total += d.At - d.Detected
	}
	return total / float64(len(r.Deliveries))
}

// MissionOption configures a Mission.
type MissionOption func(*Mission)

// WithMissionTelemetry sends mission telemetry through t.
func WithMissionTelemetry(t telemetry.Scoper) MissionOption {
	return func(m *Mission) { m.scoper = t }
}

// Mission flies a single vehicle from Base over stops it has to find.
// Not safe for concurrent use.
type Mission struct {
	cfg     MissionConfig
	planner *Planner
	log     *slog.Logger
	session string
	scoper  telemetry.Scoper
	sink    telemetry.Sink

	stops    []Stop
	detected map[int]float64 // id → detection time

	pos        geom.Vec3
	axes       [3]*pid.Controller
	goal       *geom.Vec3
	route      []Stop
	target     *Stop
	patrol     *geom.Vec3
	patrolling bool
	patrolAng  float64
	lastPlan   float64

	ticks      int
	now        float64
	distance   float64
	deliveries []Delivery
	path       []geom.Vec3
}

// NewMission prepares a mission over stops, starting at cfg.Base.
func NewMission(stops []Stop, cfg MissionConfig, opts ...MissionOption) *Mission {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultMissionConfig().FlushEvery
	}
	if cfg.PID.Kp == 0 {
		cfg.PID = pid.DefaultConfig()
	}
	m := &Mission{
		cfg:        cfg,
		planner:    NewPlanner(cfg.Planner),
		session:    uuid.NewString(),
		sink:       telemetry.Discard,
		stops:      append([]Stop(nil), stops...),
		detected:   make(map[int]float64),
		pos:        cfg.Base,
		patrolling: true,
		lastPlan:   math.Inf(-1),
	}
	for i := range m.axes {
		m.axes[i] = pid.New(cfg.PID)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.scoper != nil {
		m.sink = m.scoper.For(System, m.session)
	}
	m.log = log.Component(System).With("session", m.session)
	m.path = append(m.path, m.pos)
	return m
}

// Position returns the vehicle position.
func (m *Mission) Position() geom.Vec3 { return m.pos }

// Route returns the current plan.
func (m *Mission) Route() []Stop { return append([]Stop(nil), m.route...) }

// Done reports whether every stop is delivered and the vehicle is home.
func (m *Mission) Done() bool {
	for _, s := range m.stops {
		if !s.Delivered {
			return false
		}
	}
	return horizontal(m.pos, m.cfg.Base) < m.cfg.HomeRadius
}

// Step advances the mission by one tick: detect, deliver, replan, move.
func (m *Mission) Step() {
	dt := m.cfg.Dt()

	m.detect()
	m.deliver()

	pending := m.pendingDetected()
	if len(pending) > 0 && (len(m.route) == 0 || len(Pending(m.route)) == 0 ||
		m.now-m.lastPlan >= m.cfg.ReplanInterval.Seconds()) {
		m.route = m.planner.Replan(m.pos, m.route, pending)
		m.lastPlan = m.now
		m.log.Debug("replanned", "stops", len(m.route), "distance", Distance(m.route, m.pos, &m.cfg.Base))
	}

	if m.target == nil {
		m.route = Pending(m.route)
		if next, ok := Next(m.route); ok {
			m.target = &next
		}
	}

	goal, mult := m.waypoint(pending)
	m.move(m.velocity(goal, mult, dt), dt)

	m.ticks++
	m.now = float64(m.ticks) * dt
	if m.ticks%m.cfg.FlushEvery == 0 {
		m.flush()
	}
}

func (m *Mission) detect() {
	for _, s := range m.stops {
		if s.Delivered {
			continue
		}
		if _, ok := m.detected[s.ID]; ok {
			continue
		}
		if m.pos.Dist(s.Position) <= m.cfg.DetectRadius {
			m.detected[s.ID] = m.now
			m.log.Info("stop detected", "id", s.ID, "t", m.now)
		}
	}
}

func (m *Mission) deliver() {
	if m.target == nil || !m.planner.Arrived(m.pos, *m.target) {
		return
	}
	id := m.target.ID
	m.target = nil
	for i := range m.stops {
		if m.stops[i].ID == id {
			m.stops[i].Delivered = true
		}
	}
	for i := range m.route {
		if m.route[i].ID == id {
			m.route[i].Delivered = true
		}
	}
	m.deliveries = append(m.deliveries, Delivery{ID: id, Detected: m.detected[id], At: m.now})
	m.log.Info("stop delivered", "id", id, "t", m.now)
}

func (m *Mission) pendingDetected() []Stop {
	var out []Stop
	for _, s := range m.stops {
		if _, ok := m.detected[s.ID]; ok && !s.Delivered {
			out = append(out, s)
		}
	}
	return out
}

// waypoint chooses where to head and the speed multiplier: the planned
// target, the nearest detected stop, the patrol circle, or home once
// everything is delivered.
func (m *Mission) waypoint(pending []Stop) (geom.Vec3, float64) {
	switch {
	case m.target != nil:
		m.patrolling = false
		return m.target.Position, 1
	case len(pending) > 0:
		m.patrolling = false
		nearest := pending[0]
		for _, s := range pending[1:] {
			if horizontal(m.pos, s.Position) < horizontal(m.pos, nearest.Position) {
				nearest = s
			}
		}
		return nearest.Position, 1
	case m.patrolling && !m.allDelivered():
		if m.patrol == nil || horizontal(m.pos, *m.patrol) < m.cfg.PatrolReach {
			p := m.cfg.Base.Add(geom.Polar(m.cfg.PatrolRadius, m.patrolAng).Lift(0))
			m.patrolAng = geom.NormalizeAngle(m.patrolAng + m.cfg.PatrolStep)
			m.patrol = &p
		}
		return *m.patrol, m.cfg.PatrolFactor
	default:
		if horizontal(m.pos, m.cfg.Base) < m.cfg.HomeRadius && !m.allDelivered() {
			m.patrolling = true
		}
		return m.cfg.Base, 1
	}
}

func (m *Mission) allDelivered() bool {
	for _, s := range m.stops {
		if !s.Delivered {
			return false
		}
	}
	return true
}

// velocity runs the axis controllers on the error to goal. The result is
// scaled by mult and held to Speed·mult. A new goal resets the controllers.
func (m *Mission) velocity(goal geom.Vec3, mult, dt float64) geom.Vec3 {
	if m.goal == nil || *m.goal != goal {
		for _, c := range m.axes {
			c.Reset()
		}
		m.goal = &goal
	}

	e := goal.Sub(m.pos)
	v := geom.Vec3{
		X: m.axes[0].Update(e.X, dt),
		Y: m.axes[1].Update(e.Y, dt),
		Z: m.axes[2].Update(e.Z, dt),
	}.Scale(mult)

	limit := math.Max(m.cfg.Speed*mult, 0)
	if n := v.Len(); n > limit {
		v = v.Scale(limit / n)
	}
	return v
}

func (m *Mission) move(v geom.Vec3, dt float64) {
	step := v.Scale(dt)
	n := step.Len()
	if n == 0 {
		return
	}
	m.pos = m.pos.Add(step)
	m.distance += n
	m.path = append(m.path, m.pos)
}

// Run steps until every stop is delivered and the vehicle is home, the
// duration elapses or ctx is canceled.
func (m *Mission) Run(ctx context.Context) MissionResult {
	maxTicks := int(math.Ceil(m.cfg.Duration.Seconds() * m.cfg.Rate))
	m.log.Info("mission started", "stops", len(m.stops), "algorithm", m.planner.Config().Algorithm)
	m.sink.Send(protocol.TypeState, protocol.StateData{Connected: true, Running: true, Detail: "started"})

	outcome := OutcomeTimeout
	for m.ticks < maxTicks {
		if ctx.Err() != nil {
			outcome = OutcomeCanceled
			break
		}
		m.Step()
		if m.Done() {
			outcome = OutcomeComplete
			break
		}
	}
	return m.finish(outcome)
}

func (m *Mission) finish(outcome Outcome) MissionResult {
	m.flush()
	res := MissionResult{
		Session:    m.session,
		Outcome:    outcome,
		Ticks:      m.ticks,
		Time:       m.now,
		Distance:   m.distance,
		Detected:   len(m.detected),
		Deliveries: append([]Delivery(nil), m.deliveries...),
		Plans:      m.planner.Plans(),
		Path:       append([]geom.Vec3(nil), m.path...),
	}

	traj := protocol.TrajectoryData{Actual: make([]protocol.TimedPoint, 0, len(res.Path))}
	dt := m.cfg.Dt()
	for i, p := range res.Path {
		traj.Actual = append(traj.Actual, protocol.TimedPoint{X: p.X, Y: p.Y, T: float64(i) * dt})
	}
	for _, s := range m.stops {
		traj.Reference = append(traj.Reference, protocol.Point{X: s.Position.X, Y: s.Position.Y})
	}
	m.sink.Send(protocol.TypeTrajectory, traj)
	m.sink.Send(protocol.TypeSummary, protocol.SummaryData{
		Outcome:  string(outcome),
		Duration: m.now,
		Ticks:    m.ticks,
		Distance: m.distance,
	})
	m.sink.Send(protocol.TypeState, protocol.StateData{Connected: true, Running: false, Detail: string(outcome)})

	m.log.Info("mission finished",
		"outcome", outcome,
		"t", m.now,
		"distance", m.distance,
		"delivered", len(m.deliveries),
		"plans", res.Plans,
		"mean_delivery_time", res.MeanDeliveryTime())
	return res
}

func (m *Mission) flush() {
	mode := "patrol"
	switch {
	case m.target != nil:
		mode = "deliver"
	case !m.patrolling:
		mode = "return"
	}
	m.sink.Send(protocol.TypeMetrics, protocol.MetricsData{
		Time:     m.now,
		X:        m.pos.X,
		Y:        m.pos.Y,
		Mode:     mode,
		Distance: m.distance,
	})
}

func horizontal(a, b geom.Vec3) float64 {
	return a.Planar().Dist(b.Planar())
}
