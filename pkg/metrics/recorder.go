// Package metrics accumulates per-session performance figures and
// exports process-wide counters to Prometheus.
//
// A Recorder belongs to one control loop and is never read back by the
// controller; sessions snapshot it when flushing telemetry.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// Config tunes what counts as a new collision and how energy is
// estimated.
type Config struct {
	// CollisionDebounce is the simulated time (s) within which repeated
	// contacts count as one collision.
	CollisionDebounce float64 `yaml:"collision_debounce" json:"collision_debounce"`
	// Energy per tick is (|v|·LinearEnergy + |ω|·AngularEnergy)·dt.
	LinearEnergy  float64 `yaml:"linear_energy" json:"linear_energy"`
	AngularEnergy float64 `yaml:"angular_energy" json:"angular_energy"`
	// TrajectorySpacing is the minimum travel (m) between recorded
	// trajectory points.
	TrajectorySpacing float64 `yaml:"trajectory_spacing" json:"trajectory_spacing"`
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		CollisionDebounce: 0.5,
		LinearEnergy:      10,
		AngularEnergy:     5,
		TrajectorySpacing: 0.05,
	}
}

// Snapshot is a point-in-time copy of the session figures.
type Snapshot struct {
	Collisions       int     `json:"collisions"`
	Distance         float64 `json:"distance_traveled"`
	LateralErrorMean float64 `json:"mean_lateral_error"`
	LateralErrorStd  float64 `json:"lateral_error_std"`
	Energy           float64 `json:"energy"`
	Samples          int     `json:"samples"`
	TrajectoryPoints int     `json:"trajectory_points"`
}

// TrajectoryPoint is a recorded position with its simulated time.
type TrajectoryPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Recorder accumulates metrics for one session. Not safe for
// concurrent use.
type Recorder struct {
	cfg Config

	collisions int
	// lastCollision is the simulated time of the last counted collision.
	lastCollision *float64

	distance float64
	prev     *geom.Vec2

	lateral []float64
	energy  float64

	trajectory []TrajectoryPoint
}

// NewRecorder creates an empty recorder.
func NewRecorder(cfg Config) *Recorder {
	return &Recorder{cfg: cfg}
}

// Collision registers contact state at simulated time now and returns
// true when it counts as a new collision.
func (r *Recorder) Collision(touching bool, now float64) bool {
	if !touching {
		return false
	}
	if r.lastCollision != nil && now-*r.lastCollision <= r.cfg.CollisionDebounce {
		return false
	}
	r.collisions++
	t := now
	r.lastCollision = &t
	return true
}

// Move adds the planar distance since the previous position and records
// a trajectory point once the agent has moved far enough.
func (r *Recorder) Move(pos geom.Vec2, now float64) {
	if r.prev != nil {
		r.distance += pos.Dist(*r.prev)
	}
	p := pos
	r.prev = &p

	if n := len(r.trajectory); n == 0 ||
		pos.Dist(geom.V2(r.trajectory[n-1].X, r.trajectory[n-1].Y)) > r.cfg.TrajectorySpacing {
		r.trajectory = append(r.trajectory, TrajectoryPoint{X: pos.X, Y: pos.Y, T: now})
	}
}

// Lateral records one lateral balance sample |left − right|.
func (r *Recorder) Lateral(left, right float64) {
	v := math.Abs(left - right)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	r.lateral = append(r.lateral, v)
}

// Energy accumulates the effort of commanding (linear, angular) for dt.
func (r *Recorder) Energy(linear, angular, dt float64) {
	if dt <= 0 {
		return
	}
	r.energy += (math.Abs(linear)*r.cfg.LinearEnergy + math.Abs(angular)*r.cfg.AngularEnergy) * dt
}

// Collisions returns the counted collisions.
func (r *Recorder) Collisions() int { return r.collisions }

// Distance returns the distance traveled.
func (r *Recorder) Distance() float64 { return r.distance }

// TotalEnergy returns the accumulated energy estimate.
func (r *Recorder) TotalEnergy() float64 { return r.energy }

// Trajectory returns a copy of the recorded points.
func (r *Recorder) Trajectory() []TrajectoryPoint {
	return append([]TrajectoryPoint(nil), r.trajectory...)
}

// Snapshot summarizes the session so far.
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Collisions:       r.collisions,
		Distance:         r.distance,
		Energy:           r.energy,
		Samples:          len(r.lateral),
		TrajectoryPoints: len(r.trajectory),
	}
	if len(r.lateral) > 0 {
		s.LateralErrorMean = stat.Mean(r.lateral, nil)
	}
	if len(r.lateral) > 1 {
		s.LateralErrorStd = stat.StdDev(r.lateral, nil)
	}
	return s
}
