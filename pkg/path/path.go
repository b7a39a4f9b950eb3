// Package path tracks a reference trajectory with a forward-biased
// lookahead cursor.
package path

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// Reference is an ordered list of waypoints from start to goal.
type Reference []geom.Vec2

// Straight returns segments+1 evenly spaced points from start to goal.
func Straight(start, goal geom.Vec2, segments int) Reference {
	if segments < 1 {
		segments = 1
	}
	ref := make(Reference, segments+1)
	step := goal.Sub(start).Scale(1 / float64(segments))
	for i := range ref {
		ref[i] = start.Add(step.Scale(float64(i)))
	}
	ref[segments] = goal
	return ref
}

// Length returns the summed segment length.
func (r Reference) Length() float64 {
	total := 0.0
	for i := 1; i < len(r); i++ {
		total += r[i].Dist(r[i-1])
	}
	return total
}

// Config tunes the tracker.
type Config struct {
	// Lookback is how many points the cursor may regress.
	Lookback int `yaml:"lookback" json:"lookback"`
	// Horizon is how many points past the cursor are searched.
	Horizon int `yaml:"horizon" json:"horizon"`
	// ForwardBonus scales the squared distance of points at or past the cursor.
	ForwardBonus float64 `yaml:"forward_bonus" json:"forward_bonus"`
	// Lookahead is the distance (m) walked along the path from the closest point.
	Lookahead float64 `yaml:"lookahead" json:"lookahead"`
	// MinTarget: targets closer than this (m) fall back to the goal.
	MinTarget float64 `yaml:"min_target" json:"min_target"`
	// MaxDeviation bounds the angle between target and goal bearings.
	MaxDeviation float64 `yaml:"max_deviation" json:"max_deviation"`
	// MaxHeadingErr bounds the correction toward a path target.
	MaxHeadingErr float64 `yaml:"max_heading_error" json:"max_heading_error"`
	// GoalStopRadius: inside this distance (m) the goal error is zero.
	GoalStopRadius float64 `yaml:"goal_stop_radius" json:"goal_stop_radius"`
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:       5,
		Horizon:        50,
		ForwardBonus:   0.9,
		Lookahead:      0.8,
		MinTarget:      0.1,
		MaxDeviation:   math.Pi / 4,
		MaxHeadingErr:  math.Pi / 2,
		GoalStopRadius: 0.15,
	}
}

// Tracker keeps a cursor into a Reference. The cursor never moves back
// by more than Lookback points in a single Advance.
type Tracker struct {
	cfg  Config
	ref  Reference
	goal geom.Vec2
	idx  int
}

// NewTracker creates a tracker over ref ending at goal.
func NewTracker(ref Reference, goal geom.Vec2, cfg Config) *Tracker {
	return &Tracker{cfg: cfg, ref: ref, goal: goal}
}

// Index returns the current cursor.
func (t *Tracker) Index() int { return t.idx }

// Reference returns the tracked path.
func (t *Tracker) Reference() Reference { return t.ref }

// Reset moves the cursor back to the start.
func (t *Tracker) Reset() { t.idx = 0 }

// Advance updates the cursor for pos and returns the point lookahead
// metres further along the path. An empty or exhausted path yields the
// goal.
func (t *Tracker) Advance(pos geom.Vec2, lookahead float64) geom.Vec2 {
	if len(t.ref) == 0 {
		return t.goal
	}

	start := max(0, t.idx-t.cfg.Lookback)
	end := min(len(t.ref), t.idx+t.cfg.Horizon)
	closest, best := t.idx, math.Inf(1)
	for i := start; i < end; i++ {
		d := t.ref[i].DistSq(pos)
		if i >= t.idx {
			d *= t.cfg.ForwardBonus
		}
		if d < best {
			best, closest = d, i
		}
	}
	if closest < t.idx-t.cfg.Lookback {
		closest = t.idx
	}
	t.idx = closest

	walked := 0.0
	for i := closest; i < len(t.ref)-1; i++ {
		walked += t.ref[i+1].Dist(t.ref[i])
		if walked >= lookahead {
			return t.ref[i+1]
		}
	}
	return t.goal
}

// HeadingError returns the heading correction toward the lookahead
// target. When the target is unusable (too close, bearing far from the
// goal's, or behind the agent) it returns the direct goal error and
// onPath=false.
func (t *Tracker) HeadingError(pose geom.Pose) (err float64, onPath bool) {
	target := t.Advance(pose.Position(), t.cfg.Lookahead)
	goalErr := GoalError(pose, t.goal, t.cfg.GoalStopRadius)

	if pose.DistanceTo(target) < t.cfg.MinTarget {
		return goalErr, false
	}
	targetBearing := pose.BearingTo(target)
	if geom.AngleDiff(targetBearing, pose.BearingTo(t.goal)) > t.cfg.MaxDeviation {
		return goalErr, false
	}
	e := geom.NormalizeAngle(targetBearing - pose.Heading)
	if math.Abs(e) > t.cfg.MaxHeadingErr {
		return goalErr, false
	}
	return e, true
}

// GoalError returns the normalized heading error from pose to goal, or
// zero once within stopRadius so the agent settles instead of spinning.
func GoalError(pose geom.Pose, goal geom.Vec2, stopRadius float64) float64 {
	if pose.DistanceTo(goal) < stopRadius {
		return 0
	}
	return pose.HeadingErrorTo(goal)
}
