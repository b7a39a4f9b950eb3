// Package nav is the mobile robot's obstacle-avoidance decision logic:
// gap finding and scoring, the seek/avoid/gap-follow/escape state
// machine and the heading-correction blend fed to velocity synthesis.
//
// Each control tick the caller builds an Input from the latest pose,
// sensor readings and tracker error and calls Navigator.Decide. The
// navigator owns its PID state and escape machine; it never talks to
// the physics collaborator itself.
package nav

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Mode is the navigator's behavior for a tick.
type Mode int

const (
	ModeSeekGoal Mode = iota
	ModeAvoid
	ModeGapFollow
	ModeEscape
)

func (m Mode) String() string {
	switch m {
	case ModeSeekGoal:
		return "seek_goal"
	case ModeAvoid:
		return "avoid"
	case ModeGapFollow:
		return "gap_follow"
	case ModeEscape:
		return "escape"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Input is everything the navigator reads in one tick.
type Input struct {
	Pose     geom.Pose
	Goal     geom.Vec2
	Readings sensor.Readings
	// SteerError is the heading correction toward the steering target:
	// the path tracker's error, or the goal error when not following a path.
	SteerError float64
	// Collision is true when a new collision was registered this tick.
	Collision bool
	// Time is simulated seconds since the session started.
	Time float64
	Dt   float64
}

// Decision is the navigator output for one tick.
type Decision struct {
	Mode      Mode          `json:"mode"`
	Turn      float64       `json:"turn"`       // heading correction before clamping, wheel units
	BaseSpeed float64       `json:"base_speed"` // wheel units
	Reverse   bool          `json:"reverse"`
	Override  bool          `json:"override"` // safety override engaged
	Gap       *Gap          `json:"gap,omitempty"`
	Phase     Phase         `json:"-"`
	Command   drive.Command `json:"command"`
}

// Navigator chooses a behavior each tick. Not safe for concurrent use.
type Navigator struct {
	cfg    Config
	steer  *pid.Controller
	gapPID *pid.Controller
	escape *Escape

	mode     Mode
	override bool
}

// New creates a navigator in ModeSeekGoal.
func New(cfg Config) *Navigator {
	return &Navigator{
		cfg:    cfg,
		steer:  pid.New(cfg.Steer),
		gapPID: pid.New(cfg.GapPID),
		escape: NewEscape(cfg.Escape),
	}
}

// Mode returns the mode chosen on the last tick.
func (n *Navigator) Mode() Mode { return n.mode }

// Escape exposes the escape machine for reporting.
func (n *Navigator) Escape() *Escape { return n.escape }

// Config returns the navigator configuration.
func (n *Navigator) Config() Config { return n.cfg }

// Reset clears PID state, the escape machine and the mode.
func (n *Navigator) Reset() {
	n.steer.Reset()
	n.gapPID.Reset()
	n.escape.Reset()
	n.mode, n.override = ModeSeekGoal, false
}

// Decide runs one tick of the state machine and returns the command.
func (n *Navigator) Decide(in Input) Decision {
	if m, ok := n.escape.Update(in.Pose.Position(), in.Readings, in.Collision, in.Time); ok {
		n.enter(ModeEscape, false)
		d := Decision{Mode: ModeEscape, Turn: m.Turn, BaseSpeed: m.Base, Reverse: m.Reverse, Phase: m.Phase}
		d.Command = n.cfg.Drive.Synthesize(d.Turn, d.BaseSpeed, d.Reverse)
		return d
	}

	d := n.steerDecision(in)
	d.Command = n.cfg.Drive.Synthesize(d.Turn, d.BaseSpeed, false)
	return d
}

func (n *Navigator) steerDecision(in Input) Decision {
	c := n.cfg
	goalErr := in.Pose.HeadingErrorTo(in.Goal)

	if math.Abs(goalErr) > c.OverrideAngle {
		n.enter(ModeSeekGoal, true)
		return Decision{
			Mode:      ModeSeekGoal,
			Override:  true,
			Turn:      n.steer.Update(goalErr, in.Dt) * c.OverrideGain,
			BaseSpeed: c.OverrideSpeed,
		}
	}

	r := in.Readings
	front := r.Get(sensor.Front, c.DefaultRange)
	nearest := math.Min(front, math.Min(
		r.Get(sensor.FrontLeft, c.DefaultRange),
		r.Get(sensor.FrontRight, c.DefaultRange),
	))
	left := r.Get(sensor.Left, c.DefaultRange)
	right := r.Get(sensor.Right, c.DefaultRange)

	switch {
	case nearest < c.NearThreshold:
		gaps := FindGaps(r, in.Pose.Heading, in.Pose.BearingTo(in.Goal), c.Gap)
		if len(gaps) > 0 {
			best := gaps[0]
			n.enter(ModeGapFollow, false)
			gapErr := geom.NormalizeAngle(best.Angle - in.Pose.Heading)
			return Decision{
				Mode:      ModeGapFollow,
				Turn:      c.GapWeight*n.gapPID.Update(gapErr, in.Dt) + c.SteerWeight*n.steer.Update(in.SteerError, in.Dt),
				BaseSpeed: c.GapSpeed,
				Gap:       &best,
			}
		}

		n.enter(ModeAvoid, false)
		return Decision{
			Mode:      ModeAvoid,
			Turn:      c.AvoidSteerWeight*n.steer.Update(in.SteerError, in.Dt) + c.AvoidEvasionWeight*n.evasion(goalErr, left, right),
			BaseSpeed: c.AvoidSpeed,
		}

	case nearest < c.ModerateThreshold:
		bias := -c.ModerateEvasion
		if left > right {
			bias = c.ModerateEvasion
		}
		n.enter(ModeAvoid, false)
		return Decision{
			Mode:      ModeAvoid,
			Turn:      c.ModerateSteerWeight*n.steer.Update(in.SteerError, in.Dt) + c.ModerateEvasionWeight*bias,
			BaseSpeed: c.ModerateSpeed,
		}
	}

	n.enter(ModeSeekGoal, false)
	return Decision{
		Mode:      ModeSeekGoal,
		Turn:      n.steer.Update(in.SteerError, in.Dt),
		BaseSpeed: c.SeekSpeed,
	}
}

// evasion biases toward the goal side, more strongly when that side
// also has more room.
func (n *Navigator) evasion(goalErr, left, right float64) float64 {
	c := n.cfg
	if goalErr > 0 {
		if left > right {
			return c.EvasionStrong
		}
		return c.EvasionWeak
	}
	if right > left {
		return -c.EvasionStrong
	}
	return -c.EvasionWeak
}

// enter switches mode, resetting both controllers on any change so the
// new target does not inherit integral or derivative state.
func (n *Navigator) enter(m Mode, override bool) {
	if m == n.mode && override == n.override {
		return
	}
	n.mode, n.override = m, override
	n.steer.Reset()
	n.gapPID.Reset()
}
