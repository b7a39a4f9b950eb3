package nav

import (
	"fmt"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Phase is a step of the escape maneuver.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReverse
	PhaseRotate
	PhaseCreep
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReverse:
		return "reverse"
	case PhaseRotate:
		return "rotate"
	case PhaseCreep:
		return "creep"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Trigger names why an escape started.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerCollision Trigger = "collision"
	TriggerCorner    Trigger = "corner"
	TriggerStuck     Trigger = "stuck"
)

// Maneuver is the escape command for one tick, in EscapeConfig units.
type Maneuver struct {
	Phase   Phase
	Turn    float64
	Base    float64
	Reverse bool
}

// Escape detects a blocked agent and drives the reverse, rotate and
// creep recovery sequence. It is shared by the mobile navigator and the
// coverage explorer. Not safe for concurrent use.
type Escape struct {
	cfg EscapeConfig

	phase      Phase
	phaseTicks int
	hard       bool
	trigger    Trigger
	// startedAt is the simulated time the current escape began, nil when idle.
	startedAt *float64

	stuckCount  int
	escapeCount int
	turnDir     float64

	samplePos   geom.Vec2
	sampleTicks int
	sampled     bool
}

// NewEscape creates an idle machine turning left first.
func NewEscape(cfg EscapeConfig) *Escape {
	return &Escape{cfg: cfg, turnDir: 1}
}

// Active reports whether a maneuver is in progress.
func (e *Escape) Active() bool { return e.phase != PhaseIdle }

// Phase returns the current phase.
func (e *Escape) Phase() Phase { return e.phase }

// Trigger returns what started the current escape.
func (e *Escape) Trigger() Trigger { return e.trigger }

// StuckCount returns consecutive stuck samples.
func (e *Escape) StuckCount() int { return e.stuckCount }

// EscapeCount returns recent escape attempts.
func (e *Escape) EscapeCount() int { return e.escapeCount }

// TurnDirection returns +1 (left) or -1 (right).
func (e *Escape) TurnDirection() float64 { return e.turnDir }

// StartedAt returns the start time of the running escape, or nil.
func (e *Escape) StartedAt() *float64 { return e.startedAt }

// Elapsed returns seconds since the running escape began, or 0.
func (e *Escape) Elapsed(now float64) float64 {
	if e.startedAt == nil {
		return 0
	}
	return now - *e.startedAt
}

// Reset returns the machine to idle and forgets all counters.
func (e *Escape) Reset() {
	*e = Escape{cfg: e.cfg, turnDir: 1}
}

// Update advances stuck detection and, when escaping, the maneuver by
// one tick. ok is false when the machine is idle and the caller steers.
func (e *Escape) Update(pos geom.Vec2, r sensor.Readings, collision bool, now float64) (m Maneuver, ok bool) {
	e.sample(pos, r)

	corner := e.corner(r)
	switch {
	case !e.Active():
		if t := e.shouldStart(r, collision, corner); t != TriggerNone {
			e.start(t, r, corner, now)
		}
	case e.phase != PhaseReverse && (collision || corner):
		t := TriggerCollision
		if !collision {
			t = TriggerCorner
		}
		e.start(t, r, corner, now)
	}
	if !e.Active() {
		return Maneuver{}, false
	}

	m = e.maneuver(r)
	e.advance(r, corner, now)
	return m, true
}

// Start begins a hard escape for a trigger Update does not detect itself,
// such as a single reading far inside the safe distance. It does
// nothing while an escape is still reversing.
func (e *Escape) Start(t Trigger, r sensor.Readings, now float64) bool {
	if e.phase == PhaseReverse {
		return false
	}
	e.start(t, r, true, now)
	return true
}

func (e *Escape) sample(pos geom.Vec2, r sensor.Readings) {
	if !e.sampled {
		e.samplePos, e.sampled, e.sampleTicks = pos, true, 0
		return
	}
	e.sampleTicks++
	if e.sampleTicks < max(e.cfg.StuckSampleTicks, 1) {
		return
	}

	moved := pos.Dist(e.samplePos)
	nearest := r.Min()
	if (moved < e.cfg.StuckMove && nearest < e.cfg.StuckNear) || moved < e.cfg.StuckMoveAny {
		e.stuckCount++
	} else {
		e.stuckCount = 0
		if e.escapeCount > 0 {
			e.escapeCount--
		}
	}
	e.samplePos, e.sampleTicks = pos, 0
}

func (e *Escape) corner(r sensor.Readings) bool {
	return r.CountBelow(e.cfg.CornerThreshold) >= e.cfg.CornerCount
}

func (e *Escape) shouldStart(r sensor.Readings, collision, corner bool) Trigger {
	switch {
	case collision:
		return TriggerCollision
	case corner:
		return TriggerCorner
	case e.stuckCount > e.cfg.StuckLimit:
		return TriggerStuck
	case e.stuckCount > e.cfg.StuckNearLimit && r.Min() < e.cfg.CornerThreshold:
		return TriggerStuck
	}
	return TriggerNone
}

func (e *Escape) start(t Trigger, r sensor.Readings, corner bool, now float64) {
	wallStuck := e.stuckCount > e.cfg.StuckNearLimit && r.Min() < e.cfg.StuckNear
	e.hard = corner || wallStuck || e.escapeCount > e.cfg.HardAfter
	e.escapeCount++
	e.trigger = t
	e.phase, e.phaseTicks = PhaseReverse, 0
	started := now
	e.startedAt = &started
}

func (e *Escape) maneuver(r sensor.Readings) Maneuver {
	c := e.cfg
	switch e.phase {
	case PhaseReverse:
		if e.hard {
			return Maneuver{Phase: e.phase, Base: c.HardReverseSpeed, Turn: e.turnDir * c.HardReverseTurn, Reverse: true}
		}
		return Maneuver{Phase: e.phase, Base: c.ReverseSpeed, Turn: e.turnDir * c.ReverseTurn, Reverse: true}
	case PhaseRotate:
		turn := c.RotateTurn
		if e.stuckCount > 0 {
			turn = c.StuckRotateTurn
		}
		return Maneuver{Phase: e.phase, Turn: e.turnDir * turn}
	default:
		if r.Min() < c.CreepNear {
			return Maneuver{Phase: e.phase, Base: c.CreepBackoffSpeed, Turn: e.turnDir * c.CreepBackoffTurn, Reverse: true}
		}
		return Maneuver{Phase: e.phase, Base: c.CreepSpeed}
	}
}

func (e *Escape) advance(r sensor.Readings, corner bool, now float64) {
	e.phaseTicks++
	switch e.phase {
	case PhaseReverse:
		if e.phaseTicks >= e.cfg.ReverseTicks {
			e.phase, e.phaseTicks = PhaseRotate, 0
		}
	case PhaseRotate:
		if e.phaseTicks >= e.cfg.RotateTicks {
			e.phase, e.phaseTicks = PhaseCreep, 0
		}
	case PhaseCreep:
		if e.phaseTicks < e.cfg.CreepTicks {
			return
		}
		e.turnDir = -e.turnDir
		if e.escapeCount > e.cfg.ResetAfter {
			e.escapeCount = 0
		}
		if t := e.shouldStart(r, false, corner); t != TriggerNone {
			e.start(t, r, corner, now)
			return
		}
		e.phase, e.phaseTicks = PhaseIdle, 0
		e.trigger = TriggerNone
		e.startedAt = nil
		e.stuckCount = 0
		e.sampled = false
	}
}
