package explore

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/mapping"
	"github.com/teslashibe/go-rover/pkg/nav"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Map is the view of the coverage grid the explorer reads.
// *mapping.Grid satisfies it.
type Map interface {
	WorldToCell(x, y float64) (int, int)
	Valid(cx, cy int) bool
	Occupancy(cx, cy int) int8
	Coverage(cx, cy int) float64
}

// State is the explorer's behavior for a tick.
type State int

const (
	StateForward State = iota
	StateAvoid
	StateEscape
)

func (s State) String() string {
	switch s {
	case StateForward:
		return "forward"
	case StateAvoid:
		return "avoid"
	case StateEscape:
		return "escape"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config tunes the explorer.
type Config struct {
	Field FieldConfig `yaml:"field" json:"field"`

	// A reading under Critical, or WallStuckCount readings under
	// CornerNear with the nearest under Critical, starts a hard escape.
	CornerNear     float64 `yaml:"corner_near" json:"corner_near"`
	Critical       float64 `yaml:"critical" json:"critical"`
	WallStuckCount int     `yaml:"wall_stuck_count" json:"wall_stuck_count"`

	// Wall following engages under WallFollow; under WallClose the robot
	// slides along the wall with fixed commands.
	WallFollow     float64 `yaml:"wall_follow" json:"wall_follow"`
	WallClose      float64 `yaml:"wall_close" json:"wall_close"`
	FrontWallSpeed float64 `yaml:"front_wall_speed" json:"front_wall_speed"`
	FrontWallTurn  float64 `yaml:"front_wall_turn" json:"front_wall_turn"`
	SideWallSpeed  float64 `yaml:"side_wall_speed" json:"side_wall_speed"`
	SideWallTurn   float64 `yaml:"side_wall_turn" json:"side_wall_turn"`
	// Under CornerNear the field command turns harder and slows down.
	CloseTurnFactor  float64 `yaml:"close_turn_factor" json:"close_turn_factor"`
	CloseSpeedFactor float64 `yaml:"close_speed_factor" json:"close_speed_factor"`

	// A cell visited more than SkipCoverage times is passed through
	// quickly, searching only cells visited at most AvoidCoverage times.
	SkipCoverage    float64 `yaml:"skip_coverage" json:"skip_coverage"`
	AvoidCoverage   float64 `yaml:"avoid_coverage" json:"avoid_coverage"`
	SkipSpeedFactor float64 `yaml:"skip_speed_factor" json:"skip_speed_factor"`
	SkipTurnFactor  float64 `yaml:"skip_turn_factor" json:"skip_turn_factor"`

	// SearchRadius (cells) bounds the unexplored-cell search; a cell
	// scores coverage + DistanceWeight·distance, lowest wins.
	SearchRadius   int     `yaml:"search_radius" json:"search_radius"`
	DistanceWeight float64 `yaml:"distance_weight" json:"distance_weight"`
	// UnexploredWeight blends the search result with the preferred
	// direction from past runs.
	UnexploredWeight float64 `yaml:"unexplored_weight" json:"unexplored_weight"`

	// Beyond OpenFactor·SafeDistance from everything the robot speeds up
	// and turns less.
	OpenFactor      float64 `yaml:"open_factor" json:"open_factor"`
	OpenSpeedFactor float64 `yaml:"open_speed_factor" json:"open_speed_factor"`
	OpenTurnFactor  float64 `yaml:"open_turn_factor" json:"open_turn_factor"`

	DefaultRange float64          `yaml:"default_range" json:"default_range"`
	Escape       nav.EscapeConfig `yaml:"escape" json:"escape"`
	// Limits clamps every command; only escapes may reverse.
	Limits drive.Config `yaml:"limits" json:"limits"`
}

// DefaultConfig returns the vacuum robot's explorer.
func DefaultConfig() Config {
	return Config{
		Field: DefaultFieldConfig(),

		CornerNear:     0.25,
		Critical:       0.15,
		WallStuckCount: 3,

		WallFollow:       0.5,
		WallClose:        0.3,
		FrontWallSpeed:   0.1,
		FrontWallTurn:    1.0,
		SideWallSpeed:    0.15,
		SideWallTurn:     0.5,
		CloseTurnFactor:  1.2,
		CloseSpeedFactor: 0.7,

		SkipCoverage:    4,
		AvoidCoverage:   3,
		SkipSpeedFactor: 2.5,
		SkipTurnFactor:  0.5,

		SearchRadius:     8,
		DistanceWeight:   0.1,
		UnexploredWeight: 0.8,

		OpenFactor:      3,
		OpenSpeedFactor: 1.3,
		OpenTurnFactor:  0.8,

		DefaultRange: 2.0,
		Escape:       EscapeConfig(),
		Limits: drive.Config{
			MaxLinear:  0.8,
			MaxAngular: 3.0,
		},
	}
}

// EscapeConfig returns the escape tuning for a 120 Hz coverage loop in
// body velocities.
func EscapeConfig() nav.EscapeConfig {
	return nav.EscapeConfig{
		CornerThreshold: 0.25,
		CornerCount:     2,

		StuckSampleTicks: 30,
		StuckMove:        0.015,
		StuckNear:        0.3,
		StuckMoveAny:     0.01,
		StuckLimit:       5,
		StuckNearLimit:   2,

		ReverseTicks: 60,
		RotateTicks:  60,
		CreepTicks:   60,

		ReverseSpeed:      -0.2,
		ReverseTurn:       1.5,
		HardReverseSpeed:  -0.3,
		HardReverseTurn:   2.0,
		RotateTurn:        1.25,
		StuckRotateTurn:   1.5,
		CreepSpeed:        0.4,
		CreepNear:         0.25,
		CreepBackoffSpeed: -0.1,
		CreepBackoffTurn:  1.0,

		HardAfter:  2,
		ResetAfter: 3,
	}
}

// Input is everything the explorer reads in one tick.
type Input struct {
	Pose      geom.Pose
	Readings  sensor.Readings
	Collision bool
	Time      float64 // simulated seconds
	// Map enables the unexplored-cell search when set.
	Map Map
	// Suggestions from past runs; nil on a first run.
	Suggestions *history.Suggestions
}

// Decision is the explorer output for one tick.
type Decision struct {
	State   State         `json:"state"`
	Command drive.Command `json:"command"`
	// Target is the world bearing the robot was steered toward, if any.
	Target *float64  `json:"target,omitempty"`
	Skip   bool      `json:"skip_area,omitempty"`
	Phase  nav.Phase `json:"-"`
}

// Explorer chooses a coverage behavior each tick. Not safe for
// concurrent use.
type Explorer struct {
	cfg    Config
	escape *nav.Escape
	state  State
}

// New creates an explorer in the forward state.
func New(cfg Config) *Explorer {
	return &Explorer{cfg: cfg, escape: nav.NewEscape(cfg.Escape)}
}

// State returns the behavior chosen at the last tick.
func (e *Explorer) State() State { return e.state }

// Escape exposes the escape machine for reporting.
func (e *Explorer) Escape() *nav.Escape { return e.escape }

// Reset returns to the forward state and clears the escape machine.
func (e *Explorer) Reset() {
	e.escape.Reset()
	e.state = StateForward
}

// Decide runs one tick.
func (e *Explorer) Decide(in Input) Decision {
	c := e.cfg
	r := in.Readings
	nearest := math.Min(r.Min(), c.DefaultRange)

	critical := r.CountBelow(c.Critical) > 0
	wallStuck := nearest < c.Critical && r.CountBelow(c.CornerNear) >= c.WallStuckCount
	if critical || wallStuck {
		e.escape.Start(nav.TriggerCorner, r, in.Time)
	}
	if m, ok := e.escape.Update(in.Pose.Position(), r, in.Collision, in.Time); ok {
		return e.decide(StateEscape, drive.Command{Linear: m.Base, Angular: m.Turn}, true, func(d *Decision) {
			d.Phase = m.Phase
		})
	}

	if nearest < c.WallFollow {
		return e.decide(StateAvoid, e.followWall(r, nearest), false, nil)
	}
	return e.forward(in, nearest)
}

func (e *Explorer) decide(s State, cmd drive.Command, reverse bool, fill func(*Decision)) Decision {
	e.state = s
	d := Decision{State: s, Command: e.cfg.Limits.Limit(cmd, reverse)}
	if fill != nil {
		fill(&d)
	}
	return d
}

func (e *Explorer) followWall(r sensor.Readings, nearest float64) drive.Command {
	c := e.cfg
	if nearest < c.WallClose {
		front := r.Get(sensor.Front, c.DefaultRange)
		left := r.Get(sensor.Left, c.DefaultRange)
		right := r.Get(sensor.Right, c.DefaultRange)
		switch {
		case front < c.WallClose:
			// turn toward the roomier side
			if right > left {
				return drive.Command{Linear: c.FrontWallSpeed, Angular: -c.FrontWallTurn}
			}
			return drive.Command{Linear: c.FrontWallSpeed, Angular: c.FrontWallTurn}
		case left < c.WallClose:
			return drive.Command{Linear: c.SideWallSpeed, Angular: -c.SideWallTurn}
		case right < c.WallClose:
			return drive.Command{Linear: c.SideWallSpeed, Angular: c.SideWallTurn}
		}
	}

	cmd := c.Field.Velocity(r, nil)
	if nearest < c.CornerNear {
		cmd.Angular *= c.CloseTurnFactor
		cmd.Linear *= c.CloseSpeedFactor
	}
	return cmd
}

func (e *Explorer) forward(in Input, nearest float64) Decision {
	c := e.cfg
	target, skip := e.target(in)

	var rel *float64
	if target != nil {
		a := geom.NormalizeAngle(*target - in.Pose.Heading)
		rel = &a
	}
	cmd := c.Field.Velocity(in.Readings, rel)
	if skip {
		cmd.Linear *= c.SkipSpeedFactor
		cmd.Angular *= c.SkipTurnFactor
	}
	if nearest > c.OpenFactor*c.Field.SafeDistance {
		cmd.Linear *= c.OpenSpeedFactor
		cmd.Angular *= c.OpenTurnFactor
	}

	return e.decide(StateForward, cmd, false, func(d *Decision) {
		d.Target, d.Skip = target, skip
	})
}

// target picks the world bearing to explore toward and whether the
// current cell is covered enough to pass through quickly.
func (e *Explorer) target(in Input) (*float64, bool) {
	if in.Map == nil {
		return nil, false
	}
	s := in.Suggestions
	if s == nil {
		return e.unexplored(in.Pose, in.Map, false, nil), false
	}

	cx, cy := in.Map.WorldToCell(in.Pose.X, in.Pose.Y)
	if in.Map.Valid(cx, cy) && in.Map.Coverage(cx, cy) > e.cfg.SkipCoverage {
		return e.unexplored(in.Pose, in.Map, true, s), true
	}

	u := e.unexplored(in.Pose, in.Map, false, nil)
	if s.PreferredDirection == nil {
		return u, false
	}
	w := e.cfg.UnexploredWeight
	blend := geom.Polar(w, *u).Add(geom.Polar(1-w, *s.PreferredDirection))
	if blend.IsZero() {
		return u, false
	}
	dir := blend.Angle()
	return &dir, false
}

// unexplored returns the bearing of the best free cell within the
// search radius, or the heading turned by π/4 when none qualifies.
func (e *Explorer) unexplored(p geom.Pose, m Map, avoidHigh bool, s *history.Suggestions) *float64 {
	c := e.cfg
	mx, my := m.WorldToCell(p.X, p.Y)

	best := math.Inf(1)
	var dir float64
	found := false
	for dx := -c.SearchRadius; dx <= c.SearchRadius; dx++ {
		for dy := -c.SearchRadius; dy <= c.SearchRadius; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			cx, cy := mx+dx, my+dy
			if !m.Valid(cx, cy) || m.Occupancy(cx, cy) != mapping.Free {
				continue
			}
			if s.ShouldSkip(history.Cell{X: cx, Y: cy}) {
				continue
			}
			cov := m.Coverage(cx, cy)
			if avoidHigh && cov > c.AvoidCoverage {
				continue
			}
			score := cov + c.DistanceWeight*math.Hypot(float64(dx), float64(dy))
			if score < best {
				best, dir, found = score, math.Atan2(float64(dy), float64(dx)), true
			}
		}
	}
	if !found {
		dir = geom.NormalizeAngle(p.Heading + math.Pi/4)
	}
	return &dir
}
