// Package explore is the coverage robot's controller: potential-field
// obstacle avoidance, wall following and a search for the least
// covered free cell nearby, with the shared escape maneuver for
// corners and collisions.
//
// Commands are body velocities (m/s, rad/s) for a base whose footprint
// fits a 0.1 m grid cell a few times over.
package explore

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// FieldConfig tunes the potential field.
type FieldConfig struct {
	// SafeDistance (m): closer than this the robot stops and turns.
	SafeDistance float64 `yaml:"safe_distance" json:"safe_distance"`
	// Readings under Influence·SafeDistance push the robot away.
	Influence float64 `yaml:"influence" json:"influence"`
	// ForceCap bounds the repulsion of a single reading.
	ForceCap float64 `yaml:"force_cap" json:"force_cap"`
	// Attraction is the pull toward the target direction.
	Attraction float64 `yaml:"attraction" json:"attraction"`

	MaxSpeed   float64 `yaml:"max_speed" json:"max_speed"`     // m/s
	MaxAngular float64 `yaml:"max_angular" json:"max_angular"` // rad/s

	// CautionFactor scales speed under 1.5·SafeDistance.
	CautionFactor float64 `yaml:"caution_factor" json:"caution_factor"`
	// IdleFactor scales speed when the forces cancel out.
	IdleFactor float64 `yaml:"idle_factor" json:"idle_factor"`
	// Turn gains (rad/s per rad of force direction).
	NearTurnGain float64 `yaml:"near_turn_gain" json:"near_turn_gain"`
	TurnGain     float64 `yaml:"turn_gain" json:"turn_gain"`
}

// DefaultFieldConfig returns the vacuum robot's field.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		SafeDistance:  0.25,
		Influence:     2,
		ForceCap:      2,
		Attraction:    0.5,
		MaxSpeed:      0.5,
		MaxAngular:    3.0,
		CautionFactor: 0.7,
		IdleFactor:    0.8,
		NearTurnGain:  2.5,
		TurnGain:      1.5,
	}
}

// Force sums the repulsion of every reading inside the influence zone
// and the attraction toward target, a heading relative to the robot.
// Without a target the robot is pulled straight ahead.
func (c FieldConfig) Force(r sensor.Readings, target *float64) geom.Vec2 {
	var f geom.Vec2
	zone := c.SafeDistance * c.Influence
	for d, dist := range r {
		if dist >= zone {
			continue
		}
		mag := math.Min((zone-dist)/c.SafeDistance, c.ForceCap)
		f = f.Sub(geom.Polar(mag, d.Offset()))
	}

	if target != nil {
		return f.Add(geom.Polar(c.Attraction, *target))
	}
	return f.Add(geom.V2(1, 0))
}

// Velocity turns the field at r into a command. The robot never
// reverses here: too close to anything it stops and turns in place.
func (c FieldConfig) Velocity(r sensor.Readings, target *float64) drive.Command {
	f := c.Force(r, target)
	if f.IsZero() {
		return drive.Command{Linear: c.MaxSpeed * c.IdleFactor}
	}
	dir := f.Angle()
	nearest := r.Min()

	var cmd drive.Command
	switch {
	case nearest < c.SafeDistance:
		cmd.Linear = 0
		cmd.Angular = dir * c.NearTurnGain
	case nearest < 1.5*c.SafeDistance:
		cmd.Linear = c.MaxSpeed * c.CautionFactor
		cmd.Angular = dir * c.TurnGain
	default:
		cmd.Linear = c.MaxSpeed
		cmd.Angular = dir * c.TurnGain
	}
	cmd.Angular = geom.Clamp(cmd.Angular, -c.MaxAngular, c.MaxAngular)
	return cmd
}
