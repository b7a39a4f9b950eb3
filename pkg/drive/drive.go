// Package drive turns a heading correction and a base speed into body
// velocities for a differential-drive base.
package drive

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// Config holds the base geometry and actuator limits.
type Config struct {
	WheelRadius float64 `yaml:"wheel_radius" json:"wheel_radius"` // m
	BaseWidth   float64 `yaml:"base_width" json:"base_width"`     // m, wheel separation

	MaxTurn    float64 `yaml:"max_turn" json:"max_turn"`       // wheel-speed units, applied before mixing
	MaxLinear  float64 `yaml:"max_linear" json:"max_linear"`   // m/s
	MaxAngular float64 `yaml:"max_angular" json:"max_angular"` // rad/s
}

// DefaultConfig returns the mobile robot's base.
func DefaultConfig() Config {
	return Config{
		WheelRadius: 0.1,
		BaseWidth:   0.3,
		MaxTurn:     2.0,
		MaxLinear:   12.0,
		MaxAngular:  15.0,
	}
}

// WheelSpeeds are per-wheel angular speeds in wheel units.
type WheelSpeeds struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Command is a body-frame velocity command.
type Command struct {
	Linear  float64 `json:"linear"`  // m/s, positive forward
	Angular float64 `json:"angular"` // rad/s, positive counter-clockwise
}

// Stop is the zero command.
var Stop = Command{}

// Wheels mixes a clamped turn contribution with the base speed.
func (c Config) Wheels(turn, base float64) WheelSpeeds {
	turn = geom.Clamp(zeroNaN(turn), -c.MaxTurn, c.MaxTurn)
	base = zeroNaN(base)
	return WheelSpeeds{Left: base - turn, Right: base + turn}
}

// Body converts wheel speeds into body velocities.
func (c Config) Body(w WheelSpeeds) Command {
	cmd := Command{Linear: (w.Left + w.Right) * c.WheelRadius / 2}
	if c.BaseWidth > 0 {
		cmd.Angular = (w.Right - w.Left) * c.WheelRadius / c.BaseWidth
	}
	return cmd
}

// Synthesize produces the clamped body command for a heading
// correction and base speed. Linear velocity is never negative unless
// allowReverse is set (escape maneuvers only).
func (c Config) Synthesize(turn, base float64, allowReverse bool) Command {
	return c.Limit(c.Body(c.Wheels(turn, base)), allowReverse)
}

// Limit clamps a command to the actuator limits. Values beyond a limit
// come out exactly at that limit.
func (c Config) Limit(cmd Command, allowReverse bool) Command {
	minLinear := 0.0
	if allowReverse {
		minLinear = -c.MaxLinear
	}
	return Command{
		Linear:  geom.Clamp(zeroNaN(cmd.Linear), minLinear, c.MaxLinear),
		Angular: geom.Clamp(zeroNaN(cmd.Angular), -c.MaxAngular, c.MaxAngular),
	}
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
