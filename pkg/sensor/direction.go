// Package sensor models range sensors mounted around a planar agent.
//
// Directions are a fixed enum mapped to angular offsets from the
// agent's heading. Each sensor casts one ray through a RayCaster
// supplied by the physics collaborator and owns its noise generator,
// so a session seeded with the same value reads the same noise.
package sensor

import (
	"fmt"
	"math"
	"strings"
)

// Direction identifies a sensor mount relative to the agent heading.
type Direction int

const (
	Front Direction = iota
	FrontLeft
	FrontRight
	Left
	Right
	BackLeft
	BackRight

	numDirections
)

var offsets = [numDirections]float64{
	Front:      0,
	FrontLeft:  math.Pi / 4,
	FrontRight: -math.Pi / 4,
	Left:       math.Pi / 2,
	Right:      -math.Pi / 2,
	BackLeft:   3 * math.Pi / 4,
	BackRight:  -3 * math.Pi / 4,
}

var names = [numDirections]string{
	Front:      "front",
	FrontLeft:  "front_left",
	FrontRight: "front_right",
	Left:       "left",
	Right:      "right",
	BackLeft:   "back_left",
	BackRight:  "back_right",
}

// Default maximum ranges (m) per mount: the forward sensor sees
// furthest, the rear pair the least.
var defaultRanges = [numDirections]float64{
	Front:      2.0,
	FrontLeft:  1.5,
	FrontRight: 1.5,
	Left:       1.5,
	Right:      1.5,
	BackLeft:   1.0,
	BackRight:  1.0,
}

// Layouts of sensor mounts.
var (
	// SevenRing is the mobile robot's full ring.
	SevenRing = []Direction{Front, FrontLeft, FrontRight, Left, Right, BackLeft, BackRight}
	// FiveFan is the vacuum robot's forward fan.
	FiveFan = []Direction{Front, FrontRight, FrontLeft, Right, Left}
)

// Offset returns the mount angle relative to the heading (radians, CCW positive).
func (d Direction) Offset() float64 {
	if !d.Valid() {
		return 0
	}
	return offsets[d]
}

// DefaultMaxRange returns the default sensing range of the mount.
func (d Direction) DefaultMaxRange() float64 {
	if !d.Valid() {
		return 0
	}
	return defaultRanges[d]
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d >= 0 && d < numDirections
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return names[d]
}

// MarshalText encodes the direction by name, so Readings serialize as
// {"front": 1.2, ...}.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("sensor: invalid direction %d", int(d))
	}
	return []byte(names[d]), nil
}

// UnmarshalText decodes a direction name.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection converts a name like "front_left" to a Direction.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range names {
		if name == s {
			return Direction(d), nil
		}
	}
	return 0, fmt.Errorf("sensor: unknown direction %q", s)
}

// All returns every direction in declaration order.
func All() []Direction {
	out := make([]Direction, numDirections)
	for i := range out {
		out[i] = Direction(i)
	}
	return out
}
