// Package world defines the boundary to the physics collaborator and a
// lightweight kinematic simulator that satisfies it.
//
// Controllers never integrate dynamics themselves: they cast rays,
// read the body pose, command velocities and inspect contacts. Sim
// provides exactly that over a flat floor with box obstacles, which is
// enough to run and test every controller without a rigid-body engine.
package world

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// GroundID is the body id of the floor plane.
const GroundID = 0

// RayHit is the result of a ray-intersection query.
type RayHit struct {
	Hit      bool
	Position geom.Vec3
	BodyID   int
	// Fraction is the hit position along the ray, in [0, 1].
	Fraction float64
}

// Contact is one touching pair reported by the simulator.
type Contact struct {
	BodyA int `json:"body_a"`
	BodyB int `json:"body_b"`
}

// Other returns the body in contact with id.
func (c Contact) Other(id int) int {
	if c.BodyA == id {
		return c.BodyB
	}
	return c.BodyA
}

// TouchingObstacle reports whether any contact involves two bodies
// other than the ground.
func TouchingObstacle(contacts []Contact, ground int) bool {
	for _, c := range contacts {
		if c.BodyA != ground && c.BodyB != ground {
			return true
		}
	}
	return false
}

// Box is a static axis-aligned obstacle standing on the floor.
type Box struct {
	Center geom.Vec2 `json:"center" yaml:"center"`
	HalfX  float64   `json:"half_x" yaml:"half_x"`
	HalfY  float64   `json:"half_y" yaml:"half_y"`
	Height float64   `json:"height" yaml:"height"`
}

// Min returns the lower-left corner.
func (b Box) Min() geom.Vec2 { return geom.V2(b.Center.X-b.HalfX, b.Center.Y-b.HalfY) }

// Max returns the upper-right corner.
func (b Box) Max() geom.Vec2 { return geom.V2(b.Center.X+b.HalfX, b.Center.Y+b.HalfY) }

// Corners returns the footprint corners counter-clockwise.
func (b Box) Corners() []geom.Vec2 {
	lo, hi := b.Min(), b.Max()
	return []geom.Vec2{lo, geom.V2(hi.X, lo.Y), hi, geom.V2(lo.X, hi.Y)}
}

// distanceTo returns the planar distance from p to the box footprint
// (zero inside).
func (b Box) distanceTo(p geom.Vec2) float64 {
	dx := math.Max(math.Abs(p.X-b.Center.X)-b.HalfX, 0)
	dy := math.Max(math.Abs(p.Y-b.Center.Y)-b.HalfY, 0)
	return math.Hypot(dx, dy)
}

// intersect returns the ray parameter t in [0, 1] of the first
// intersection of segment from→to with the box volume.
func (b Box) intersect(from, to geom.Vec3) (float64, bool) {
	lo := [3]float64{b.Center.X - b.HalfX, b.Center.Y - b.HalfY, 0}
	hi := [3]float64{b.Center.X + b.HalfX, b.Center.Y + b.HalfY, b.Height}
	o := [3]float64{from.X, from.Y, from.Z}
	d := [3]float64{to.X - from.X, to.Y - from.Y, to.Z - from.Z}

	tmin, tmax := 0.0, 1.0
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, false
			}
			continue
		}
		t1 := (lo[i] - o[i]) / d[i]
		t2 := (hi[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}
