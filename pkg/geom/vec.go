package geom

import "math"

// Vec2 is a point or direction in the world XY plane (meters).
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// V2 is shorthand for Vec2{x, y}.
func V2(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

// Polar returns the vector of length r pointing at angle theta.
func Polar(r, theta float64) Vec2 {
	return Vec2{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64 { return v.Sub(o).Len() }
func (v Vec2) DistSq(o Vec2) float64 {
	d := v.Sub(o)
	return d.X*d.X + d.Y*d.Y
}
func (v Vec2) Angle() float64 { return math.Atan2(v.Y, v.X) }
func (v Vec2) Lift(z float64) Vec3 { return Vec3{v.X, v.Y, z} }
func (v Vec2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Normalize returns the unit vector along v. A zero vector is returned
// unchanged instead of dividing by zero.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return Vec2{v.X / l, v.Y / l}
}

// Vec3 is a world-frame point, used at the ray-casting boundary.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Len() }

// Planar drops the vertical component.
func (v Vec3) Planar() Vec2 { return Vec2{v.X, v.Y} }

// Pose is the world-frame position and heading of an agent.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Position returns the planar position of the pose.
func (p Pose) Position() Vec2 { return Vec2{p.X, p.Y} }

// BearingTo returns the absolute world bearing from the pose to target.
func (p Pose) BearingTo(target Vec2) float64 {
	return target.Sub(p.Position()).Angle()
}

// DistanceTo returns the planar distance from the pose to target.
func (p Pose) DistanceTo(target Vec2) float64 {
	return p.Position().Dist(target)
}

// HeadingErrorTo returns the signed correction, normalized to (-π, π],
// that turns the pose toward target.
func (p Pose) HeadingErrorTo(target Vec2) float64 {
	return NormalizeAngle(p.BearingTo(target) - p.Heading)
}
