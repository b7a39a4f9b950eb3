// Package geom holds the planar geometry shared by the controllers:
// angle normalization, small vector types and the agent pose.
package geom

import "math"

const twoPi = 2 * math.Pi

// NormalizeAngle wraps a into (-π, π].
//
// Normalizing an already-normalized angle returns it unchanged, and
// a+2πk normalizes to the same value as a (up to float rounding of the
// addition itself).
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	r := math.Remainder(a, twoPi)
	if r <= -math.Pi {
		r += twoPi
	}
	return r
}

// AngleDiff returns the unsigned smallest angle between a and b, in [0, π].
func AngleDiff(a, b float64) float64 {
	return math.Abs(NormalizeAngle(a - b))
}

// Degrees converts radians to degrees for logging/display.
func Degrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// Radians converts degrees to radians.
func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// Clamp limits value to [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Sign returns -1 for negative x and +1 otherwise.
func Sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
