package sensor

import (
	"math"
	"math/rand/v2"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/world"
)

// RayCaster is the ray-intersection primitive of the physics collaborator.
type RayCaster interface {
	CastRay(from, to geom.Vec3) (world.RayHit, error)
}

// Config describes one ultrasonic range sensor.
type Config struct {
	MaxRange float64 // meters; also the reading when nothing is hit
	NoiseStd float64 // standard deviation of additive Gaussian noise

	// MountHeight is the ray origin height above the ground plane.
	MountHeight float64
	// TipLift raises the far end of the ray so a pitching chassis does
	// not graze the floor.
	TipLift float64
	// GroundThreshold discards hits lower than this as ground returns.
	GroundThreshold float64
}

// DefaultConfig returns the ultrasonic defaults for the given range.
func DefaultConfig(maxRange float64) Config {
	return Config{
		MaxRange:        maxRange,
		NoiseStd:        0.02,
		MountHeight:     0.1,
		TipLift:         0.05,
		GroundThreshold: 0.05,
	}
}

// Ultrasonic is a single noisy range sensor. It owns its random source.
type Ultrasonic struct {
	cfg Config
	rng *rand.Rand
}

// NewUltrasonic creates a sensor whose noise sequence is fixed by seed.
func NewUltrasonic(cfg Config, seed uint64) *Ultrasonic {
	return &Ultrasonic{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Config returns the sensor configuration.
func (s *Ultrasonic) Config() Config {
	return s.cfg
}

// Measure casts a ray from pose along heading+dir.Offset() and returns
// the noisy planar distance to the first hit, clamped to [0, MaxRange].
// A miss, a ground return or a ray-query fault reads as MaxRange.
func (s *Ultrasonic) Measure(c RayCaster, pose geom.Pose, dir Direction) float64 {
	distance := s.trueDistance(c, pose, pose.Heading+dir.Offset())
	if s.cfg.NoiseStd > 0 {
		distance += s.rng.NormFloat64() * s.cfg.NoiseStd
	}
	return geom.Clamp(distance, 0, s.cfg.MaxRange)
}

func (s *Ultrasonic) trueDistance(c RayCaster, pose geom.Pose, angle float64) float64 {
	from := pose.Position().Lift(s.cfg.MountHeight)
	tip := pose.Position().Add(geom.Polar(s.cfg.MaxRange, angle))
	to := tip.Lift(s.cfg.MountHeight + s.cfg.TipLift)

	hit, err := c.CastRay(from, to)
	if err != nil || !hit.Hit {
		return s.cfg.MaxRange
	}
	if hit.Position.Z < s.cfg.GroundThreshold {
		return s.cfg.MaxRange
	}

	d := hit.Position.Planar().Dist(from.Planar())
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return s.cfg.MaxRange
	}
	return d
}
