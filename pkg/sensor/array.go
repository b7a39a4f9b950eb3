package sensor

import "github.com/teslashibe/go-rover/pkg/geom"

// ArrayConfig describes a set of sensors sharing one session seed.
type ArrayConfig struct {
	Layout   []Direction
	NoiseStd float64
	// Range, when positive, overrides the per-direction default range.
	Range float64
	Seed  int64
}

// Array is a fixed set of ultrasonic sensors read together each tick.
type Array struct {
	order   []Direction
	sensors map[Direction]*Ultrasonic
}

// NewArray builds one sensor per layout direction. Each sensor gets its
// own generator derived from cfg.Seed and the direction, so adding a
// mount does not shift the noise of the others.
func NewArray(cfg ArrayConfig) *Array {
	a := &Array{sensors: make(map[Direction]*Ultrasonic, len(cfg.Layout))}
	for _, d := range cfg.Layout {
		if !d.Valid() {
			continue
		}
		if _, dup := a.sensors[d]; dup {
			continue
		}
		maxRange := d.DefaultMaxRange()
		if cfg.Range > 0 {
			maxRange = cfg.Range
		}
		sc := DefaultConfig(maxRange)
		sc.NoiseStd = cfg.NoiseStd

		seed := uint64(cfg.Seed)*uint64(numDirections) + uint64(d) + 1
		a.sensors[d] = NewUltrasonic(sc, seed)
		a.order = append(a.order, d)
	}
	return a
}

// Read samples every sensor at pose.
func (a *Array) Read(c RayCaster, pose geom.Pose) Readings {
	out := make(Readings, len(a.order))
	for _, d := range a.order {
		out[d] = a.sensors[d].Measure(c, pose, d)
	}
	return out
}

// Directions returns the mounted directions in layout order.
func (a *Array) Directions() []Direction {
	return append([]Direction(nil), a.order...)
}

// MaxRange returns the range of the sensor at d, or 0 if none is mounted.
func (a *Array) MaxRange(d Direction) float64 {
	if s, ok := a.sensors[d]; ok {
		return s.cfg.MaxRange
	}
	return 0
}
