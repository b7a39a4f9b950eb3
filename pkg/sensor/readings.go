package sensor

import "math"

// Readings maps each mounted direction to its latest clamped range.
// A direction without a sensor is absent from the map.
type Readings map[Direction]float64

// Get returns the reading for d, or fallback when no sensor is mounted there.
func (r Readings) Get(d Direction, fallback float64) float64 {
	if v, ok := r[d]; ok {
		return v
	}
	return fallback
}

// Min returns the smallest reading among dirs (all mounted directions
// when dirs is empty). Missing directions are skipped; with nothing to
// compare it returns +Inf.
func (r Readings) Min(dirs ...Direction) float64 {
	min := math.Inf(1)
	if len(dirs) == 0 {
		for _, v := range r {
			min = math.Min(min, v)
		}
		return min
	}
	for _, d := range dirs {
		if v, ok := r[d]; ok {
			min = math.Min(min, v)
		}
	}
	return min
}

// CountBelow returns how many readings are strictly below threshold.
func (r Readings) CountBelow(threshold float64) int {
	n := 0
	for _, v := range r {
		if v < threshold {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (r Readings) Clone() Readings {
	out := make(Readings, len(r))
	for d, v := range r {
		out[d] = v
	}
	return out
}

// Named keys the readings by direction name, nil when empty.
func (r Readings) Named() map[string]float64 {
	if len(r) == 0 {
		return nil
	}
	out := make(map[string]float64, len(r))
	for d, v := range r {
		out[d.String()] = v
	}
	return out
}
