package history

import (
	"math"
	"sort"
)

// HighCoverage is the visit count above which a cell counts as cleaned
// often enough to skip.
const HighCoverage = 5.0

// CoverageMap is the view of a coverage grid the optimizer reads.
type CoverageMap interface {
	Width() int
	Height() int
	Coverage(cx, cy int) float64
}

// Cell is a grid cell index.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Suggestions steer the next stretch of a coverage run.
type Suggestions struct {
	// AvoidHighCoverage is set when any cell exceeds HighCoverage.
	AvoidHighCoverage bool `json:"avoid_high_coverage"`
	// PreferredDirection is the mean net heading (rad) of the most
	// efficient past runs, nil with fewer than two runs.
	PreferredDirection *float64 `json:"preferred_direction,omitempty"`
	SkipAreas          []Cell   `json:"skip_areas,omitempty"`

	skip map[Cell]struct{}
}

// ShouldSkip reports whether c is one of the skip areas.
func (s *Suggestions) ShouldSkip(c Cell) bool {
	if s == nil || !s.AvoidHighCoverage {
		return false
	}
	if s.skip == nil {
		s.skip = make(map[Cell]struct{}, len(s.SkipAreas))
		for _, a := range s.SkipAreas {
			s.skip[a] = struct{}{}
		}
	}
	_, ok := s.skip[c]
	return ok
}

// Efficiency is coverage percent per unit of energy, 0 without energy.
func Efficiency(coverage, energy float64) float64 {
	if energy <= 0 {
		return 0
	}
	return coverage / energy
}

// Suggest derives suggestions from past runs and the live coverage map.
// Without any past run there is nothing to suggest.
func Suggest(runs []Run, m CoverageMap) Suggestions {
	var s Suggestions
	if len(runs) == 0 {
		return s
	}

	if m != nil {
		for y := 0; y < m.Height(); y++ {
			for x := 0; x < m.Width(); x++ {
				if m.Coverage(x, y) > HighCoverage {
					s.SkipAreas = append(s.SkipAreas, Cell{X: x, Y: y})
				}
			}
		}
	}
	s.AvoidHighCoverage = len(s.SkipAreas) > 0
	s.PreferredDirection = preferredDirection(runs)
	return s
}

// preferredDirection averages, on the circle, the net headings of the
// three most efficient runs that moved.
func preferredDirection(runs []Run) *float64 {
	if len(runs) < 2 {
		return nil
	}

	best := append([]Run(nil), runs...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Efficiency > best[j].Efficiency })
	if len(best) > 3 {
		best = best[:3]
	}

	var sx, sy float64
	n := 0
	for _, r := range best {
		dx, dy := r.EndX-r.StartX, r.EndY-r.StartY
		if dx == 0 && dy == 0 {
			continue
		}
		a := math.Atan2(dy, dx)
		sx += math.Cos(a)
		sy += math.Sin(a)
		n++
	}
	if n == 0 || (sx == 0 && sy == 0) {
		return nil
	}
	dir := math.Atan2(sy, sx)
	return &dir
}

// Improvement compares the first and the last run.
type Improvement struct {
	TimeReduction   float64 `json:"time_reduction"`   // percent
	EnergyReduction float64 `json:"energy_reduction"` // percent
	Efficiency      float64 `json:"improvement"`      // last - first
	FirstEfficiency float64 `json:"first_efficiency"`
	LastEfficiency  float64 `json:"last_efficiency"`
}

// Improve returns the change from the first to the last run, ok false
// with fewer than two runs. Reductions are 0 when the first run took no
// time or energy.
func Improve(runs []Run) (imp Improvement, ok bool) {
	if len(runs) < 2 {
		return Improvement{}, false
	}
	first, last := runs[0], runs[len(runs)-1]

	if first.Duration > 0 {
		imp.TimeReduction = (first.Duration - last.Duration) / first.Duration * 100
	}
	if first.Energy > 0 {
		imp.EnergyReduction = (first.Energy - last.Energy) / first.Energy * 100
	}
	imp.FirstEfficiency = first.Efficiency
	imp.LastEfficiency = last.Efficiency
	imp.Efficiency = last.Efficiency - first.Efficiency
	return imp, true
}
