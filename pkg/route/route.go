// Package route orders delivery stops for a single vehicle: nearest
// neighbour, a greedy isolation heuristic, and replanning as new stops
// are detected.
package route

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// Stop is a delivery point.
type Stop struct {
	ID        int       `json:"id"`
	Position  geom.Vec3 `json:"position"`
	Delivered bool      `json:"delivered"`
}

// Algorithm selects the ordering heuristic.
type Algorithm string

const (
	NearestNeighbor Algorithm = "nearest_neighbor"
	Greedy          Algorithm = "greedy"
)

// ParseAlgorithm accepts the algorithm names; empty means nearest
// neighbour.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", NearestNeighbor:
		return NearestNeighbor, nil
	case Greedy:
		return Greedy, nil
	}
	return "", fmt.Errorf("unknown route algorithm %q", s)
}

// greedyMin is the stop count at or under which Greedy falls back to
// nearest neighbour.
const greedyMin = 3

// Config tunes a Planner.
type Config struct {
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`
	// ArriveDistance (m) counts a stop as reached.
	ArriveDistance float64 `yaml:"arrive_distance" json:"arrive_distance"`
}

// DefaultConfig plans with nearest neighbour.
func DefaultConfig() Config {
	return Config{Algorithm: NearestNeighbor, ArriveDistance: 0.5}
}

// Pending returns the stops not yet delivered, in order.
func Pending(stops []Stop) []Stop {
	out := make([]Stop, 0, len(stops))
	for _, s := range stops {
		if !s.Delivered {
			out = append(out, s)
		}
	}
	return out
}

// PlanNearest repeatedly visits the closest pending stop. Ties go to the
// earlier stop.
func PlanNearest(start geom.Vec3, stops []Stop) []Stop {
	remaining := Pending(stops)
	route := make([]Stop, 0, len(remaining))
	cur := start
	for len(remaining) > 0 {
		best, bestDist := 0, math.Inf(1)
		for i, s := range remaining {
			if d := cur.Dist(s.Position); d < bestDist {
				best, bestDist = i, d
			}
		}
		next := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		route = append(route, next)
		cur = next.Position
	}
	return route
}

// PlanGreedy picks, at each step, the stop minimizing
// dist(current, stop) / (mean dist(stop, other remaining) + 0.1): an
// outlier is fetched first when it is not much further than the cluster.
// With three stops or fewer it is nearest neighbour.
func PlanGreedy(start geom.Vec3, stops []Stop) []Stop {
	remaining := Pending(stops)
	if len(remaining) <= greedyMin {
		return PlanNearest(start, remaining)
	}

	route := make([]Stop, 0, len(remaining))
	cur := start
	dists := make([]float64, 0, len(remaining))
	for len(remaining) > 0 {
		if len(remaining) == 1 {
			route = append(route, remaining[0])
			break
		}

		best, bestScore := 0, math.Inf(1)
		for i, s := range remaining {
			dists = dists[:0]
			for j, o := range remaining {
				if j != i {
					dists = append(dists, s.Position.Dist(o.Position))
				}
			}
			score := cur.Dist(s.Position) / (stat.Mean(dists, nil) + 0.1)
			if score < bestScore {
				best, bestScore = i, score
			}
		}
		next := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		route = append(route, next)
		cur = next.Position
	}
	return route
}

// Distance is the length of driving the route from start, plus the
// return leg when base is set.
func Distance(route []Stop, start geom.Vec3, base *geom.Vec3) float64 {
	if len(route) == 0 {
		return 0
	}
	total := 0.0
	cur := start
	for _, s := range route {
		total += cur.Dist(s.Position)
		cur = s.Position
	}
	if base != nil {
		total += cur.Dist(*base)
	}
	return total
}

// Next returns the first pending stop of route.
func Next(route []Stop) (Stop, bool) {
	for _, s := range route {
		if !s.Delivered {
			return s, true
		}
	}
	return Stop{}, false
}

// Planner plans routes with the configured algorithm and counts how
// often it did.
type Planner struct {
	cfg   Config
	plans int
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config) *Planner {
	if cfg.ArriveDistance <= 0 {
		cfg.ArriveDistance = DefaultConfig().ArriveDistance
	}
	return &Planner{cfg: cfg}
}

// Config returns the planner settings.
func (p *Planner) Config() Config { return p.cfg }

// Plans returns the number of non-empty plans made.
func (p *Planner) Plans() int { return p.plans }

// Plan orders the pending stops from start.
func (p *Planner) Plan(start geom.Vec3, stops []Stop) []Stop {
	pending := Pending(stops)
	if len(pending) == 0 {
		return nil
	}
	var route []Stop
	switch p.cfg.Algorithm {
	case Greedy:
		route = PlanGreedy(start, pending)
	default:
		route = PlanNearest(start, pending)
	}
	p.plans++
	return route
}

// Replan merges the current route with newly detected stops, keeping the
// first occurrence of each id and dropping delivered stops, and plans
// again from start.
func (p *Planner) Replan(start geom.Vec3, current, detected []Stop) []Stop {
	seen := make(map[int]struct{}, len(current)+len(detected))
	merged := make([]Stop, 0, len(current)+len(detected))
	for _, s := range append(append([]Stop(nil), current...), detected...) {
		if _, dup := seen[s.ID]; dup || s.Delivered {
			continue
		}
		seen[s.ID] = struct{}{}
		merged = append(merged, s)
	}
	return p.Plan(start, merged)
}

// Arrived reports whether pos is horizontally within the arrive
// distance of s.
func (p *Planner) Arrived(pos geom.Vec3, s Stop) bool {
	return horizontal(pos, s.Position) <= p.cfg.ArriveDistance
}
