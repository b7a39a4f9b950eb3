package nav

import (
	"math"
	"sort"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Pair is two adjacent sensor mounts whose rays bound a possible opening.
type Pair [2]sensor.Direction

// Name returns e.g. "front_left_front".
func (p Pair) Name() string {
	return p[0].String() + "_" + p[1].String()
}

// DefaultGapPairs are the forward-facing adjacent pairs. Rear mounts
// never form gaps.
var DefaultGapPairs = []Pair{
	{sensor.FrontLeft, sensor.Front},
	{sensor.Front, sensor.FrontRight},
	{sensor.Left, sensor.FrontLeft},
	{sensor.FrontRight, sensor.Right},
}

// GapConfig holds the qualification thresholds and scoring weights.
type GapConfig struct {
	Pairs []Pair `yaml:"-" json:"-"`

	MinSafe     float64 `yaml:"min_safe" json:"min_safe"`         // both rays must exceed this (m)
	MinPassable float64 `yaml:"min_passable" json:"min_passable"` // average must exceed this (m)

	AlignWeight  float64 `yaml:"align_weight" json:"align_weight"`
	WidthWeight  float64 `yaml:"width_weight" json:"width_weight"`
	SafetyWeight float64 `yaml:"safety_weight" json:"safety_weight"`

	// Alignment inside BonusAngle of the goal is multiplied by AlignBonus.
	BonusAngle float64 `yaml:"bonus_angle" json:"bonus_angle"`
	AlignBonus float64 `yaml:"align_bonus" json:"align_bonus"`
}

// DefaultGapConfig returns thresholds sized for a 0.3 m wide base.
func DefaultGapConfig() GapConfig {
	return GapConfig{
		Pairs:        DefaultGapPairs,
		MinSafe:      0.25,
		MinPassable:  0.4,
		AlignWeight:  10,
		WidthWeight:  2,
		SafetyWeight: 1.5,
		BonusAngle:   math.Pi / 6,
		AlignBonus:   1.5,
	}
}

// Gap is a sensed opening between two adjacent rays.
type Gap struct {
	Pair        Pair    `json:"-"`
	Direction   string  `json:"direction"`
	Angle       float64 `json:"angle"`        // absolute heading of the opening
	Width       float64 `json:"width"`        // mean of the paired ranges
	MinDistance float64 `json:"min_distance"` // smaller of the paired ranges
	ErrorToGoal float64 `json:"error_to_goal"`
	Score       float64 `json:"score"`
}

// Score rates an opening. Goal alignment dominates width and safety,
// so a narrow opening toward the goal beats a wide one away from it.
func (c GapConfig) Score(errorToGoal, width, minDist float64) float64 {
	e := math.Abs(errorToGoal)
	align := c.AlignWeight * (1 - e/math.Pi)
	if e < c.BonusAngle {
		align *= c.AlignBonus
	}
	return align + c.WidthWeight*width + c.SafetyWeight*minDist
}

// FindGaps returns the qualifying openings, best first. Pairs with a
// missing reading are skipped. The result is empty when nothing
// qualifies.
func FindGaps(r sensor.Readings, heading, goalBearing float64, cfg GapConfig) []Gap {
	pairs := cfg.Pairs
	if pairs == nil {
		pairs = DefaultGapPairs
	}

	var gaps []Gap
	for _, p := range pairs {
		d1, ok1 := r[p[0]]
		d2, ok2 := r[p[1]]
		if !ok1 || !ok2 {
			continue
		}
		minDist := math.Min(d1, d2)
		width := (d1 + d2) / 2
		if minDist <= cfg.MinSafe || width <= cfg.MinPassable {
			continue
		}

		angle := geom.NormalizeAngle(heading + (p[0].Offset()+p[1].Offset())/2)
		errToGoal := geom.NormalizeAngle(goalBearing - angle)
		gaps = append(gaps, Gap{
			Pair:        p,
			Direction:   p.Name(),
			Angle:       angle,
			Width:       width,
			MinDistance: minDist,
			ErrorToGoal: errToGoal,
			Score:       cfg.Score(errToGoal, width, minDist),
		})
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Score > gaps[j].Score
	})
	return gaps
}
