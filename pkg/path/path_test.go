package path

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/teslashibe/go-rover/pkg/geom"
)

var (
	start = geom.V2(-3, 3)
	goal  = geom.V2(3, -3)
)

func TestStraight(t *testing.T) {
	ref := Straight(start, goal, 50)
	if len(ref) != 51 {
		t.Fatalf("len = %d, want 51", len(ref))
	}
	if ref[0] != start || ref[50] != goal {
		t.Errorf("endpoints = %v, %v", ref[0], ref[50])
	}
	if math.Abs(ref.Length()-start.Dist(goal)) > 1e-9 {
		t.Errorf("Length() = %v, want %v", ref.Length(), start.Dist(goal))
	}
}

func TestAdvanceReturnsLookaheadPoint(t *testing.T) {
	ref := Straight(geom.V2(0, 0), geom.V2(10, 0), 50) // 0.2 m spacing
	tr := NewTracker(ref, geom.V2(10, 0), DefaultConfig())

	target := tr.Advance(geom.V2(0, 0), 0.8)
	if math.Abs(target.X-0.8) > 1e-9 {
		t.Errorf("target = %v, want x=0.8", target)
	}
	if tr.Index() != 0 {
		t.Errorf("Index() = %d, want 0", tr.Index())
	}
}

func TestAdvanceExhaustedPathReturnsGoal(t *testing.T) {
	ref := Straight(geom.V2(0, 0), geom.V2(1, 0), 5)
	g := geom.V2(1, 0)
	tr := NewTracker(ref, g, DefaultConfig())
	if got := tr.Advance(geom.V2(0.95, 0), 0.8); got != g {
		t.Errorf("Advance near end = %v, want goal", got)
	}

	empty := NewTracker(nil, g, DefaultConfig())
	if got := empty.Advance(geom.V2(0, 0), 0.8); got != g {
		t.Errorf("empty path = %v, want goal", got)
	}
}

func TestIndexNeverRegressesBeyondLookback(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(Straight(start, goal, 50), goal, cfg)
	rng := rand.New(rand.NewPCG(1, 2))

	prev := 0
	for step := 0; step <= 100; step++ {
		along := start.Add(goal.Sub(start).Scale(float64(step) / 100))
		noisy := along.Add(geom.V2(rng.NormFloat64()*0.1, rng.NormFloat64()*0.1))
		tr.Advance(noisy, cfg.Lookahead)
		if tr.Index() < prev-cfg.Lookback {
			t.Fatalf("step %d: index %d regressed from %d", step, tr.Index(), prev)
		}
		prev = tr.Index()
	}
	if prev < 45 {
		t.Errorf("final index = %d, expected near the end", prev)
	}
}

func TestIndexIgnoresFarBackwardJump(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(Straight(start, goal, 50), goal, cfg)
	mid := start.Add(goal.Sub(start).Scale(0.5))
	tr.Advance(mid, cfg.Lookahead)
	tr.Advance(mid, cfg.Lookahead)
	at := tr.Index()

	tr.Advance(start, cfg.Lookahead)
	if tr.Index() < at-cfg.Lookback {
		t.Errorf("index jumped from %d to %d", at, tr.Index())
	}
}

func TestHeadingError(t *testing.T) {
	cfg := DefaultConfig()
	ref := Straight(geom.V2(0, 0), geom.V2(10, 0), 50)

	tests := []struct {
		name   string
		ref    Reference
		pose   geom.Pose
		want   float64
		onPath bool
	}{
		{"aligned", ref, geom.Pose{}, 0, true},
		{"turn toward target", ref, geom.Pose{Heading: math.Pi / 6}, -math.Pi / 6, true},
		{"target behind", ref, geom.Pose{Heading: math.Pi}, -math.Pi, false},
		{
			"path diverges from goal",
			Reference{geom.V2(0, 0), geom.V2(0, 5), geom.V2(10, 0)},
			geom.Pose{},
			0,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.ref, geom.V2(10, 0), cfg)
			got, onPath := tr.HeadingError(tt.pose)
			if onPath != tt.onPath {
				t.Errorf("onPath = %v, want %v", onPath, tt.onPath)
			}
			if math.Abs(geom.NormalizeAngle(got-tt.want)) > 1e-6 {
				t.Errorf("HeadingError = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGoalError(t *testing.T) {
	g := geom.V2(1, 0)
	if got := GoalError(geom.Pose{X: 0.9}, g, 0.15); got != 0 {
		t.Errorf("inside stop radius = %v, want 0", got)
	}
	if got := GoalError(geom.Pose{Heading: math.Pi / 2}, g, 0.15); math.Abs(got+math.Pi/2) > 1e-9 {
		t.Errorf("GoalError = %v, want -pi/2", got)
	}
}
