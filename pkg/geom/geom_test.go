package geom

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < tolerance }

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{2 * math.Pi, 0},
		{7, 7 - 2*math.Pi},
	}

	for _, tt := range tests {
		if got := NormalizeAngle(tt.in); !near(got, tt.want) {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAngle_Idempotent(t *testing.T) {
	for a := -math.Pi + 0.001; a <= math.Pi; a += 0.01 {
		once := NormalizeAngle(a)
		if once != a {
			t.Fatalf("NormalizeAngle(%v) = %v, want unchanged", a, once)
		}
		if twice := NormalizeAngle(once); twice != once {
			t.Fatalf("NormalizeAngle not idempotent at %v: %v", a, twice)
		}
	}
}

func TestNormalizeAngle_PeriodicInvariance(t *testing.T) {
	for _, a := range []float64{-3, -1.2, 0, 0.5, 2.9, math.Pi} {
		base := NormalizeAngle(a)
		for k := -5; k <= 5; k++ {
			got := NormalizeAngle(a + 2*math.Pi*float64(k))
			// π and -π are the same direction; the result must stay on the π side
			if math.Abs(got-base) > 1e-9 && !(near(math.Abs(got), math.Pi) && near(math.Abs(base), math.Pi)) {
				t.Errorf("NormalizeAngle(%v + 2π·%d) = %v, want %v", a, k, got, base)
			}
			if got <= -math.Pi || got > math.Pi {
				t.Errorf("NormalizeAngle(%v + 2π·%d) = %v out of (-π, π]", a, k, got)
			}
		}
	}
}

func TestNormalizeAngle_NonFinite(t *testing.T) {
	if got := NormalizeAngle(math.NaN()); got != 0 {
		t.Errorf("NormalizeAngle(NaN) = %v, want 0", got)
	}
	if got := NormalizeAngle(math.Inf(1)); got != 0 {
		t.Errorf("NormalizeAngle(+Inf) = %v, want 0", got)
	}
}

func TestAngleDiff(t *testing.T) {
	if got := AngleDiff(math.Pi-0.1, -math.Pi+0.1); !near(got, 0.2) {
		t.Errorf("AngleDiff across the seam = %v, want 0.2", got)
	}
}

func TestDegreesRadians(t *testing.T) {
	if got := Degrees(math.Pi); !near(got, 180) {
		t.Errorf("Degrees(π) = %v", got)
	}
	if got := Radians(90); !near(got, math.Pi/2) {
		t.Errorf("Radians(90) = %v", got)
	}
}

func TestVec2_NormalizeZero(t *testing.T) {
	if got := (Vec2{}).Normalize(); !got.IsZero() {
		t.Errorf("zero.Normalize() = %v, want zero", got)
	}
	if got := V2(3, 4).Normalize(); !near(got.Len(), 1) {
		t.Errorf("Normalize length = %v, want 1", got.Len())
	}
}

func TestPose_HeadingErrorTo(t *testing.T) {
	p := Pose{X: 0, Y: 0, Heading: 0}
	if got := p.HeadingErrorTo(V2(0, 1)); !near(got, math.Pi/2) {
		t.Errorf("HeadingErrorTo(+y) = %v, want π/2", got)
	}
	p.Heading = math.Pi - 0.1
	if got := p.HeadingErrorTo(V2(-1, -0.0001)); got > 0.2 || got < 0 {
		t.Errorf("HeadingErrorTo across seam = %v, want small positive", got)
	}
}

func TestClampAndSign(t *testing.T) {
	if Clamp(5, -2, 2) != 2 || Clamp(-5, -2, 2) != -2 || Clamp(1, -2, 2) != 1 {
		t.Error("Clamp boundaries wrong")
	}
	if Sign(-0.1) != -1 || Sign(0) != 1 {
		t.Error("Sign wrong")
	}
}
