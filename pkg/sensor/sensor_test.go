package sensor

import (
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/world"
)

// fakeCaster returns a fixed hit at distance d straight along the ray,
// at height z.
type fakeCaster struct {
	d     float64
	z     float64
	miss  bool
	err   error
	calls []geom.Vec3
}

func (f *fakeCaster) CastRay(from, to geom.Vec3) (world.RayHit, error) {
	f.calls = append(f.calls, to)
	if f.err != nil {
		return world.RayHit{}, f.err
	}
	if f.miss {
		return world.RayHit{}, nil
	}
	dir := to.Planar().Sub(from.Planar()).Normalize()
	p := from.Planar().Add(dir.Scale(f.d))
	return world.RayHit{Hit: true, Position: p.Lift(f.z)}, nil
}

func noiseless(maxRange float64) Config {
	cfg := DefaultConfig(maxRange)
	cfg.NoiseStd = 0
	return cfg
}

func TestMeasure(t *testing.T) {
	tests := []struct {
		name   string
		caster *fakeCaster
		want   float64
	}{
		{"hit", &fakeCaster{d: 1.2, z: 0.1}, 1.2},
		{"miss", &fakeCaster{miss: true}, 2.0},
		{"ground return", &fakeCaster{d: 0.3, z: 0.01}, 2.0},
		{"fault", &fakeCaster{err: world.Recoverable("ray test", errors.New("boom"))}, 2.0},
		{"fatal fault", &fakeCaster{err: world.Fatal("ray test", world.ErrDisconnected)}, 2.0},
		{"non-finite", &fakeCaster{d: math.Inf(1), z: 0.1}, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewUltrasonic(noiseless(2.0), 1)
			got := s.Measure(tt.caster, geom.Pose{}, Front)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Measure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeasureRayGeometry(t *testing.T) {
	c := &fakeCaster{miss: true}
	s := NewUltrasonic(noiseless(1.5), 1)
	s.Measure(c, geom.Pose{X: 1, Y: 1, Heading: 0}, Left)

	if len(c.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(c.calls))
	}
	to := c.calls[0]
	if math.Abs(to.X-1) > 1e-9 || math.Abs(to.Y-2.5) > 1e-9 {
		t.Errorf("ray end = (%v, %v), want (1, 2.5)", to.X, to.Y)
	}
	if math.Abs(to.Z-0.15) > 1e-9 {
		t.Errorf("ray end z = %v, want 0.15", to.Z)
	}
}

func TestMeasureClampsNoise(t *testing.T) {
	cfg := DefaultConfig(1.0)
	cfg.NoiseStd = 0.5
	s := NewUltrasonic(cfg, 7)
	near := &fakeCaster{d: 0.01, z: 0.1}
	far := &fakeCaster{miss: true}

	for i := 0; i < 500; i++ {
		if v := s.Measure(near, geom.Pose{}, Front); v < 0 || v > 1 {
			t.Fatalf("near reading %v out of [0, 1]", v)
		}
		if v := s.Measure(far, geom.Pose{}, Front); v < 0 || v > 1 {
			t.Fatalf("far reading %v out of [0, 1]", v)
		}
	}
}

func TestSeededNoiseIsReproducible(t *testing.T) {
	c := &fakeCaster{d: 0.8, z: 0.1}
	a := NewArray(ArrayConfig{Layout: SevenRing, NoiseStd: 0.02, Seed: 42})
	b := NewArray(ArrayConfig{Layout: SevenRing, NoiseStd: 0.02, Seed: 42})
	other := NewArray(ArrayConfig{Layout: SevenRing, NoiseStd: 0.02, Seed: 43})

	differs := false
	for i := 0; i < 20; i++ {
		ra, rb, ro := a.Read(c, geom.Pose{}), b.Read(c, geom.Pose{}), other.Read(c, geom.Pose{})
		for _, d := range SevenRing {
			if ra[d] != rb[d] {
				t.Fatalf("tick %d %s: %v != %v", i, d, ra[d], rb[d])
			}
			if ra[d] != ro[d] {
				differs = true
			}
		}
	}
	if !differs {
		t.Error("different seeds produced identical noise")
	}
}

func TestArrayDefaults(t *testing.T) {
	a := NewArray(ArrayConfig{Layout: []Direction{Front, Left, BackLeft, Left, Direction(42)}})
	if got := len(a.Directions()); got != 3 {
		t.Fatalf("directions = %d, want 3", got)
	}
	want := map[Direction]float64{Front: 2.0, Left: 1.5, BackLeft: 1.0, Right: 0}
	for d, r := range want {
		if got := a.MaxRange(d); got != r {
			t.Errorf("MaxRange(%s) = %v, want %v", d, got, r)
		}
	}

	override := NewArray(ArrayConfig{Layout: FiveFan, Range: 1.0})
	if got := override.MaxRange(Front); got != 1.0 {
		t.Errorf("Range override: got %v, want 1.0", got)
	}
}

func TestOffsets(t *testing.T) {
	tests := []struct {
		d    Direction
		want float64
	}{
		{Front, 0},
		{FrontLeft, math.Pi / 4},
		{FrontRight, -math.Pi / 4},
		{Left, math.Pi / 2},
		{Right, -math.Pi / 2},
		{BackLeft, 3 * math.Pi / 4},
		{BackRight, -3 * math.Pi / 4},
	}
	for _, tt := range tests {
		if got := tt.d.Offset(); got != tt.want {
			t.Errorf("%s.Offset() = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range All() {
		got, err := ParseDirection(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDirection(%q) = %v, %v", d.String(), got, err)
		}
	}
	if d, err := ParseDirection(" Front_Left "); err != nil || d != FrontLeft {
		t.Errorf("ParseDirection is not case/space tolerant: %v, %v", d, err)
	}
	if _, err := ParseDirection("up"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestReadings(t *testing.T) {
	r := Readings{Front: 0.3, Left: 0.1, Right: 0.9}

	if got := r.Min(Front, Left); got != 0.1 {
		t.Errorf("Min(front, left) = %v, want 0.1", got)
	}
	if got := r.Min(); got != 0.1 {
		t.Errorf("Min() = %v, want 0.1", got)
	}
	if got := r.Min(BackLeft); !math.IsInf(got, 1) {
		t.Errorf("Min(missing) = %v, want +Inf", got)
	}
	if got := r.CountBelow(0.3); got != 1 {
		t.Errorf("CountBelow(0.3) = %d, want 1", got)
	}
	if got := r.Get(BackRight, 1.0); got != 1.0 {
		t.Errorf("Get fallback = %v, want 1.0", got)
	}

	c := r.Clone()
	c[Front] = 5
	if r[Front] != 0.3 {
		t.Error("Clone shares storage")
	}
}

func TestReadingsJSONKeys(t *testing.T) {
	b, err := Direction(FrontLeft).MarshalText()
	if err != nil || string(b) != "front_left" {
		t.Errorf("MarshalText = %q, %v", b, err)
	}
	if _, err := Direction(-1).MarshalText(); err == nil {
		t.Error("expected error for invalid direction")
	}
}
