package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/mapping"
	"github.com/teslashibe/go-rover/pkg/world"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func requirePNG(t *testing.T, file string) {
	t.Helper()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", file)
}

func TestTrajectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plots", "nav.png")
	start, goal := geom.V2(0, 0), geom.V2(10, 2)
	err := Trajectory(file, Path{
		Title:     "navigation",
		Reference: []geom.Vec2{start, goal},
		Actual:    []geom.Vec2{start, geom.V2(3, 1.5), geom.V2(7, 1.8), geom.V2(9.8, 2)},
		Obstacles: []world.Box{{Center: geom.V2(5, 1), HalfX: 0.5, HalfY: 0.5, Height: 0.5}},
		Start:     &start,
		Goal:      &goal,
	})
	require.NoError(t, err)
	requirePNG(t, file)
}

func TestTrajectoryNeedsPoints(t *testing.T) {
	err := Trajectory(filepath.Join(t.TempDir(), "empty.png"), Path{})
	assert.Error(t, err)
}

func TestCoverage(t *testing.T) {
	g := mapping.New(mapping.DefaultConfig())
	g.MarkRays(geom.Pose{}, []mapping.Ray{{Angle: 0, Distance: 1, MaxRange: 2}})
	for i := 0; i < 10; i++ {
		x := -1 + 0.2*float64(i)
		g.Visit(x, 0, 0.1)
		g.AddTrajectory(geom.Pose{X: x}, float64(i))
	}

	file := filepath.Join(t.TempDir(), "coverage.png")
	require.NoError(t, Coverage(file, "coverage", g))
	requirePNG(t, file)
}

func TestCoverageBlankGrid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blank.png")
	require.NoError(t, Coverage(file, "blank", mapping.New(mapping.DefaultConfig())))
	requirePNG(t, file)
}

func TestTour(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tour.png")
	stops := []geom.Vec2{geom.V2(5, 0), geom.V2(5, 5), geom.V2(-3, 4)}
	path := []geom.Vec2{{}, stops[0], stops[1], stops[2], {}}
	require.NoError(t, Tour(file, "deliveries", geom.Vec2{}, stops, path))
	requirePNG(t, file)
}

func TestJoints(t *testing.T) {
	file := filepath.Join(t.TempDir(), "arm.png")
	actual := [][]geom.Vec2{
		{geom.V2(0, 0), geom.V2(1, 0.6), geom.V2(2, 0.8), geom.V2(3, 0.78)},
		{geom.V2(0, 0), geom.V2(1, 0.4), geom.V2(2, 0.5), geom.V2(3, 0.52)},
	}
	reference := [][]geom.Vec2{
		{geom.V2(0, 0.785), geom.V2(3, 0.785)},
		{geom.V2(0, 0.524), geom.V2(3, 0.524)},
	}
	require.NoError(t, Joints(file, "arm", actual, reference))
	requirePNG(t, file)

	assert.Error(t, Joints(filepath.Join(t.TempDir(), "empty.png"), "arm", nil, nil))
}
