package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/geom"
)

func TestCollisionDebounce(t *testing.T) {
	r := NewRecorder(DefaultConfig())

	assert.False(t, r.Collision(false, 0.0))
	assert.True(t, r.Collision(true, 0.1))
	assert.False(t, r.Collision(true, 0.3), "inside debounce window")
	assert.False(t, r.Collision(true, 0.6), "exactly at the window edge")
	assert.True(t, r.Collision(true, 0.61))
	assert.Equal(t, 2, r.Collisions())
}

func TestDistanceAndTrajectory(t *testing.T) {
	r := NewRecorder(DefaultConfig())
	for i := 0; i <= 100; i++ {
		r.Move(geom.V2(float64(i)*0.01, 0), float64(i)/240)
	}

	assert.InDelta(t, 1.0, r.Distance(), 1e-9)
	traj := r.Trajectory()
	require.NotEmpty(t, traj)
	assert.Equal(t, 0.0, traj[0].X)
	for i := 1; i < len(traj); i++ {
		assert.Greater(t, traj[i].X-traj[i-1].X, 0.05-1e-9)
		assert.Greater(t, traj[i].T, traj[i-1].T)
	}
}

func TestEnergy(t *testing.T) {
	r := NewRecorder(DefaultConfig())
	r.Energy(-0.5, 2, 0.1)
	r.Energy(1, 1, 0)
	assert.InDelta(t, (0.5*10+2*5)*0.1, r.TotalEnergy(), 1e-12)
}

func TestSnapshot(t *testing.T) {
	r := NewRecorder(DefaultConfig())
	empty := r.Snapshot()
	assert.Zero(t, empty.LateralErrorMean)
	assert.Zero(t, empty.LateralErrorStd)

	r.Lateral(1.0, 0.5)
	r.Lateral(0.2, 0.7)
	r.Lateral(1.5, 0.0)
	r.Lateral(math.NaN(), 0)

	s := r.Snapshot()
	assert.Equal(t, 3, s.Samples)
	assert.InDelta(t, (0.5+0.5+1.5)/3, s.LateralErrorMean, 1e-12)
	assert.Greater(t, s.LateralErrorStd, 0.0)
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Ticks.WithLabelValues("mobile").Add(3)
	c.Collisions.WithLabelValues("mobile").Inc()
	c.Coverage.WithLabelValues("vacuum").Set(42)
	c.LateralError.WithLabelValues("mobile").Observe(0.2)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.Ticks.WithLabelValues("mobile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Collisions.WithLabelValues("mobile")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.Coverage.WithLabelValues("vacuum")))

	n, err := testutil.GatherAndCount(reg, "rover_control_lateral_error_meters")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a second collector on a separate registry does not conflict
	assert.NotPanics(t, func() { NewCollector(prometheus.NewRegistry()) })
}
