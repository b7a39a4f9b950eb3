// Package mapping keeps the vacuum robot's occupancy, coverage and
// dwell-time grids and the trajectory it drove, and persists them
// between runs.
package mapping

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// Cell states of the occupancy grid.
const (
	Unknown  int8 = -1
	Free     int8 = 0
	Occupied int8 = 1
)

// Config sizes the grid.
type Config struct {
	Width      int     `yaml:"width" json:"width"`           // cells
	Height     int     `yaml:"height" json:"height"`         // cells
	Resolution float64 `yaml:"resolution" json:"resolution"` // meters per cell
	OriginX    float64 `yaml:"origin_x" json:"origin_x"`     // world x of cell (0, 0)
	OriginY    float64 `yaml:"origin_y" json:"origin_y"`
	// ObstacleFraction of the sensor range below which a ray end is
	// marked occupied.
	ObstacleFraction float64 `yaml:"obstacle_fraction" json:"obstacle_fraction"`
}

// DefaultConfig covers a 4 m square centered on the origin at 10 cm.
func DefaultConfig() Config {
	return Config{
		Width:            40,
		Height:           40,
		Resolution:       0.1,
		OriginX:          -2,
		OriginY:          -2,
		ObstacleFraction: 0.9,
	}
}

// TrajectoryPoint is a recorded pose with its simulated time.
type TrajectoryPoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
	T   float64 `json:"t"`
}

// Ray is one range reading relative to the robot heading.
type Ray struct {
	Angle    float64
	Distance float64
	MaxRange float64
}

// Grid is an occupancy map with per-cell visit counts and dwell time.
// Not safe for concurrent use.
type Grid struct {
	cfg Config

	occupancy []int8
	coverage  []float64
	timeSpent []float64

	trajectory []TrajectoryPoint
}

// New creates a grid with every cell unknown.
func New(cfg Config) *Grid {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		d := DefaultConfig()
		cfg.Width, cfg.Height = d.Width, d.Height
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultConfig().Resolution
	}
	if cfg.ObstacleFraction <= 0 {
		cfg.ObstacleFraction = DefaultConfig().ObstacleFraction
	}

	n := cfg.Width * cfg.Height
	g := &Grid{
		cfg:       cfg,
		occupancy: make([]int8, n),
		coverage:  make([]float64, n),
		timeSpent: make([]float64, n),
	}
	for i := range g.occupancy {
		g.occupancy[i] = Unknown
	}
	return g
}

// Config returns the grid geometry.
func (g *Grid) Config() Config { return g.cfg }

// Width returns the number of columns.
func (g *Grid) Width() int { return g.cfg.Width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.cfg.Height }

// WorldToCell returns the cell containing world point (x, y). The
// result may be outside the grid; check with Valid.
func (g *Grid) WorldToCell(x, y float64) (int, int) {
	cx := int(math.Floor((x - g.cfg.OriginX) / g.cfg.Resolution))
	cy := int(math.Floor((y - g.cfg.OriginY) / g.cfg.Resolution))
	return cx, cy
}

// CellToWorld returns the world coordinates of the cell's lower-left corner.
func (g *Grid) CellToWorld(cx, cy int) (float64, float64) {
	return float64(cx)*g.cfg.Resolution + g.cfg.OriginX,
		float64(cy)*g.cfg.Resolution + g.cfg.OriginY
}

// CellCenter returns the world coordinates of the cell's center.
func (g *Grid) CellCenter(cx, cy int) geom.Vec2 {
	x, y := g.CellToWorld(cx, cy)
	return geom.V2(x+g.cfg.Resolution/2, y+g.cfg.Resolution/2)
}

// Valid reports whether the cell lies inside the grid.
func (g *Grid) Valid(cx, cy int) bool {
	return cx >= 0 && cx < g.cfg.Width && cy >= 0 && cy < g.cfg.Height
}

func (g *Grid) index(cx, cy int) int { return cy*g.cfg.Width + cx }

// Occupancy returns the state of a cell; cells outside the grid are Unknown.
func (g *Grid) Occupancy(cx, cy int) int8 {
	if !g.Valid(cx, cy) {
		return Unknown
	}
	return g.occupancy[g.index(cx, cy)]
}

// Coverage returns how many ticks the robot spent in a cell.
func (g *Grid) Coverage(cx, cy int) float64 {
	if !g.Valid(cx, cy) {
		return 0
	}
	return g.coverage[g.index(cx, cy)]
}

// TimeSpent returns the simulated seconds spent in a cell.
func (g *Grid) TimeSpent(cx, cy int) float64 {
	if !g.Valid(cx, cy) {
		return 0
	}
	return g.timeSpent[g.index(cx, cy)]
}

// CoverageAt returns the visit count of the cell containing (x, y).
func (g *Grid) CoverageAt(x, y float64) float64 {
	return g.Coverage(g.WorldToCell(x, y))
}

// MarkRays updates occupancy from the robot pose and its range readings.
// The robot's own cell becomes free, unknown cells along each ray become
// free, and the cell at a ray's end becomes occupied when the reading is
// short of ObstacleFraction·MaxRange.
func (g *Grid) MarkRays(pose geom.Pose, rays []Ray) {
	mx, my := g.WorldToCell(pose.X, pose.Y)
	if !g.Valid(mx, my) {
		return
	}
	g.occupancy[g.index(mx, my)] = Free

	for _, r := range rays {
		if math.IsNaN(r.Distance) || r.Distance < 0 {
			continue
		}
		angle := pose.Heading + r.Angle
		cos, sin := math.Cos(angle), math.Sin(angle)
		cells := int(r.Distance / g.cfg.Resolution)

		for i := 0; i < cells; i++ {
			cx := mx + int(float64(i)*cos)
			cy := my + int(float64(i)*sin)
			if g.Valid(cx, cy) && g.occupancy[g.index(cx, cy)] == Unknown {
				g.occupancy[g.index(cx, cy)] = Free
			}
		}

		if r.Distance < g.cfg.ObstacleFraction*r.MaxRange {
			ox := mx + int(float64(cells)*cos)
			oy := my + int(float64(cells)*sin)
			if g.Valid(ox, oy) {
				g.occupancy[g.index(ox, oy)] = Occupied
			}
		}
	}
}

// Visit counts one tick spent at (x, y) lasting dt seconds.
func (g *Grid) Visit(x, y, dt float64) {
	cx, cy := g.WorldToCell(x, y)
	if !g.Valid(cx, cy) {
		return
	}
	i := g.index(cx, cy)
	g.coverage[i]++
	g.timeSpent[i] += dt
}

// AddTrajectory records a pose at simulated time t.
func (g *Grid) AddTrajectory(pose geom.Pose, t float64) {
	g.trajectory = append(g.trajectory, TrajectoryPoint{X: pose.X, Y: pose.Y, Yaw: pose.Heading, T: t})
}

// Trajectory returns a copy of the recorded poses.
func (g *Grid) Trajectory() []TrajectoryPoint {
	return append([]TrajectoryPoint(nil), g.trajectory...)
}

// Counts returns the number of free, occupied and visited cells.
func (g *Grid) Counts() (free, occupied, visited int) {
	for i, o := range g.occupancy {
		switch o {
		case Free:
			free++
		case Occupied:
			occupied++
		}
		if g.coverage[i] > 0 {
			visited++
		}
	}
	return free, occupied, visited
}

// CoveragePercent returns visited cells as a share of all known cells
// (free or occupied), in [0, 100].
func (g *Grid) CoveragePercent() float64 {
	free, occupied, visited := g.Counts()
	known := free + occupied
	if known == 0 {
		return 0
	}
	return math.Min(100, float64(visited)/float64(known)*100)
}

// Reset clears occupancy, coverage and trajectory.
func (g *Grid) Reset() {
	*g = *New(g.cfg)
}

// record is the on-disk layout. Grids are stored row-major as [y][x].
type record struct {
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Resolution float64           `json:"resolution"`
	OriginX    float64           `json:"origin_x"`
	OriginY    float64           `json:"origin_y"`
	Occupancy  [][]int8          `json:"occupancy"`
	Coverage   [][]float64       `json:"coverage"`
	TimeMap    [][]float64       `json:"time_map"`
	Trajectory []TrajectoryPoint `json:"trajectory"`
	Timestamps []float64         `json:"trajectory_timestamps"`
}

// MarshalJSON encodes the grid as a flat record.
func (g *Grid) MarshalJSON() ([]byte, error) {
	rec := record{
		Width:      g.cfg.Width,
		Height:     g.cfg.Height,
		Resolution: g.cfg.Resolution,
		OriginX:    g.cfg.OriginX,
		OriginY:    g.cfg.OriginY,
		Occupancy:  make([][]int8, g.cfg.Height),
		Coverage:   make([][]float64, g.cfg.Height),
		TimeMap:    make([][]float64, g.cfg.Height),
		Trajectory: g.trajectory,
		Timestamps: make([]float64, len(g.trajectory)),
	}
	if rec.Trajectory == nil {
		rec.Trajectory = []TrajectoryPoint{}
	}
	for y := 0; y < g.cfg.Height; y++ {
		row := y * g.cfg.Width
		rec.Occupancy[y] = g.occupancy[row : row+g.cfg.Width]
		rec.Coverage[y] = g.coverage[row : row+g.cfg.Width]
		rec.TimeMap[y] = g.timeSpent[row : row+g.cfg.Width]
	}
	for i, p := range g.trajectory {
		rec.Timestamps[i] = p.T
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes a record written by MarshalJSON. The obstacle
// fraction is not stored and keeps its current or default value.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Width <= 0 || rec.Height <= 0 || rec.Resolution <= 0 {
		return fmt.Errorf("mapping: invalid grid %dx%d at %g m", rec.Width, rec.Height, rec.Resolution)
	}
	if len(rec.Occupancy) != rec.Height || len(rec.Coverage) != rec.Height || len(rec.TimeMap) != rec.Height {
		return fmt.Errorf("mapping: expected %d rows", rec.Height)
	}

	frac := g.cfg.ObstacleFraction
	*g = *New(Config{
		Width:            rec.Width,
		Height:           rec.Height,
		Resolution:       rec.Resolution,
		OriginX:          rec.OriginX,
		OriginY:          rec.OriginY,
		ObstacleFraction: frac,
	})

	for y := 0; y < rec.Height; y++ {
		if len(rec.Occupancy[y]) != rec.Width || len(rec.Coverage[y]) != rec.Width || len(rec.TimeMap[y]) != rec.Width {
			return fmt.Errorf("mapping: row %d: expected %d columns", y, rec.Width)
		}
		row := y * rec.Width
		copy(g.occupancy[row:], rec.Occupancy[y])
		copy(g.coverage[row:], rec.Coverage[y])
		copy(g.timeSpent[row:], rec.TimeMap[y])
	}
	g.trajectory = append([]TrajectoryPoint(nil), rec.Trajectory...)
	return nil
}
