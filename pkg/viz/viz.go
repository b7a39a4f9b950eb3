// Package viz renders finished sessions to PNG: driven path against the
// reference and the obstacles, the vacuum's coverage heat map, delivery
// tours and the arm's joint response.
package viz

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/mapping"
	"github.com/teslashibe/go-rover/pkg/world"
)

var (
	referenceColor = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	actualColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	obstacleColor  = color.RGBA{R: 214, G: 39, B: 40, A: 140}
	startColor     = color.RGBA{G: 160, A: 255}
	goalColor      = color.RGBA{R: 255, G: 127, A: 255}
)

// Size of saved images.
var (
	Width  = 8 * vg.Inch
	Height = 8 * vg.Inch
)

// Path is what Trajectory draws.
type Path struct {
	Title     string
	Reference []geom.Vec2
	Actual    []geom.Vec2
	Obstacles []world.Box
	Start     *geom.Vec2
	Goal      *geom.Vec2
}

// Trajectory saves p as a PNG at filename.
func Trajectory(filename string, p Path) error {
	if len(p.Actual) == 0 && len(p.Reference) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = "x (m)"
	pl.Y.Label.Text = "y (m)"
	pl.Add(plotter.NewGrid())

	for _, b := range p.Obstacles {
		poly, err := plotter.NewPolygon(toXYs(b.Corners()))
		if err != nil {
			return err
		}
		poly.Color = obstacleColor
		poly.LineStyle.Width = 0
		pl.Add(poly)
	}

	if len(p.Reference) > 0 {
		ref, err := plotter.NewLine(toXYs(p.Reference))
		if err != nil {
			return err
		}
		ref.Color = referenceColor
		ref.Width = vg.Points(1.5)
		ref.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		pl.Add(ref)
		pl.Legend.Add("reference", ref)
	}
	if len(p.Actual) > 0 {
		act, err := plotter.NewLine(toXYs(p.Actual))
		if err != nil {
			return err
		}
		act.Color = actualColor
		act.Width = vg.Points(2)
		pl.Add(act)
		pl.Legend.Add("actual", act)
	}

	if err := addMarker(pl, "start", p.Start, startColor); err != nil {
		return err
	}
	if err := addMarker(pl, "goal", p.Goal, goalColor); err != nil {
		return err
	}

	pl.Legend.Top = true
	square(pl)
	return save(pl, filename)
}

// Coverage saves the grid's per-cell coverage as a heat map with the driven
// trajectory on top.
func Coverage(filename, title string, g *mapping.Grid) error {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "x (m)"
	pl.Y.Label.Text = "y (m)"

	cg := coverageGrid{g}
	hm := plotter.NewHeatMap(cg, palette.Heat(16, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	pl.Add(hm)

	var occupied plotter.XYs
	for cy := 0; cy < g.Height(); cy++ {
		for cx := 0; cx < g.Width(); cx++ {
			if g.Occupancy(cx, cy) == mapping.Occupied {
				c := g.CellCenter(cx, cy)
				occupied = append(occupied, plotter.XY{X: c.X, Y: c.Y})
			}
		}
	}
	if len(occupied) > 0 {
		sc, err := plotter.NewScatter(occupied)
		if err != nil {
			return err
		}
		sc.Shape = draw.BoxGlyph{}
		sc.Color = color.Black
		sc.Radius = vg.Points(2)
		pl.Add(sc)
		pl.Legend.Add("occupied", sc)
	}

	if traj := g.Trajectory(); len(traj) > 1 {
		pts := make(plotter.XYs, len(traj))
		for i, p := range traj {
			pts[i] = plotter.XY{X: p.X, Y: p.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = actualColor
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add("trajectory", line)
	}

	pl.Legend.Top = true
	cfg := g.Config()
	pl.X.Min, pl.X.Max = cfg.OriginX, cfg.OriginX+float64(cfg.Width)*cfg.Resolution
	pl.Y.Min, pl.Y.Max = cfg.OriginY, cfg.OriginY+float64(cfg.Height)*cfg.Resolution
	return save(pl, filename)
}

// Tour saves a delivery flight: the path flown, the stops and the base.
func Tour(filename, title string, base geom.Vec2, stops, path []geom.Vec2) error {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "x (m)"
	pl.Y.Label.Text = "y (m)"
	pl.Add(plotter.NewGrid())

	if len(path) > 1 {
		line, err := plotter.NewLine(toXYs(path))
		if err != nil {
			return err
		}
		line.Color = actualColor
		line.Width = vg.Points(1.5)
		pl.Add(line)
		pl.Legend.Add("path", line)
	}
	if len(stops) > 0 {
		sc, err := plotter.NewScatter(toXYs(stops))
		if err != nil {
			return err
		}
		sc.Shape = draw.TriangleGlyph{}
		sc.Color = obstacleColor
		sc.Radius = vg.Points(4)
		pl.Add(sc)
		pl.Legend.Add("stops", sc)
	}
	if err := addMarker(pl, "base", &base, startColor); err != nil {
		return err
	}

	pl.Legend.Top = true
	square(pl)
	return save(pl, filename)
}

// Joints saves joint angles against time, one line per joint, with the
// setpoints each joint tracked dashed in the same color. Points are
// (t, angle in radians).
func Joints(filename, title string, actual, reference [][]geom.Vec2) error {
	if len(actual) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "t (s)"
	pl.Y.Label.Text = "angle (rad)"
	pl.Add(plotter.NewGrid())

	for j, pts := range actual {
		if len(pts) == 0 {
			continue
		}
		c := plotutil.Color(j)
		line, err := plotter.NewLine(toXYs(pts))
		if err != nil {
			return err
		}
		line.Color = c
		line.Width = vg.Points(2)
		pl.Add(line)
		pl.Legend.Add(fmt.Sprintf("joint %d", j+1), line)

		if j >= len(reference) || len(reference[j]) == 0 {
			continue
		}
		ref, err := plotter.NewLine(toXYs(reference[j]))
		if err != nil {
			return err
		}
		ref.Color = c
		ref.Width = vg.Points(1)
		ref.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		pl.Add(ref)
	}

	pl.Legend.Top = true
	return save(pl, filename)
}

// coverageGrid adapts a grid to plotter.GridXYZ.
type coverageGrid struct{ g *mapping.Grid }

func (c coverageGrid) Dims() (int, int) { return c.g.Width(), c.g.Height() }

func (c coverageGrid) Z(col, row int) float64 { return c.g.Coverage(col, row) }

func (c coverageGrid) X(col int) float64 { return c.g.CellCenter(col, 0).X }

func (c coverageGrid) Y(row int) float64 { return c.g.CellCenter(0, row).Y }

func addMarker(pl *plot.Plot, label string, at *geom.Vec2, c color.Color) error {
	if at == nil {
		return nil
	}
	sc, err := plotter.NewScatter(plotter.XYs{{X: at.X, Y: at.Y}})
	if err != nil {
		return err
	}
	sc.Shape = draw.CircleGlyph{}
	sc.Color = c
	sc.Radius = vg.Points(5)
	pl.Add(sc)
	pl.Legend.Add(label, sc)
	return nil
}

// square gives both axes the same span so distances are not distorted.
func square(pl *plot.Plot) {
	xspan := pl.X.Max - pl.X.Min
	yspan := pl.Y.Max - pl.Y.Min
	span := math.Max(xspan, yspan) * 1.05
	if span == 0 {
		span = 1
	}
	xc, yc := (pl.X.Min+pl.X.Max)/2, (pl.Y.Min+pl.Y.Max)/2
	pl.X.Min, pl.X.Max = xc-span/2, xc+span/2
	pl.Y.Min, pl.Y.Max = yc-span/2, yc+span/2
}

func save(pl *plot.Plot, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := pl.Save(Width, Height, filename); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(filename), err)
	}
	return nil
}

func toXYs(pts []geom.Vec2) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}
