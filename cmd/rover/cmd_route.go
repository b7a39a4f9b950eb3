package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/route"
	"github.com/teslashibe/go-rover/pkg/viz"
)

var (
	routeFlags     sessionFlags
	routeStops     int
	routeArea      float64
	routeAltitude  float64
	routeAlgorithm string

	routeCmd = &cobra.Command{
		Use:   "route",
		Short: "Fly a delivery mission over randomly placed stops",
		RunE:  runRoute,
	}
)

func init() {
	routeFlags.register(routeCmd)
	f := routeCmd.Flags()
	f.IntVar(&routeStops, "stops", 6, "number of delivery stops")
	f.Float64Var(&routeArea, "area", 40, "side of the square area the stops are placed in (m)")
	f.Float64Var(&routeAltitude, "altitude", 2, "stop height (m)")
	f.StringVar(&routeAlgorithm, "algorithm", string(route.NearestNeighbor), "nearest_neighbor or greedy")
}

func runRoute(cmd *cobra.Command, args []string) error {
	alg, err := route.ParseAlgorithm(routeAlgorithm)
	if err != nil {
		return err
	}
	if routeStops < 1 {
		return fmt.Errorf("--stops must be at least 1")
	}

	mcfg := route.DefaultMissionConfig()
	mcfg.Planner.Algorithm = alg
	if routeFlags.duration > 0 {
		mcfg.Duration = routeFlags.duration
	}
	stops := randomStops(cfg.Sim.Seed, routeStops, routeArea, routeAltitude)

	rt, err := newRuntime(cfg, routeFlags.dashboard, routeFlags.linger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var opts []route.MissionOption
	if sc := rt.scoper(); sc != nil {
		opts = append(opts, route.WithMissionTelemetry(sc))
	}
	mission := route.NewMission(stops, mcfg, opts...)

	return rt.run(cmd.Context(), func(ctx context.Context) error {
		res := mission.Run(ctx)
		rt.record(ctx, &history.Run{
			Session:  res.Session,
			System:   route.System,
			Outcome:  string(res.Outcome),
			Duration: res.Time,
			Ticks:    res.Ticks,
			Distance: res.Distance,
			EndX:     mission.Position().X,
			EndY:     mission.Position().Y,
		})
		printRoute(cmd, res, len(stops))

		if file := plotFile(routeFlags.plotDir, "route_"+res.Session+".png"); file != "" {
			if err := plotRoute(file, res, stops, mcfg.Base); err != nil {
				rt.log.Warn("failed to plot route", "error", err)
			} else {
				cmd.Printf("📈 Route plot: %s\n", file)
			}
		}
		return nil
	})
}

// randomStops places n stops uniformly in a square of side area centered
// on the origin. The same seed gives the same stops.
func randomStops(seed int64, n int, area, altitude float64) []route.Stop {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	stops := make([]route.Stop, n)
	for i := range stops {
		stops[i] = route.Stop{
			ID: i + 1,
			Position: geom.Vec3{
				X: (rng.Float64() - 0.5) * area,
				Y: (rng.Float64() - 0.5) * area,
				Z: altitude,
			},
		}
	}
	return stops
}

func printRoute(cmd *cobra.Command, res route.MissionResult, total int) {
	cmd.Println()
	cmd.Println("📦 Delivery mission finished")
	cmd.Printf("   Outcome:     %s\n", res.Outcome)
	cmd.Printf("   Time:        %.1fs (%d ticks)\n", res.Time, res.Ticks)
	cmd.Printf("   Delivered:   %d/%d (detected %d)\n", len(res.Deliveries), total, res.Detected)
	cmd.Printf("   Distance:    %.1fm\n", res.Distance)
	cmd.Printf("   Replans:     %d\n", res.Plans)
	if len(res.Deliveries) > 0 {
		cmd.Printf("   Mean wait:   %.1fs from detection to delivery\n", res.MeanDeliveryTime())
	}
}

func plotRoute(file string, res route.MissionResult, stops []route.Stop, base geom.Vec3) error {
	pts := make([]geom.Vec2, len(stops))
	for i, s := range stops {
		pts[i] = s.Position.Planar()
	}
	path := make([]geom.Vec2, len(res.Path))
	for i, p := range res.Path {
		path[i] = p.Planar()
	}
	title := fmt.Sprintf("Deliveries: %d of %d, %.0f m", len(res.Deliveries), len(stops), res.Distance)
	return viz.Tour(file, title, base.Planar(), pts, path)
}
