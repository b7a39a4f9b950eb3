package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/mobile"
	"github.com/teslashibe/go-rover/pkg/viz"
	"github.com/teslashibe/go-rover/pkg/world"
)

var (
	navFlags sessionFlags
	navGoal  []float64

	navCmd = &cobra.Command{
		Use:   "nav",
		Short: "Drive the mobile robot across the obstacle course to its goal",
		RunE:  runNav,
	}
)

func init() {
	navFlags.register(navCmd)
	navCmd.Flags().Float64SliceVar(&navGoal, "goal", nil, "goal as x,y (course goal when empty)")
}

func runNav(cmd *cobra.Command, args []string) error {
	mcfg := mobile.DefaultConfig()
	mcfg.Rate = cfg.Sim.Rate
	mcfg.Duration = cfg.Sim.Duration
	mcfg.Seed = cfg.Sim.Seed
	mcfg.FlushEvery = cfg.Sim.FlushEvery
	mcfg.RealTime = cfg.Sim.RealTime || navFlags.realtime
	if navFlags.duration > 0 {
		mcfg.Duration = navFlags.duration
	}
	if len(navGoal) > 0 {
		if len(navGoal) != 2 {
			return fmt.Errorf("--goal needs x,y, got %v", navGoal)
		}
		mcfg.Goal = geom.V2(navGoal[0], navGoal[1])
	}

	rt, err := newRuntime(cfg, navFlags.dashboard, navFlags.linger)
	if err != nil {
		return err
	}
	defer rt.Close()

	scene := world.ObstacleCourse()
	sim := world.NewSim(scene)
	defer sim.Close()

	opts := []mobile.Option{mobile.WithCollector(rt.collector)}
	if sc := rt.scoper(); sc != nil {
		opts = append(opts, mobile.WithTelemetry(sc))
	}
	robot, err := mobile.New(sim, mcfg, opts...)
	if err != nil {
		return err
	}

	return rt.run(cmd.Context(), func(ctx context.Context) error {
		res, err := robot.Run(ctx)
		rt.record(ctx, navRun(res))
		printNav(cmd, res)

		if file := plotFile(navFlags.plotDir, "nav_"+res.Session+".png"); file != "" {
			if perr := plotNav(file, res, scene.Obstacles, mcfg.Goal); perr != nil {
				rt.log.Warn("failed to plot trajectory", "error", perr)
			} else {
				cmd.Printf("📈 Trajectory plot: %s\n", file)
			}
		}
		return err
	})
}

func navRun(res mobile.Result) *history.Run {
	return &history.Run{
		Session:      res.Session,
		System:       mobile.System,
		Outcome:      string(res.Outcome),
		Duration:     res.Time,
		Ticks:        res.Ticks,
		Collisions:   res.Metrics.Collisions,
		Distance:     res.Metrics.Distance,
		Energy:       res.Metrics.Energy,
		LateralMean:  res.Metrics.LateralErrorMean,
		GoalDistance: res.GoalDistance,
		StartX:       res.Start.X,
		StartY:       res.Start.Y,
		EndX:         res.End.X,
		EndY:         res.End.Y,
	}
}

func printNav(cmd *cobra.Command, res mobile.Result) {
	cmd.Println()
	cmd.Println("🏁 Navigation finished")
	cmd.Printf("   Outcome:        %s\n", res.Outcome)
	cmd.Printf("   Time:           %.2fs (%d ticks)\n", res.Time, res.Ticks)
	cmd.Printf("   Goal distance:  %.2fm\n", res.GoalDistance)
	cmd.Printf("   Distance:       %.2fm\n", res.Metrics.Distance)
	cmd.Printf("   Collisions:     %d\n", res.Metrics.Collisions)
	cmd.Printf("   Escapes:        %d\n", res.Escapes)
	cmd.Printf("   Lateral error:  %.3f ± %.3f\n", res.Metrics.LateralErrorMean, res.Metrics.LateralErrorStd)
	cmd.Printf("   Energy:         %.1f\n", res.Metrics.Energy)
}

func plotNav(file string, res mobile.Result, obstacles []world.Box, goal geom.Vec2) error {
	actual := make([]geom.Vec2, len(res.Trajectory))
	for i, p := range res.Trajectory {
		actual[i] = geom.V2(p.X, p.Y)
	}
	start := res.Start.Position()
	return viz.Trajectory(file, viz.Path{
		Title:     fmt.Sprintf("Mobile robot: %s", res.Outcome),
		Reference: res.Reference,
		Actual:    actual,
		Obstacles: obstacles,
		Start:     &start,
		Goal:      &goal,
	})
}
