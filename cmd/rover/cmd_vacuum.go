package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/pkg/mapping"
	"github.com/teslashibe/go-rover/pkg/vacuum"
	"github.com/teslashibe/go-rover/pkg/viz"
	"github.com/teslashibe/go-rover/pkg/world"
)

var (
	vacuumFlags     sessionFlags
	vacuumRoom      float64
	vacuumTarget    float64
	vacuumExecution int
	vacuumLoadMap   string
	vacuumRuns      int

	vacuumCmd = &cobra.Command{
		Use:   "vacuum",
		Short: "Clean a room, mapping it and learning from earlier executions",
		Long: `Runs the vacuum robot in a walled room. Each run is recorded in the
history database and its map saved as map_exec_N; from the second
execution on the explorer uses the stored map and the suggestions
derived from earlier runs.`,
		RunE: runVacuum,
	}
)

func init() {
	vacuumFlags.register(vacuumCmd)
	f := vacuumCmd.Flags()
	f.Float64Var(&vacuumRoom, "room", 4, "room side length in meters")
	f.Float64Var(&vacuumTarget, "target", 95, "coverage percent that ends the run")
	f.IntVar(&vacuumExecution, "execution", 0, "execution number (one past the history when 0)")
	f.StringVar(&vacuumLoadMap, "load-map", "", "start from a saved map instead of a blank one")
	f.IntVar(&vacuumRuns, "runs", 1, "consecutive executions to run")
}

func runVacuum(cmd *cobra.Command, args []string) error {
	if vacuumRuns < 1 {
		return fmt.Errorf("--runs must be at least 1")
	}

	rt, err := newRuntime(cfg, vacuumFlags.dashboard, vacuumFlags.linger)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := mapping.Open(cfg.Storage.MapBackend, cfg.Storage.MapDir)
	if err != nil {
		return fmt.Errorf("open map store: %w", err)
	}
	defer store.Close()

	vcfg := vacuum.DefaultConfig()
	vcfg.Seed = cfg.Sim.Seed
	vcfg.RealTime = cfg.Sim.RealTime || vacuumFlags.realtime
	vcfg.TargetCoverage = vacuumTarget
	vcfg.LoadMap = vacuumLoadMap
	if vacuumFlags.duration > 0 {
		vcfg.Duration = vacuumFlags.duration
	}
	half := vacuumRoom / 2
	vcfg.Map.OriginX, vcfg.Map.OriginY = -half, -half
	vcfg.Map.Width = int(vacuumRoom / vcfg.Map.Resolution)
	vcfg.Map.Height = vcfg.Map.Width

	return rt.run(cmd.Context(), func(ctx context.Context) error {
		for i := 0; i < vacuumRuns; i++ {
			if ctx.Err() != nil {
				return nil
			}
			run := vcfg
			if vacuumExecution > 0 {
				run.Execution = vacuumExecution + i
			}
			if i > 0 {
				// --load-map seeds the first execution only
				run.LoadMap = ""
			}
			if err := cleanOnce(ctx, cmd, rt, store, run); err != nil {
				return err
			}
		}
		return nil
	})
}

func cleanOnce(ctx context.Context, cmd *cobra.Command, rt *runtime, store mapping.Store, vcfg vacuum.Config) error {
	sim := world.NewSim(world.Room(vacuumRoom))
	defer sim.Close()

	opts := []vacuum.Option{vacuum.WithCollector(rt.collector), vacuum.WithStore(store)}
	if rt.history != nil {
		opts = append(opts, vacuum.WithHistory(rt.history))
	}
	if sc := rt.scoper(); sc != nil {
		opts = append(opts, vacuum.WithTelemetry(sc))
	}
	s, err := vacuum.New(ctx, sim, vcfg, opts...)
	if err != nil {
		return err
	}

	res, err := s.Run(ctx)
	printVacuum(cmd, res)

	if file := plotFile(vacuumFlags.plotDir, fmt.Sprintf("coverage_exec_%d.png", res.Execution)); file != "" {
		title := fmt.Sprintf("Execution %d: %.1f%% coverage", res.Execution, res.Coverage)
		if perr := viz.Coverage(file, title, s.Grid()); perr != nil {
			rt.log.Warn("failed to plot coverage", "error", perr)
		} else {
			cmd.Printf("📈 Coverage plot: %s\n", file)
		}
	}
	return err
}

func printVacuum(cmd *cobra.Command, res vacuum.Result) {
	cmd.Println()
	cmd.Printf("🧹 Execution %d finished\n", res.Execution)
	cmd.Printf("   Outcome:     %s\n", res.Outcome)
	cmd.Printf("   Time:        %.2fs (%d ticks)\n", res.Time, res.Ticks)
	cmd.Printf("   Coverage:    %.1f%%\n", res.Coverage)
	cmd.Printf("   Distance:    %.2fm\n", res.Metrics.Distance)
	cmd.Printf("   Energy:      %.1f\n", res.Metrics.Energy)
	cmd.Printf("   Collisions:  %d\n", res.Metrics.Collisions)
	cmd.Printf("   Escapes:     %d\n", res.Escapes)
	cmd.Printf("   Efficiency:  %.4f\n", res.Efficiency)
	if res.MapName != "" {
		cmd.Printf("   Map:         %s\n", res.MapName)
	}
	if imp := res.Improvement; imp != nil {
		cmd.Printf("   Improvement: %+.4f efficiency, %.1f%% less time, %.1f%% less energy\n",
			imp.Efficiency, imp.TimeReduction, imp.EnergyReduction)
	}
}
