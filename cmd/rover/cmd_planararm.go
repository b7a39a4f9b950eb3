package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/pkg/arm"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/history"
	"github.com/teslashibe/go-rover/pkg/viz"
)

var (
	armFlags     sessionFlags
	armJoints    int
	armSetpoints []string

	armCmd = &cobra.Command{
		Use:   "arm",
		Short: "Move the planar arm through joint-angle setpoints",
		Long: `Drives each joint of a planar arm with its own PID loop. Setpoints are
given in degrees, one --setpoint per move, e.g. --setpoint 45,30
--setpoint 90,-45. A setpoint ends once the mean joint error stays
under 0.05 rad for half a second or after --duration.`,
		RunE: runArm,
	}
)

func init() {
	armFlags.register(armCmd)
	f := armCmd.Flags()
	f.IntVar(&armJoints, "joints", 2, "number of joints")
	f.StringArrayVar(&armSetpoints, "setpoint", nil, "joint angles in degrees, comma separated (45,30 then 90,-45 when empty)")
}

func runArm(cmd *cobra.Command, args []string) error {
	acfg := arm.DefaultConfig()
	acfg.Rate = cfg.Sim.Rate
	acfg.FlushEvery = cfg.Sim.FlushEvery
	acfg.RealTime = cfg.Sim.RealTime || armFlags.realtime
	if armFlags.duration > 0 {
		acfg.SetpointTimeout = armFlags.duration
	}
	if len(armSetpoints) > 0 {
		sps, err := parseSetpoints(armSetpoints, armJoints)
		if err != nil {
			return err
		}
		acfg.Setpoints = sps
	} else if armJoints != 2 {
		return fmt.Errorf("--setpoint is required with %d joints", armJoints)
	}

	pcfg := arm.DefaultPlanarConfig()
	pcfg.Joints = armJoints
	pcfg.LinkLength = acfg.LinkLength
	joints, err := arm.NewPlanar(pcfg)
	if err != nil {
		return err
	}
	defer joints.Close()

	rt, err := newRuntime(cfg, armFlags.dashboard, armFlags.linger)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := []arm.Option{arm.WithCollector(rt.collector)}
	if sc := rt.scoper(); sc != nil {
		opts = append(opts, arm.WithTelemetry(sc))
	}
	s, err := arm.New(joints, acfg, opts...)
	if err != nil {
		return err
	}

	return rt.run(cmd.Context(), func(ctx context.Context) error {
		res, err := s.Run(ctx)
		tip := arm.Tip(res.Final, acfg.LinkLength)
		rt.record(ctx, &history.Run{
			Session:  res.Session,
			System:   arm.System,
			Outcome:  string(res.Outcome),
			Duration: res.Time,
			Ticks:    res.Ticks,
			Energy:   res.Energy,
			EndX:     tip.X,
			EndY:     tip.Y,
		})
		printArm(cmd, res)

		if file := plotFile(armFlags.plotDir, "arm_"+res.Session+".png"); file != "" {
			actual, reference := jointSeries(res, armJoints)
			title := fmt.Sprintf("Arm: %s, overshoot %.3f rad", res.Outcome, res.Overshoot)
			if perr := viz.Joints(file, title, actual, reference); perr != nil {
				rt.log.Warn("failed to plot joints", "error", perr)
			} else {
				cmd.Printf("📈 Joint plot: %s\n", file)
			}
		}
		return err
	})
}

// parseSetpoints reads "deg,deg,..." values into radians.
func parseSetpoints(values []string, joints int) ([][]float64, error) {
	out := make([][]float64, 0, len(values))
	for _, v := range values {
		fields := strings.Split(v, ",")
		if len(fields) != joints {
			return nil, fmt.Errorf("setpoint %q has %d angles, want %d", v, len(fields), joints)
		}
		sp := make([]float64, joints)
		for i, f := range fields {
			deg, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("setpoint %q: %w", v, err)
			}
			sp[i] = geom.Radians(deg)
		}
		out = append(out, sp)
	}
	return out, nil
}

// jointSeries splits the trace per joint and draws each setpoint as a
// flat line over the ticks it was tracked.
func jointSeries(res arm.Result, joints int) (actual, reference [][]geom.Vec2) {
	actual = make([][]geom.Vec2, joints)
	reference = make([][]geom.Vec2, joints)
	for _, smp := range res.Trace {
		for j := 0; j < joints && j < len(smp.Angles); j++ {
			actual[j] = append(actual[j], geom.V2(smp.T, smp.Angles[j]))
		}
	}
	dt := 0.0
	if res.Ticks > 0 {
		dt = res.Time / float64(res.Ticks)
	}
	start := 0.0
	for _, sp := range res.Setpoints {
		end := start + float64(sp.Ticks)*dt
		for j := 0; j < joints && j < len(sp.Target); j++ {
			reference[j] = append(reference[j], geom.V2(start, sp.Target[j]), geom.V2(end, sp.Target[j]))
		}
		start = end
	}
	return actual, reference
}

func printArm(cmd *cobra.Command, res arm.Result) {
	cmd.Println()
	cmd.Println("🦾 Arm session finished")
	cmd.Printf("   Outcome:     %s\n", res.Outcome)
	cmd.Printf("   Time:        %.2fs (%d ticks)\n", res.Time, res.Ticks)
	for i, sp := range res.Setpoints {
		status := "not settled"
		if sp.Settled {
			status = fmt.Sprintf("settled in %.2fs", sp.SettleTime)
		}
		cmd.Printf("   Setpoint %d:  %s, overshoot %.3f rad, mean error %.3f rad\n",
			i+1, status, sp.Overshoot, sp.MeanError)
	}
	cmd.Printf("   Energy:      %.1f\n", res.Energy)
	cmd.Printf("   Overshoot:   %.3f rad\n", res.Overshoot)
}
