package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/pkg/history"
)

var (
	dashboardAddr string

	dashboardCmd = &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the telemetry dashboard",
		Long: `Serves the dashboard until interrupted. Robots post to /robo-data or
stream over /ws/robot/:id; browsers follow /ws/telemetry. Run history
is available at /api/runs and Prometheus metrics at /metrics.`,
		RunE: runDashboard,
	}

	runsSystem string
	runsLimit  int
	runsJSON   bool

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE:  runRuns,
	}
)

func init() {
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "", "listen address (config when empty)")

	runsCmd.Flags().StringVar(&runsSystem, "system", "", "only runs of this system (mobile, vacuum, route, arm)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	dcfg := cfg
	if dashboardAddr != "" {
		dcfg.Dashboard.Addr = dashboardAddr
	}
	// only the dashboard itself, no outbound telemetry
	dcfg.Telemetry.Backend = "none"

	rt, err := newRuntime(dcfg, true, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cmd.Printf("📊 Dashboard on %s\n", dcfg.Dashboard.Addr)
	return rt.run(cmd.Context(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}

func runRuns(cmd *cobra.Command, args []string) error {
	if cfg.Storage.History == "" {
		return fmt.Errorf("no history database configured")
	}
	db, err := history.Open(cfg.Storage.History)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.List(cmd.Context(), runsSystem, runsLimit)
	if err != nil {
		return err
	}

	if runsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYSTEM\tSTARTED\tOUTCOME\tTIME\tDISTANCE\tCOVERAGE\tCOLLISIONS\tEFFICIENCY")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1fs\t%.1fm\t%.1f%%\t%d\t%.4f\n",
			r.ID, r.System, r.Started.Format("2006-01-02 15:04:05"), r.Outcome,
			r.Duration, r.Distance, r.Coverage, r.Collisions, r.Efficiency)
	}
	return w.Flush()
}
