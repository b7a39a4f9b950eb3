// Rover - simulated robot sessions with a live telemetry dashboard
//
// Commands:
//
//	rover nav        drive the mobile robot across the obstacle course
//	rover vacuum     clean a room, learning from earlier executions
//	rover route      fly a delivery mission over randomly placed stops
//	rover arm        move the planar arm through joint setpoints
//	rover dashboard  serve the dashboard on its own
//	rover runs       list recorded runs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:           "rover",
		Short:         "Simulated mobile, vacuum, delivery and manipulator robots with telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.LogLevel = logLevel
			}
			cfg = loaded
			log.Init(cfg.LogLevel)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(navCmd, vacuumCmd, routeCmd, armCmd, dashboardCmd, runsCmd)
}

func main() {
	// Ctrl+C cancels the running session, which still writes its summary
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
