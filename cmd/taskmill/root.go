package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"taskmill/internal/config"
	"taskmill/internal/state"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskmill",
		Short: "Cron-scheduled producer/verifier task orchestration",
		Long: `taskmill runs AI-assisted tasks on cron schedules. Each run alternates a
producing phase and a verifying phase until the verifier passes the work or
the round ceiling is reached. Task state is durable: the daemon can crash
and resume, and the CLI can inspect and control tasks from another process.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "taskmill.yaml", "path to the configuration file")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newListCmd(),
		newTriggerCmd(),
		newStopCmd(),
		newSweepCmd(),
		newWatchCmd(),
	)
	return root
}

// loadConfig loads the configuration named by the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStore opens the shared SQLite store under the configured data
// directory. WAL mode lets the CLI read and write while the daemon runs.
func openStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	return state.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "taskmill.db"))
}
