package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/treasury-api/internal/config"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg    config.Config
		dbPath string
	)

	root := &cobra.Command{
		Use:          "treasury-api",
		Short:        "Treasury task tracking, bank sync and notification service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		// Without a subcommand the service runs.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	root.AddCommand(
		newServeCmd(&cfg),
		newSweepCmd(&cfg),
		newRecoverCmd(&cfg),
	)
	return root
}
