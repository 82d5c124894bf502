// Choresyncd keeps a family's recurring chores materialized and
// synchronized: it reconciles chore instances against their recurring
// templates, mirrors the result into a local SQLite cache, and serves
// a small HTTP API for reads and mutations.
//
// Configuration is loaded from a YAML file and environment variables.
//
// Usage:
//
//	# Run the daemon
//	choresyncd serve --config ~/.config/choresyncd/config.yaml
//
//	# Run a single reconciliation pass and exit
//	choresyncd sync-once
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/config"
	"github.com/fyrsmithlabs/choresyncd/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "choresyncd",
		Short:         "Family chore materialization and sync daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newSyncOnceCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: periodic reconciliation plus the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			logger.Info("starting choresyncd",
				zap.String("version", version),
				zap.String("family_id", cfg.Family.ID),
				zap.Bool("direct_transport", cfg.Direct.Enabled()),
				zap.Duration("sync_interval", cfg.Sync.Interval))

			return app.Run(ctx)
		},
	}
}

func newSyncOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run a single reconciliation pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
			defer cancel()

			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.orchestrator.EnsureUpToDate(ctx)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "choresyncd %s (commit %s, built %s)\n",
				version, gitCommit, buildDate)
		},
	}
}
