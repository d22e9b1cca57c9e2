package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/config"
	"github.com/fleetyard/fleetyard/pkg/stores"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleetyard",
		Short: "Fleetyard - Autonomous Fleet Mission Orchestration Engine",
		Long: `Fleetyard orchestrates missions for fleets of autonomous agents.

Features:
  - Recipe-driven service pipelines with dependency ordering
  - Compare-and-swap state machines over SQLite
  - Microservice dispatch over HTTP
  - Rego admission policies via OPA
  - Failure policies with fallback missions
  - Prometheus metrics and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newMissionsCommand())
	rootCmd.AddCommand(newRecipesCommand())
	rootCmd.AddCommand(newServicesCommand())

	return rootCmd
}

// loadConfig loads the configured file, or the defaults when none is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// openStore opens and migrates the SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(cfg.Store.StoreOptions())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
