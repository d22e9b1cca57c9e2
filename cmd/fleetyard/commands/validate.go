package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/policy"
	"github.com/fleetyard/fleetyard/pkg/recipes"
	"github.com/fleetyard/fleetyard/pkg/yards"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the engine configuration",
		Long: `Validate the engine configuration and everything it references.

This command checks:
  - Config file syntax and semantics
  - Recipe files in the configured directory
  - Policy files at the configured paths
  - The yard inventory file, if configured`,
		Example: `  # Validate a deployment config
  fleetyard validate --config /etc/fleetyard/fleetyard.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := zerolog.Nop()
			ctx := cmd.Context()

			catalog := recipes.NewCatalog(cfg.Recipes.Dir, logger)
			if err := catalog.Load(ctx); err != nil {
				return fmt.Errorf("recipe catalog: %w", err)
			}
			fmt.Printf("recipes: %d work process types in %s\n",
				len(catalog.Types()), cfg.Recipes.Dir)

			engine, err := policy.NewEngine(logger)
			if err != nil {
				return fmt.Errorf("policy engine: %w", err)
			}
			if len(cfg.Policy.Paths) > 0 {
				if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
					return fmt.Errorf("policies: %w", err)
				}
			}
			fmt.Printf("policies: %d loaded\n", len(engine.ListPolicies()))

			if cfg.Yards.Inventory != "" {
				if _, err := yards.LoadFile(cfg.Yards.Inventory); err != nil {
					return fmt.Errorf("yard inventory: %w", err)
				}
				fmt.Printf("yards: inventory %s ok\n", cfg.Yards.Inventory)
			}

			fmt.Println("configuration is valid")
			return nil
		},
	}
	return cmd
}
