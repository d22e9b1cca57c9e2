package commands

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/recipes"
)

func newRecipesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspect and validate recipe files",
	}

	cmd.AddCommand(newRecipesListCommand())
	cmd.AddCommand(newRecipesValidateCommand())

	return cmd
}

func newRecipesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded work process types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			catalog := recipes.NewCatalog(cfg.Recipes.Dir, zerolog.Nop())
			if err := catalog.Load(cmd.Context()); err != nil {
				return err
			}

			types := catalog.Types()
			if jsonOutput {
				return printJSON(types)
			}
			if len(types) == 0 {
				fmt.Println("no recipes loaded")
				return nil
			}
			fmt.Printf("%-32s %s\n", "TYPE", "SOURCE")
			for _, name := range types {
				fmt.Printf("%-32s %s\n", name, catalog.Source(name))
			}
			return nil
		},
	}
	return cmd
}

func newRecipesValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate recipe files",
		Long: `Validate every recipe file in a directory.

Each file is parsed and structurally checked: unknown fields, missing
step or service names, duplicate steps, unresolvable dependencies, and
dependency cycles are reported per file.`,
		Example: `  # Validate the configured recipe directory
  fleetyard recipes validate

  # Validate a scratch directory before deploying it
  fleetyard recipes validate ./recipes-staging`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Recipes.Dir
			}

			catalog := recipes.NewCatalog(dir, zerolog.Nop())
			var checked, failed int
			err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				ext := strings.ToLower(filepath.Ext(path))
				if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
					return nil
				}
				checked++
				recipe, err := catalog.ParseFile(path)
				if err != nil {
					failed++
					fmt.Printf("FAIL %s: %v\n", path, err)
					return nil
				}
				fmt.Printf("ok   %s (%s, %d steps)\n", path, recipe.Type.Name, len(recipe.Steps))
				return nil
			})
			if err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d recipe files invalid", failed, checked)
			}
			fmt.Printf("%d recipe files valid\n", checked)
			return nil
		},
	}
	return cmd
}
