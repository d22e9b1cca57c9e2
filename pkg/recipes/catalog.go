package recipes

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// recipeDoc is the YAML shape of a recipe file.
type recipeDoc struct {
	Type  typeDoc   `yaml:"type" validate:"required"`
	Steps []stepDoc `yaml:"steps" validate:"dive"`
}

type typeDoc struct {
	Name                string                 `yaml:"name" validate:"required"`
	Description         string                 `yaml:"description"`
	OnAssignmentFailure string                 `yaml:"on_assignment_failure"`
	FallbackMission     string                 `yaml:"fallback_mission"`
	Settings            map[string]interface{} `yaml:"settings"`
}

type stepDoc struct {
	Step               string   `yaml:"step" validate:"required"`
	ServiceType        string   `yaml:"service_type" validate:"required"`
	RequestOrder       int      `yaml:"request_order" validate:"min=0"`
	DependsOnSteps     []string `yaml:"depends_on_steps"`
	WaitAssignments    bool     `yaml:"wait_assignments"`
	IsResultAssignment bool     `yaml:"is_result_assignment"`
}

// Catalog indexes recipes by mission type name. It implements
// orchestrator.RecipeSource; lookups of undefined types return nil, nil.
type Catalog struct {
	dir      string
	logger   zerolog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	byType  map[string]*orchestrator.Recipe
	sources map[string]string

	watcher *fsnotify.Watcher
}

// NewCatalog creates a catalog for one recipe directory. Call Load before
// serving lookups.
func NewCatalog(dir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:      dir,
		logger:   logger.With().Str("component", "recipe-catalog").Logger(),
		validate: validator.New(),
		byType:   make(map[string]*orchestrator.Recipe),
		sources:  make(map[string]string),
	}
}

// Load reads every .yaml/.yml file in the catalog directory and replaces the
// index. A file that fails to parse or validate is logged and skipped so one
// broken recipe cannot take the rest of the catalog down. Duplicate type
// names keep the first file seen.
func (c *Catalog) Load(ctx context.Context) error {
	byType := make(map[string]*orchestrator.Recipe)
	sources := make(map[string]string)

	err := filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRecipeFile(path) {
			return nil
		}

		recipe, err := c.ParseFile(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid recipe file")
			return nil
		}

		name := recipe.Type.Name
		if prev, exists := sources[name]; exists {
			c.logger.Warn().
				Str("type", name).
				Str("path", path).
				Str("defined_in", prev).
				Msg("Duplicate recipe type, keeping the first definition")
			return nil
		}

		byType[name] = recipe
		sources[name] = path
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk recipe directory %s: %w", c.dir, err)
	}

	c.mu.Lock()
	c.byType = byType
	c.sources = sources
	c.mu.Unlock()

	c.logger.Info().
		Int("recipes", len(byType)).
		Str("dir", c.dir).
		Msg("Recipe catalog loaded")

	return nil
}

// ParseFile decodes and validates a single recipe file. Unknown YAML fields
// are rejected to catch typos in step attributes.
func (c *Catalog) ParseFile(path string) (*orchestrator.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc recipeDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse recipe file %s: %w", path, err)
	}

	if err := c.validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("recipe %s failed validation: %w", path, err)
	}

	recipe := doc.toRecipe()
	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("recipe %s is invalid: %w", path, err)
	}

	return recipe, nil
}

func (d recipeDoc) toRecipe() *orchestrator.Recipe {
	recipe := &orchestrator.Recipe{
		Type: orchestrator.WorkProcessType{
			Name:                d.Type.Name,
			Description:         d.Type.Description,
			OnAssignmentFailure: orchestrator.FailureAction(d.Type.OnAssignmentFailure),
			FallbackMission:     d.Type.FallbackMission,
			Settings:            orchestrator.Payload(d.Type.Settings),
		},
		Steps: make([]orchestrator.ServicePlanStep, 0, len(d.Steps)),
	}
	for _, s := range d.Steps {
		recipe.Steps = append(recipe.Steps, orchestrator.ServicePlanStep{
			Step:               s.Step,
			ServiceType:        s.ServiceType,
			RequestOrder:       s.RequestOrder,
			DependsOnSteps:     s.DependsOnSteps,
			WaitAssignments:    s.WaitAssignments,
			IsResultAssignment: s.IsResultAssignment,
		})
	}
	return recipe
}

// Get implements orchestrator.RecipeSource.
func (c *Catalog) Get(ctx context.Context, typeName string) (*orchestrator.Recipe, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byType[typeName], nil
}

// Types returns the defined mission type names in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.byType))
	for name := range c.byType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the file a mission type was loaded from.
func (c *Catalog) Source(typeName string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sources[typeName]
}

// Watch starts watching the catalog directory and reloads on recipe file
// changes. Events are debounced so an editor save burst triggers one reload.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch recipe directory %s: %w", c.dir, err)
	}

	c.watcher = watcher
	go c.processEvents(ctx)

	c.logger.Info().Str("dir", c.dir).Msg("Watching recipe directory")
	return nil
}

func (c *Catalog) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = c.watcher.Close()
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isRecipeFile(event.Name) {
				continue
			}

			c.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Recipe file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := c.Load(ctx); err != nil {
					c.logger.Error().Err(err).Msg("Failed to reload recipe catalog")
				}
			})

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error().Err(err).Msg("Recipe watcher error")
		}
	}
}

// Close stops watching. The loaded catalog stays served.
func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func isRecipeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
