package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fleetyard/fleetyard/pkg/dispatch"
	"github.com/fleetyard/fleetyard/pkg/stores"
	"github.com/fleetyard/fleetyard/pkg/telemetry"
	"github.com/fleetyard/fleetyard/pkg/watcher"
)

// Config is the root Fleetyard engine configuration.
type Config struct {
	// Store configures the SQLite mission store.
	Store StoreConfig `yaml:"store"`

	// Recipes configures the work process recipe catalog.
	Recipes RecipesConfig `yaml:"recipes"`

	// Policy configures admission policy loading.
	Policy PolicyConfig `yaml:"policy"`

	// Yards configures the static yard and agent inventory.
	Yards YardsConfig `yaml:"yards"`

	// Dispatch configures microservice dispatch.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Watcher configures the service request time-out watcher.
	Watcher WatcherConfig `yaml:"watcher"`

	// Server configures the serve loop.
	Server ServerConfig `yaml:"server"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite mission store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required"`

	// MaxOpenConns caps the connection pool. Zero uses the store default.
	MaxOpenConns int `yaml:"max_open_conns" validate:"min=0"`

	// MaxIdleConns caps idle connections. Zero uses the store default.
	MaxIdleConns int `yaml:"max_idle_conns" validate:"min=0"`

	// ConnMaxLifetime bounds connection reuse. Zero uses the store default.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StoreOptions converts the section into store constructor options.
func (c StoreConfig) StoreOptions() stores.Config {
	return stores.Config{
		Path:            c.Path,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// RecipesConfig configures the recipe catalog.
type RecipesConfig struct {
	// Dir is the directory holding recipe YAML files.
	Dir string `yaml:"dir" validate:"required"`

	// Watch enables hot reload of the recipe directory.
	Watch bool `yaml:"watch"`
}

// PolicyConfig configures admission policy loading. Built-in policies are
// always active; Paths adds operator-supplied Rego and JSON policies.
type PolicyConfig struct {
	// Paths are files or directories with additional policies.
	Paths []string `yaml:"paths"`

	// Watch enables hot reload of the policy paths.
	Watch bool `yaml:"watch"`
}

// YardsConfig configures the static yard inventory. An empty file path
// disables yard resolution; missions then fail admission when they name
// a yard.
type YardsConfig struct {
	// Inventory is the YAML inventory file path.
	Inventory string `yaml:"inventory"`
}

// DispatchConfig configures microservice dispatch.
type DispatchConfig struct {
	// Timeout is the default HTTP timeout for services without an
	// explicit result timeout.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// WatcherConfig configures the time-out watcher.
type WatcherConfig struct {
	// Interval is the sweep period.
	Interval time.Duration `yaml:"interval" validate:"min=0"`
}

// ServerConfig configures the notification serve loop.
type ServerConfig struct {
	// PollInterval is how often pending notifications are polled.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`

	// PollBatchSize is the maximum notifications handled per poll.
	PollBatchSize int `yaml:"poll_batch_size" validate:"min=0"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "fleetyard.db",
		},
		Recipes: RecipesConfig{
			Dir:   "recipes",
			Watch: true,
		},
		Dispatch: DispatchConfig{
			Timeout: dispatch.DefaultTimeout,
		},
		Watcher: WatcherConfig{
			Interval: watcher.DefaultInterval,
		},
		Server: ServerConfig{
			PollInterval:  time.Second,
			PollBatchSize: 64,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file on top of the defaults. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Dispatch.Timeout == 0 {
		return fmt.Errorf("dispatch timeout must be set")
	}
	if c.Watcher.Interval == 0 {
		return fmt.Errorf("watcher interval must be set")
	}
	if c.Server.PollInterval == 0 {
		return fmt.Errorf("server poll interval must be set")
	}
	if c.Server.PollBatchSize == 0 {
		return fmt.Errorf("server poll batch size must be set")
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry config: %w", err)
		}
	}
	return nil
}
