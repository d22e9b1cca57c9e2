package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/config"
	"github.com/fleetyard/fleetyard/pkg/dispatch"
	"github.com/fleetyard/fleetyard/pkg/orchestrator"
	"github.com/fleetyard/fleetyard/pkg/policy"
	"github.com/fleetyard/fleetyard/pkg/recipes"
	"github.com/fleetyard/fleetyard/pkg/stores"
	"github.com/fleetyard/fleetyard/pkg/telemetry"
	"github.com/fleetyard/fleetyard/pkg/watcher"
	"github.com/fleetyard/fleetyard/pkg/yards"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration engine",
		Long: `Run the orchestration engine until interrupted.

This command:
  - Opens and migrates the SQLite mission store
  - Loads the recipe catalog (with optional hot reload)
  - Compiles admission policies (built-in plus configured paths)
  - Starts the service request time-out watcher
  - Polls the notification outbox and routes change events`,
		Example: `  # Serve with defaults
  fleetyard serve

  # Serve with a config file
  fleetyard serve --config /etc/fleetyard/fleetyard.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	logger := tel.Logger.Zerolog()

	if cfg.Telemetry.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	catalog := recipes.NewCatalog(cfg.Recipes.Dir, logger)
	if err := catalog.Load(ctx); err != nil {
		return fmt.Errorf("failed to load recipes: %w", err)
	}
	if cfg.Recipes.Watch {
		if err := catalog.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch recipe directory: %w", err)
		}
		defer func() { _ = catalog.Close() }()
	}

	policyEngine, err := policy.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to build policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := policyEngine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		if cfg.Policy.Watch {
			loader := policy.NewLoader(logger)
			if err := loader.Watch(ctx, cfg.Policy.Paths, policyEngine.ReplacePolicies); err != nil {
				return fmt.Errorf("failed to watch policy paths: %w", err)
			}
			defer func() { _ = loader.StopWatching() }()
		}
	}
	admission := policy.NewAdmission(policyEngine, catalog, logger)

	inventory := yards.EmptyInventory()
	if cfg.Yards.Inventory != "" {
		inventory, err = yards.LoadFile(cfg.Yards.Inventory)
		if err != nil {
			return fmt.Errorf("failed to load yard inventory: %w", err)
		}
	}

	dispatcher := dispatch.NewHTTPDispatcher(logger, dispatch.Options{
		Client:         &http.Client{},
		DefaultTimeout: cfg.Dispatch.Timeout,
	})
	gateway := dispatch.NewLogGateway(logger)

	engine := orchestrator.NewEngine(store, catalog, inventory, gateway, dispatcher, logger, orchestrator.Options{
		Admission: admission,
		Metrics:   tel.Metrics,
	})
	router := orchestrator.NewRouter(engine, logger, tel.Metrics)

	timeoutWatcher := watcher.New(store, router, logger, watcher.Options{
		Interval: cfg.Watcher.Interval,
	})
	go func() { _ = timeoutWatcher.Run(ctx) }()

	logger.Info().
		Str("store", cfg.Store.Path).
		Str("recipes", cfg.Recipes.Dir).
		Dur("poll_interval", cfg.Server.PollInterval).
		Msg("Fleetyard engine started")

	pollNotifications(ctx, store, router, cfg.Server, logger)

	logger.Info().Msg("Fleetyard engine stopped")
	return nil
}

// pollNotifications drains the notification outbox until the context is
// canceled. Entries are routed in insertion order and marked handled after
// routing; the router never returns an error, so a crash between routing
// and marking only causes a redelivery.
func pollNotifications(
	ctx context.Context,
	store stores.Store,
	router *orchestrator.Router,
	cfg config.ServerConfig,
	logger zerolog.Logger,
) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := store.ListPendingNotifications(ctx, cfg.PollBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("Failed to poll notifications")
			continue
		}

		for _, n := range pending {
			router.HandleNotification(ctx, n)
			if err := store.MarkNotificationHandled(ctx, n.ID); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).
					Str("notification_id", n.ID).
					Msg("Failed to mark notification handled")
			}
		}
	}
}
