package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

func newServicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage the microservice registry",
	}

	cmd.AddCommand(newServicesListCommand())
	cmd.AddCommand(newServicesRegisterCommand())

	return cmd
}

func newServicesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enabled microservices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			services, err := store.ListEnabledServices(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(services)
			}
			if len(services) == 0 {
				fmt.Println("no services registered")
				return nil
			}
			fmt.Printf("%-24s %-10s %-6s %-10s %s\n", "TYPE", "CLASS", "DUMMY", "TIMEOUT", "URL")
			for _, def := range services {
				timeout := "-"
				if def.ResultTimeout > 0 {
					timeout = def.ResultTimeout.String()
				}
				fmt.Printf("%-24s %-10s %-6v %-10s %s\n",
					def.ServiceType, def.Class, def.IsDummy, timeout, def.URL)
			}
			return nil
		},
	}
	return cmd
}

func newServicesRegisterCommand() *cobra.Command {
	var (
		serviceType   string
		url           string
		class         string
		isDummy       bool
		disabled      bool
		resultTimeout time.Duration
		agentsData    bool
		mapData       bool
		missionAgents bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or update a microservice",
		Example: `  # Register a planner service with a two minute result timeout
  fleetyard services register --type plan_route \
    --url http://planner:8080/requests --class planner --timeout 2m

  # Register a dummy service that loops requests back
  fleetyard services register --type noop_step --dummy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isDummy && url == "" {
				return fmt.Errorf("--url is required unless --dummy is set")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			def := &orchestrator.ServiceDefinition{
				ServiceType:              serviceType,
				URL:                      url,
				Class:                    orchestrator.ServiceClass(class),
				IsDummy:                  isDummy,
				Enabled:                  !disabled,
				ResultTimeout:            resultTimeout,
				RequireAgentsData:        agentsData,
				RequireMapData:           mapData,
				RequireMissionAgentsData: missionAgents,
			}
			if err := store.UpsertServiceDefinition(ctx, def); err != nil {
				return err
			}

			fmt.Printf("registered %s\n", serviceType)
			return nil
		},
	}

	cmd.Flags().StringVar(&serviceType, "type", "", "service type name")
	cmd.Flags().StringVar(&url, "url", "", "service endpoint URL")
	cmd.Flags().StringVar(&class, "class", "", "service class (e.g. planner)")
	cmd.Flags().BoolVar(&isDummy, "dummy", false, "loop requests back without an HTTP call")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register the service disabled")
	cmd.Flags().DurationVar(&resultTimeout, "timeout", 0, "result timeout (0 uses the dispatch default)")
	cmd.Flags().BoolVar(&agentsData, "require-agents-data", false, "include agent snapshot in request context")
	cmd.Flags().BoolVar(&mapData, "require-map-data", false, "include yard map in request context")
	cmd.Flags().BoolVar(&missionAgents, "require-mission-agents-data", false, "include mission agent snapshot in request context")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
