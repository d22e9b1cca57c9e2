package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

func newMissionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "missions",
		Short: "Inspect and manage missions",
	}

	cmd.AddCommand(newMissionsListCommand())
	cmd.AddCommand(newMissionsShowCommand())
	cmd.AddCommand(newMissionsSubmitCommand())
	cmd.AddCommand(newMissionsCancelCommand())

	return cmd
}

func newMissionsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
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

			missions, err := store.ListWorkProcesses(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(missions)
			}
			if len(missions) == 0 {
				fmt.Println("no missions")
				return nil
			}
			fmt.Printf("%-38s %-24s %-22s %s\n", "ID", "TYPE", "STATUS", "AGENTS")
			for _, wp := range missions {
				fmt.Printf("%-38s %-24s %-22s %d\n",
					wp.ID, wp.Type, wp.Status, len(wp.AgentIDs))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max missions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "listing offset")

	return cmd
}

func newMissionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mission with its service requests and assignments",
		Args:  cobra.ExactArgs(1),
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

			wp, err := store.GetWorkProcess(ctx, args[0])
			if err != nil {
				return err
			}
			requests, err := store.ListServiceRequestsByWorkProcess(ctx, wp.ID)
			if err != nil {
				return err
			}
			assignments, err := store.ListAssignmentsByWorkProcess(ctx, wp.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"work_process":     wp,
					"service_requests": requests,
					"assignments":      assignments,
				})
			}

			fmt.Printf("Mission   %s\n", wp.ID)
			fmt.Printf("Type      %s\n", wp.Type)
			fmt.Printf("Status    %s\n", wp.Status)
			if wp.YardID != "" {
				fmt.Printf("Yard      %s\n", wp.YardID)
			}
			if len(wp.AgentIDs) > 0 {
				fmt.Printf("Agents    %v\n", wp.AgentIDs)
			}
			if wp.OnAssignmentFailure != "" {
				fmt.Printf("On fail   %s\n", wp.OnAssignmentFailure)
			}

			fmt.Printf("\nService requests (%d):\n", len(requests))
			for _, req := range requests {
				fmt.Printf("  %-20s %-24s %s\n", req.Step, req.ServiceType, req.Status)
			}

			fmt.Printf("\nAssignments (%d):\n", len(assignments))
			for _, a := range assignments {
				fmt.Printf("  %-38s %-12s %s\n", a.ID, a.AgentID, a.Status)
			}
			return nil
		},
	}
	return cmd
}

func newMissionsSubmitCommand() *cobra.Command {
	var (
		missionType string
		yardUID     string
		agentUUIDs  []string
		dataJSON    string
		onFailure   string
		fallback    string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new mission",
		Long: `Submit a new mission to the store and queue its insertion event.

The serve loop picks the event up, runs admission, builds the service
pipeline from the recipe, and starts dispatching.`,
		Example: `  # Submit a transport mission for two agents
  fleetyard missions submit --type transport_pallet \
    --yard YARD-EXT --agent AGENT-EXT --agent AGENT-EXT-2 \
    --data '{"pallet": "P-100"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			wp := &orchestrator.WorkProcess{
				ID:         uuid.New().String(),
				Type:       missionType,
				Status:     orchestrator.MissionStatusDispatched,
				AgentUUIDs: agentUUIDs,
				YardUID:    yardUID,
			}
			if onFailure != "" {
				wp.OnAssignmentFailure = orchestrator.FailureAction(onFailure)
				if err := wp.OnAssignmentFailure.Validate(); err != nil {
					return err
				}
			}
			wp.FallbackMission = fallback
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &wp.Data); err != nil {
					return fmt.Errorf("invalid --data payload: %w", err)
				}
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CreateWorkProcess(ctx, wp); err != nil {
				return err
			}
			payload, err := json.Marshal(wp)
			if err != nil {
				return err
			}
			if err := store.AppendNotification(ctx, orchestrator.Notification{
				Channel: orchestrator.ChannelWorkProcessInserted,
				Payload: payload,
			}); err != nil {
				return err
			}

			fmt.Println(wp.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&missionType, "type", "", "work process type name")
	cmd.Flags().StringVar(&yardUID, "yard", "", "external yard uid")
	cmd.Flags().StringArrayVar(&agentUUIDs, "agent", nil, "external agent uuid (repeatable)")
	cmd.Flags().StringVar(&dataJSON, "data", "", "mission data as a JSON object")
	cmd.Flags().StringVar(&onFailure, "on-failure", "", "mission failure policy")
	cmd.Flags().StringVar(&fallback, "fallback", "", "fallback mission type")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newMissionsCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cooperative cancellation of a mission",
		Args:  cobra.ExactArgs(1),
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

			applied, err := store.UpdateMissionStatus(ctx, args[0],
				orchestrator.MissionStatusCanceling,
				orchestrator.MissionStatusDispatched,
				orchestrator.MissionStatusPreparing,
				orchestrator.MissionStatusCalculating,
				orchestrator.MissionStatusExecuting)
			if err != nil {
				return err
			}
			if !applied {
				fmt.Fprintln(os.Stderr, "mission is not in a cancelable state")
				return nil
			}

			payload, err := json.Marshal(orchestrator.UpdatedWorkProcess{
				ID:     args[0],
				Status: orchestrator.MissionStatusCanceling,
			})
			if err != nil {
				return err
			}
			if err := store.AppendNotification(ctx, orchestrator.Notification{
				Channel: orchestrator.ChannelWorkProcessUpdated,
				Payload: payload,
			}); err != nil {
				return err
			}

			fmt.Println("cancellation requested")
			return nil
		},
	}
	return cmd
}

// printJSON writes an indented JSON document to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
