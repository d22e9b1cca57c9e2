package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// LogGateway is an agent gateway for standalone deployments without a broker
// connection: every delivery is logged and accepted. Useful with dummy
// services, where missions flow end to end but no physical agent exists.
// Cancellations are acknowledged by the operator feeding an
// assignment_updated event back in.
type LogGateway struct {
	logger zerolog.Logger
}

// NewLogGateway creates a logging gateway.
func NewLogGateway(logger zerolog.Logger) *LogGateway {
	return &LogGateway{
		logger: logger.With().Str("component", "log-gateway").Logger(),
	}
}

// SendAssignment implements orchestrator.AgentGateway.
func (g *LogGateway) SendAssignment(ctx context.Context, a *orchestrator.Assignment) error {
	g.logger.Info().
		Str("assignment_id", a.ID).
		Str("agent_id", a.AgentID).
		Str("work_process_id", a.WorkProcessID).
		Msg("Assignment delivery (no broker)")
	return nil
}

// CancelAssignment implements orchestrator.AgentGateway.
func (g *LogGateway) CancelAssignment(ctx context.Context, a *orchestrator.Assignment) error {
	g.logger.Info().
		Str("assignment_id", a.ID).
		Str("agent_id", a.AgentID).
		Msg("Assignment cancellation (no broker)")
	return nil
}

// ReleaseFromWorkProcess implements orchestrator.AgentGateway.
func (g *LogGateway) ReleaseFromWorkProcess(ctx context.Context, agentID, workProcessID string) error {
	g.logger.Info().
		Str("agent_id", agentID).
		Str("work_process_id", workProcessID).
		Msg("Agent release (no broker)")
	return nil
}
