package orchestrator

import (
	"context"

	"github.com/google/uuid"
)

// effectivePolicy resolves the failure action and fallback mission for a
// failed assignment: the assignment's own values win when set and not
// DEFAULT, otherwise the mission's apply.
func effectivePolicy(a *Assignment, mission *WorkProcess) (FailureAction, string) {
	action := mission.OnAssignmentFailure
	if a.OnAssignmentFailure != "" && a.OnAssignmentFailure != FailureActionDefault {
		action = a.OnAssignmentFailure
	}
	fallback := mission.FallbackMission
	if a.FallbackMission != "" {
		fallback = a.FallbackMission
	}
	return action, fallback
}

// ResolveAssignmentFailure executes the failure policy for an assignment
// that reached failed, aborted, or rejected.
func (e *Engine) ResolveAssignmentFailure(ctx context.Context, a *Assignment) error {
	mission, err := e.store.GetWorkProcess(ctx, a.WorkProcessID)
	if err != nil {
		return err
	}

	action, fallback := effectivePolicy(a, mission)
	if e.metrics != nil {
		e.metrics.IncFailurePolicy(string(action))
	}

	log := e.logger.With().
		Str("assignment_id", a.ID).
		Str("work_process_id", a.WorkProcessID).
		Str("failure_action", string(action)).
		Logger()

	switch action {
	case FailureActionFail, "":
		log.Info().Msg("assignment failure fails the mission")
		return e.failMission(ctx, mission)

	case FailureActionContinue:
		log.Info().Msg("assignment failure tolerated, mission continues")
		return e.OnAssignmentTerminal(ctx, a)

	case FailureActionRelease:
		log.Info().Str("fallback_mission", fallback).Msg("assignment failure releases agent")
		if err := e.OnAssignmentTerminal(ctx, a); err != nil {
			return err
		}
		// The agent is released right away, not at mission end.
		if err := e.gateway.ReleaseFromWorkProcess(ctx, a.AgentID, a.WorkProcessID); err != nil {
			log.Error().Err(err).Str("agent_id", a.AgentID).Msg("failed to release agent")
		}
		if fallback != "" {
			return e.spawnFallbackMission(ctx, a, mission, fallback)
		}
		return nil

	default:
		// Unknown policies are a logged no-op; the mission is parked in
		// assignment_failed for external intervention.
		log.Warn().Msg("unmatched failure action, mission left in assignment_failed")
		_, err := e.store.UpdateMissionStatus(ctx, mission.ID, MissionStatusAssignmentFailed,
			MissionStatusPreparing, MissionStatusCalculating, MissionStatusExecuting)
		return err
	}
}

// failMission moves the mission through assignment_failed to failed and
// cancels all of its remaining service requests and assignments.
func (e *Engine) failMission(ctx context.Context, mission *WorkProcess) error {
	applied, err := e.store.UpdateMissionStatus(ctx, mission.ID, MissionStatusAssignmentFailed,
		MissionStatusPreparing, MissionStatusCalculating, MissionStatusExecuting)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := e.CancelServiceRequestsForWorkProcess(ctx, mission.ID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", mission.ID).Msg("failed to cancel service requests")
	}
	if err := e.CancelAssignmentsForWorkProcess(ctx, mission.ID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", mission.ID).Msg("failed to cancel assignments")
	}

	if _, err := e.store.UpdateMissionStatus(ctx, mission.ID, MissionStatusFailed, MissionStatusAssignmentFailed); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncMissionCompleted(string(MissionStatusFailed))
	}
	return e.onWorkProcessEnd(ctx, mission.ID)
}

// spawnFallbackMission creates and dispatches the fallback work process for
// a released agent. The fallback flag on the failed assignment guarantees at
// most one fallback per failure, even under duplicate notifications.
func (e *Engine) spawnFallbackMission(ctx context.Context, a *Assignment, mission *WorkProcess, fallbackType string) error {
	won, err := e.store.MarkFallbackDispatched(ctx, a.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	fallback := &WorkProcess{
		ID:       uuid.New().String(),
		Type:     fallbackType,
		Status:   MissionStatusDispatched,
		AgentIDs: []string{a.AgentID},
		YardID:   mission.YardID,
		Data: Payload{
			DataKeyFailedAssignment: map[string]interface{}{
				"result":  map[string]interface{}(a.Result),
				"context": map[string]interface{}(a.Context),
				"data":    map[string]interface{}(a.Data),
				"work_process": map[string]interface{}{
					"id":     mission.ID,
					"data":   map[string]interface{}(mission.Data),
					"recipe": mission.Type,
				},
			},
		},
	}

	if err := e.store.CreateWorkProcess(ctx, fallback); err != nil {
		return NewTransientError("failed to create fallback mission", err).WithEntity(a.ID)
	}
	e.logger.Info().
		Str("assignment_id", a.ID).
		Str("fallback_mission_id", fallback.ID).
		Str("fallback_type", fallbackType).
		Msg("fallback mission dispatched")

	// Dispatched immediately rather than waiting for the insertion event.
	return e.OnWorkProcessInserted(ctx, fallback)
}
