package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// materializeAssignments turns an assignment-planner response into persisted
// assignments and starts the assignment pipeline. The response envelope
// carries `results: [{agent_id|agent_uuid, assignment|result, id?,
// depend_on_assignments?, on_assignment_failure?, fallback_mission?}]`;
// dependency edges reference other entries of the same response by id.
func (e *Engine) materializeAssignments(ctx context.Context, req *ServiceRequest) error {
	mission, err := e.store.GetWorkProcess(ctx, req.WorkProcessID)
	if err != nil {
		return err
	}

	entries, _ := req.Response["results"].([]interface{})
	assignments := make([]*Assignment, 0, len(entries))
	now := time.Now()

	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		agentID, err := e.resolveEntryAgent(ctx, entry)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("service_request_id", req.ID).
				Msg("planner result entry references unknown agent")
			continue
		}

		data, ok := toPayload(entry["assignment"])
		if !ok {
			data, _ = toPayload(entry["result"])
		}

		a := &Assignment{
			ID:               stringField(entry, "id"),
			Status:           AssignmentStatusToDispatch,
			AgentID:          agentID,
			WorkProcessID:    req.WorkProcessID,
			ServiceRequestID: req.ID,
			Data:             data,
			CreatedAt:        now,
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if v := stringField(entry, "on_assignment_failure"); v != "" {
			a.OnAssignmentFailure = FailureAction(v)
		}
		if v := stringField(entry, "fallback_mission"); v != "" {
			a.FallbackMission = v
		}
		for _, dep := range stringList(entry, "depend_on_assignments") {
			if dep != "" {
				a.DependOnAssignments = append(a.DependOnAssignments, dep)
			}
		}
		if len(a.DependOnAssignments) > 0 {
			a.Status = AssignmentStatusWaitDependencies
		}
		assignments = append(assignments, a)
	}

	// Forward edges are the reverse of the declared dependencies.
	byID := make(map[string]*Assignment, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a
	}
	for _, a := range assignments {
		for _, dep := range a.DependOnAssignments {
			if d, ok := byID[dep]; ok {
				d.NextAssignments = append(d.NextAssignments, a.ID)
			}
		}
	}

	// A planner answer whose entries depend on each other in a loop can never
	// drain; reject it before anything is persisted.
	if id := findCycle(assignments); id != "" {
		cycleErr := NewDependencyCycleError(id).WithEntity(req.ID)
		e.logger.Error().Err(cycleErr).
			Str("work_process_id", req.WorkProcessID).
			Str("service_request_id", req.ID).
			Str("assignment_id", id).
			Msg("planner response has a dependency cycle")
		if _, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusFailed, ServiceStatusReady); err != nil {
			return err
		}
		if err := e.planningFailed(ctx, req.WorkProcessID); err != nil {
			return err
		}
		return cycleErr
	}

	for _, a := range assignments {
		if err := e.store.CreateAssignment(ctx, a); err != nil {
			return NewTransientError("failed to persist assignment", err).WithEntity(a.ID)
		}
	}
	e.logger.Info().
		Str("work_process_id", req.WorkProcessID).
		Str("service_request_id", req.ID).
		Int("assignments", len(assignments)).
		Msg("planner assignments materialized")

	if len(assignments) == 0 {
		// An empty plan leaves nothing to defer to; the mission may already
		// be complete.
		return e.advanceMissionIfComplete(ctx, req.WorkProcessID, "")
	}

	if _, err := e.store.UpdateMissionStatus(ctx, mission.ID, MissionStatusExecuting, MissionStatusCalculating); err != nil {
		return err
	}

	for _, a := range assignments {
		if a.Status != AssignmentStatusToDispatch {
			continue
		}
		if err := e.DispatchAssignment(ctx, a); err != nil {
			e.logger.Error().Err(err).Str("assignment_id", a.ID).Msg("assignment dispatch failed")
		}
	}
	return nil
}

// resolveEntryAgent reads the agent reference from a planner result entry,
// resolving external uuids when no internal id is given.
func (e *Engine) resolveEntryAgent(ctx context.Context, entry map[string]interface{}) (string, error) {
	if id := stringField(entry, "agent_id"); id != "" {
		return id, nil
	}
	agentUUID := stringField(entry, "agent_uuid")
	if agentUUID == "" {
		return "", NewValidationError("planner result entry has no agent reference")
	}
	agents, err := e.yards.ResolveAgents(ctx, []string{agentUUID})
	if err != nil {
		return "", err
	}
	if len(agents) == 0 {
		return "", NewValidationError("unknown agent uuid: " + agentUUID)
	}
	return agents[0].ID, nil
}

func stringField(entry map[string]interface{}, key string) string {
	s, _ := entry[key].(string)
	return s
}

func stringList(entry map[string]interface{}, key string) []string {
	raw, ok := entry[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
