package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// OnWorkProcessInserted drives a freshly dispatched mission through
// preparation: resource resolution, admission, pipeline build, and the
// initial service dispatches. The dispatched to preparing transition is the
// claim; a duplicate insertion notification loses it and returns early.
func (e *Engine) OnWorkProcessInserted(ctx context.Context, wp *WorkProcess) error {
	status := NormalizeMissionStatus(wp.Status)
	if status == MissionStatusDraft {
		// Draft missions sit in their queue until the queue dispatches them.
		return nil
	}
	if status != MissionStatusDispatched && status != missionStatusLegacyCreated {
		return nil
	}

	applied, err := e.store.UpdateMissionStatus(ctx, wp.ID, MissionStatusPreparing,
		MissionStatusDispatched, missionStatusLegacyCreated)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	log := e.logger.With().
		Str("work_process_id", wp.ID).
		Str("work_process_type", wp.Type).
		Logger()
	log.Info().Msg("mission preparing")

	if err := e.resolveResources(ctx, wp); err != nil {
		log.Error().Err(err).Msg("resource resolution failed")
		failed, ferr := e.store.UpdateMissionStatus(ctx, wp.ID, MissionStatusFailed, MissionStatusPreparing)
		if ferr != nil {
			return ferr
		}
		if !failed {
			return nil
		}
		if e.metrics != nil {
			e.metrics.IncMissionCompleted(string(MissionStatusFailed))
		}
		return e.onWorkProcessEnd(ctx, wp.ID)
	}

	if e.admission != nil {
		if err := e.admission.Admit(ctx, wp); err != nil {
			log.Warn().Err(err).Msg("mission rejected by admission policy")
			return e.planningFailed(ctx, wp.ID)
		}
	}

	recipe, err := e.recipes.Get(ctx, wp.Type)
	if err != nil {
		return NewTransientError("recipe lookup failed", err).WithEntity(wp.ID)
	}
	if recipe == nil {
		log.Warn().Msg("mission type is not defined")
		return e.planningFailed(ctx, wp.ID)
	}
	e.applyRecipeDefaults(ctx, wp, recipe, log)

	requests, err := e.builder.Build(ctx, wp.Type, wp.Data, wp.AgentIDs, wp.ID)
	if err != nil {
		if IsPlanning(err) {
			log.Warn().Err(err).Msg("pipeline build failed")
			return e.planningFailed(ctx, wp.ID)
		}
		return err
	}

	if err := e.store.CreateServiceRequests(ctx, requests); err != nil {
		return NewTransientError("failed to persist service requests", err).WithEntity(wp.ID)
	}

	if _, err := e.store.UpdateMissionStatus(ctx, wp.ID, MissionStatusCalculating, MissionStatusPreparing); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncMissionStarted(wp.Type)
	}
	log.Info().Int("service_requests", len(requests)).Msg("mission calculating")

	for _, req := range requests {
		if req.Status != ServiceStatusReadyForService {
			continue
		}
		if err := e.DispatchServiceRequest(ctx, req); err != nil {
			log.Error().Err(err).Str("service_request_id", req.ID).Msg("initial dispatch failed")
		}
	}

	// A recipe with no steps completes immediately.
	return e.advanceMissionIfComplete(ctx, wp.ID, "")
}

// resolveResources turns external yard and agent identifiers into internal
// ids and persists them on the mission.
func (e *Engine) resolveResources(ctx context.Context, wp *WorkProcess) error {
	if wp.YardID == "" && wp.YardUID != "" {
		yard, err := e.yards.ResolveYard(ctx, wp.YardUID)
		if err != nil {
			return NewPermanentError("unknown yard", err).WithEntity(wp.YardUID)
		}
		wp.YardID = yard.ID
	}

	if len(wp.AgentIDs) == 0 && len(wp.AgentUUIDs) > 0 {
		agents, err := e.yards.ResolveAgents(ctx, wp.AgentUUIDs)
		if err != nil {
			return NewPermanentError("unknown agents", err).WithEntity(wp.ID)
		}
		wp.AgentIDs = make([]string, len(agents))
		for i, a := range agents {
			wp.AgentIDs[i] = a.ID
		}
	}

	return e.store.SetWorkProcessResolution(ctx, wp.ID, wp.YardID, wp.AgentIDs)
}

// applyRecipeDefaults fills the mission's failure policy and fallback from
// the recipe header when unset and injects the recipe settings into the
// mission data.
func (e *Engine) applyRecipeDefaults(ctx context.Context, wp *WorkProcess, recipe *Recipe, log zerolog.Logger) {
	if wp.OnAssignmentFailure == "" || wp.OnAssignmentFailure == FailureActionDefault {
		if recipe.Type.OnAssignmentFailure != "" {
			wp.OnAssignmentFailure = recipe.Type.OnAssignmentFailure
		}
	}
	if wp.FallbackMission == "" {
		wp.FallbackMission = recipe.Type.FallbackMission
	}

	if len(recipe.Type.Settings) == 0 {
		return
	}
	data := wp.Data.Clone()
	if data == nil {
		data = Payload{}
	}
	data[DataKeySettings] = map[string]interface{}(recipe.Type.Settings)
	wp.Data = data
	if err := e.store.SetWorkProcessData(ctx, wp.ID, wp.Data); err != nil {
		log.Error().Err(err).Msg("failed to persist recipe settings")
	}
}

// planningFailed moves the mission through planning_failed to failed,
// cancels whatever the broken plan already persisted, and runs the
// end-of-mission cleanup so a queued mission does not stall its queue. The
// first transition is the claim; a redelivered failure loses it and returns.
func (e *Engine) planningFailed(ctx context.Context, workProcessID string) error {
	applied, err := e.store.UpdateMissionStatus(ctx, workProcessID, MissionStatusPlanningFailed,
		MissionStatusPreparing, MissionStatusCalculating)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := e.CancelServiceRequestsForWorkProcess(ctx, workProcessID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", workProcessID).Msg("failed to cancel service requests")
	}
	if err := e.CancelAssignmentsForWorkProcess(ctx, workProcessID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", workProcessID).Msg("failed to cancel assignments")
	}

	if _, err := e.store.UpdateMissionStatus(ctx, workProcessID, MissionStatusFailed, MissionStatusPlanningFailed); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncMissionCompleted(string(MissionStatusFailed))
	}
	return e.onWorkProcessEnd(ctx, workProcessID)
}

// OnCancelRequested cancels a running mission: the mission moves to
// canceling, every service request and assignment is canceled, and the
// mission finalizes to canceled once the cancel acknowledgments drain.
func (e *Engine) OnCancelRequested(ctx context.Context, workProcessID string) error {
	// Canceling itself is in the from-set: the cancel may have been written by
	// the caller before the event was emitted, and the cascade below is
	// idempotent under redelivery.
	applied, err := e.store.UpdateMissionStatus(ctx, workProcessID, MissionStatusCanceling,
		MissionStatusDraft, MissionStatusDispatched, missionStatusLegacyCreated,
		MissionStatusPreparing, MissionStatusCalculating, MissionStatusExecuting,
		MissionStatusAssignmentsCompleted, MissionStatusPlanningFailed,
		MissionStatusAssignmentFailed, MissionStatusCanceling)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	e.logger.Info().Str("work_process_id", workProcessID).Msg("mission canceling")

	if err := e.CancelServiceRequestsForWorkProcess(ctx, workProcessID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", workProcessID).Msg("failed to cancel service requests")
	}
	if err := e.CancelAssignmentsForWorkProcess(ctx, workProcessID); err != nil {
		e.logger.Error().Err(err).Str("work_process_id", workProcessID).Msg("failed to cancel assignments")
	}

	// Assignments in canceling await the agent acknowledgment; the terminal
	// events finalize the mission. When nothing is left the mission drains now.
	return e.advanceMissionIfComplete(ctx, workProcessID, "")
}

// OnAssignmentsCompleted resolves the final mission status once every
// pipeline drained: canceled if any assignment was canceled along the way,
// succeeded otherwise.
func (e *Engine) OnAssignmentsCompleted(ctx context.Context, workProcessID string) error {
	assignments, err := e.store.ListAssignmentsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return err
	}

	final := MissionStatusSucceeded
	for _, a := range assignments {
		if NormalizeAssignmentStatus(a.Status) == AssignmentStatusCanceled {
			final = MissionStatusCanceled
			break
		}
	}

	applied, err := e.store.UpdateMissionStatus(ctx, workProcessID, final, MissionStatusAssignmentsCompleted)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	e.logger.Info().Str("work_process_id", workProcessID).Str("status", string(final)).Msg("mission finished")
	if e.metrics != nil {
		e.metrics.IncMissionCompleted(string(final))
	}
	return e.onWorkProcessEnd(ctx, workProcessID)
}

// onWorkProcessEnd releases every agent the mission touched and advances the
// mission queue, if the mission belongs to one.
func (e *Engine) onWorkProcessEnd(ctx context.Context, workProcessID string) error {
	mission, err := e.store.GetWorkProcess(ctx, workProcessID)
	if err != nil {
		return err
	}
	assignments, err := e.store.ListAssignmentsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return err
	}

	agents := make(map[string]struct{}, len(mission.AgentIDs))
	for _, id := range mission.AgentIDs {
		agents[id] = struct{}{}
	}
	for _, a := range assignments {
		if a.AgentID != "" {
			agents[a.AgentID] = struct{}{}
		}
	}

	var wg sync.WaitGroup
	for id := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if err := e.gateway.ReleaseFromWorkProcess(ctx, agentID, workProcessID); err != nil {
				e.logger.Error().Err(err).
					Str("agent_id", agentID).
					Str("work_process_id", workProcessID).
					Msg("failed to release agent")
			}
		}(id)
	}
	wg.Wait()

	if mission.MissionQueueID == "" {
		return nil
	}
	return e.AdvanceQueue(ctx, mission.MissionQueueID)
}

// AdvanceQueue dispatches the next draft mission of a running queue, or stops
// the queue when it is exhausted. The draft to dispatched transition is the
// claim, so concurrent advances dispatch each mission once.
func (e *Engine) AdvanceQueue(ctx context.Context, queueID string) error {
	queue, err := e.store.GetMissionQueue(ctx, queueID)
	if err != nil {
		return err
	}
	if queue.Status != QueueStatusRun {
		return nil
	}

	next, err := e.store.NextQueuedMission(ctx, queueID)
	if err != nil {
		return err
	}
	if next == nil {
		applied, err := e.store.UpdateQueueStatus(ctx, queueID, QueueStatusStopped, QueueStatusRun)
		if err != nil {
			return err
		}
		if applied {
			e.logger.Info().Str("mission_queue_id", queueID).Msg("mission queue exhausted")
		}
		return nil
	}

	applied, err := e.store.UpdateMissionStatus(ctx, next.ID, MissionStatusDispatched, MissionStatusDraft)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	next.Status = MissionStatusDispatched
	e.logger.Info().
		Str("mission_queue_id", queueID).
		Str("work_process_id", next.ID).
		Int("run_order", next.RunOrder).
		Msg("queue dispatched next mission")
	return e.OnWorkProcessInserted(ctx, next)
}
