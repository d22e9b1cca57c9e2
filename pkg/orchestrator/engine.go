package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/telemetry"
)

// AdmissionPolicy gates missions before they enter preparing. A returned
// error forces the mission to planning_failed.
type AdmissionPolicy interface {
	Admit(ctx context.Context, wp *WorkProcess) error
}

// Engine drives the mission, service request, and assignment state machines.
// It owns no locks: every transition goes through the store as a conditional
// update, and handlers are safe to run concurrently and to receive the same
// notification more than once.
type Engine struct {
	store      Store
	recipes    RecipeSource
	yards      YardReader
	gateway    AgentGateway
	dispatcher ServiceDispatcher
	admission  AdmissionPolicy
	builder    *PipelineBuilder
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
}

// Options configures optional engine collaborators.
type Options struct {
	// Admission gates mission insertion; nil disables admission checks.
	Admission AdmissionPolicy

	// Metrics records engine metrics; nil disables recording.
	Metrics *telemetry.Metrics
}

// NewEngine creates the orchestration engine.
func NewEngine(
	store Store,
	recipes RecipeSource,
	yards YardReader,
	gateway AgentGateway,
	dispatcher ServiceDispatcher,
	logger zerolog.Logger,
	opts Options,
) *Engine {
	return &Engine{
		store:      store,
		recipes:    recipes,
		yards:      yards,
		gateway:    gateway,
		dispatcher: dispatcher,
		admission:  opts.Admission,
		builder:    NewPipelineBuilder(store, recipes, logger),
		logger:     logger.With().Str("origin", "orchestrator").Logger(),
		metrics:    opts.Metrics,
	}
}

// missionComplete reports whether a mission has zero outstanding service
// requests and zero outstanding assignments. excludeRequestID ignores the
// request currently being wrapped up.
func (e *Engine) missionComplete(ctx context.Context, workProcessID, excludeRequestID string) (bool, error) {
	requests, err := e.store.ListServiceRequestsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return false, err
	}
	for _, r := range requests {
		if r.ID == excludeRequestID {
			continue
		}
		if r.Status.IsOutstanding() {
			return false, nil
		}
	}

	assignments, err := e.store.ListAssignmentsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.Status.IsOutstanding() {
			return false, nil
		}
	}
	return true, nil
}

// advanceMissionIfComplete moves the mission to assignments_completed when
// all pipelines drained. A canceling mission drains to canceled instead. The
// transitions are conditioned on the source statuses; losing the race is a
// no-op.
func (e *Engine) advanceMissionIfComplete(ctx context.Context, workProcessID, excludeRequestID string) error {
	complete, err := e.missionComplete(ctx, workProcessID, excludeRequestID)
	if err != nil || !complete {
		return err
	}

	applied, err := e.store.UpdateMissionStatus(ctx, workProcessID, MissionStatusCanceled, MissionStatusCanceling)
	if err != nil {
		return err
	}
	if applied {
		e.logger.Info().Str("work_process_id", workProcessID).Msg("mission canceled")
		if e.metrics != nil {
			e.metrics.IncMissionCompleted(string(MissionStatusCanceled))
		}
		return e.onWorkProcessEnd(ctx, workProcessID)
	}

	applied, err = e.store.UpdateMissionStatus(ctx, workProcessID, MissionStatusAssignmentsCompleted,
		MissionStatusPreparing, MissionStatusCalculating, MissionStatusExecuting)
	if err != nil {
		return err
	}
	if applied {
		e.logger.Info().Str("work_process_id", workProcessID).Msg("mission assignments completed")
		return e.OnAssignmentsCompleted(ctx, workProcessID)
	}
	return nil
}
