package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/telemetry"
)

// Notification channels. Each inbound change event carries one of these tags
// and a payload record for the entity that changed.
const (
	ChannelWorkProcessInserted     = "work_process_inserted"
	ChannelWorkProcessUpdated      = "work_process_updated"
	ChannelServiceRequestInserted  = "service_request_inserted"
	ChannelServiceRequestUpdated   = "service_request_updated"
	ChannelAssignmentStatusUpdated = "assignment_status_updated"
	ChannelMissionQueueUpdated     = "mission_queue_updated"
)

// Notification is the inbound change event envelope.
type Notification struct {
	// ID identifies the delivery, not the entity. Used only for logging.
	ID string `json:"id,omitempty"`

	// Channel is the event kind tag.
	Channel string `json:"channel"`

	// Payload is the per-channel DTO.
	Payload json.RawMessage `json:"payload"`
}

// UpdatedWorkProcess is the work_process_updated payload. Only the fields
// every producer guarantees; the handler re-reads the entity.
type UpdatedWorkProcess struct {
	ID     string        `json:"id"`
	Status MissionStatus `json:"status"`
}

// UpdatedServiceRequest is the service_request_updated payload.
type UpdatedServiceRequest struct {
	ID     string        `json:"id"`
	Status ServiceStatus `json:"status"`
}

// UpdatedAssignment is the assignment_status_updated payload.
type UpdatedAssignment struct {
	ID     string           `json:"id"`
	Status AssignmentStatus `json:"status"`
}

// UpdatedMissionQueue is the mission_queue_updated payload.
type UpdatedMissionQueue struct {
	ID     string             `json:"id"`
	Status MissionQueueStatus `json:"status"`
}

// Router dispatches inbound notifications to the engine. Handlers tolerate
// duplicate and out-of-order delivery; every invocation is recovered, so a
// failing handler never takes down the event loop.
type Router struct {
	engine  *Engine
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewRouter creates a notification router for the engine.
func NewRouter(engine *Engine, logger zerolog.Logger, metrics *telemetry.Metrics) *Router {
	return &Router{
		engine:  engine,
		logger:  logger.With().Str("origin", "router").Logger(),
		metrics: metrics,
	}
}

// HandleNotification routes one notification. Errors and panics are logged
// and absorbed; recovery relies on redelivery and the periodic watcher.
func (r *Router) HandleNotification(ctx context.Context, n Notification) {
	err := r.handle(ctx, n)
	if err == nil {
		return
	}
	r.logger.Error().Err(err).
		Str("channel", n.Channel).
		Str("notification_id", n.ID).
		Msg("notification handler failed")
	if r.metrics != nil {
		r.metrics.IncHandlerError(n.Channel)
	}
}

func (r *Router) handle(ctx context.Context, n Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	switch n.Channel {
	case ChannelWorkProcessInserted:
		var wp WorkProcess
		if err := json.Unmarshal(n.Payload, &wp); err != nil {
			return NewValidationError("malformed work process payload")
		}
		return r.engine.OnWorkProcessInserted(ctx, &wp)

	case ChannelWorkProcessUpdated:
		var dto UpdatedWorkProcess
		if err := json.Unmarshal(n.Payload, &dto); err != nil {
			return NewValidationError("malformed work process payload")
		}
		return r.handleWorkProcessUpdated(ctx, dto)

	case ChannelServiceRequestInserted, ChannelServiceRequestUpdated:
		var dto UpdatedServiceRequest
		if err := json.Unmarshal(n.Payload, &dto); err != nil {
			return NewValidationError("malformed service request payload")
		}
		return r.handleServiceRequest(ctx, dto)

	case ChannelAssignmentStatusUpdated:
		var dto UpdatedAssignment
		if err := json.Unmarshal(n.Payload, &dto); err != nil {
			return NewValidationError("malformed assignment payload")
		}
		return r.handleAssignment(ctx, dto)

	case ChannelMissionQueueUpdated:
		var dto UpdatedMissionQueue
		if err := json.Unmarshal(n.Payload, &dto); err != nil {
			return NewValidationError("malformed mission queue payload")
		}
		if dto.Status == QueueStatusRun {
			return r.engine.AdvanceQueue(ctx, dto.ID)
		}
		return nil

	default:
		r.logger.Warn().Str("channel", n.Channel).Msg("unknown notification channel")
		return nil
	}
}

func (r *Router) handleWorkProcessUpdated(ctx context.Context, dto UpdatedWorkProcess) error {
	switch NormalizeMissionStatus(dto.Status) {
	case MissionStatusDispatched, missionStatusLegacyCreated:
		wp, err := r.engine.store.GetWorkProcess(ctx, dto.ID)
		if err != nil {
			return err
		}
		return r.engine.OnWorkProcessInserted(ctx, wp)

	case MissionStatusCanceling:
		return r.engine.OnCancelRequested(ctx, dto.ID)

	case MissionStatusAssignmentsCompleted:
		return r.engine.OnAssignmentsCompleted(ctx, dto.ID)

	default:
		return nil
	}
}

func (r *Router) handleServiceRequest(ctx context.Context, dto UpdatedServiceRequest) error {
	switch dto.Status {
	case ServiceStatusReadyForService:
		req, err := r.engine.store.GetServiceRequest(ctx, dto.ID)
		if err != nil {
			return err
		}
		return r.engine.DispatchServiceRequest(ctx, req)

	case ServiceStatusReady:
		req, err := r.engine.store.GetServiceRequest(ctx, dto.ID)
		if err != nil {
			return err
		}
		return r.engine.OnServiceRequestReady(ctx, req)

	case ServiceStatusTimeout:
		req, err := r.engine.store.GetServiceRequest(ctx, dto.ID)
		if err != nil {
			return err
		}
		// A timed-out result is a planning failure for the mission.
		if err := r.engine.planningFailed(ctx, req.WorkProcessID); err != nil {
			return err
		}
		return r.engine.WrapUpServiceRequest(ctx, req)

	case ServiceStatusFailed, ServiceStatusCanceled, ServiceStatusSkipped:
		req, err := r.engine.store.GetServiceRequest(ctx, dto.ID)
		if err != nil {
			return err
		}
		return r.engine.WrapUpServiceRequest(ctx, req)

	default:
		return nil
	}
}

func (r *Router) handleAssignment(ctx context.Context, dto UpdatedAssignment) error {
	status := NormalizeAssignmentStatus(dto.Status)

	a, err := r.engine.store.GetAssignment(ctx, dto.ID)
	if err != nil {
		return err
	}

	switch status {
	case AssignmentStatusToDispatch:
		return r.engine.DispatchAssignment(ctx, a)

	case AssignmentStatusSucceeded:
		return r.engine.OnAssignmentSucceeded(ctx, a)

	case AssignmentStatusCompleted, AssignmentStatusCanceled:
		return r.engine.OnAssignmentTerminal(ctx, a)

	case AssignmentStatusFailed, AssignmentStatusAborted, AssignmentStatusRejected:
		return r.engine.ResolveAssignmentFailure(ctx, a)

	default:
		return nil
	}
}
