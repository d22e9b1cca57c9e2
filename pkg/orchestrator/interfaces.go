package orchestrator

import (
	"context"
)

// Store is the persistence layer the orchestrator drives. All status
// transitions are conditional updates: UpdateXStatus applies the new status
// only if the current status is one of the listed values and reports whether
// a row changed. A false result is a concurrency no-op, not an error;
// another handler already performed the transition.
type Store interface {
	// GetWorkProcess retrieves a mission by id.
	GetWorkProcess(ctx context.Context, id string) (*WorkProcess, error)

	// CreateWorkProcess persists a new mission. Used for fallback missions.
	CreateWorkProcess(ctx context.Context, wp *WorkProcess) error

	// UpdateMissionStatus conditionally transitions a mission.
	UpdateMissionStatus(ctx context.Context, id string, to MissionStatus, from ...MissionStatus) (bool, error)

	// SetWorkProcessResolution persists the resolved yard and agent ids.
	SetWorkProcessResolution(ctx context.Context, id, yardID string, agentIDs []string) error

	// SetWorkProcessData replaces the mission data payload. Used to inject
	// recipe settings during preparation.
	SetWorkProcessData(ctx context.Context, id string, data Payload) error

	// CreateServiceRequests persists a built pipeline in one batch.
	CreateServiceRequests(ctx context.Context, requests []*ServiceRequest) error

	// GetServiceRequest retrieves a service request by id.
	GetServiceRequest(ctx context.Context, id string) (*ServiceRequest, error)

	// GetServiceRequestByUID retrieves a service request by request_uid.
	GetServiceRequestByUID(ctx context.Context, uid string) (*ServiceRequest, error)

	// ListServiceRequestsByWorkProcess lists all requests of a mission.
	ListServiceRequestsByWorkProcess(ctx context.Context, workProcessID string) ([]*ServiceRequest, error)

	// UpdateServiceStatus conditionally transitions a service request.
	UpdateServiceStatus(ctx context.Context, id string, to ServiceStatus, from ...ServiceStatus) (bool, error)

	// SetServiceResponse persists the microservice response payload.
	SetServiceResponse(ctx context.Context, id string, response Payload) error

	// SetServiceDispatchPayload persists the rewritten request and context
	// computed just before dispatch.
	SetServiceDispatchPayload(ctx context.Context, id string, request, reqContext Payload) error

	// CreateAssignment persists a new assignment.
	CreateAssignment(ctx context.Context, a *Assignment) error

	// GetAssignment retrieves an assignment by id.
	GetAssignment(ctx context.Context, id string) (*Assignment, error)

	// ListAssignmentsByWorkProcess lists all assignments of a mission.
	ListAssignmentsByWorkProcess(ctx context.Context, workProcessID string) ([]*Assignment, error)

	// ListAssignmentsByServiceRequests lists assignments produced by the
	// given service requests.
	ListAssignmentsByServiceRequests(ctx context.Context, serviceRequestIDs []string) ([]*Assignment, error)

	// UpdateAssignmentStatus conditionally transitions an assignment.
	UpdateAssignmentStatus(ctx context.Context, id string, to AssignmentStatus, from ...AssignmentStatus) (bool, error)

	// MarkFallbackDispatched flips the fallback flag on an assignment and
	// reports whether this caller won the flip.
	MarkFallbackDispatched(ctx context.Context, id string) (bool, error)

	// GetMissionQueue retrieves a mission queue by id.
	GetMissionQueue(ctx context.Context, id string) (*MissionQueue, error)

	// NextQueuedMission returns the draft mission with the lowest run_order
	// in a queue, or nil when the queue is exhausted.
	NextQueuedMission(ctx context.Context, queueID string) (*WorkProcess, error)

	// UpdateQueueStatus conditionally transitions a mission queue.
	UpdateQueueStatus(ctx context.Context, id string, to MissionQueueStatus, from ...MissionQueueStatus) (bool, error)

	// ListEnabledServices lists the enabled microservice registry.
	ListEnabledServices(ctx context.Context) ([]*ServiceDefinition, error)
}

// RecipeSource looks up recipes by work process type name.
// A nil recipe with a nil error means the type is not defined.
type RecipeSource interface {
	Get(ctx context.Context, typeName string) (*Recipe, error)
}

// SnapshotQuery selects what a request context snapshot must contain.
type SnapshotQuery struct {
	// YardID selects the yard.
	YardID string

	// AgentIDs restricts the agent snapshot; empty means all yard agents.
	AgentIDs []string

	// IncludeMap adds the yard map objects.
	IncludeMap bool
}

// YardReader resolves external identifiers and produces yard/agent
// snapshots for request contexts.
type YardReader interface {
	// ResolveYard resolves a yard uid to the yard record.
	ResolveYard(ctx context.Context, uid string) (*Yard, error)

	// ResolveAgents resolves agent uuids to agent records, preserving order.
	ResolveAgents(ctx context.Context, uuids []string) ([]*Agent, error)

	// Snapshot produces the context payload for a service request.
	Snapshot(ctx context.Context, q SnapshotQuery) (Payload, error)
}

// AgentGateway delivers work to agents. Implementations wrap the message
// broker; delivery failures are returned, never retried here.
type AgentGateway interface {
	// SendAssignment delivers an assignment to its agent for execution.
	SendAssignment(ctx context.Context, a *Assignment) error

	// CancelAssignment asks the agent to cancel a running assignment.
	// Terminal cancellation awaits the agent's acknowledgment event.
	CancelAssignment(ctx context.Context, a *Assignment) error

	// ReleaseFromWorkProcess releases an agent from a mission reservation.
	ReleaseFromWorkProcess(ctx context.Context, agentID, workProcessID string) error
}

// DispatchResult is the decoded envelope a microservice answers with.
type DispatchResult struct {
	// Status is the envelope status: "ready" or "complete" carry a final
	// result, "pending" defers it, "failed" reports a service-side failure.
	Status string `json:"status"`

	// Response is the full response payload to persist on the request.
	Response Payload `json:"response"`
}

// ServiceDispatcher calls a microservice with a prepared request.
// Unreachable services and non-2xx answers are DispatchErrors.
type ServiceDispatcher interface {
	Dispatch(ctx context.Context, def *ServiceDefinition, req *ServiceRequest) (*DispatchResult, error)
}
