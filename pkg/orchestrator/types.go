package orchestrator

import (
	"time"
)

// Payload is an arbitrary JSON object carried on missions, requests, and
// assignments. The store persists it as a JSON column.
type Payload map[string]interface{}

// Clone returns a shallow copy of the payload. Nil stays nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Well-known payload keys injected by the engine.
const (
	// DataKeySettings carries the recipe settings injected into mission data.
	DataKeySettings = "_settings"

	// DataKeyFailedAssignment carries the failed assignment snapshot injected
	// into a fallback mission's data.
	DataKeyFailedAssignment = "_failed_assignment"

	// ContextKeyOrchestration is the context/response section carrying
	// pipeline directives: allow_dependent_steps, next_step_request,
	// current_step, next_step.
	ContextKeyOrchestration = "orchestration"
)

// WorkProcess is the top-level unit of requested work for one or more agents.
type WorkProcess struct {
	// ID is the unique identifier of the mission.
	ID string `json:"id"`

	// Type is the work process type name the recipe is looked up by.
	Type string `json:"work_process_type_name"`

	// Status is the current mission status.
	Status MissionStatus `json:"status"`

	// AgentIDs are the resolved agent identifiers reserved for the mission.
	AgentIDs []string `json:"agent_ids,omitempty"`

	// AgentUUIDs are the external agent identifiers; resolved to AgentIDs
	// on insertion.
	AgentUUIDs []string `json:"agent_uuids,omitempty"`

	// YardID is the resolved yard identifier.
	YardID string `json:"yard_id,omitempty"`

	// YardUID is the external yard identifier; resolved to YardID on insertion.
	YardUID string `json:"yard_uid,omitempty"`

	// MissionQueueID links the mission to a queue, if any.
	MissionQueueID string `json:"mission_queue_id,omitempty"`

	// RunOrder is the position of the mission within its queue.
	RunOrder int `json:"run_order,omitempty"`

	// OnAssignmentFailure is the mission-level failure policy.
	OnAssignmentFailure FailureAction `json:"on_assignment_failure,omitempty"`

	// FallbackMission is the work process type spawned on RELEASE_FAILED.
	FallbackMission string `json:"fallback_mission,omitempty"`

	// Data is the mission payload. The engine injects _settings on build and
	// _failed_assignment on fallback.
	Data Payload `json:"data,omitempty"`

	// CreatedAt is when the mission was inserted.
	CreatedAt time.Time `json:"created_at"`
}

// ServiceRequest is one invocation instance of an external microservice step.
type ServiceRequest struct {
	// ID is the unique identifier of the request.
	ID string `json:"id"`

	// RequestUID is the globally unique identifier used for dependency edges.
	RequestUID string `json:"request_uid"`

	// Step is the recipe step name this request was built from.
	Step string `json:"step"`

	// ServiceType selects the microservice from the enabled registry.
	ServiceType string `json:"service_type"`

	// ServiceClass is the registry class of the target service.
	ServiceClass ServiceClass `json:"service_class,omitempty"`

	// Status is the current request status.
	Status ServiceStatus `json:"status"`

	// DependOnRequests lists request_uids this request depends on.
	DependOnRequests []string `json:"depend_on_requests,omitempty"`

	// NextRequestsToDispatch lists request_uids activated when this request
	// finishes. This is the forward edge list used by propagation.
	NextRequestsToDispatch []string `json:"next_request_to_dispatch_uids,omitempty"`

	// WaitDependenciesAssignments blocks readiness until every assignment
	// produced by dependency requests has completed.
	WaitDependenciesAssignments bool `json:"wait_dependencies_assignments,omitempty"`

	// IsResultAssignment marks planner requests whose completion is deferred
	// to the assignment pipeline.
	IsResultAssignment bool `json:"is_result_assignment,omitempty"`

	// Request is the outgoing request payload.
	Request Payload `json:"request,omitempty"`

	// Response is the microservice response payload.
	Response Payload `json:"response,omitempty"`

	// Context is the yard/agent snapshot and dependency results sent with
	// the request.
	Context Payload `json:"context,omitempty"`

	// ResultTimeout bounds how long a pending request may await its result.
	// Enforced by the periodic watcher, not by the core.
	ResultTimeout time.Duration `json:"result_timeout,omitempty"`

	// WorkProcessID is the owning mission.
	WorkProcessID string `json:"work_process_id"`

	// DispatchedAt is when the request entered dispatching_service.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	// CreatedAt is when the request was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Assignment is a unit of executable work dispatched to a physical agent.
type Assignment struct {
	// ID is the unique identifier of the assignment.
	ID string `json:"id"`

	// Status is the current assignment status.
	Status AssignmentStatus `json:"status"`

	// DependOnAssignments lists assignment ids this assignment depends on.
	DependOnAssignments []string `json:"depend_on_assignments,omitempty"`

	// NextAssignments lists assignment ids activated when this one finishes.
	NextAssignments []string `json:"next_assignments,omitempty"`

	// AgentID is the agent executing the assignment.
	AgentID string `json:"agent_id"`

	// WorkProcessID is the owning mission.
	WorkProcessID string `json:"work_process_id"`

	// ServiceRequestID is the request whose response produced this assignment.
	ServiceRequestID string `json:"service_request_id,omitempty"`

	// OnAssignmentFailure overrides the mission failure policy when set and
	// not DEFAULT.
	OnAssignmentFailure FailureAction `json:"on_assignment_failure,omitempty"`

	// FallbackMission overrides the mission fallback when set.
	FallbackMission string `json:"fallback_mission,omitempty"`

	// Data is the executable work payload sent to the agent.
	Data Payload `json:"data,omitempty"`

	// Result is the outcome reported by the agent.
	Result Payload `json:"result,omitempty"`

	// Context is the context the assignment was dispatched with.
	Context Payload `json:"context,omitempty"`

	// FallbackDispatched records that a fallback mission was already spawned
	// for this assignment. At most one fallback per failed assignment.
	FallbackDispatched bool `json:"fallback_dispatched,omitempty"`

	// CreatedAt is when the assignment was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// ServiceClass categorizes registered microservices.
type ServiceClass string

const (
	// ServiceClassAssignmentPlanner computes executable assignments.
	ServiceClassAssignmentPlanner ServiceClass = "Assignment planner"

	// ServiceClassMapServer serves yard map data.
	ServiceClassMapServer ServiceClass = "Map server"

	// ServiceClassStorageServer persists mission artifacts.
	ServiceClassStorageServer ServiceClass = "Storage server"
)

// ServiceDefinition is one entry of the enabled microservice registry.
type ServiceDefinition struct {
	// ServiceType is the registry key steps refer to.
	ServiceType string `json:"service_type"`

	// URL is the microservice endpoint.
	URL string `json:"service_url"`

	// Class is the service class.
	Class ServiceClass `json:"class"`

	// IsDummy marks loop-back services: the request payload is returned as
	// the response without calling out.
	IsDummy bool `json:"is_dummy"`

	// Enabled gates whether steps may target this service.
	Enabled bool `json:"enabled"`

	// ResultTimeout is the default result timeout for requests to this service.
	ResultTimeout time.Duration `json:"result_timeout"`

	// RequireAgentsData includes the agent snapshot in the request context.
	RequireAgentsData bool `json:"require_agents_data"`

	// RequireMapData includes the yard map objects in the request context.
	RequireMapData bool `json:"require_map_data"`

	// RequireMissionAgentsData restricts the agent snapshot to the mission's
	// reserved agents.
	RequireMissionAgentsData bool `json:"require_mission_agents_data"`
}

// WorkProcessType is the recipe header: name, failure policy, and settings.
type WorkProcessType struct {
	// Name is the mission type missions are matched against.
	Name string `json:"name"`

	// Description is shown by tooling; unused by the engine.
	Description string `json:"description,omitempty"`

	// OnAssignmentFailure is the default failure policy for missions of
	// this type.
	OnAssignmentFailure FailureAction `json:"on_assignment_failure,omitempty"`

	// FallbackMission is the default fallback mission type.
	FallbackMission string `json:"fallback_mission,omitempty"`

	// Settings is injected into mission data under _settings.
	Settings Payload `json:"settings,omitempty"`
}

// ServicePlanStep is one ordered step of a recipe.
type ServicePlanStep struct {
	// Step is the unique step name within the recipe.
	Step string `json:"step"`

	// ServiceType selects the microservice handling the step.
	ServiceType string `json:"service_type"`

	// RequestOrder chains steps: order-N steps activate order-N+1 steps.
	// Zero means the step is never auto-activated by ordering.
	RequestOrder int `json:"request_order"`

	// DependsOnSteps names steps whose requests must be ready first.
	// Empty strings are no-op dependencies and are dropped.
	DependsOnSteps []string `json:"depends_on_steps,omitempty"`

	// WaitAssignments blocks the step until dependency assignments complete.
	WaitAssignments bool `json:"wait_assignments,omitempty"`

	// IsResultAssignment defers step completion to the assignment pipeline.
	IsResultAssignment bool `json:"is_result_assignment,omitempty"`
}

// Recipe is the declarative definition a mission is decomposed by.
type Recipe struct {
	// Type is the work process type header.
	Type WorkProcessType `json:"type"`

	// Steps are the ordered service plan steps.
	Steps []ServicePlanStep `json:"steps"`
}

// Validate checks the recipe structure: type name and step fields present,
// step names unique, failure action known, dependencies resolvable and
// acyclic. Registry checks (is the service enabled) happen at build time.
func (r *Recipe) Validate() error {
	if r.Type.Name == "" {
		return NewValidationError("recipe type name is required")
	}
	if err := r.Type.OnAssignmentFailure.Validate(); r.Type.OnAssignmentFailure != "" && err != nil {
		return NewValidationError("unknown failure action: " + string(r.Type.OnAssignmentFailure)).
			WithEntity(r.Type.Name)
	}

	seen := make(map[string]struct{}, len(r.Steps))
	for _, step := range r.Steps {
		if step.Step == "" {
			return NewValidationError("step name is required").WithEntity(r.Type.Name)
		}
		if step.ServiceType == "" {
			return NewValidationError("step " + step.Step + " has no service type").
				WithEntity(r.Type.Name)
		}
		if _, dup := seen[step.Step]; dup {
			return NewValidationError("duplicate step name: " + step.Step).
				WithEntity(r.Type.Name)
		}
		seen[step.Step] = struct{}{}
	}

	_, err := stepOrders(r.Steps)
	return err
}

// MissionQueueStatus represents the state of a mission queue.
type MissionQueueStatus string

const (
	// QueueStatusRun indicates the queue is advancing through its missions.
	QueueStatusRun MissionQueueStatus = "run"

	// QueueStatusStopped indicates the queue ran out of draft missions or
	// was halted.
	QueueStatusStopped MissionQueueStatus = "stopped"
)

// MissionQueue orders draft missions for sequential dispatch.
type MissionQueue struct {
	// ID is the unique identifier of the queue.
	ID string `json:"id"`

	// Name is the human-readable queue name.
	Name string `json:"name,omitempty"`

	// Status is the current queue status.
	Status MissionQueueStatus `json:"status"`
}

// Agent is a robot, vehicle, or tool capable of executing assignments.
type Agent struct {
	// ID is the internal agent identifier.
	ID string `json:"id"`

	// UUID is the external agent identifier.
	UUID string `json:"uuid"`

	// Name is the human-readable agent name.
	Name string `json:"name,omitempty"`

	// YardID is the yard the agent operates in.
	YardID string `json:"yard_id,omitempty"`

	// Status is the broker-reported agent status; opaque to the core.
	Status string `json:"status,omitempty"`

	// Pose is the last reported position snapshot; opaque to the core.
	Pose Payload `json:"pose,omitempty"`
}

// Yard is the physical site agents operate within.
type Yard struct {
	// ID is the internal yard identifier.
	ID string `json:"id"`

	// UID is the external yard identifier.
	UID string `json:"uid"`

	// Name is the human-readable yard name.
	Name string `json:"name,omitempty"`

	// MapData is the yard map snapshot; opaque to the core.
	MapData Payload `json:"map_data,omitempty"`
}
