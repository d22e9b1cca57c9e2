package orchestrator

import (
	"encoding/json"
	"fmt"
)

// MissionStatus represents the state of a work process (mission).
type MissionStatus string

const (
	// MissionStatusDraft indicates the mission exists but has not been dispatched.
	MissionStatusDraft MissionStatus = "draft"

	// MissionStatusDispatched indicates the mission has been handed to the engine.
	MissionStatusDispatched MissionStatus = "dispatched"

	// MissionStatusPreparing indicates resources are being reserved and the
	// service pipeline is being built.
	MissionStatusPreparing MissionStatus = "preparing resources"

	// MissionStatusCalculating indicates service requests are being dispatched
	// and responses gathered.
	MissionStatusCalculating MissionStatus = "calculating"

	// MissionStatusExecuting indicates assignments are running on agents.
	MissionStatusExecuting MissionStatus = "executing"

	// MissionStatusAssignmentsCompleted indicates every assignment and service
	// request reached a terminal state.
	MissionStatusAssignmentsCompleted MissionStatus = "assignments_completed"

	// MissionStatusSucceeded indicates the mission finished successfully.
	MissionStatusSucceeded MissionStatus = "succeeded"

	// MissionStatusAssignmentFailed indicates an assignment failure ended the mission.
	MissionStatusAssignmentFailed MissionStatus = "assignment_failed"

	// MissionStatusPlanningFailed indicates the service pipeline could not be
	// built or calculated.
	MissionStatusPlanningFailed MissionStatus = "planning_failed"

	// MissionStatusFailed indicates the mission failed.
	MissionStatusFailed MissionStatus = "failed"

	// MissionStatusCanceling indicates cancellation was requested and is in progress.
	MissionStatusCanceling MissionStatus = "canceling"

	// MissionStatusCanceled indicates the mission was canceled.
	MissionStatusCanceled MissionStatus = "canceled"
)

// missionStatusLegacyCreated is accepted on inbound events as an alias for
// dispatched; older producers emitted it for freshly inserted missions.
const missionStatusLegacyCreated MissionStatus = "created"

// NormalizeMissionStatus maps legacy spellings onto canonical values.
// "cancelling" and "cancelled" are documented aliases and must never be
// rejected; everything else passes through untouched.
func NormalizeMissionStatus(s MissionStatus) MissionStatus {
	switch s {
	case "cancelling":
		return MissionStatusCanceling
	case "cancelled":
		return MissionStatusCanceled
	}
	return s
}

// IsTerminal returns true if the status represents a final state.
func (s MissionStatus) IsTerminal() bool {
	switch NormalizeMissionStatus(s) {
	case MissionStatusSucceeded, MissionStatusFailed, MissionStatusCanceled:
		return true
	}
	return false
}

// InProgress returns true while the mission pipelines are still being driven:
// the statuses from which assignments_completed may be reached and in which
// downstream work may still be activated.
func (s MissionStatus) InProgress() bool {
	switch NormalizeMissionStatus(s) {
	case MissionStatusPreparing, MissionStatusCalculating, MissionStatusExecuting:
		return true
	}
	return false
}

// Validate checks if the mission status is a known wire value.
func (s MissionStatus) Validate() error {
	switch NormalizeMissionStatus(s) {
	case MissionStatusDraft, MissionStatusDispatched, MissionStatusPreparing,
		MissionStatusCalculating, MissionStatusExecuting, MissionStatusAssignmentsCompleted,
		MissionStatusSucceeded, MissionStatusAssignmentFailed, MissionStatusPlanningFailed,
		MissionStatusFailed, MissionStatusCanceling, MissionStatusCanceled,
		missionStatusLegacyCreated:
		return nil
	default:
		return fmt.Errorf("invalid mission status: %s", string(s))
	}
}

// MarshalJSON emits the canonical wire string.
func (s MissionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(NormalizeMissionStatus(s)))
}

// UnmarshalJSON accepts canonical values plus the documented legacy aliases.
func (s *MissionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = NormalizeMissionStatus(MissionStatus(str))
	return s.Validate()
}

// ServiceStatus represents the state of a service request.
type ServiceStatus string

const (
	// ServiceStatusNotReady indicates the request is waiting for an earlier
	// pipeline step to activate it.
	ServiceStatusNotReady ServiceStatus = "not_ready_for_service"

	// ServiceStatusWaitDependencies indicates the request has unmet dependencies.
	ServiceStatusWaitDependencies ServiceStatus = "wait_dependencies"

	// ServiceStatusReadyForService indicates the request may be dispatched.
	ServiceStatusReadyForService ServiceStatus = "ready_for_service"

	// ServiceStatusDispatching indicates the request is being sent to the microservice.
	ServiceStatusDispatching ServiceStatus = "dispatching_service"

	// ServiceStatusPending indicates the microservice accepted the request and
	// a result is awaited.
	ServiceStatusPending ServiceStatus = "pending"

	// ServiceStatusReady indicates the microservice produced its result.
	ServiceStatusReady ServiceStatus = "ready"

	// ServiceStatusFailed indicates the request failed.
	ServiceStatusFailed ServiceStatus = "failed"

	// ServiceStatusTimeout indicates the result did not arrive within result_timeout.
	ServiceStatusTimeout ServiceStatus = "time-out"

	// ServiceStatusCanceled indicates the request was canceled.
	ServiceStatusCanceled ServiceStatus = "canceled"

	// ServiceStatusSkipped indicates a dependency response excluded this step.
	ServiceStatusSkipped ServiceStatus = "skipped"
)

// IsTerminal returns true if the status represents a final state.
func (s ServiceStatus) IsTerminal() bool {
	switch s {
	case ServiceStatusReady, ServiceStatusFailed, ServiceStatusTimeout,
		ServiceStatusCanceled, ServiceStatusSkipped:
		return true
	}
	return false
}

// IsWaiting returns true for statuses that dependency propagation may rewrite.
// Requests in any other status are left untouched by Propagate, which keeps
// re-evaluation idempotent under duplicate delivery.
func (s ServiceStatus) IsWaiting() bool {
	return s == ServiceStatusNotReady || s == ServiceStatusWaitDependencies
}

// IsOutstanding returns true while the request still blocks mission completion.
func (s ServiceStatus) IsOutstanding() bool {
	switch s {
	case ServiceStatusNotReady, ServiceStatusWaitDependencies, ServiceStatusReadyForService,
		ServiceStatusDispatching, ServiceStatusPending:
		return true
	}
	return false
}

// Validate checks if the service status is a known wire value.
func (s ServiceStatus) Validate() error {
	switch s {
	case ServiceStatusNotReady, ServiceStatusWaitDependencies, ServiceStatusReadyForService,
		ServiceStatusDispatching, ServiceStatusPending, ServiceStatusReady,
		ServiceStatusFailed, ServiceStatusTimeout, ServiceStatusCanceled, ServiceStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid service request status: %s", string(s))
	}
}

// MarshalJSON implements type-safe enum serialization.
func (s ServiceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements enum deserialization with validation.
func (s *ServiceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ServiceStatus(str)
	return s.Validate()
}

// AssignmentStatus represents the state of an assignment.
type AssignmentStatus string

const (
	// AssignmentStatusNotReady indicates the assignment awaits pipeline activation.
	AssignmentStatusNotReady AssignmentStatus = "not_ready_to_dispatch"

	// AssignmentStatusWaitDependencies indicates the assignment has unmet dependencies.
	AssignmentStatusWaitDependencies AssignmentStatus = "wait_dependencies"

	// AssignmentStatusToDispatch indicates the assignment is ready to be sent
	// to its agent.
	AssignmentStatusToDispatch AssignmentStatus = "to_dispatch"

	// AssignmentStatusExecuting indicates the agent is executing the assignment.
	AssignmentStatusExecuting AssignmentStatus = "executing"

	// AssignmentStatusActive indicates the agent acknowledged the assignment
	// and it is active.
	AssignmentStatusActive AssignmentStatus = "active"

	// AssignmentStatusSucceeded indicates the agent reported success; promoted
	// to completed by the pipeline.
	AssignmentStatusSucceeded AssignmentStatus = "succeeded"

	// AssignmentStatusCompleted indicates the assignment finished and was
	// accounted for by the pipeline.
	AssignmentStatusCompleted AssignmentStatus = "completed"

	// AssignmentStatusFailed indicates the agent reported failure.
	AssignmentStatusFailed AssignmentStatus = "failed"

	// AssignmentStatusAborted indicates the agent aborted the assignment.
	AssignmentStatusAborted AssignmentStatus = "aborted"

	// AssignmentStatusRejected indicates the agent rejected the assignment.
	AssignmentStatusRejected AssignmentStatus = "rejected"

	// AssignmentStatusCanceling indicates cancellation was requested and the
	// agent acknowledgment is awaited.
	AssignmentStatusCanceling AssignmentStatus = "canceling"

	// AssignmentStatusCanceled indicates the assignment was canceled.
	AssignmentStatusCanceled AssignmentStatus = "canceled"
)

// NormalizeAssignmentStatus maps the documented legacy spellings onto
// canonical values.
func NormalizeAssignmentStatus(s AssignmentStatus) AssignmentStatus {
	switch s {
	case "cancelling":
		return AssignmentStatusCanceling
	case "cancelled":
		return AssignmentStatusCanceled
	}
	return s
}

// IsTerminal returns true if the status represents a final state. Terminal
// statuses are never overwritten except the succeeded to completed promotion.
func (s AssignmentStatus) IsTerminal() bool {
	switch NormalizeAssignmentStatus(s) {
	case AssignmentStatusSucceeded, AssignmentStatusCompleted, AssignmentStatusFailed,
		AssignmentStatusAborted, AssignmentStatusRejected, AssignmentStatusCanceled:
		return true
	}
	return false
}

// IsOutstanding returns true while the assignment still blocks mission
// completion. Canceling counts: the mission may not finalize before the agent
// acknowledged the cancellation.
func (s AssignmentStatus) IsOutstanding() bool {
	switch NormalizeAssignmentStatus(s) {
	case AssignmentStatusToDispatch, AssignmentStatusNotReady,
		AssignmentStatusWaitDependencies, AssignmentStatusExecuting,
		AssignmentStatusActive, AssignmentStatusCanceling:
		return true
	}
	return false
}

// IsWaiting returns true for statuses that dependency propagation may rewrite.
func (s AssignmentStatus) IsWaiting() bool {
	return s == AssignmentStatusNotReady || s == AssignmentStatusWaitDependencies
}

// Validate checks if the assignment status is a known wire value.
func (s AssignmentStatus) Validate() error {
	switch NormalizeAssignmentStatus(s) {
	case AssignmentStatusToDispatch, AssignmentStatusExecuting, AssignmentStatusSucceeded,
		AssignmentStatusCompleted, AssignmentStatusRejected, AssignmentStatusFailed,
		AssignmentStatusAborted, AssignmentStatusCanceling, AssignmentStatusCanceled,
		AssignmentStatusWaitDependencies, AssignmentStatusNotReady, AssignmentStatusActive:
		return nil
	default:
		return fmt.Errorf("invalid assignment status: %s", string(s))
	}
}

// MarshalJSON emits the canonical wire string.
func (s AssignmentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(NormalizeAssignmentStatus(s)))
}

// UnmarshalJSON accepts canonical values plus the documented legacy aliases.
func (s *AssignmentStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = NormalizeAssignmentStatus(AssignmentStatus(str))
	return s.Validate()
}

// FailureAction selects what happens to a mission when one of its
// assignments fails, aborts, or is rejected.
type FailureAction string

const (
	// FailureActionDefault defers to the mission-level policy.
	FailureActionDefault FailureAction = "DEFAULT"

	// FailureActionFail fails the mission and cancels all remaining work.
	FailureActionFail FailureAction = "FAIL_MISSION"

	// FailureActionContinue treats the failed assignment as finished and
	// lets the rest of the mission run.
	FailureActionContinue FailureAction = "CONTINUE_MISSION"

	// FailureActionRelease continues the mission, releases the failed
	// assignment's agent immediately, and spawns the fallback mission if
	// one is configured.
	FailureActionRelease FailureAction = "RELEASE_FAILED"
)

// Validate checks if the failure action is a known wire value.
func (a FailureAction) Validate() error {
	switch a {
	case FailureActionDefault, FailureActionFail, FailureActionContinue, FailureActionRelease:
		return nil
	default:
		return fmt.Errorf("invalid failure action: %s", string(a))
	}
}
