package policy

import (
	"time"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block admission.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that reject the mission.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never pass.
	SeverityCritical Severity = "critical"
)

// Policy is one admission rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are collected from the
	// policy package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single admission finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// WorkProcessID is the evaluated mission.
	WorkProcessID string `json:"work_process_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies for one mission.
type Result struct {
	// Allowed reports whether the mission may enter preparation. It is
	// false when any violation has error or critical severity.
	Allowed bool `json:"allowed"`

	// Violations lists all findings, including non-blocking ones.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies whose evaluation itself failed.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the document policies evaluate against.
type Input struct {
	// WorkProcess is the mission requesting admission.
	WorkProcess *orchestrator.WorkProcess `json:"work_process"`

	// KnownType reports whether the recipe catalog defines the mission type.
	KnownType bool `json:"known_type"`

	// Context carries evaluation metadata.
	Context *EvalContext `json:"context"`
}

// EvalContext provides context information for policy evaluation.
type EvalContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being evaluated; always "admit" today.
	Operation string `json:"operation,omitempty"`
}

// blockingSeverity reports whether a severity rejects the mission.
func blockingSeverity(s Severity) bool {
	return s == SeverityError || s == SeverityCritical
}
