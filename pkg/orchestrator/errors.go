// Package orchestrator implements the mission orchestration core: the state
// machines of work processes, service requests, and assignments, the shared
// dependency resolver, and the assignment failure policy.
package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure. A retried or
	// duplicate change notification may succeed later.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict, typically a conditional
	// update raced by a concurrent handler.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error such as an
	// unknown mission type or a cyclic recipe.
	ErrorClassPermanent ErrorClass = "permanent"
)

// OrchestrationError is a classified error with entity context.
type OrchestrationError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity is the mission, service request, or assignment id involved.
	Entity string `json:"entity,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	if e.Entity != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (entity=%s, operation=%s): %s",
			e.Class, e.Message, e.Entity, e.Operation, e.unwrapMessage())
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s (entity=%s): %s", e.Class, e.Message, e.Entity, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

func (e *OrchestrationError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *OrchestrationError) Is(target error) bool {
	t, ok := target.(*OrchestrationError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *OrchestrationError {
	return &OrchestrationError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *OrchestrationError {
	return &OrchestrationError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *OrchestrationError {
	return &OrchestrationError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewValidationError creates a permanent error carrying the validation code.
func NewValidationError(message string) *OrchestrationError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// NewDependencyCycleError creates the error raised when a recipe graph is
// not acyclic. The offending step is recorded as the entity.
func NewDependencyCycleError(step string) *OrchestrationError {
	return NewPermanentError(fmt.Sprintf("dependency cycle detected at step %q", step), nil).
		WithCode(ErrCodeDependencyCycle).
		WithEntity(step)
}

// NewDispatchError creates the error raised when a microservice or agent
// could not be reached.
func NewDispatchError(message string, err error) *OrchestrationError {
	return NewTransientError(message, err).WithCode(ErrCodeDispatchFailed)
}

// WithEntity adds entity context to an error.
func (e *OrchestrationError) WithEntity(id string) *OrchestrationError {
	e.Entity = id
	return e
}

// WithOperation adds operation context to an error.
func (e *OrchestrationError) WithOperation(operation string) *OrchestrationError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *OrchestrationError) WithCode(code string) *OrchestrationError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *OrchestrationError) WithDetail(key string, value interface{}) *OrchestrationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true for validation errors.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsDependencyCycle returns true for dependency cycle errors.
func IsDependencyCycle(err error) bool {
	return hasCode(err, ErrCodeDependencyCycle)
}

// IsDispatch returns true for dispatch errors.
func IsDispatch(err error) bool {
	return hasCode(err, ErrCodeDispatchFailed)
}

// IsPlanning returns true for errors that must move the mission to
// planning_failed: validation failures and cyclic recipes.
func IsPlanning(err error) bool {
	return IsValidation(err) || IsDependencyCycle(err)
}

func hasCode(err error, code string) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeDependencyCycle = "DEPENDENCY_CYCLE"
	ErrCodeDispatchFailed  = "DISPATCH_FAILED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
