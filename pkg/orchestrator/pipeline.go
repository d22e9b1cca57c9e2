package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PipelineBuilder turns a recipe into the batch of service requests that
// drives a mission. It validates the recipe against the enabled microservice
// registry and computes the dependency edges of the request graph.
type PipelineBuilder struct {
	store   Store
	recipes RecipeSource
	logger  zerolog.Logger
}

// NewPipelineBuilder creates a pipeline builder.
func NewPipelineBuilder(store Store, recipes RecipeSource, logger zerolog.Logger) *PipelineBuilder {
	return &PipelineBuilder{
		store:   store,
		recipes: recipes,
		logger:  logger.With().Str("origin", "pipeline-builder").Logger(),
	}
}

// Build produces the service request batch for a mission. The returned
// requests are not persisted; the mission lifecycle stores them once the
// mission has moved to preparing.
func (b *PipelineBuilder) Build(
	ctx context.Context,
	processType string,
	payload Payload,
	agentIDs []string,
	workProcessID string,
) ([]*ServiceRequest, error) {
	services, err := b.store.ListEnabledServices(ctx)
	if err != nil {
		return nil, NewTransientError("failed to load microservice registry", err)
	}
	registry := make(map[string]*ServiceDefinition, len(services))
	for _, def := range services {
		registry[def.ServiceType] = def
	}

	recipe, err := b.recipes.Get(ctx, processType)
	if err != nil {
		return nil, NewTransientError("recipe lookup failed", err).WithEntity(workProcessID)
	}
	if recipe == nil {
		return nil, NewValidationError("mission type is not defined").
			WithEntity(workProcessID).
			WithDetail("work_process_type", processType)
	}

	for _, step := range recipe.Steps {
		if _, ok := registry[step.ServiceType]; !ok {
			return nil, NewValidationError("service type is not enabled: " + step.ServiceType).
				WithEntity(step.Step)
		}
	}

	// Cycle check before any request exists; a cyclic recipe must persist
	// nothing.
	if _, err := stepOrders(recipe.Steps); err != nil {
		return nil, err
	}

	now := time.Now()
	requests := make([]*ServiceRequest, 0, len(recipe.Steps))
	uidByStep := make(map[string]string, len(recipe.Steps))

	for _, step := range recipe.Steps {
		def := registry[step.ServiceType]

		request := payload
		if def.IsDummy {
			request = dummyRequestShape(payload, agentIDs)
		}

		status := ServiceStatusReadyForService
		if step.RequestOrder == 0 || len(nonEmpty(step.DependsOnSteps)) > 0 {
			status = ServiceStatusNotReady
		}

		req := &ServiceRequest{
			ID:                          uuid.New().String(),
			RequestUID:                  uuid.New().String(),
			Step:                        step.Step,
			ServiceType:                 step.ServiceType,
			ServiceClass:                def.Class,
			Status:                      status,
			WaitDependenciesAssignments: step.WaitAssignments,
			IsResultAssignment:          step.IsResultAssignment,
			Request:                     request,
			ResultTimeout:               def.ResultTimeout,
			WorkProcessID:               workProcessID,
			CreatedAt:                   now,
		}
		uidByStep[step.Step] = req.RequestUID
		requests = append(requests, req)
	}

	// A single-step pipeline has no edges to compute.
	if len(requests) == 1 {
		return requests, nil
	}

	for i, step := range recipe.Steps {
		req := requests[i]
		for j, other := range recipe.Steps {
			if other.RequestOrder == step.RequestOrder+1 {
				req.NextRequestsToDispatch = append(req.NextRequestsToDispatch, requests[j].RequestUID)
			}
		}
		for _, dep := range nonEmpty(step.DependsOnSteps) {
			req.DependOnRequests = append(req.DependOnRequests, uidByStep[dep])
		}
	}

	return requests, nil
}

// dummyRequestShape rewrites a request payload into the shape a real
// microservice response would have. Dummy services loop their request back
// as the response, and downstream code expects response-shaped data.
func dummyRequestShape(payload Payload, agentIDs []string) Payload {
	if isResultShaped(payload) {
		return payload
	}
	results := make([]interface{}, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		results = append(results, map[string]interface{}{
			"agent_id":   agentID,
			"assignment": map[string]interface{}(payload),
		})
	}
	return Payload{
		"status":  "complete",
		"results": results,
	}
}

// isResultShaped reports whether the payload already looks like a valid
// microservice result: a non-empty results list whose first entry carries an
// agent reference and an assignment or result body.
func isResultShaped(payload Payload) bool {
	results, ok := payload["results"].([]interface{})
	if !ok || len(results) == 0 {
		return false
	}
	first, ok := results[0].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasAgent := first["agent_id"]
	_, hasAgentUUID := first["agent_uuid"]
	_, hasResult := first["result"]
	_, hasAssignment := first["assignment"]
	return (hasAgent || hasAgentUUID) && (hasResult || hasAssignment)
}

// nonEmpty drops empty-string entries; an empty step name is a no-op
// dependency.
func nonEmpty(names []string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
