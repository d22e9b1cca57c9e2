package orchestrator

import (
	"context"
	"time"
)

// DetermineStatus computes the status a waiting service request should move
// to, given its siblings within the same mission:
//
//   - unmet dependencies keep it in wait_dependencies;
//   - a dependency response that lists allowed dependent steps and does not
//     name this step skips it;
//   - a step waiting on dependency assignments stays in wait_dependencies
//     until every such assignment completed;
//   - otherwise it is ready for service.
func (e *Engine) DetermineStatus(ctx context.Context, req *ServiceRequest, siblings []*ServiceRequest) (ServiceStatus, error) {
	g := NewDepGraph(siblings)
	ready := func(d *ServiceRequest) bool { return d.Status == ServiceStatusReady }

	if remaining := g.Unsatisfied(req.RequestUID, ready); len(remaining) > 0 {
		return ServiceStatusWaitDependencies, nil
	}

	deps := make([]*ServiceRequest, 0, len(req.DependOnRequests))
	for _, uid := range req.DependOnRequests {
		if dep, ok := g.Node(uid); ok {
			deps = append(deps, dep)
		}
	}

	if !stepAllowedByDependencies(req.Step, deps) {
		return ServiceStatusSkipped, nil
	}

	if req.WaitDependenciesAssignments {
		depIDs := make([]string, 0, len(deps))
		for _, dep := range deps {
			depIDs = append(depIDs, dep.ID)
		}
		assignments, err := e.store.ListAssignmentsByServiceRequests(ctx, depIDs)
		if err != nil {
			return "", NewTransientError("failed to load dependency assignments", err).WithEntity(req.ID)
		}
		for _, a := range assignments {
			if a.Status != AssignmentStatusCompleted && a.Status != AssignmentStatusSucceeded {
				return ServiceStatusWaitDependencies, nil
			}
		}
	}

	return ServiceStatusReadyForService, nil
}

// stepAllowedByDependencies evaluates the conditional-skip directive: a
// dependency response carrying orchestration.allow_dependent_steps restricts
// which downstream steps may run.
func stepAllowedByDependencies(step string, deps []*ServiceRequest) bool {
	for _, dep := range deps {
		allowed, ok := orchestrationList(dep.Response, "allow_dependent_steps")
		if !ok {
			continue
		}
		found := false
		for _, name := range allowed {
			if name == step {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ActivateNextInPipeline re-evaluates the downstream requests of a finished
// request. Requests not in a waiting status are left untouched, which makes
// the propagation idempotent and safe to run concurrently from two finishing
// dependencies. A mission that is no longer in progress is left alone.
func (e *Engine) ActivateNextInPipeline(ctx context.Context, finished *ServiceRequest) error {
	mission, err := e.store.GetWorkProcess(ctx, finished.WorkProcessID)
	if err != nil {
		return err
	}
	if !mission.Status.InProgress() {
		return nil
	}

	siblings, err := e.store.ListServiceRequestsByWorkProcess(ctx, finished.WorkProcessID)
	if err != nil {
		return err
	}
	g := NewDepGraph(siblings)

	candidates := make(map[string]bool)
	for _, uid := range finished.NextRequestsToDispatch {
		candidates[uid] = true
	}
	for _, uid := range g.Dependents(finished.RequestUID) {
		candidates[uid] = true
	}

	for uid := range candidates {
		req, ok := g.Node(uid)
		if !ok || !req.Status.IsWaiting() {
			continue
		}
		next, err := e.DetermineStatus(ctx, req, siblings)
		if err != nil {
			return err
		}
		if next == req.Status {
			continue
		}
		applied, err := e.store.UpdateServiceStatus(ctx, req.ID, next, req.Status)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}
		e.logger.Debug().
			Str("request_uid", req.RequestUID).
			Str("step", req.Step).
			Str("status", string(next)).
			Msg("service request activated")
		if next == ServiceStatusReadyForService {
			req.Status = next
			if err := e.DispatchServiceRequest(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}

// DispatchServiceRequest sends a ready request to its microservice. The
// ready_for_service to dispatching_service transition is the claim: losing
// it means another handler is already dispatching. A dispatch failure marks
// the request failed; it is surfaced but does not by itself fail the mission.
func (e *Engine) DispatchServiceRequest(ctx context.Context, req *ServiceRequest) error {
	applied, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusDispatching, ServiceStatusReadyForService)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	def, err := e.serviceDefinition(ctx, req.ServiceType)
	if err != nil {
		return err
	}

	mission, err := e.store.GetWorkProcess(ctx, req.WorkProcessID)
	if err != nil {
		return err
	}
	siblings, err := e.store.ListServiceRequestsByWorkProcess(ctx, req.WorkProcessID)
	if err != nil {
		return err
	}

	request, reqContext, err := e.updateContext(ctx, req, mission, siblings, def)
	if err != nil {
		return err
	}
	req.Request = request
	req.Context = reqContext
	if err := e.store.SetServiceDispatchPayload(ctx, req.ID, request, reqContext); err != nil {
		return err
	}

	start := time.Now()
	var result *DispatchResult
	if def.IsDummy {
		// A dummy service loops its request back as the response.
		result = &DispatchResult{Status: "ready", Response: req.Request}
	} else {
		result, err = e.dispatcher.Dispatch(ctx, def, req)
	}
	if e.metrics != nil {
		e.metrics.ObserveServiceDispatch(req.ServiceType, err == nil, time.Since(start))
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Str("request_uid", req.RequestUID).
			Str("service_type", req.ServiceType).
			Msg("service dispatch failed")
		if _, cerr := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusFailed, ServiceStatusDispatching); cerr != nil {
			return cerr
		}
		return nil
	}

	if _, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusPending, ServiceStatusDispatching); err != nil {
		return err
	}

	switch result.Status {
	case "pending":
		// Result arrives later through a service_request_updated event or
		// hits the periodic watcher's timeout.
		return nil
	case "failed":
		_, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusFailed, ServiceStatusPending)
		return err
	default:
		if err := e.store.SetServiceResponse(ctx, req.ID, result.Response); err != nil {
			return err
		}
		applied, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusReady, ServiceStatusPending)
		if err != nil {
			return err
		}
		if applied {
			req.Response = result.Response
			req.Status = ServiceStatusReady
			return e.OnServiceRequestReady(ctx, req)
		}
		return nil
	}
}

// OnServiceRequestReady runs the post-result steps when a request reaches
// ready: materialize assignments from planner results, activate downstream
// requests, then wrap up the mission when this was the last outstanding work.
func (e *Engine) OnServiceRequestReady(ctx context.Context, req *ServiceRequest) error {
	if req.ServiceClass == ServiceClassAssignmentPlanner && req.IsResultAssignment {
		if err := e.materializeAssignments(ctx, req); err != nil {
			return err
		}
	}
	if err := e.ActivateNextInPipeline(ctx, req); err != nil {
		return err
	}
	return e.WrapUpServiceRequest(ctx, req)
}

// WrapUpServiceRequest decides whether a finished request completes its
// mission. Nothing happens while downstream requests are pending, for
// skipped requests, or for assignment-planner results whose completion is
// deferred to the assignment pipeline.
func (e *Engine) WrapUpServiceRequest(ctx context.Context, req *ServiceRequest) error {
	if req.Status == ServiceStatusSkipped {
		return nil
	}
	if req.ServiceClass == ServiceClassAssignmentPlanner && req.IsResultAssignment {
		return nil
	}

	siblings, err := e.store.ListServiceRequestsByWorkProcess(ctx, req.WorkProcessID)
	if err != nil {
		return err
	}
	byUID := make(map[string]*ServiceRequest, len(siblings))
	for _, s := range siblings {
		byUID[s.RequestUID] = s
	}
	for _, uid := range req.NextRequestsToDispatch {
		if next, ok := byUID[uid]; ok && !next.Status.IsTerminal() {
			return nil
		}
	}

	return e.advanceMissionIfComplete(ctx, req.WorkProcessID, req.ID)
}

// updateContext recomputes the request context just before dispatch: the
// yard/agent snapshot filtered by the service's declared needs, the
// dependency results, and the orchestration section. When exactly one
// dependency response rewrites this step's request via
// orchestration.next_step_request, that payload replaces the outgoing
// request; more than one match is a logged conflict and the request's own
// payload is kept.
func (e *Engine) updateContext(
	ctx context.Context,
	req *ServiceRequest,
	mission *WorkProcess,
	siblings []*ServiceRequest,
	def *ServiceDefinition,
) (Payload, Payload, error) {
	reqContext := Payload{}

	if def.RequireAgentsData || def.RequireMissionAgentsData || def.RequireMapData {
		q := SnapshotQuery{YardID: mission.YardID, IncludeMap: def.RequireMapData}
		if def.RequireMissionAgentsData {
			q.AgentIDs = mission.AgentIDs
		}
		snap, err := e.yards.Snapshot(ctx, q)
		if err != nil {
			return nil, nil, NewTransientError("failed to load yard snapshot", err).WithEntity(req.ID)
		}
		for k, v := range snap {
			reqContext[k] = v
		}
	}

	byUID := make(map[string]*ServiceRequest, len(siblings))
	for _, s := range siblings {
		byUID[s.RequestUID] = s
	}

	var depResults []interface{}
	var rewrites []Payload
	for _, uid := range req.DependOnRequests {
		dep, ok := byUID[uid]
		if !ok {
			continue
		}
		depResults = append(depResults, map[string]interface{}{
			"step":     dep.Step,
			"response": map[string]interface{}(dep.Response),
		})
		if nextStepReq, ok := orchestrationSection(dep.Response, "next_step_request"); ok {
			if v, ok := nextStepReq[req.Step]; ok {
				if p, ok := toPayload(v); ok {
					rewrites = append(rewrites, p)
				}
			}
		}
	}
	if len(depResults) > 0 {
		reqContext["dependencies"] = depResults
	}

	var nextSteps []string
	for _, uid := range req.NextRequestsToDispatch {
		if next, ok := byUID[uid]; ok {
			nextSteps = append(nextSteps, next.Step)
		}
	}
	orchestration := map[string]interface{}{"current_step": req.Step}
	if len(nextSteps) > 0 {
		orchestration["next_step"] = nextSteps
	}
	reqContext[ContextKeyOrchestration] = orchestration

	request := req.Request
	switch len(rewrites) {
	case 0:
	case 1:
		request = rewrites[0]
	default:
		// Precedence between competing rewrites is undefined; keep the
		// request's own payload.
		e.logger.Warn().
			Str("request_uid", req.RequestUID).
			Str("step", req.Step).
			Int("conflicting_rewrites", len(rewrites)).
			Msg("multiple dependency responses rewrite the same step request")
	}

	return request, reqContext, nil
}

// serviceDefinition looks up an enabled service by type.
func (e *Engine) serviceDefinition(ctx context.Context, serviceType string) (*ServiceDefinition, error) {
	services, err := e.store.ListEnabledServices(ctx)
	if err != nil {
		return nil, NewTransientError("failed to load microservice registry", err)
	}
	for _, def := range services {
		if def.ServiceType == serviceType {
			return def, nil
		}
	}
	return nil, NewValidationError("service type is not enabled: " + serviceType)
}

// CancelServiceRequestsForWorkProcess cancels every non-terminal service
// request of a mission.
func (e *Engine) CancelServiceRequestsForWorkProcess(ctx context.Context, workProcessID string) error {
	requests, err := e.store.ListServiceRequestsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return err
	}
	var failures int
	for _, req := range requests {
		if req.Status.IsTerminal() {
			continue
		}
		if _, err := e.store.UpdateServiceStatus(ctx, req.ID, ServiceStatusCanceled,
			ServiceStatusNotReady, ServiceStatusWaitDependencies, ServiceStatusReadyForService,
			ServiceStatusDispatching, ServiceStatusPending); err != nil {
			failures++
			e.logger.Error().Err(err).
				Str("request_uid", req.RequestUID).
				Msg("failed to cancel service request")
		}
	}
	if failures > 0 {
		e.logger.Warn().Int("failures", failures).
			Str("work_process_id", workProcessID).
			Msg("partial service request cancellation")
	}
	return nil
}

// orchestrationSection extracts a map-valued key from a response's
// orchestration section.
func orchestrationSection(response Payload, key string) (map[string]interface{}, bool) {
	orch, ok := response[ContextKeyOrchestration].(map[string]interface{})
	if !ok {
		return nil, false
	}
	section, ok := orch[key].(map[string]interface{})
	return section, ok
}

// orchestrationList extracts a string-list key from a response's
// orchestration section.
func orchestrationList(response Payload, key string) ([]string, bool) {
	orch, ok := response[ContextKeyOrchestration].(map[string]interface{})
	if !ok {
		return nil, false
	}
	raw, ok := orch[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// toPayload coerces a decoded JSON value into a payload map.
func toPayload(v interface{}) (Payload, bool) {
	switch m := v.(type) {
	case Payload:
		return m, true
	case map[string]interface{}:
		return Payload(m), true
	}
	return nil, false
}
