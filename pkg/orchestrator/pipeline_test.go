package orchestrator

import (
	"context"
	"testing"
	"time"
)

func plannerEnv() *testEnv {
	env := newTestEnv()
	env.addService(&ServiceDefinition{
		ServiceType:   "planner",
		URL:           "http://planner.local/plan",
		Class:         ServiceClassAssignmentPlanner,
		Enabled:       true,
		ResultTimeout: time.Minute,
	})
	env.addService(&ServiceDefinition{
		ServiceType: "storage",
		URL:         "http://storage.local/store",
		Class:       ServiceClassStorageServer,
		Enabled:     true,
	})
	return env
}

func TestPipelineBuild(t *testing.T) {
	env := plannerEnv()
	env.recipes.byType["transport_pallet"] = &Recipe{
		Type: WorkProcessType{Name: "transport_pallet"},
		Steps: []ServicePlanStep{
			{Step: "plan", ServiceType: "planner", RequestOrder: 1, IsResultAssignment: true},
			{Step: "move", ServiceType: "planner", RequestOrder: 2, DependsOnSteps: []string{"plan"}},
			{Step: "report", ServiceType: "storage", RequestOrder: 3, DependsOnSteps: []string{"move", ""}},
		},
	}

	requests, err := env.engine.builder.Build(context.Background(), "transport_pallet",
		Payload{"pallet": "P-1"}, []string{"agent-1"}, "wp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}

	byStep := make(map[string]*ServiceRequest)
	for _, req := range requests {
		byStep[req.Step] = req
	}

	if byStep["plan"].Status != ServiceStatusReadyForService {
		t.Errorf("expected plan ready_for_service, got %s", byStep["plan"].Status)
	}
	if !byStep["plan"].IsResultAssignment {
		t.Error("expected plan to defer completion to assignments")
	}
	if byStep["plan"].ServiceClass != ServiceClassAssignmentPlanner {
		t.Errorf("expected planner class, got %s", byStep["plan"].ServiceClass)
	}
	if byStep["plan"].ResultTimeout != time.Minute {
		t.Errorf("expected registry timeout, got %s", byStep["plan"].ResultTimeout)
	}
	if byStep["move"].Status != ServiceStatusNotReady {
		t.Errorf("expected move not_ready, got %s", byStep["move"].Status)
	}
	if byStep["report"].Status != ServiceStatusNotReady {
		t.Errorf("expected report not_ready, got %s", byStep["report"].Status)
	}

	// Forward edges chain order N to order N+1
	if len(byStep["plan"].NextRequestsToDispatch) != 1 ||
		byStep["plan"].NextRequestsToDispatch[0] != byStep["move"].RequestUID {
		t.Errorf("expected plan -> move edge, got %v", byStep["plan"].NextRequestsToDispatch)
	}
	if len(byStep["move"].NextRequestsToDispatch) != 1 ||
		byStep["move"].NextRequestsToDispatch[0] != byStep["report"].RequestUID {
		t.Errorf("expected move -> report edge, got %v", byStep["move"].NextRequestsToDispatch)
	}

	// Dependency edges use request uids; empty step names are dropped
	if len(byStep["move"].DependOnRequests) != 1 ||
		byStep["move"].DependOnRequests[0] != byStep["plan"].RequestUID {
		t.Errorf("unexpected move dependencies: %v", byStep["move"].DependOnRequests)
	}
	if len(byStep["report"].DependOnRequests) != 1 ||
		byStep["report"].DependOnRequests[0] != byStep["move"].RequestUID {
		t.Errorf("unexpected report dependencies: %v", byStep["report"].DependOnRequests)
	}
}

func TestPipelineBuildSingleStep(t *testing.T) {
	env := plannerEnv()
	env.recipes.byType["single"] = &Recipe{
		Type:  WorkProcessType{Name: "single"},
		Steps: []ServicePlanStep{{Step: "only", ServiceType: "planner", RequestOrder: 1}},
	}

	requests, err := env.engine.builder.Build(context.Background(), "single", nil, nil, "wp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if len(requests[0].NextRequestsToDispatch) != 0 || len(requests[0].DependOnRequests) != 0 {
		t.Errorf("single-step pipeline must have no edges: %+v", requests[0])
	}
}

func TestPipelineBuildUnknownType(t *testing.T) {
	env := plannerEnv()

	_, err := env.engine.builder.Build(context.Background(), "nope", nil, nil, "wp-1")
	if err == nil {
		t.Fatal("expected error for unknown mission type")
	}
	if !IsPlanning(err) {
		t.Errorf("expected planning classification, got %v", err)
	}
}

func TestPipelineBuildUnknownService(t *testing.T) {
	env := plannerEnv()
	env.recipes.byType["bad"] = &Recipe{
		Type:  WorkProcessType{Name: "bad"},
		Steps: []ServicePlanStep{{Step: "s", ServiceType: "nonexistent", RequestOrder: 1}},
	}

	_, err := env.engine.builder.Build(context.Background(), "bad", nil, nil, "wp-1")
	if err == nil {
		t.Fatal("expected error for unknown service type")
	}
	if !IsValidation(err) {
		t.Errorf("expected validation classification, got %v", err)
	}
}

func TestPipelineBuildCyclicRecipe(t *testing.T) {
	env := plannerEnv()
	env.recipes.byType["cyclic"] = &Recipe{
		Type: WorkProcessType{Name: "cyclic"},
		Steps: []ServicePlanStep{
			{Step: "a", ServiceType: "planner", DependsOnSteps: []string{"b"}},
			{Step: "b", ServiceType: "planner", DependsOnSteps: []string{"a"}},
		},
	}

	requests, err := env.engine.builder.Build(context.Background(), "cyclic", nil, nil, "wp-1")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !IsDependencyCycle(err) {
		t.Errorf("expected dependency cycle classification, got %v", err)
	}
	if requests != nil {
		t.Error("a cyclic recipe must produce no requests")
	}
}

func TestDummyRequestShape(t *testing.T) {
	shaped := dummyRequestShape(Payload{"move_to": "dock-3"}, []string{"agent-1", "agent-2"})
	results, ok := shaped["results"].([]interface{})
	if !ok || len(results) != 2 {
		t.Fatalf("expected 2 shaped results, got %v", shaped)
	}
	first := results[0].(map[string]interface{})
	if first["agent_id"] != "agent-1" {
		t.Errorf("expected agent-1, got %v", first["agent_id"])
	}
	if body, ok := first["assignment"].(map[string]interface{}); !ok || body["move_to"] != "dock-3" {
		t.Errorf("unexpected assignment body: %v", first["assignment"])
	}

	// Already result-shaped payloads pass through unchanged
	preShaped := Payload{
		"results": []interface{}{
			map[string]interface{}{"agent_id": "agent-1", "result": map[string]interface{}{}},
		},
	}
	if got := dummyRequestShape(preShaped, []string{"agent-9"}); len(got["results"].([]interface{})) != 1 {
		t.Errorf("result-shaped payload must pass through: %v", got)
	}
}
