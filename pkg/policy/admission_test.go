package policy

import (
	"context"
	"testing"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

type stubRecipes struct {
	known map[string]bool
}

func (s *stubRecipes) Get(_ context.Context, typeName string) (*orchestrator.Recipe, error) {
	if !s.known[typeName] {
		return nil, nil
	}
	return &orchestrator.Recipe{
		Type: orchestrator.WorkProcessType{Name: typeName},
	}, nil
}

func newTestAdmission(t *testing.T) *Admission {
	t.Helper()
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	recipes := &stubRecipes{known: map[string]bool{"transport_pallet": true}}
	return NewAdmission(eng, recipes, testLogger())
}

func TestAdmitValidMission(t *testing.T) {
	adm := newTestAdmission(t)

	if err := adm.Admit(context.Background(), validMission()); err != nil {
		t.Errorf("Expected mission to be admitted, got %v", err)
	}
}

func TestAdmitUnknownType(t *testing.T) {
	adm := newTestAdmission(t)

	wp := validMission()
	wp.Type = "teleport_pallet"

	err := adm.Admit(context.Background(), wp)
	if !orchestrator.IsValidation(err) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}
}

func TestAdmitNoAgents(t *testing.T) {
	adm := newTestAdmission(t)

	wp := validMission()
	wp.AgentUUIDs = nil

	err := adm.Admit(context.Background(), wp)
	if !orchestrator.IsValidation(err) {
		t.Errorf("Expected validation error for empty reservation, got %v", err)
	}
}

func TestAdmitWithoutRecipeSource(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	adm := NewAdmission(eng, nil, testLogger())

	wp := validMission()
	wp.Type = "anything_goes"

	if err := adm.Admit(context.Background(), wp); err != nil {
		t.Errorf("Expected type check to be skipped without a recipe source, got %v", err)
	}
}
