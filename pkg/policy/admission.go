package policy

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// Admission adapts the policy engine to the orchestrator's admission hook.
// A blocked mission produces a validation error, which the mission lifecycle
// turns into planning_failed.
type Admission struct {
	engine  *Engine
	recipes orchestrator.RecipeSource
	logger  zerolog.Logger
}

// NewAdmission creates the admission hook. recipes may be nil, in which case
// every mission type counts as known and only the structural policies apply.
func NewAdmission(engine *Engine, recipes orchestrator.RecipeSource, logger zerolog.Logger) *Admission {
	return &Admission{
		engine:  engine,
		recipes: recipes,
		logger:  logger.With().Str("component", "admission").Logger(),
	}
}

// Admit implements orchestrator.AdmissionPolicy.
func (a *Admission) Admit(ctx context.Context, wp *orchestrator.WorkProcess) error {
	knownType := true
	if a.recipes != nil {
		recipe, err := a.recipes.Get(ctx, wp.Type)
		if err != nil {
			return orchestrator.NewTransientError("recipe lookup failed during admission", err).
				WithEntity(wp.ID)
		}
		knownType = recipe != nil
	}

	result, err := a.engine.Evaluate(ctx, &Input{
		WorkProcess: wp,
		KnownType:   knownType,
		Context: &EvalContext{
			Timestamp: time.Now(),
			Operation: "admit",
		},
	})
	if err != nil {
		return orchestrator.NewTransientError("policy evaluation failed", err).WithEntity(wp.ID)
	}

	for _, v := range result.Violations {
		if blockingSeverity(v.Severity) {
			continue
		}
		a.logger.Warn().
			Str("work_process_id", wp.ID).
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if result.Allowed {
		return nil
	}

	var messages []string
	for _, v := range result.Violations {
		if blockingSeverity(v.Severity) {
			messages = append(messages, v.Policy+": "+v.Message)
		}
	}
	return orchestrator.NewValidationError("mission rejected by policy: " + strings.Join(messages, "; ")).
		WithEntity(wp.ID)
}
