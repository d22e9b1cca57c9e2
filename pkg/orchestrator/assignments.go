package orchestrator

import (
	"context"
	"sync"
)

// DispatchAssignment delivers an assignment to its agent. The to_dispatch to
// executing transition is the claim; losing it means another handler already
// dispatched. A delegation failure marks the assignment failed immediately;
// there is no retry at this layer, and the failure feeds the failure policy
// resolver like any agent-reported failure.
func (e *Engine) DispatchAssignment(ctx context.Context, a *Assignment) error {
	applied, err := e.store.UpdateAssignmentStatus(ctx, a.ID, AssignmentStatusExecuting, AssignmentStatusToDispatch)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := e.gateway.SendAssignment(ctx, a); err != nil {
		e.logger.Warn().Err(err).
			Str("assignment_id", a.ID).
			Str("agent_id", a.AgentID).
			Msg("assignment delivery failed")
		if e.metrics != nil {
			e.metrics.IncAssignmentDispatchFailure()
		}
		applied, cerr := e.store.UpdateAssignmentStatus(ctx, a.ID, AssignmentStatusFailed, AssignmentStatusExecuting)
		if cerr != nil {
			return cerr
		}
		if applied {
			a.Status = AssignmentStatusFailed
			return e.ResolveAssignmentFailure(ctx, a)
		}
		return nil
	}

	e.logger.Info().
		Str("assignment_id", a.ID).
		Str("agent_id", a.AgentID).
		Str("work_process_id", a.WorkProcessID).
		Msg("assignment dispatched")
	return nil
}

// ActivateNextAssignments re-evaluates the downstream assignments of a
// finished assignment: each one not already canceled moves to to_dispatch
// when its dependencies are met, otherwise to wait_dependencies. Only
// assignments in a waiting status are touched, so concurrent propagation
// from two finishing dependencies converges.
func (e *Engine) ActivateNextAssignments(ctx context.Context, finished *Assignment) error {
	siblings, err := e.store.ListAssignmentsByWorkProcess(ctx, finished.WorkProcessID)
	if err != nil {
		return err
	}
	g := NewDepGraph(siblings)
	done := func(d *Assignment) bool {
		return d.Status == AssignmentStatusCompleted || d.Status == AssignmentStatusSucceeded
	}

	candidates := make(map[string]bool)
	for _, id := range finished.NextAssignments {
		candidates[id] = true
	}
	for _, id := range g.Dependents(finished.ID) {
		candidates[id] = true
	}

	for id := range candidates {
		next, ok := g.Node(id)
		if !ok || next.Status == AssignmentStatusCanceled || !next.Status.IsWaiting() {
			continue
		}
		target := AssignmentStatusToDispatch
		if !g.Ready(id, done) {
			target = AssignmentStatusWaitDependencies
		}
		if target == next.Status {
			continue
		}
		applied, err := e.store.UpdateAssignmentStatus(ctx, next.ID, target, next.Status)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}
		if target == AssignmentStatusToDispatch {
			next.Status = target
			if err := e.DispatchAssignment(ctx, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// CancelAssignmentsForWorkProcess cancels every assignment of a mission.
// Assignments not yet running are canceled directly; executing and active
// ones move to canceling and reach canceled only on the agent's
// acknowledgment. Cancellations fan out in parallel with no ordering
// guarantee; partial failures are logged and left to the periodic watcher.
func (e *Engine) CancelAssignmentsForWorkProcess(ctx context.Context, workProcessID string) error {
	assignments, err := e.store.ListAssignmentsByWorkProcess(ctx, workProcessID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, a := range assignments {
		if a.Status.IsTerminal() || a.Status == AssignmentStatusCanceling {
			continue
		}
		wg.Add(1)
		go func(a *Assignment) {
			defer wg.Done()
			e.cancelAssignment(ctx, a)
		}(a)
	}
	wg.Wait()
	return nil
}

func (e *Engine) cancelAssignment(ctx context.Context, a *Assignment) {
	switch a.Status {
	case AssignmentStatusToDispatch, AssignmentStatusNotReady, AssignmentStatusWaitDependencies:
		if _, err := e.store.UpdateAssignmentStatus(ctx, a.ID, AssignmentStatusCanceled,
			AssignmentStatusToDispatch, AssignmentStatusNotReady, AssignmentStatusWaitDependencies); err != nil {
			e.logger.Error().Err(err).Str("assignment_id", a.ID).Msg("failed to cancel assignment")
		}
	case AssignmentStatusExecuting, AssignmentStatusActive:
		applied, err := e.store.UpdateAssignmentStatus(ctx, a.ID, AssignmentStatusCanceling,
			AssignmentStatusExecuting, AssignmentStatusActive)
		if err != nil {
			e.logger.Error().Err(err).Str("assignment_id", a.ID).Msg("failed to mark assignment canceling")
			return
		}
		if applied {
			if err := e.gateway.CancelAssignment(ctx, a); err != nil {
				e.logger.Error().Err(err).
					Str("assignment_id", a.ID).
					Str("agent_id", a.AgentID).
					Msg("failed to request assignment cancellation in agent")
			}
		}
	}
}

// OnAssignmentSucceeded promotes a succeeded assignment to completed and
// runs the terminal steps. The promotion is the single exception to the
// terminal-status write barrier.
func (e *Engine) OnAssignmentSucceeded(ctx context.Context, a *Assignment) error {
	applied, err := e.store.UpdateAssignmentStatus(ctx, a.ID, AssignmentStatusCompleted, AssignmentStatusSucceeded)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	a.Status = AssignmentStatusCompleted
	return e.OnAssignmentTerminal(ctx, a)
}

// OnAssignmentTerminal runs after an assignment reached a terminal status:
// activate its downstream assignments, then advance the mission when no
// outstanding work remains.
func (e *Engine) OnAssignmentTerminal(ctx context.Context, a *Assignment) error {
	if e.metrics != nil {
		e.metrics.IncAssignmentTerminal(string(NormalizeAssignmentStatus(a.Status)))
	}
	if err := e.ActivateNextAssignments(ctx, a); err != nil {
		return err
	}
	return e.advanceMissionIfComplete(ctx, a.WorkProcessID, "")
}
