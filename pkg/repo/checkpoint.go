package repo

import (
	"context"

	"github.com/flanes-dev/flanes/pkg/evaluate"
	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/types"
)

// CheckpointResult is checkpoint's outcome, spec.md §4.4: either a new
// transition, or NoChange when the workspace's content matches the
// lane head exactly.
type CheckpointResult struct {
	Transition     types.Transition
	NoChange       bool
	BudgetWarnings []string
}

// Checkpoint snapshots workspaceName under its advisory lock, and -
// unless the snapshot's root tree equals the lane head's - proposes
// a transition carrying intent. With autoAccept, the transition is
// immediately evaluated and accepted or rejected based on required
// evaluator outcomes.
func (r *Repository) Checkpoint(ctx context.Context, workspaceName string, intent types.Intent, autoAccept bool, evaluators []evaluate.Evaluator) (CheckpointResult, error) {
	if err := r.workspace.AcquireLock(workspaceName); err != nil {
		return CheckpointResult{}, err
	}
	defer r.workspace.ReleaseLock(workspaceName)

	if dirty, _, err := r.workspace.IsDirty(workspaceName); err != nil {
		return CheckpointResult{}, err
	} else if dirty {
		return CheckpointResult{}, flerr.ErrDirtyWorkspace
	}

	ws, err := r.workspace.Get(workspaceName)
	if err != nil {
		return CheckpointResult{}, err
	}
	lane, err := r.ledger.GetLane(ws.Lane)
	if err != nil {
		return CheckpointResult{}, err
	}

	warnings, err := r.checkBudget(lane)
	if err != nil {
		return CheckpointResult{}, err
	}

	childState, err := r.workspace.Snapshot(workspaceName, lane.HeadState)
	if err != nil {
		return CheckpointResult{}, err
	}
	if lane.HeadState != "" {
		// The snapshot's state always carries a fresh parent and timestamp,
		// so "no change" is decided by comparing root trees.
		head, err := r.cas.GetState(lane.HeadState)
		if err != nil {
			return CheckpointResult{}, err
		}
		child, err := r.cas.GetState(childState)
		if err != nil {
			return CheckpointResult{}, err
		}
		if child.RootTree == head.RootTree {
			return CheckpointResult{NoChange: true, BudgetWarnings: warnings}, nil
		}
	}
	if err := r.ledger.InsertState(childState); err != nil {
		return CheckpointResult{}, err
	}

	t := types.Transition{
		FromState: lane.HeadState,
		ToState:   childState,
		Lane:      lane.Name,
		Intent:    intent,
		Status:    types.TransitionProposed,
	}
	id, err := r.ledger.InsertTransition(t)
	if err != nil {
		return CheckpointResult{}, err
	}
	t.ID = id
	r.publish(&events.Event{Type: events.TransitionProposed, Lane: lane.Name, Workspace: workspaceName, Context: map[string]string{"transition_id": id}})

	if !autoAccept {
		return CheckpointResult{Transition: t, BudgetWarnings: warnings}, nil
	}

	summary := evaluate.Run(ctx, r.workspace.Dir(workspaceName), evaluators)
	t.EvalResult = &summary
	if summary.RequiredFailed() {
		if err := r.Reject(id, &summary); err != nil {
			return CheckpointResult{}, err
		}
		t.Status = types.TransitionRejected
		return CheckpointResult{Transition: t, BudgetWarnings: warnings}, nil
	}
	if err := r.Accept(id); err != nil {
		return CheckpointResult{}, err
	}
	t.Status = types.TransitionAccepted
	// The workspace's on-disk content already matches childState (this
	// call snapshotted it); Update here is a cheap no-op diff that just
	// advances base_state so the next checkpoint diffs against the
	// right parent instead of re-proposing the same content.
	if err := r.workspace.Update(workspaceName, childState); err != nil {
		log.WithWorkspace(workspaceName).Warn().Err(err).Msg("failed to sync workspace descriptor after auto-accept")
	}
	return CheckpointResult{Transition: t, BudgetWarnings: warnings}, nil
}

// Accept accepts a proposed or evaluating transition, advancing its
// lane's head. Refuses with StaleProposal if the lane head moved since
// the transition was proposed.
func (r *Repository) Accept(id string) error {
	t, fetchErr := r.ledger.GetTransition(id)
	if err := r.ledger.Accept(id); err != nil {
		return err
	}
	if fetchErr == nil {
		r.publish(&events.Event{Type: events.TransitionAccepted, Lane: t.Lane, Context: map[string]string{"transition_id": id}})
		r.publish(&events.Event{Type: events.LaneHeadAdvanced, Lane: t.Lane, Context: map[string]string{"state": string(t.ToState)}})
	}
	return nil
}

// Reject marks a transition rejected, capturing an evaluator summary.
func (r *Repository) Reject(id string, summary *types.EvalSummary) error {
	t, fetchErr := r.ledger.GetTransition(id)
	if err := r.ledger.Reject(id, summary); err != nil {
		return err
	}
	if fetchErr == nil {
		r.publish(&events.Event{Type: events.TransitionRejected, Lane: t.Lane, Context: map[string]string{"transition_id": id}})
	}
	return nil
}
