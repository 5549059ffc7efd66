package repo

import (
	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/types"
)

// TraceEntry pairs a state on a lineage walk with the transition whose
// to_state produced it (absent for a genesis state no transition
// points at).
type TraceEntry struct {
	State      types.Hash
	Transition *types.Transition
}

// Trace walks state's parent_id chain back to a genesis state,
// emitting, for each node, the transition whose to_state equals it
// (spec.md §4.4). Entries are ordered newest first.
func (r *Repository) Trace(state types.Hash) ([]TraceEntry, error) {
	var entries []TraceEntry
	cur := state
	for cur != "" {
		entry := TraceEntry{State: cur}
		if t, found, err := r.ledger.TransitionByToState(cur); err != nil {
			return nil, err
		} else if found {
			tc := t
			entry.Transition = &tc
		}
		entries = append(entries, entry)

		ws, err := r.cas.GetState(cur)
		if err != nil {
			return nil, err
		}
		cur = ws.ParentID
	}
	return entries, nil
}

// Diff computes the tree-level three-set diff between two states,
// spec.md §4.4: added/removed/modified paths with their entries (mode
// and hash), so callers can resolve blob content themselves.
func (r *Repository) Diff(a, b types.Hash) (cas.DiffResult, error) {
	var aTree, bTree types.Hash
	if a != "" {
		stateA, err := r.cas.GetState(a)
		if err != nil {
			return cas.DiffResult{}, err
		}
		aTree = stateA.RootTree
	}
	if b != "" {
		stateB, err := r.cas.GetState(b)
		if err != nil {
			return cas.DiffResult{}, err
		}
		bTree = stateB.RootTree
	}
	return r.cas.Diff(aTree, bTree)
}

// Search returns every transition whose intent matches query, per
// spec.md §4.4's substring search across prompt, tags, and agent
// identity. The semantic-search variant (embedding-backed similarity)
// is an external collaborator this package only has to leave room for
// via config.Config.Embedding; it never runs here.
func (r *Repository) Search(query string) ([]types.Transition, error) {
	return r.ledger.Search(query)
}

// History returns up to limit transitions for lane (all lanes if
// empty), most recent first, optionally filtered by status.
func (r *Repository) History(lane string, limit int, status *types.TransitionStatus) ([]types.Transition, error) {
	return r.ledger.History(lane, limit, status)
}
