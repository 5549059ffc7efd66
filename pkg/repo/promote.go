package repo

import (
	"strings"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/types"
)

// ConflictSide names which kind of change a path underwent on one side
// of a promotion.
type ConflictSide string

const (
	SideAdded    ConflictSide = "added"
	SideRemoved  ConflictSide = "removed"
	SideModified ConflictSide = "modified"
)

// Conflict is one path promote() could not reconcile automatically.
type Conflict struct {
	Path       string
	SourceSide ConflictSide
	TargetSide ConflictSide
}

// PromoteResult is promote's outcome: either a new accepted transition
// on the target lane, or - when conflicts exist and force is false - a
// PromoteConflict report with no mutation performed.
type PromoteResult struct {
	Transition types.Transition
	Conflicts  []Conflict
}

// Promote composes sourceWorkspace's work onto targetLane without
// textual merging, spec.md §4.4: find the lowest common ancestor of the
// source workspace's base state and the target lane's head over the
// parent_id DAG, diff each side against it, and either refuse on a
// conflicting path set or rebuild the target tree with the source's
// changes applied (force additionally overwrites conflicting paths).
func (r *Repository) Promote(sourceWorkspace, targetLane string, force bool) (PromoteResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PromoteDuration)

	source, err := r.workspace.Get(sourceWorkspace)
	if err != nil {
		return PromoteResult{}, err
	}
	target, err := r.ledger.GetLane(targetLane)
	if err != nil {
		return PromoteResult{}, err
	}

	sourceHead := source.BaseState
	targetHead := target.HeadState

	ancestor, err := r.lowestCommonAncestor(sourceHead, targetHead)
	if err != nil {
		return PromoteResult{}, err
	}

	ancestorTree, err := r.rootTreeOf(ancestor)
	if err != nil {
		return PromoteResult{}, err
	}
	sourceTree, err := r.rootTreeOf(sourceHead)
	if err != nil {
		return PromoteResult{}, err
	}
	targetTree, err := r.rootTreeOf(targetHead)
	if err != nil {
		return PromoteResult{}, err
	}

	sourceDiff, err := r.cas.Diff(ancestorTree, sourceTree)
	if err != nil {
		return PromoteResult{}, err
	}
	targetDiff, err := r.cas.Diff(ancestorTree, targetTree)
	if err != nil {
		return PromoteResult{}, err
	}

	conflicts := computeConflicts(sourceDiff, targetDiff)
	if len(conflicts) > 0 && !force {
		metrics.PromoteConflictsTotal.Inc()
		r.publish(&events.Event{Type: events.PromoteConflict, Lane: targetLane, Workspace: sourceWorkspace, Context: map[string]string{"paths": strings.Join(conflictPaths(conflicts), ",")}})
		return PromoteResult{Conflicts: conflicts}, flerr.WithFields(flerr.ErrPromoteConflict, map[string]any{
			"paths": conflictPaths(conflicts),
		})
	}

	newTree, err := r.applyDiff(targetTree, sourceDiff)
	if err != nil {
		return PromoteResult{}, err
	}
	newState, err := r.cas.PutState(newTree, targetHead, types.Now())
	if err != nil {
		return PromoteResult{}, err
	}
	if err := r.ledger.InsertState(newState); err != nil {
		return PromoteResult{}, err
	}

	t := types.Transition{
		FromState: targetHead,
		ToState:   newState,
		Lane:      targetLane,
		Intent: types.Intent{
			Prompt:  "promote from " + source.Lane,
			AgentID: source.AgentID,
			Tags:    []string{"promote"},
			Metadata: map[string]types.Value{
				"from":             types.TextValue(source.Lane),
				"source_workspace": types.TextValue(sourceWorkspace),
			},
		},
		Status: types.TransitionProposed,
	}
	id, err := r.ledger.InsertTransition(t)
	if err != nil {
		return PromoteResult{}, err
	}
	t.ID = id
	if err := r.Accept(id); err != nil {
		return PromoteResult{}, err
	}
	t.Status = types.TransitionAccepted

	log.WithLane(targetLane).Info().Str("source_workspace", sourceWorkspace).Int("conflicts", len(conflicts)).Bool("force", force).Msg("promote complete")
	return PromoteResult{Transition: t, Conflicts: conflicts}, nil
}

func (r *Repository) rootTreeOf(state types.Hash) (types.Hash, error) {
	if state == "" {
		return "", nil
	}
	ws, err := r.cas.GetState(state)
	if err != nil {
		return "", err
	}
	return ws.RootTree, nil
}

// lowestCommonAncestor walks a's ancestor chain into a set, then walks
// b's chain until it hits a member of that set. The empty state is
// never treated as a shared ancestor: two unrelated genesis states
// both terminating at ∅ are disjoint, not related.
func (r *Repository) lowestCommonAncestor(a, b types.Hash) (types.Hash, error) {
	ancestorsOfA := make(map[types.Hash]bool)
	cur := a
	for cur != "" {
		ancestorsOfA[cur] = true
		state, err := r.cas.GetState(cur)
		if err != nil {
			return "", err
		}
		cur = state.ParentID
	}

	cur = b
	for cur != "" {
		if ancestorsOfA[cur] {
			return cur, nil
		}
		state, err := r.cas.GetState(cur)
		if err != nil {
			return "", err
		}
		cur = state.ParentID
	}
	return "", flerr.ErrNoCommonAncestor
}

// computeConflicts applies spec.md §4.4's tie-break rules: a path
// touched on only one side never conflicts; removal vs modification on
// both sides always conflicts; identical content change (same hash and
// mode) on both sides does not.
func computeConflicts(sourceDiff, targetDiff cas.DiffResult) []Conflict {
	touched := func(d cas.DiffResult, p string) (ConflictSide, types.TreeEntry, bool) {
		if e, ok := d.Added[p]; ok {
			return SideAdded, e, true
		}
		if e, ok := d.Removed[p]; ok {
			return SideRemoved, e, true
		}
		if e, ok := d.Modified[p]; ok {
			return SideModified, e, true
		}
		return "", types.TreeEntry{}, false
	}

	paths := make(map[string]bool)
	for p := range sourceDiff.Added {
		paths[p] = true
	}
	for p := range sourceDiff.Removed {
		paths[p] = true
	}
	for p := range sourceDiff.Modified {
		paths[p] = true
	}

	var conflicts []Conflict
	for p := range paths {
		sSide, sEntry, sOK := touched(sourceDiff, p)
		tSide, tEntry, tOK := touched(targetDiff, p)
		if !sOK || !tOK {
			continue
		}
		if sSide == tSide {
			if sSide == SideRemoved {
				continue // both sides removed it: no conflict
			}
			if sEntry.Hash == tEntry.Hash && sEntry.Mode == tEntry.Mode {
				continue // identical content change on both sides: no conflict
			}
		}
		conflicts = append(conflicts, Conflict{Path: p, SourceSide: sSide, TargetSide: tSide})
	}
	return conflicts
}

func conflictPaths(conflicts []Conflict) []string {
	paths := make([]string, len(conflicts))
	for i, c := range conflicts {
		paths[i] = c.Path
	}
	return paths
}

// applyDiff rebuilds targetTree with diff's added/removed/modified
// paths applied. Every directory of the flattened result is re-put;
// PutTree's own dedup makes the unaffected subtrees cheap no-op
// lookups.
func (r *Repository) applyDiff(targetTree types.Hash, diff cas.DiffResult) (types.Hash, error) {
	flat, err := r.cas.Flatten(targetTree)
	if err != nil {
		return "", err
	}
	for p := range diff.Removed {
		delete(flat, p)
	}
	for p, e := range diff.Added {
		flat[p] = e
	}
	for p, e := range diff.Modified {
		flat[p] = e
	}
	return r.rebuildTree(flat)
}

// treeNode is an in-memory scratch structure for turning a flat
// path->entry map back into the nested tree hierarchy PutTree expects.
type treeNode struct {
	isDir    bool
	entry    types.TreeEntry
	children map[string]*treeNode
}

func (r *Repository) rebuildTree(flat map[string]types.TreeEntry) (types.Hash, error) {
	root := &treeNode{isDir: true, children: map[string]*treeNode{}}
	for p, e := range flat {
		parts := strings.Split(p, "/")
		cur := root
		for i, part := range parts {
			last := i == len(parts)-1
			if last {
				cur.children[part] = &treeNode{entry: withName(e, part)}
				continue
			}
			child, ok := cur.children[part]
			if !ok || !child.isDir {
				child = &treeNode{isDir: true, children: map[string]*treeNode{}}
				cur.children[part] = child
			}
			cur = child
		}
	}

	var build func(n *treeNode) (types.Hash, error)
	build = func(n *treeNode) (types.Hash, error) {
		var entries []types.TreeEntry
		for name, child := range n.children {
			if child.isDir {
				h, err := build(child)
				if err != nil {
					return "", err
				}
				entries = append(entries, types.TreeEntry{Name: name, Kind: types.EntryTree, Hash: h, Mode: 0755})
				continue
			}
			entries = append(entries, child.entry)
		}
		return r.cas.PutTree(entries)
	}
	return build(root)
}

func withName(e types.TreeEntry, name string) types.TreeEntry {
	e.Name = name
	return e
}
