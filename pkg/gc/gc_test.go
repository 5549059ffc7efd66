package gc

import (
	"path/filepath"
	"testing"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/ledger"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/flanes-dev/flanes/pkg/workspace"
	"github.com/stretchr/testify/require"
)

type harness struct {
	db  *store.DB
	cas *cas.Store
	l   *ledger.Ledger
	ws  *workspace.Manager
	gc  *GC
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	db, err := store.Open(filepath.Join(root, ".state", "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := cas.Open(db, cas.Options{BlobsDir: filepath.Join(root, ".state", "blobs")})
	require.NoError(t, err)

	l, err := ledger.Open(db)
	require.NoError(t, err)

	ws, err := workspace.Open(root, db, c)
	require.NoError(t, err)

	return &harness{db: db, cas: c, l: l, ws: ws, gc: New(l, c, ws)}
}

// buildState stores a single-file tree and state, returning its hash
// and the blob hash it contains.
func (h *harness) buildState(t *testing.T, parent types.Hash, content string) (types.Hash, types.Hash) {
	t.Helper()
	blob, err := h.cas.PutBlob([]byte(content))
	require.NoError(t, err)
	tree, err := h.cas.PutTree([]types.TreeEntry{{Name: "f.txt", Kind: types.EntryBlob, Hash: blob, Mode: 0644}})
	require.NoError(t, err)
	state, err := h.cas.PutState(tree, parent, types.Now())
	require.NoError(t, err)
	return state, blob
}

func TestRun_DryRun_DoesNotDelete(t *testing.T) {
	h := newHarness(t)
	state, blob := h.buildState(t, "", "orphaned\n")
	require.NoError(t, h.l.InsertState(state))

	report, err := h.gc.Run(Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedStates)
	require.Equal(t, 2, report.DeletedObjects) // one tree, one blob
	require.True(t, report.DryRun)

	has, err := h.cas.Has(cas.KindBlob, blob)
	require.NoError(t, err)
	require.True(t, has, "dry-run must not actually delete")

	has, err = h.cas.Has(cas.KindState, state)
	require.NoError(t, err)
	require.True(t, has, "dry-run must not actually delete")
}

func TestRun_Sweep_DeletesUnreachableObjects(t *testing.T) {
	h := newHarness(t)
	state, blob := h.buildState(t, "", "orphaned\n")
	require.NoError(t, h.l.InsertState(state))

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Equal(t, 2, report.DeletedObjects)
	require.Equal(t, 1, report.DeletedStates)
	require.Positive(t, report.DeletedBytes)

	has, err := h.cas.Has(cas.KindBlob, blob)
	require.NoError(t, err)
	require.False(t, has)

	has, err = h.cas.Has(cas.KindState, state)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRun_KeepsLaneHeadReachable(t *testing.T) {
	h := newHarness(t)
	state, blob := h.buildState(t, "", "kept\n")
	require.NoError(t, h.l.InsertState(state))
	require.NoError(t, h.l.CreateLane("main", state, ""))

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Equal(t, 0, report.DeletedObjects)
	require.Equal(t, 0, report.DeletedStates)

	has, err := h.cas.Has(cas.KindBlob, blob)
	require.NoError(t, err)
	require.True(t, has)
}

func TestRun_KeepsForkBaseReachable(t *testing.T) {
	h := newHarness(t)
	base, _ := h.buildState(t, "", "base\n")
	head, _ := h.buildState(t, base, "head\n")
	require.NoError(t, h.l.InsertState(base))
	require.NoError(t, h.l.InsertState(head))
	require.NoError(t, h.l.CreateLane("main", head, base))

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Equal(t, 0, report.DeletedStates)
	require.Equal(t, 0, report.DeletedObjects)
}

func TestRun_KeepsNonRejectedTransitionToState(t *testing.T) {
	h := newHarness(t)
	head, _ := h.buildState(t, "", "head\n")
	proposedTo, _ := h.buildState(t, head, "proposed\n")
	require.NoError(t, h.l.InsertState(head))
	require.NoError(t, h.l.InsertState(proposedTo))
	require.NoError(t, h.l.CreateLane("main", head, ""))

	_, err := h.l.InsertTransition(types.Transition{
		FromState: head,
		ToState:   proposedTo,
		Lane:      "main",
		Intent:    types.Intent{Prompt: "do a thing", AgentID: "agent-1"},
	})
	require.NoError(t, err)

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Equal(t, 0, report.DeletedStates)
}

func TestRun_DeletesUnreachableStateNotInAnyLaneOrTransition(t *testing.T) {
	h := newHarness(t)
	head, _ := h.buildState(t, "", "head\n")
	stray, _ := h.buildState(t, "", "stray\n")
	require.NoError(t, h.l.InsertState(head))
	require.NoError(t, h.l.InsertState(stray))
	require.NoError(t, h.l.CreateLane("main", head, ""))

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedStates)
}

func TestRun_DeletesAgedRejectedTransitions(t *testing.T) {
	h := newHarness(t)
	head, _ := h.buildState(t, "", "head\n")
	rejectedTo, _ := h.buildState(t, head, "rejected\n")
	require.NoError(t, h.l.InsertState(head))
	require.NoError(t, h.l.InsertState(rejectedTo))
	require.NoError(t, h.l.CreateLane("main", head, ""))

	oldTimestamp := types.Now() - int64(40*24*60*60)
	id, err := h.l.InsertTransition(types.Transition{
		FromState: head,
		ToState:   rejectedTo,
		Lane:      "main",
		Intent:    types.Intent{Prompt: "try something", AgentID: "agent-1"},
		Status:    types.TransitionRejected,
		CreatedAt: oldTimestamp,
	})
	require.NoError(t, err)

	report, err := h.gc.Run(Options{DryRun: false, MaxAgeDays: 30})
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedTransitions)

	_, err = h.l.GetTransition(id)
	require.Error(t, err)
}

func TestRun_KeepsRecentRejectedTransitions(t *testing.T) {
	h := newHarness(t)
	head, _ := h.buildState(t, "", "head\n")
	rejectedTo, _ := h.buildState(t, head, "rejected\n")
	require.NoError(t, h.l.InsertState(head))
	require.NoError(t, h.l.InsertState(rejectedTo))
	require.NoError(t, h.l.CreateLane("main", head, ""))

	_, err := h.l.InsertTransition(types.Transition{
		FromState: head,
		ToState:   rejectedTo,
		Lane:      "main",
		Intent:    types.Intent{Prompt: "try something", AgentID: "agent-1"},
		Status:    types.TransitionRejected,
	})
	require.NoError(t, err)

	report, err := h.gc.Run(Options{DryRun: false, MaxAgeDays: 30})
	require.NoError(t, err)
	require.Equal(t, 0, report.DeletedTransitions)
}

// TestRun_MaxAgeDaysZeroSweepsImmediately reproduces spec.md's GC
// scenario 6 literally: propose T1 (S0->S1), reject it, run GC with
// max_age_days=0. T1 and S1 (and blobs only S1 reaches) must be
// deleted on the first pass; S0 and its blobs survive; a second run
// deletes nothing further.
func TestRun_MaxAgeDaysZeroSweepsImmediately(t *testing.T) {
	h := newHarness(t)
	s0, blob0 := h.buildState(t, "", "s0\n")
	s1, blob1 := h.buildState(t, s0, "s1\n")
	require.NoError(t, h.l.InsertState(s0))
	require.NoError(t, h.l.InsertState(s1))
	require.NoError(t, h.l.CreateLane("main", s0, ""))

	id, err := h.l.InsertTransition(types.Transition{
		FromState: s0,
		ToState:   s1,
		Lane:      "main",
		Intent:    types.Intent{Prompt: "try something", AgentID: "agent-1"},
	})
	require.NoError(t, err)
	require.NoError(t, h.l.Reject(id, nil))

	report, err := h.gc.Run(Options{DryRun: false, MaxAgeDays: 0})
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedTransitions)
	require.Equal(t, 1, report.DeletedStates)

	_, err = h.l.GetTransition(id)
	require.Error(t, err)

	hasS1, err := h.cas.Has(cas.KindState, s1)
	require.NoError(t, err)
	require.False(t, hasS1)
	hasBlob1, err := h.cas.Has(cas.KindBlob, blob1)
	require.NoError(t, err)
	require.False(t, hasBlob1)

	hasS0, err := h.cas.Has(cas.KindState, s0)
	require.NoError(t, err)
	require.True(t, hasS0)
	hasBlob0, err := h.cas.Has(cas.KindBlob, blob0)
	require.NoError(t, err)
	require.True(t, hasBlob0)

	report2, err := h.gc.Run(Options{DryRun: false, MaxAgeDays: 0})
	require.NoError(t, err)
	require.Equal(t, 0, report2.DeletedTransitions)
	require.Equal(t, 0, report2.DeletedStates)
}

func TestRun_PrunesStaleStatCacheAfterSweepingBlob(t *testing.T) {
	h := newHarness(t)
	state, blob := h.buildState(t, "", "materialized\n")

	_, err := h.ws.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, h.ws.Materialize("feature", state))
	_, err = h.ws.Snapshot("feature", "")
	require.NoError(t, err)

	entries, err := h.ws.IterStatCache()
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	report, err := h.gc.Run(Options{DryRun: false})
	require.NoError(t, err)
	require.Positive(t, report.PrunedCache)

	has, err := h.cas.Has(cas.KindBlob, blob)
	require.NoError(t, err)
	require.False(t, has)

	entries, err = h.ws.IterStatCache()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_ReportsReachableCount(t *testing.T) {
	h := newHarness(t)
	state, _ := h.buildState(t, "", "x\n")
	require.NoError(t, h.l.InsertState(state))
	require.NoError(t, h.l.CreateLane("main", state, ""))

	report, err := h.gc.Run(Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 3, report.Reachable) // 1 state + 1 tree + 1 blob
}
