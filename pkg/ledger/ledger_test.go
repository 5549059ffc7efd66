package ledger

import (
	"path/filepath"
	"testing"

	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l, err := Open(db)
	require.NoError(t, err)
	return l
}

func mustRegisterState(t *testing.T, l *Ledger, hash types.Hash) {
	t.Helper()
	require.NoError(t, l.InsertState(hash))
}

func TestInsertState_Idempotent(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.InsertState("abc"))
	require.NoError(t, l.InsertState("abc"))
}

func TestCreateLane_RejectsInvalidName(t *testing.T) {
	l := newTestLedger(t)
	err := l.CreateLane("bad/name", "", "")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Validation))
}

func TestCreateLane_RejectsDuplicate(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	err := l.CreateLane("main", "", "")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestInsertTransition_RejectsUnknownToState(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	_, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "nope"})
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.NotFound))
}

func TestInsertTransition_RejectsUnknownLane(t *testing.T) {
	l := newTestLedger(t)
	mustRegisterState(t, l, "state1")
	_, err := l.InsertTransition(types.Transition{Lane: "ghost", ToState: "state1"})
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.NotFound))
}

func TestInsertTransition_GeneratesID(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "state1", Intent: types.Intent{Prompt: "do the thing"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := l.GetTransition(id)
	require.NoError(t, err)
	require.Equal(t, types.TransitionProposed, got.Status)
	require.NotEmpty(t, got.Intent.ID)
}

func TestAccept_AdvancesLaneHead(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", FromState: "", ToState: "state1"})
	require.NoError(t, err)

	require.NoError(t, l.Accept(id))

	lane, err := l.GetLane("main")
	require.NoError(t, err)
	require.Equal(t, types.Hash("state1"), lane.HeadState)

	transition, err := l.GetTransition(id)
	require.NoError(t, err)
	require.Equal(t, types.TransitionAccepted, transition.Status)
}

func TestAccept_RefusesStaleProposal(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")
	mustRegisterState(t, l, "state2")

	id1, err := l.InsertTransition(types.Transition{Lane: "main", FromState: "", ToState: "state1"})
	require.NoError(t, err)
	id2, err := l.InsertTransition(types.Transition{Lane: "main", FromState: "", ToState: "state2"})
	require.NoError(t, err)

	require.NoError(t, l.Accept(id1))

	err = l.Accept(id2)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestAccept_RejectsIllegalStatusChange(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "state1"})
	require.NoError(t, err)
	require.NoError(t, l.Accept(id))

	err = l.Accept(id)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestReject_SetsStatus(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "state1"})
	require.NoError(t, err)

	summary := &types.EvalSummary{Results: []types.EvalResult{{Name: "lint", Passed: false, Required: true}}}
	require.NoError(t, l.Reject(id, summary))

	got, err := l.GetTransition(id)
	require.NoError(t, err)
	require.Equal(t, types.TransitionRejected, got.Status)
	require.True(t, got.EvalResult.RequiredFailed())
}

func TestUpdateCost_AccumulatesWhileOpen(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "state1"})
	require.NoError(t, err)

	require.NoError(t, l.UpdateCost(id, types.CostRecord{TokensIn: 100, TokensOut: 50}))
	require.NoError(t, l.UpdateCost(id, types.CostRecord{TokensIn: 10}))

	got, err := l.GetTransition(id)
	require.NoError(t, err)
	require.Equal(t, int64(110), got.Cost.TokensIn)
	require.Equal(t, int64(50), got.Cost.TokensOut)
}

func TestUpdateCost_RefusesAfterAccept(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "state1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "state1"})
	require.NoError(t, err)
	require.NoError(t, l.Accept(id))

	err = l.UpdateCost(id, types.CostRecord{TokensIn: 1})
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestListLanes_AndDeleteLane(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	require.NoError(t, l.CreateLane("feature-x", "", ""))

	lanes, err := l.ListLanes()
	require.NoError(t, err)
	require.Len(t, lanes, 2)

	require.NoError(t, l.DeleteLane("feature-x"))
	lanes, err = l.ListLanes()
	require.NoError(t, err)
	require.Len(t, lanes, 1)

	err = l.DeleteLane("feature-x")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.NotFound))
}

func TestHistory_FiltersByLaneAndStatus(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	require.NoError(t, l.CreateLane("other", "", ""))
	mustRegisterState(t, l, "s1")
	mustRegisterState(t, l, "s2")

	id1, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "s1"})
	require.NoError(t, err)
	_, err = l.InsertTransition(types.Transition{Lane: "other", ToState: "s2"})
	require.NoError(t, err)
	require.NoError(t, l.Accept(id1))

	mainHistory, err := l.History("main", 0, nil)
	require.NoError(t, err)
	require.Len(t, mainHistory, 1)

	accepted := types.TransitionAccepted
	acceptedOnly, err := l.History("", 0, &accepted)
	require.NoError(t, err)
	require.Len(t, acceptedOnly, 1)
	require.Equal(t, id1, acceptedOnly[0].ID)
}

func TestTransitionByToState(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "s1")

	id, err := l.InsertTransition(types.Transition{Lane: "main", ToState: "s1"})
	require.NoError(t, err)

	got, found, err := l.TransitionByToState("s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id, got.ID)

	_, found, err = l.TransitionByToState("nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSearch_MatchesPromptAndTags(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.CreateLane("main", "", ""))
	mustRegisterState(t, l, "s1")
	mustRegisterState(t, l, "s2")

	_, err := l.InsertTransition(types.Transition{
		Lane: "main", ToState: "s1",
		Intent: types.Intent{Prompt: "refactor the auth module", Tags: []string{"auth", "cleanup"}},
	})
	require.NoError(t, err)
	_, err = l.InsertTransition(types.Transition{
		Lane: "main", ToState: "s2",
		Intent: types.Intent{Prompt: "add retry logic", AgentID: "agent-7"},
	})
	require.NoError(t, err)

	byPrompt, err := l.Search("auth")
	require.NoError(t, err)
	require.Len(t, byPrompt, 1)

	byAgent, err := l.Search("agent-7")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)

	byNothing, err := l.Search("nonexistent")
	require.NoError(t, err)
	require.Len(t, byNothing, 0)
}
