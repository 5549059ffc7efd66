package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/config"
	"github.com/flanes-dev/flanes/pkg/evaluate"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	name     string
	required bool
	passed   bool
}

func (f fakeEvaluator) Name() string { return f.name }
func (f fakeEvaluator) Evaluate(ctx context.Context, workspaceDir string) types.EvalResult {
	return types.EvalResult{Name: f.name, Passed: f.passed, Required: f.required}
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	r, err := Init(root, config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestInit_CreatesDefaultLaneAndMainWorkspace(t *testing.T) {
	r := newTestRepo(t)
	lane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)
	require.NotEmpty(t, lane.HeadState)

	ws, err := r.Workspace().Get("main")
	require.NoError(t, err)
	require.Equal(t, "main", ws.Lane)
}

func TestOpen_SecondOpenFromSameProcessFailsWhileHeldAlive(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root, config.Default())
	require.NoError(t, err)
	defer r.Close()

	_, err = Open(root)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Resource))
}

func TestCheckpoint_NoChangeWhenWorkspaceMatchesHead(t *testing.T) {
	r := newTestRepo(t)
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "noop", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.True(t, result.NoChange)
}

func TestCheckpoint_ProposesTransitionOnChange(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Workspace().Dir("main"), "hello.txt", "hi\n")

	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "add hello", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.False(t, result.NoChange)
	require.Equal(t, types.TransitionProposed, result.Transition.Status)

	require.NoError(t, r.Accept(result.Transition.ID))
	lane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)
	require.Equal(t, result.Transition.ToState, lane.HeadState)
}

func TestCheckpoint_AutoAcceptRejectsOnRequiredFailure(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Workspace().Dir("main"), "broken.txt", "x\n")

	evaluators := []evaluate.Evaluator{fakeEvaluator{name: "lint", required: true, passed: false}}
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "broken change", AgentID: "a1"}, true, evaluators)
	require.NoError(t, err)
	require.Equal(t, types.TransitionRejected, result.Transition.Status)
}

func TestCheckpoint_AutoAcceptAcceptsWhenRequiredPasses(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Workspace().Dir("main"), "good.txt", "x\n")

	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "good change", AgentID: "a1"}, true, []evaluate.Evaluator{fakeEvaluator{name: "lint", required: true, passed: true}})
	require.NoError(t, err)
	require.Equal(t, types.TransitionAccepted, result.Transition.Status)
}

func TestCheckpoint_RefusesWhenBudgetExceeded(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.SetBudget("main", types.BudgetLimits{TokensIn: 10}))

	writeFile(t, r.Workspace().Dir("main"), "x.txt", "x\n")
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "try", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.NoError(t, r.Ledger().UpdateCost(result.Transition.ID, types.CostRecord{TokensIn: 20}))
	require.NoError(t, r.Accept(result.Transition.ID))

	writeFile(t, r.Workspace().Dir("main"), "y.txt", "y\n")
	_, err = r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "over budget", AgentID: "a1"}, false, nil)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Limit))
}

func TestPromote_NoConflictAppliesCleanly(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Ledger().CreateLane("feature", "", ""))
	mainLane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)
	require.NoError(t, r.Ledger().SetLaneHead("feature", mainLane.HeadState))

	_, err = r.Workspace().Create("feature-ws", "feature", mainLane.HeadState, "a1")
	require.NoError(t, err)
	require.NoError(t, r.Workspace().Materialize("feature-ws", mainLane.HeadState))
	writeFile(t, r.Workspace().Dir("feature-ws"), "new.txt", "new\n")
	snapHash, err := r.Workspace().Snapshot("feature-ws", mainLane.HeadState)
	require.NoError(t, err)
	require.NoError(t, r.Ledger().InsertState(snapHash))
	require.NoError(t, r.Workspace().Update("feature-ws", snapHash))

	result, err := r.Promote("feature-ws", "main", false)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.Equal(t, types.TransitionAccepted, result.Transition.Status)
}

func TestPromote_ConflictRefusedWithoutForce(t *testing.T) {
	r := newTestRepo(t)
	mainLane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)

	_, err = r.Workspace().Create("feature-ws", "main", mainLane.HeadState, "a1")
	require.NoError(t, err)
	require.NoError(t, r.Workspace().Materialize("feature-ws", mainLane.HeadState))
	writeFile(t, r.Workspace().Dir("feature-ws"), "shared.txt", "from-feature\n")
	featState, err := r.Workspace().Snapshot("feature-ws", mainLane.HeadState)
	require.NoError(t, err)
	require.NoError(t, r.Ledger().InsertState(featState))
	require.NoError(t, r.Workspace().Update("feature-ws", featState))

	writeFile(t, r.Workspace().Dir("main"), "shared.txt", "from-main\n")
	mainResult, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "main edits shared", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.NoError(t, r.Accept(mainResult.Transition.ID))

	_, err = r.Promote("feature-ws", "main", false)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestPromote_ForceOverwritesConflict(t *testing.T) {
	r := newTestRepo(t)
	mainLane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)

	_, err = r.Workspace().Create("feature-ws", "main", mainLane.HeadState, "a1")
	require.NoError(t, err)
	require.NoError(t, r.Workspace().Materialize("feature-ws", mainLane.HeadState))
	writeFile(t, r.Workspace().Dir("feature-ws"), "shared.txt", "from-feature\n")
	featState, err := r.Workspace().Snapshot("feature-ws", mainLane.HeadState)
	require.NoError(t, err)
	require.NoError(t, r.Ledger().InsertState(featState))
	require.NoError(t, r.Workspace().Update("feature-ws", featState))

	writeFile(t, r.Workspace().Dir("main"), "shared.txt", "from-main\n")
	mainResult, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "main edits shared", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.NoError(t, r.Accept(mainResult.Transition.ID))

	result, err := r.Promote("feature-ws", "main", true)
	require.NoError(t, err)
	require.NotEmpty(t, result.Conflicts)

	content, err := os.ReadFile(filepath.Join(r.Root(), "shared.txt"))
	require.NoError(t, err)
	require.Equal(t, "from-main\n", string(content)) // promote moves the lane head only; main's workspace isn't re-materialized
}

func TestTrace_WalksParentChain(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Workspace().Dir("main"), "a.txt", "a\n")
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "add a", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.NoError(t, r.Accept(result.Transition.ID))

	entries, err := r.Trace(result.Transition.ToState)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Transition)
}

func TestDiff_ReportsAddedPath(t *testing.T) {
	r := newTestRepo(t)
	mainLane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)

	writeFile(t, r.Workspace().Dir("main"), "b.txt", "b\n")
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "add b", AgentID: "a1"}, false, nil)
	require.NoError(t, err)

	diff, err := r.Diff(mainLane.HeadState, result.Transition.ToState)
	require.NoError(t, err)
	require.Contains(t, diff.Added, "b.txt")
}

func TestSearch_MatchesPrompt(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.Workspace().Dir("main"), "c.txt", "c\n")
	_, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "fix the parser bug", AgentID: "a1"}, false, nil)
	require.NoError(t, err)

	matches, err := r.Search("parser")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestRestore_RepointsLaneHead(t *testing.T) {
	r := newTestRepo(t)
	mainLane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)
	genesis := mainLane.HeadState

	writeFile(t, r.Workspace().Dir("main"), "d.txt", "d\n")
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "add d", AgentID: "a1"}, false, nil)
	require.NoError(t, err)
	require.NoError(t, r.Accept(result.Transition.ID))

	require.NoError(t, r.Restore("main", genesis))
	lane, err := r.Ledger().GetLane("main")
	require.NoError(t, err)
	require.Equal(t, genesis, lane.HeadState)

	_, err = os.Stat(filepath.Join(r.Workspace().Dir("main"), "d.txt"))
	require.True(t, os.IsNotExist(err), "restore must re-materialize the workspace, removing content not in the restored state")
}

func TestDoctor_ReportsNoIssuesOnFreshRepo(t *testing.T) {
	r := newTestRepo(t)
	report, err := r.Doctor()
	require.NoError(t, err)
	require.Empty(t, report.DirtyWorkspaces)
	require.Empty(t, report.LanesMissingHead)
	require.Empty(t, report.TransitionsMissingTo)
	require.Empty(t, report.StaleWorkspaceLocks)
	require.True(t, report.InstanceLockHealthy)
}

func TestDoctor_FlagsTransitionWhoseToStateWasDeleted(t *testing.T) {
	r := newTestRepo(t)

	writeFile(t, r.Workspace().Dir("main"), "e.txt", "e\n")
	result, err := r.Checkpoint(context.Background(), "main", types.Intent{Prompt: "add e", AgentID: "a1"}, false, nil)
	require.NoError(t, err)

	// Simulate a corrupted CAS: the transition's to_state is gone, but
	// the transition itself (still proposed, not rejected) remains.
	_, err = r.CAS().Delete(cas.KindState, result.Transition.ToState)
	require.NoError(t, err)

	report, err := r.Doctor()
	require.NoError(t, err)
	require.Contains(t, report.TransitionsMissingTo, result.Transition.ID)
}

func TestDoctor_DetectsInstanceLockTamperedOnDisk(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), ".state", "instance.lock"), []byte(`{"token":"bogus","hostname":"nope","pid":1,"opened_at":"2020-01-01T00:00:00Z"}`), 0644))

	report, err := r.Doctor()
	require.NoError(t, err)
	require.False(t, report.InstanceLockHealthy)
}

func TestBudget_SetAndGetRoundTrips(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.SetBudget("main", types.BudgetLimits{TokensIn: 100, AlertPercent: 80}))
	limits, err := r.GetBudget("main")
	require.NoError(t, err)
	require.Equal(t, int64(100), limits.TokensIn)
	require.Equal(t, 80, limits.AlertPercent)
}
