package evaluate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecEvaluator_Passes(t *testing.T) {
	e := NewExecEvaluator(Spec{Name: "true-check", Command: []string{"true"}, Required: true})
	result := e.Evaluate(context.Background(), t.TempDir())
	require.True(t, result.Passed)
	require.Equal(t, "true-check", result.Name)
	require.True(t, result.Required)
}

func TestExecEvaluator_Fails(t *testing.T) {
	e := NewExecEvaluator(Spec{Name: "false-check", Command: []string{"false"}, Required: true})
	result := e.Evaluate(context.Background(), t.TempDir())
	require.False(t, result.Passed)
}

func TestExecEvaluator_NoCommand(t *testing.T) {
	e := NewExecEvaluator(Spec{Name: "empty"})
	result := e.Evaluate(context.Background(), t.TempDir())
	require.False(t, result.Passed)
	require.Contains(t, result.Detail, "no command configured")
}

func TestExecEvaluator_TimesOut(t *testing.T) {
	e := NewExecEvaluator(Spec{Name: "slow", Command: []string{"sleep", "5"}, TimeoutSeconds: 1})
	start := time.Now()
	result := e.Evaluate(context.Background(), t.TempDir())
	require.False(t, result.Passed)
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_AssemblesSummary(t *testing.T) {
	evaluators := []Evaluator{
		NewExecEvaluator(Spec{Name: "ok", Command: []string{"true"}, Required: true}),
		NewExecEvaluator(Spec{Name: "bad", Command: []string{"false"}, Required: false}),
	}
	summary := Run(context.Background(), t.TempDir(), evaluators)
	require.Len(t, summary.Results, 2)
	require.False(t, summary.RequiredFailed())
}

func TestRun_RequiredFailureDetected(t *testing.T) {
	evaluators := []Evaluator{
		NewExecEvaluator(Spec{Name: "must-pass", Command: []string{"false"}, Required: true}),
	}
	summary := Run(context.Background(), t.TempDir(), evaluators)
	require.True(t, summary.RequiredFailed())
}
