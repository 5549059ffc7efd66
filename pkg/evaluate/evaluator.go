package evaluate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/types"
)

// DefaultTimeout applies when a Spec's TimeoutSeconds is zero or negative.
const DefaultTimeout = 30 * time.Second

// Evaluator looks at a materialized workspace directory and returns a
// verdict. Implementations must respect ctx cancellation.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, workspaceDir string) types.EvalResult
}

// Spec is the configuration document's per-evaluator entry, spec.md
// §6: `{name, command|args, working_directory?, required,
// timeout_seconds}`.
type Spec struct {
	Name             string   `json:"name" yaml:"name"`
	Command          []string `json:"command" yaml:"command"`
	WorkingDirectory string   `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Required         bool     `json:"required" yaml:"required"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ExecEvaluator runs Spec.Command as a subprocess rooted at the
// workspace directory (or WorkingDirectory beneath it), treating exit
// code zero as passed.
type ExecEvaluator struct {
	spec Spec
}

// NewExecEvaluator builds an ExecEvaluator from spec.
func NewExecEvaluator(spec Spec) *ExecEvaluator {
	return &ExecEvaluator{spec: spec}
}

func (e *ExecEvaluator) Name() string { return e.spec.Name }

// Evaluate runs the command with a bounded timeout, capturing combined
// output (truncated) into the result's Detail.
func (e *ExecEvaluator) Evaluate(ctx context.Context, workspaceDir string) types.EvalResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EvaluatorDuration, e.spec.Name)

	if len(e.spec.Command) == 0 {
		return types.EvalResult{Name: e.spec.Name, Passed: false, Required: e.spec.Required, Detail: "no command configured"}
	}

	timeout := DefaultTimeout
	if e.spec.TimeoutSeconds > 0 {
		timeout = time.Duration(e.spec.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := workspaceDir
	if e.spec.WorkingDirectory != "" {
		dir = filepath.Join(workspaceDir, e.spec.WorkingDirectory)
	}

	cmd := exec.CommandContext(runCtx, e.spec.Command[0], e.spec.Command[1:]...)
	cmd.Dir = dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	detail := truncate(output.String(), 4096)
	passed := err == nil
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}

	log.WithComponent("evaluate").Debug().Str("evaluator", e.spec.Name).Bool("passed", passed).Msg("evaluator ran")
	return types.EvalResult{Name: e.spec.Name, Passed: passed, Required: e.spec.Required, Detail: detail}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Run executes every evaluator against workspaceDir and assembles a
// types.EvalSummary. Evaluators run sequentially: spec.md names no
// concurrency requirement, and sequential execution keeps command
// working-directory contention (linters, formatters) out of scope.
func Run(ctx context.Context, workspaceDir string, evaluators []Evaluator) types.EvalSummary {
	started := types.Now()
	results := make([]types.EvalResult, 0, len(evaluators))
	for _, e := range evaluators {
		results = append(results, e.Evaluate(ctx, workspaceDir))
	}
	return types.EvalSummary{Results: results, StartedAt: started, EndedAt: types.Now()}
}
