/*
Package evaluate implements Flanes's evaluator capability: the
external callback the Repository Core invokes during checkpoint/accept
to decide whether a proposed transition should stand, spec.md §4.4.

An Evaluator is anything that can look at a materialized workspace and
return a pass/fail verdict. The only built-in implementation,
ExecEvaluator, runs a configured command with a bounded timeout and
treats a zero exit status as passed — the same timeout-bounded
os/exec-and-capture-output shape Warren's pkg/health uses for its
exec-based container health checks, generalized from "polled
periodically, with consecutive-failure retry logic" (a running
container's liveness) to "run once, report once" (a proposed change's
acceptability). The retry/consecutive-failure/start-period state
machine that made sense for a long-lived container has no equivalent
here and isn't carried over.

Run executes a list of Evaluators against a workspace directory and
assembles their results into the types.EvalSummary the ledger stores
alongside a transition. A required evaluator's failure is what the
Repository Core treats as grounds to reject; this package only reports,
it never decides accept/reject itself.
*/
package evaluate
