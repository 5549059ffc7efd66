/*
Package gc implements Flanes's garbage collector, spec.md §4.5: a
mark-and-sweep pass over the shared store that reclaims blobs, trees,
and states no lane or pending transition references any more, ages out
old rejected transitions, and prunes stat-cache rows left pointing at
blobs that no longer exist.

Warren's pkg/reconciler runs a mutex-guarded, metrics-timed pass
over cluster state on a 10-second ticker, converging observed state
toward desired state. GC keeps that same shape — a single guarded,
timed Run call — but drops the ticker: a repository's garbage
collector is invoked explicitly (a CLI command, a maintenance job), not
polled, so Run replaces the reconciler's Start/Stop goroutine pair with
one synchronous call a caller schedules however it likes.

Run always computes and reports what mark/sweep would do, and mutates
the store whenever Options.DryRun is false, including for a zero
Options. The `flanes gc` command is dry-run by default and passes
DryRun=false only with --sweep.
*/
package gc
