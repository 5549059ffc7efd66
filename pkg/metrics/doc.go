/*
Package metrics provides Prometheus metrics collection and exposition for Flanes.

The metrics package defines and registers every Flanes metric using the
Prometheus client library, giving an operator visibility into store
growth, ledger throughput, workspace materialization cost, and garbage
collection activity. Metrics are exposed via an HTTP handler for
scraping by a Prometheus server; wiring that handler into a listener is
left to the embedding program (cmd/flanes or a caller's own server),
matching Warren's separation between metric definition and metric
exposition.

# Metric Categories

CAS: object counts (blobs/trees/states), total stored bytes, put
latency, and dedup-hit rate — the last distinguishes a put() that wrote
new bytes from one that matched existing content.

Ledger: transitions by status, lane count, and per-operation
transaction duration.

Workspace: snapshot/materialize/update latency, files touched by
action (write on materialize; add/modify/remove on update), lock wait
time, and stale-lock reclaim count.

Repository core: promote conflict count, promote latency, budget-
exceeded count by lane, and per-evaluator duration.

GC: run duration, run count by mode (dry-run/sweep), and objects/bytes
reclaimed.

# Usage

	import "github.com/flanes-dev/flanes/pkg/metrics"

	timer := metrics.NewTimer()
	// ... perform the operation ...
	timer.ObserveDuration(metrics.BlobPutDuration)

	metrics.TransitionsTotal.WithLabelValues("accepted").Inc()

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

All metrics are package-level variables registered once in init(), the
same registration discipline Warren uses: no runtime registration,
MustRegister panics loudly on a duplicate name instead of silently
dropping a metric. Label sets stay low-cardinality (status, mode,
action, lane, evaluator name) — never a transition ID or a hash.
*/
package metrics
