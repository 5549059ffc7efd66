package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CAS metrics
	BlobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flanes_cas_blobs_total",
			Help: "Total number of distinct blobs stored in the CAS",
		},
	)

	TreesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flanes_cas_trees_total",
			Help: "Total number of distinct trees stored in the CAS",
		},
	)

	StatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flanes_cas_states_total",
			Help: "Total number of distinct world states stored in the CAS",
		},
	)

	StoreBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flanes_cas_bytes_total",
			Help: "Total bytes of content held by the CAS (inlined + spilled)",
		},
	)

	BlobPutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_cas_blob_put_duration_seconds",
			Help:    "Time taken to ingest a blob into the CAS",
			Buckets: prometheus.DefBuckets,
		},
	)

	TreePutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_cas_tree_put_duration_seconds",
			Help:    "Time taken to ingest a tree into the CAS",
			Buckets: prometheus.DefBuckets,
		},
	)

	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flanes_cas_dedup_hits_total",
			Help: "Total number of put_blob/put_tree calls that matched already-present content",
		},
	)

	// Ledger metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flanes_ledger_transitions_total",
			Help: "Total number of transitions by status",
		},
		[]string{"status"},
	)

	LanesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flanes_ledger_lanes_total",
			Help: "Total number of lanes",
		},
	)

	LedgerTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flanes_ledger_tx_duration_seconds",
			Help:    "Time taken by a ledger transaction, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Workspace manager metrics
	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_workspace_snapshot_duration_seconds",
			Help:    "Time taken to snapshot a workspace directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaterializeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_workspace_materialize_duration_seconds",
			Help:    "Time taken to materialize a workspace from a state",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_workspace_update_duration_seconds",
			Help:    "Time taken to incrementally update a workspace",
			Buckets: prometheus.DefBuckets,
		},
	)

	FilesTouchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flanes_workspace_files_touched_total",
			Help: "Total number of files written or removed by materialize/update, by action",
		},
		[]string{"action"},
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_workspace_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a workspace lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockReclaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flanes_workspace_lock_reclaims_total",
			Help: "Total number of stale workspace locks reclaimed",
		},
	)

	// Repository core metrics
	PromoteConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flanes_repo_promote_conflicts_total",
			Help: "Total number of promote() calls that returned PromoteConflict",
		},
	)

	PromoteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_repo_promote_duration_seconds",
			Help:    "Time taken by promote()",
			Buckets: prometheus.DefBuckets,
		},
	)

	BudgetExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flanes_repo_budget_exceeded_total",
			Help: "Total number of propose/checkpoint calls rejected for budget overrun, by lane",
		},
		[]string{"lane"},
	)

	EvaluatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flanes_repo_evaluator_duration_seconds",
			Help:    "Time taken by a single evaluator run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"evaluator"},
	)

	// GC metrics
	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flanes_gc_duration_seconds",
			Help:    "Time taken by a garbage collection run",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flanes_gc_runs_total",
			Help: "Total number of garbage collection runs, by mode",
		},
		[]string{"mode"},
	)

	GCDeletedObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flanes_gc_deleted_objects_total",
			Help: "Total number of blobs/trees/states deleted by GC",
		},
	)

	GCDeletedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flanes_gc_deleted_bytes_total",
			Help: "Total bytes reclaimed by GC",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BlobsTotal, TreesTotal, StatesTotal, StoreBytesTotal,
		BlobPutDuration, TreePutDuration, DedupHitsTotal,
		TransitionsTotal, LanesTotal, LedgerTxDuration,
		SnapshotDuration, MaterializeDuration, UpdateDuration,
		FilesTouchedTotal, LockWaitDuration, LockReclaimsTotal,
		PromoteConflictsTotal, PromoteDuration, BudgetExceededTotal, EvaluatorDuration,
		GCDuration, GCRunsTotal, GCDeletedObjectsTotal, GCDeletedBytesTotal,
	)
}

// Handler returns the Prometheus HTTP handler, for an operator-supplied
// mux; exposing it over the network is the out-of-scope REST server's
// job, not this package's.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
