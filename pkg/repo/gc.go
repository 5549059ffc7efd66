package repo

import (
	"strconv"

	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/gc"
)

// RunGC runs a garbage collection pass over the repository and
// publishes a gc.completed lifecycle event, spec.md §4.5.
func (r *Repository) RunGC(opts gc.Options) (gc.Report, error) {
	report, err := r.gc.Run(opts)
	if err != nil {
		return report, err
	}
	r.publish(&events.Event{
		Type: events.GCCompleted,
		Context: map[string]string{
			"deleted_objects": strconv.Itoa(report.DeletedObjects),
			"deleted_states":  strconv.Itoa(report.DeletedStates),
			"dry_run":         strconv.FormatBool(report.DryRun),
		},
	})
	return report, nil
}
