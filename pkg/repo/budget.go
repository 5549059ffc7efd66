package repo

import (
	"strings"

	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/types"
)

// budgetMetadataKey is the Lane.Metadata key budget limits are stored
// under, per spec.md §3's "metadata: map (budgets live here)".
const budgetMetadataKey = "budget"

// GetBudget returns the budget limits configured for lane, or a zero
// BudgetLimits (no limits) if none have been set.
func (r *Repository) GetBudget(laneName string) (types.BudgetLimits, error) {
	lane, err := r.ledger.GetLane(laneName)
	if err != nil {
		return types.BudgetLimits{}, err
	}
	return budgetLimitsFromLane(lane), nil
}

// SetBudget stores limits under lane's metadata, replacing whatever
// budget was previously configured. Other metadata keys are preserved.
func (r *Repository) SetBudget(laneName string, limits types.BudgetLimits) error {
	lane, err := r.ledger.GetLane(laneName)
	if err != nil {
		return err
	}
	metadata := lane.Metadata
	if metadata == nil {
		metadata = make(map[string]types.Value)
	}
	metadata[budgetMetadataKey] = budgetLimitsToValue(limits)
	return r.ledger.UpdateLaneMetadata(laneName, metadata)
}

// AggregateCost sums the cost of every accepted transition on laneName.
// Rejected and still-proposed/evaluating transitions don't count
// against budget: only work a lane actually kept.
func (r *Repository) AggregateCost(laneName string) (types.CostRecord, error) {
	accepted := types.TransitionAccepted
	transitions, err := r.ledger.History(laneName, 0, &accepted)
	if err != nil {
		return types.CostRecord{}, err
	}
	var total types.CostRecord
	for _, t := range transitions {
		total = total.Add(t.Cost)
	}
	return total, nil
}

// checkBudget enforces spec.md §4.4's budget gate: consult the lane's
// aggregated accepted cost against its configured limits, refusing
// with BudgetExceeded if any dimension is already over. Returns the
// set of dimensions that have crossed the alert threshold without
// exceeding it, for the caller to surface as a warning.
func (r *Repository) checkBudget(lane types.Lane) ([]string, error) {
	limits := budgetLimitsFromLane(lane)
	spent, err := r.AggregateCost(lane.Name)
	if err != nil {
		return nil, err
	}
	if over := limits.Exceeded(spent); len(over) > 0 {
		metrics.BudgetExceededTotal.WithLabelValues(lane.Name).Inc()
		r.publish(&events.Event{Type: events.BudgetExceeded, Lane: lane.Name, Context: map[string]string{"dimensions": strings.Join(over, ",")}})
		return nil, flerr.WithFields(flerr.ErrBudgetExceeded, map[string]any{
			"lane": lane.Name, "dimensions": over,
		})
	}
	warnings := limits.AlertThresholdCrossed(spent)
	if len(warnings) > 0 {
		r.publish(&events.Event{Type: events.BudgetAlert, Lane: lane.Name, Context: map[string]string{"dimensions": strings.Join(warnings, ",")}})
	}
	return warnings, nil
}

func budgetLimitsToValue(b types.BudgetLimits) types.Value {
	return types.MapValue(map[string]types.Value{
		"tokens_in":     types.IntValue(b.TokensIn),
		"tokens_out":    types.IntValue(b.TokensOut),
		"api_calls":     types.IntValue(b.APICalls),
		"wall_time_ms":  types.IntValue(b.WallTimeMs),
		"alert_percent": types.IntValue(int64(b.AlertPercent)),
	})
}

func budgetLimitsFromLane(lane types.Lane) types.BudgetLimits {
	v, ok := lane.Metadata[budgetMetadataKey]
	if !ok || v.Kind != types.ValueMap {
		return types.BudgetLimits{}
	}
	get := func(key string) int64 {
		if f, ok := v.M[key]; ok {
			return f.I
		}
		return 0
	}
	return types.BudgetLimits{
		TokensIn:     get("tokens_in"),
		TokensOut:    get("tokens_out"),
		APICalls:     get("api_calls"),
		WallTimeMs:   get("wall_time_ms"),
		AlertPercent: int(get("alert_percent")),
	}
}
