package types

import "time"

// Hash is a lowercase-hex SHA-256 digest, the key type for every
// content-addressed object (blobs, trees, world states).
type Hash = string

// EntryKind distinguishes the two kinds of tree entries.
type EntryKind string

const (
	EntryBlob EntryKind = "blob"
	EntryTree EntryKind = "tree"
)

// TreeEntry is one row of a directory listing: a name, what kind of
// object it points to, the object's hash, and its mode bits.
type TreeEntry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
	Hash Hash      `json:"hash"`
	Mode uint32    `json:"mode"`
}

// Tree is an ordered, duplicate-free sequence of entries. Entries are
// always stored sorted by Name; canonical-JSON encoding of a Tree is
// what produces its hash (see pkg/canonical).
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

// WorldState is the unit of versioning: a root tree plus a parent
// pointer. ParentID == "" marks a genesis state. CreatedAt is seconds
// since the epoch, monotonic with respect to its parent.
type WorldState struct {
	RootTree  Hash  `json:"root_tree"`
	ParentID  Hash  `json:"parent_id,omitempty"`
	CreatedAt int64 `json:"created_at"`
}

// Intent carries the "why" of a transition.
type Intent struct {
	ID          string           `json:"id"`
	Prompt      string           `json:"prompt"`
	AgentID     string           `json:"agent_id"`
	AgentType   string           `json:"agent_type"`
	Model       string           `json:"model,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	ContextRefs []Hash           `json:"context_refs,omitempty"`
	Metadata    map[string]Value `json:"metadata,omitempty"`
}

// CostRecord tracks the resources an agent spent producing a
// transition. All fields are additive and only mutable while the
// owning transition is proposed or evaluating.
type CostRecord struct {
	TokensIn   int64 `json:"tokens_in"`
	TokensOut  int64 `json:"tokens_out"`
	APICalls   int64 `json:"api_calls"`
	WallTimeMs int64 `json:"wall_time_ms"`
}

// Add returns the element-wise sum of c and delta. It never mutates
// either operand.
func (c CostRecord) Add(delta CostRecord) CostRecord {
	return CostRecord{
		TokensIn:   c.TokensIn + delta.TokensIn,
		TokensOut:  c.TokensOut + delta.TokensOut,
		APICalls:   c.APICalls + delta.APICalls,
		WallTimeMs: c.WallTimeMs + delta.WallTimeMs,
	}
}

// TransitionStatus is the lifecycle state of a Transition.
type TransitionStatus string

const (
	TransitionProposed   TransitionStatus = "proposed"
	TransitionEvaluating TransitionStatus = "evaluating"
	TransitionAccepted   TransitionStatus = "accepted"
	TransitionRejected   TransitionStatus = "rejected"
	// TransitionSuperseded is used sparingly, only when a lane history is
	// rewritten by an external import. Nothing in this module creates a
	// new edge into it; it exists so importers can preserve the value.
	TransitionSuperseded TransitionStatus = "superseded"
)

// EvalResult is one evaluator's verdict on a proposed transition.
type EvalResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Detail   string `json:"detail,omitempty"`
}

// EvalSummary aggregates the results of every evaluator run against a
// transition.
type EvalSummary struct {
	Results   []EvalResult `json:"results"`
	StartedAt int64        `json:"started_at"`
	EndedAt   int64        `json:"ended_at"`
}

// RequiredFailed reports whether any required evaluator failed.
func (s EvalSummary) RequiredFailed() bool {
	for _, r := range s.Results {
		if r.Required && !r.Passed {
			return true
		}
	}
	return false
}

// Transition is a proposed or realized move between two world states
// on a lane.
type Transition struct {
	ID         string           `json:"id"`
	FromState  Hash             `json:"from_state,omitempty"`
	ToState    Hash             `json:"to_state"`
	Lane       string           `json:"lane"`
	Intent     Intent           `json:"intent"`
	Cost       CostRecord       `json:"cost"`
	Status     TransitionStatus `json:"status"`
	CreatedAt  int64            `json:"created_at"`
	EvalResult *EvalSummary     `json:"eval_summary,omitempty"`
}

// Lane is a named, append-only chain of accepted world states.
type Lane struct {
	Name      string           `json:"name"`
	HeadState Hash             `json:"head_state,omitempty"`
	ForkBase  Hash             `json:"fork_base,omitempty"`
	CreatedAt int64            `json:"created_at"`
	Metadata  map[string]Value `json:"metadata,omitempty"`
}

// WorkspaceStatus is the lifecycle state of a Workspace.
type WorkspaceStatus string

const (
	WorkspaceActive   WorkspaceStatus = "active"
	WorkspaceIdle     WorkspaceStatus = "idle"
	WorkspaceStale    WorkspaceStatus = "stale"
	WorkspaceDisposed WorkspaceStatus = "disposed"
)

// Workspace is a directory materialized from some state, operated on
// by an agent. The "main" workspace maps to the repository root; every
// other workspace lives under .state/workspaces/<name>/.
type Workspace struct {
	Name      string          `json:"name"`
	Lane      string          `json:"lane"`
	BaseState Hash            `json:"base_state,omitempty"`
	CreatedAt int64           `json:"created_at"`
	Status    WorkspaceStatus `json:"status"`
	AgentID   string          `json:"agent_id,omitempty"`
}

// BudgetLimits bounds a lane's cumulative cost. A zero field means "no
// limit" for that dimension. AlertPercent, when non-zero, is the
// percentage of a limit at which propose/checkpoint should return a
// warning instead of silently proceeding.
type BudgetLimits struct {
	TokensIn     int64 `json:"tokens_in,omitempty"`
	TokensOut    int64 `json:"tokens_out,omitempty"`
	APICalls     int64 `json:"api_calls,omitempty"`
	WallTimeMs   int64 `json:"wall_time_ms,omitempty"`
	AlertPercent int   `json:"alert_percent,omitempty"`
}

// Exceeded reports which dimensions of spent exceed their limit in b.
func (b BudgetLimits) Exceeded(spent CostRecord) []string {
	var over []string
	if b.TokensIn > 0 && spent.TokensIn > b.TokensIn {
		over = append(over, "tokens_in")
	}
	if b.TokensOut > 0 && spent.TokensOut > b.TokensOut {
		over = append(over, "tokens_out")
	}
	if b.APICalls > 0 && spent.APICalls > b.APICalls {
		over = append(over, "api_calls")
	}
	if b.WallTimeMs > 0 && spent.WallTimeMs > b.WallTimeMs {
		over = append(over, "wall_time_ms")
	}
	return over
}

// AlertThresholdCrossed reports which dimensions of spent have crossed
// the alert percentage of their limit, without yet exceeding it.
func (b BudgetLimits) AlertThresholdCrossed(spent CostRecord) []string {
	if b.AlertPercent <= 0 {
		return nil
	}
	var crossed []string
	check := func(name string, limit, value int64) {
		if limit <= 0 {
			return
		}
		threshold := limit * int64(b.AlertPercent) / 100
		if value >= threshold && value <= limit {
			crossed = append(crossed, name)
		}
	}
	check("tokens_in", b.TokensIn, spent.TokensIn)
	check("tokens_out", b.TokensOut, spent.TokensOut)
	check("api_calls", b.APICalls, spent.APICalls)
	check("wall_time_ms", b.WallTimeMs, spent.WallTimeMs)
	return crossed
}

// Now returns the current time in the epoch-seconds form WorldState and
// Lane use. It is a thin wrapper so call sites read as domain
// operations rather than raw time.Now() calls.
func Now() int64 {
	return time.Now().Unix()
}

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	ValueNull  ValueKind = "null"
	ValueBool  ValueKind = "bool"
	ValueInt   ValueKind = "int"
	ValueFloat ValueKind = "float"
	ValueText  ValueKind = "text"
	ValueList  ValueKind = "list"
	ValueMap   ValueKind = "map"
)

// Value is a tagged variant used for intent metadata, lane budgets'
// carrier map, and other free-form configuration. It exists so that
// canonical-JSON encoding of arbitrary user metadata stays
// deterministic and so internal code can pattern-match on Kind instead
// of doing type assertions on interface{}.
type Value struct {
	Kind ValueKind        `json:"kind"`
	B    bool             `json:"b,omitempty"`
	I    int64            `json:"i,omitempty"`
	F    float64          `json:"f,omitempty"`
	S    string           `json:"s,omitempty"`
	L    []Value          `json:"l,omitempty"`
	M    map[string]Value `json:"m,omitempty"`
}

func NullValue() Value                  { return Value{Kind: ValueNull} }
func BoolValue(b bool) Value            { return Value{Kind: ValueBool, B: b} }
func IntValue(i int64) Value            { return Value{Kind: ValueInt, I: i} }
func FloatValue(f float64) Value        { return Value{Kind: ValueFloat, F: f} }
func TextValue(s string) Value          { return Value{Kind: ValueText, S: s} }
func ListValue(l []Value) Value         { return Value{Kind: ValueList, L: l} }
func MapValue(m map[string]Value) Value { return Value{Kind: ValueMap, M: m} }
