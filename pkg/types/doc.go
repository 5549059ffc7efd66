/*
Package types defines the core data structures shared across Flanes.

This package holds every value that crosses a component boundary: the
content-addressed objects (trees, world states), the ledger rows
(intents, cost records, transitions, lanes), and the workspace
descriptor. Nothing in this package touches storage, hashing, or the
filesystem directly — it is the vocabulary the rest of the module
shares.

# Core Types

Content-addressed objects:
  - TreeEntry, Tree: a directory listing, sorted by name
  - WorldState: a root tree plus a parent pointer and timestamp

Ledger rows:
  - Intent: the structured "why" behind a transition
  - CostRecord: token/call/time accounting, additive until settled
  - Transition: a proposed or realized move between two world states
  - TransitionStatus: proposed, evaluating, accepted, rejected, superseded
  - Lane: a named, append-only chain of accepted world states

Workspace:
  - Workspace: a materialized directory bound to a lane
  - WorkspaceStatus: active, idle, stale, disposed

Dynamic configuration:
  - Value: a tagged variant (Null, Bool, Int, Float, Text, List, Map)
    used for intent metadata, lane budgets, and other free-form maps

# Design Patterns

Enums are typed strings, matching the rest of the module's style:

	type TransitionStatus string
	const (
	    TransitionProposed TransitionStatus = "proposed"
	    TransitionAccepted TransitionStatus = "accepted"
	)

Hashes are represented as lowercase hex strings (`Hash`), not raw
[32]byte arrays, because every component that carries one also needs to
put it in a bbolt key, a JSON document, or a CLI flag — hex avoids a
round trip at every boundary.

Optional references use the empty string for "absent" rather than a
pointer: `Transition.FromState == ""` means a genesis transition,
`Lane.ForkBase == ""` means the lane was not forked. This mirrors
spec's `state-hash | ∅` notation directly.

# Thread Safety

Every type here is a plain value; mutation must be synchronized by the
owning component (the ledger for Lane/Transition, the workspace manager
for Workspace). Concurrent readers are always safe.
*/
package types
