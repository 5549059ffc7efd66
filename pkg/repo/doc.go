/*
Package repo implements Flanes's Repository Core, spec.md §4.4: the
operations an agent or the CLI actually drives — checkpoint, accept,
reject, promote, trace, diff, search, budget enforcement, and the
repository-open lifecycle (instance fencing, doctor, restore).

# Architecture

A Repository wraps the three lower layers and the configuration
document, the same "struct holds component handles + Config +
constructor + thin delegation methods" shape Warren's Manager uses
to wrap its Raft/TLS/DNS/storage sub-managers:

	┌────────────────────── Repository ───────────────────────┐
	│                                                            │
	│   Checkpoint / Accept / Reject   (checkpoint.go)          │
	│   Promote                        (promote.go)             │
	│   Trace / Diff / Search          (lineage.go)             │
	│   Budget enforcement             (budget.go)              │
	│   Doctor                         (doctor.go)              │
	│   Restore                        (restore.go)             │
	│   Instance fencing                (instance.go)            │
	│                                                            │
	│  ┌────────────┐ ┌────────────┐ ┌────────────┐ ┌─────────┐│
	│  │ pkg/ledger │ │  pkg/cas   │ │pkg/workspace│ │pkg/config││
	│  └────────────┘ └────────────┘ └────────────┘ └─────────┘│
	│                    pkg/store (shared bbolt file)          │
	└────────────────────────────────────────────────────────────┘

Unlike Warren, there is no Raft quorum, no gRPC surface, and no
cluster FSM here: Flanes is single-host-at-a-time per repository
(spec.md §5's cross-host fencing exists precisely to enforce that), so
the component this package replaces Warren's consensus layer with is
the bbolt single-writer transaction itself — pkg/ledger.Accept is
Flanes's compare-and-swap.

# Instance fencing

Open acquires `.state/instance.lock`, a marker written with a
crypto/rand-generated token (the same random-identity idiom Warren's
TokenManager uses for join tokens, repurposed here for one repository
process's claim instead of one cluster member's). A second
Open from a different host fails outright; same-host reopen reclaims
the marker once the owning PID is no longer alive.

# Lifecycle events

Every Repository owns a started pkg/events.Broker (Events returns it
for subscribers) and publishes to it at each point spec.md §8 names as
a lifecycle scenario: transition proposed/accepted/rejected, lane head
advanced, budget alert/exceeded, promote conflict, and gc completed.
Publishing is always best-effort — a full subscriber channel or no
subscriber at all never blocks the operation that triggered the event.
*/
package repo
