/*
Package ledger implements Flanes's Metadata Ledger, spec.md §4.2: the
durable record of world states, transitions, intents, and lanes, and
the only mutable structure in the system.

Every "edit" the ledger allows is an append except for three pointer
mutations spec.md calls out explicitly: a lane's head, a transition's
status, and a transition's accrued cost. Those three are exposed as
narrow, validated methods (SetLaneHead/Accept, SetTransitionStatus/
Accept/Reject, UpdateCost) rather than general row updates, the same
way Warren's pkg/storage exposes Create/Update/Delete per entity
instead of a generic Put.

The ledger tracks state existence as a thin registry of hashes
(InsertState), separate from the state's content, which lives in
pkg/cas — matching spec.md's data-model note that "states... are owned
by the ledger" even though their canonical bytes are a CAS concern: the
ledger decides which state hashes are referentially valid for
transitions and lanes to point at, while the CAS is where those bytes
actually live. pkg/repo is what calls both packages in the right order
(cas.PutState then ledger.InsertState) for a single checkpoint.

Accept is the one operation with a true atomicity requirement beyond a
single bucket write: it must set a transition's status to accepted and
advance its lane's head in the same bbolt transaction, refusing with
StaleProposal if the lane head moved since the transition was proposed
— the single-writer discipline spec.md §4.2 and §5 both describe.
*/
package ledger
