/*
Package canonical implements Flanes's canonical encoding: sorted-key,
no-insignificant-whitespace JSON, and the SHA-256 hashing built on top
of it. Every content-addressed object (tree, world state) and every
ledger row that needs a stable identity goes through Encode/Hash here,
so two equivalent values always produce byte-identical encodings and
therefore the same hash — the determinism invariant spec.md §8 requires
of snapshot().

Go's encoding/json already sorts map keys and never inserts
indentation, so canonical encoding of a Go value is exactly
json.Marshal with struct fields declared in a fixed order; no
third-party canonicalization library is required for this piece (see
DESIGN.md).
*/
package canonical
