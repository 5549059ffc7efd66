/*
Package cas implements Flanes's Content-Addressed Store: immutable
blobs, trees, and world states keyed by their SHA-256 hash, spec.md
§4.1.

Three logical tables live in buckets inside the shared bbolt file
pkg/store opens: blobs, trees, states. Blob bytes above
Options.InlineThreshold spill to a file under Options.BlobsDir, fanned
out by a two-hex-prefix directory (the same fan-out spec.md §6 names
for .state/blobs/??/…); everything else stays inlined in the bucket
value — a "small rows live in the KV file, large payloads live on
disk" split Warren's pkg/storage never needed (Warren never stored
large blobs) but which Flanes needs because blobs are arbitrary file
content.

Writes are idempotent: put_blob/put_tree/put_state check for an
existing key before doing any work, so a duplicate put is a cheap
lookup, not a rewrite — the dedup a content-addressed store exists to
provide.

Tree depth is tracked in a small cache bucket keyed by tree hash so
put_tree can reject trees deeper than Options.MaxTreeDepth by consulting
each child tree's already-computed depth instead of re-walking the
whole subtree.
*/
package cas
