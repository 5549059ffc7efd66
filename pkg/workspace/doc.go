/*
Package workspace implements Flanes's Workspace Manager, spec.md §4.3:
the component that turns a world state (a tree of blob/tree hashes
living in pkg/cas) into files on disk, and turns a directory of files
back into a world state.

# Materialize, Update, Snapshot

Materialize writes every entry of a state's root tree into the
workspace directory from scratch. Update computes a three-way
tree-diff (added/removed/modified) against the workspace's current
tree and applies only that delta: removals first, then directory
creation, then file writes, mirroring the order spec.md §4.3 names so a
crash mid-update never leaves a file write racing a directory removal.
Snapshot walks the other direction — directory to tree — skipping
symlinks, respecting `.stateignore` plus a compiled-in default ignore
set, and consulting a stat cache (path, size, mtime, inode) so unchanged
files are not re-read into the CAS on every snapshot.

This mirrors Warren's pkg/volume, which materialized directories for
stateful containers: MkdirAll-then-populate and RemoveAll-on-delete
are the same idiom, generalized from "one directory per volume" to
"one directory tree per workspace, reconciled against a
content-addressed target" and extended with the bidirectional snapshot
direction Warren's volume driver never needed.

# Locks and dirty markers

A workspace lock is an empty directory created atomically with mkdir;
an owner.json file inside records {pid, hostname, started_at}. A lock
is reclaimable once its owner.json is older than 4 hours, or (same
host only) its pid is no longer alive. Before materialize or update, a
dirty marker file is written with the target state id; it's removed on
success, and its presence on startup is how a previous crash is
detected.

# Atomic writes

Every JSON descriptor (the workspace record itself) is written
tempfile + fsync + rename, the same POSIX-atomic idiom pkg/cas uses for
spilled blobs.
*/
package workspace
