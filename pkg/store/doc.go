/*
Package store bootstraps the single bbolt database file Flanes's
Content-Addressed Store and Metadata Ledger share, the same way
Warren's pkg/storage opens one *bolt.DB and hands out bucket handles
to every entity kind it persists.

spec.md §6's on-disk layout names one file, .state/store.db, holding
"ledger + inlined small CAS rows" — so unlike Warren, which gives
every entity its own top-level package method set on a shared
BoltStore, Flanes splits the bucket owners into pkg/cas and pkg/ledger,
each taking the *bolt.DB this package opens and creating its own
buckets inside it. pkg/store itself owns only the file lifecycle:
opening with the project's busy-timeout, running schema migrations
recorded in a meta bucket, and closing.

# Schema migrations

spec.md §4.2 asks for "schema versioning with ordered migrations".
Migrations are plain functions run once, in order, inside a single
bbolt write transaction at Open time; the applied version is recorded
in the meta bucket so a later run with more migrations only applies
the new ones.
*/
package store
