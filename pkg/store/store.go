package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketMeta = []byte("meta")

// busyTimeout is how long Open waits for the bbolt file lock before
// giving up, matching spec.md §5's "ledger writes use a 30 s
// busy-timeout under contention".
const busyTimeout = 30 * time.Second

// DB wraps the single *bolt.DB file .state/store.db, shared by the CAS
// and the ledger, mirroring Warren's one-BoltStore-many-buckets design
// but with bucket ownership split across packages instead of method
// sets on one struct.
type DB struct {
	bolt *bolt.DB
	path string
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: busyTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := b.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("store: bootstrap meta bucket: %w", err)
	}
	return &DB{bolt: b, path: path}, nil
}

// Bolt returns the underlying *bolt.DB for component packages (pkg/cas,
// pkg/ledger) to create and operate on their own buckets.
func (d *DB) Bolt() *bolt.DB {
	return d.bolt
}

// Path returns the file path this DB was opened from.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database file.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Migration is one ordered, idempotent schema change applied to the
// shared database. Version must be monotonically increasing within a
// component's migration list; Apply runs inside the same write
// transaction as the version-bump so a crash mid-migration leaves the
// recorded version unchanged and the migration reapplies on next Open.
type Migration struct {
	Version int
	Name    string
	Apply   func(tx *bolt.Tx) error
}

// Migrate applies every migration in migrations whose Version exceeds
// the component's currently recorded schema version, in order, inside
// one write transaction. Each component (pkg/cas, pkg/ledger) tracks
// its own version under a namespaced meta key so the two migration
// lists never interfere with each other.
func (d *DB) Migrate(component string, migrations []Migration) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		key := []byte("schema_version:" + component)

		current := uint64(0)
		if v := meta.Get(key); v != nil {
			current = binary.BigEndian.Uint64(v)
		}

		for _, m := range migrations {
			if uint64(m.Version) <= current {
				continue
			}
			if err := m.Apply(tx); err != nil {
				return fmt.Errorf("store: migration %s/%s (v%d): %w", component, m.Name, m.Version, err)
			}
			current = uint64(m.Version)
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, current)
		return meta.Put(key, buf)
	})
}
