package cas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flanes-dev/flanes/pkg/canonical"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs     = []byte("cas_blobs")
	bucketTrees     = []byte("cas_trees")
	bucketStates    = []byte("cas_states")
	bucketTreeDepth = []byte("cas_tree_depth")
)

// spilledMarker is stored in bucketBlobs in place of content for any
// blob whose size exceeds Options.InlineThreshold; the real bytes live
// under BlobsDir, addressed by the same hash.
var spilledMarker = []byte("spilled")

const (
	// DefaultMaxBlobSize is spec.md §3's default blob size limit.
	DefaultMaxBlobSize = 100 * 1024 * 1024
	// DefaultMaxTreeDepth is spec.md §3's default tree depth limit.
	DefaultMaxTreeDepth = 100
	// DefaultInlineThreshold is the size above which a blob's bytes are
	// spilled to a file under BlobsDir instead of living in the bbolt
	// value, keeping the database file itself small.
	DefaultInlineThreshold = 256 * 1024
)

// Kind names one of the CAS's three object tables, for has/iter_keys/
// delete.
type Kind string

const (
	KindBlob  Kind = "blob"
	KindTree  Kind = "tree"
	KindState Kind = "state"
)

// Options configures a Store's limits and spill directory.
type Options struct {
	BlobsDir        string
	MaxBlobSize     int64
	MaxTreeDepth    int
	InlineThreshold int64
}

func (o *Options) setDefaults() {
	if o.MaxBlobSize <= 0 {
		o.MaxBlobSize = DefaultMaxBlobSize
	}
	if o.MaxTreeDepth <= 0 {
		o.MaxTreeDepth = DefaultMaxTreeDepth
	}
	if o.InlineThreshold <= 0 {
		o.InlineThreshold = DefaultInlineThreshold
	}
}

// Store is the Content-Addressed Store: immutable blobs, trees, and
// world states keyed by SHA-256, spec.md §4.1.
type Store struct {
	db   *store.DB
	opts Options
}

var migrations = []store.Migration{
	{
		Version: 1,
		Name:    "create_buckets",
		Apply: func(tx *bolt.Tx) error {
			for _, b := range [][]byte{bucketBlobs, bucketTrees, bucketStates, bucketTreeDepth} {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Open prepares the CAS's buckets on db and returns a Store bound to
// opts (defaults filled in for zero fields).
func Open(db *store.DB, opts Options) (*Store, error) {
	opts.setDefaults()
	if opts.BlobsDir != "" {
		if err := os.MkdirAll(opts.BlobsDir, 0755); err != nil {
			return nil, fmt.Errorf("cas: create blobs dir: %w", err)
		}
	}
	if err := db.Migrate("cas", migrations); err != nil {
		return nil, err
	}
	return &Store{db: db, opts: opts}, nil
}

// BlobsDir returns the directory spilled blob content is written
// under, for pkg/repo's doctor to scan for orphaned spill files.
func (s *Store) BlobsDir() string {
	return s.opts.BlobsDir
}

// PutBlob stores bytes, returning its hash. If content with that hash
// already exists, it is a no-op (dedup, checked before the size limit
// so already-present oversized content can still be read back).
func (s *Store) PutBlob(content []byte) (types.Hash, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BlobPutDuration)

	hash := canonical.Hash(content)

	exists := false
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlobs).Get([]byte(hash)) != nil
		return nil
	})
	if err != nil {
		return "", err
	}
	if exists {
		metrics.DedupHitsTotal.Inc()
		return hash, nil
	}

	if int64(len(content)) > s.opts.MaxBlobSize {
		return "", flerr.WithFields(flerr.ErrBlobTooLarge, map[string]any{
			"size": len(content), "max_blob_size": s.opts.MaxBlobSize,
		})
	}

	value := content
	spill := int64(len(content)) > s.opts.InlineThreshold && s.opts.BlobsDir != ""
	if spill {
		if err := s.writeSpillFile(hash, content); err != nil {
			return "", err
		}
		value = spilledMarker
	}

	err = s.db.Bolt().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(hash), value)
	})
	if err != nil {
		return "", err
	}

	metrics.BlobsTotal.Inc()
	metrics.StoreBytesTotal.Add(float64(len(content)))
	log.WithComponent("cas").Debug().Str("hash", hash).Int("size", len(content)).Bool("spilled", spill).Msg("blob stored")
	return hash, nil
}

func (s *Store) spillPath(hash types.Hash) string {
	return filepath.Join(s.opts.BlobsDir, hash[:2], hash)
}

func (s *Store) writeSpillFile(hash types.Hash, content []byte) error {
	dir := filepath.Join(s.opts.BlobsDir, hash[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cas: mkdir spill dir: %w", err)
	}
	path := s.spillPath(hash)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("cas: create spill tempfile: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cas: write spill tempfile: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cas: fsync spill tempfile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cas: close spill tempfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cas: rename spill tempfile: %w", err)
	}
	return nil
}

// GetBlob returns the bytes stored under hash.
func (s *Store) GetBlob(hash types.Hash) ([]byte, error) {
	var value []byte
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(hash))
		if v == nil {
			return flerr.ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if string(value) == string(spilledMarker) {
		b, err := os.ReadFile(s.spillPath(hash))
		if err != nil {
			return nil, flerr.Wrap(flerr.NotFound, "spilled blob file missing", err, map[string]any{"hash": hash})
		}
		return b, nil
	}
	return value, nil
}

// Has reports whether an object of the given kind is stored under hash.
func (s *Store) Has(kind Kind, hash types.Hash) (bool, error) {
	var found bool
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketName(kind)).Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

func bucketName(kind Kind) []byte {
	switch kind {
	case KindTree:
		return bucketTrees
	case KindState:
		return bucketStates
	default:
		return bucketBlobs
	}
}

// IterKeys returns every hash stored under kind.
func (s *Store) IterKeys(kind Kind) ([]types.Hash, error) {
	var keys []types.Hash
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(kind)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Delete removes an object. GC-only: ordinary operation never deletes
// from the CAS.
func (s *Store) Delete(kind Kind, hash types.Hash) (int, error) {
	var reclaimed int
	err := s.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(kind))
		if kind == KindBlob {
			v := b.Get([]byte(hash))
			if string(v) == string(spilledMarker) {
				if info, statErr := os.Stat(s.spillPath(hash)); statErr == nil {
					reclaimed = int(info.Size())
				}
			} else {
				reclaimed = len(v)
			}
		}
		return b.Delete([]byte(hash))
	})
	if err != nil {
		return 0, err
	}
	if kind == KindBlob {
		if err := os.Remove(s.spillPath(hash)); err != nil && !os.IsNotExist(err) {
			log.WithComponent("cas").Warn().Str("hash", hash).Err(err).Msg("failed to remove spilled blob file")
		}
	}
	return reclaimed, nil
}

// Verify recomputes the SHA-256 of content and reports whether it
// equals hash.
func (s *Store) Verify(hash types.Hash, content []byte) bool {
	return canonical.Verify(hash, content)
}

// PutTree validates, canonicalizes, and stores a tree, returning its
// hash. Entries must be duplicate-free; they are sorted by name before
// hashing and storage, as spec.md §3 requires.
func (s *Store) PutTree(entries []types.TreeEntry) (types.Hash, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TreePutDuration)

	sorted, err := sortAndValidateEntries(entries)
	if err != nil {
		return "", err
	}

	depth, err := s.treeDepth(sorted)
	if err != nil {
		return "", err
	}
	if depth > s.opts.MaxTreeDepth {
		return "", flerr.WithFields(flerr.ErrTreeTooDeep, map[string]any{
			"depth": depth, "max_tree_depth": s.opts.MaxTreeDepth,
		})
	}

	tree := types.Tree{Entries: sorted}
	hash, body, err := canonical.HashValue(tree)
	if err != nil {
		return "", fmt.Errorf("cas: encode tree: %w", err)
	}

	existed := false
	err = s.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrees)
		existed = b.Get([]byte(hash)) != nil
		if existed {
			return nil
		}
		if err := b.Put([]byte(hash), body); err != nil {
			return err
		}
		depthBuf := []byte(fmt.Sprintf("%d", depth))
		return tx.Bucket(bucketTreeDepth).Put([]byte(hash), depthBuf)
	})
	if err != nil {
		return "", err
	}
	if existed {
		metrics.DedupHitsTotal.Inc()
	} else {
		metrics.TreesTotal.Inc()
	}
	return hash, nil
}

func sortAndValidateEntries(entries []types.TreeEntry) ([]types.TreeEntry, error) {
	sorted := append([]types.TreeEntry(nil), entries...)
	sortTreeEntries(sorted)
	seen := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		if seen[e.Name] {
			return nil, flerr.WithFields(flerr.ErrDuplicateEntryName, map[string]any{"name": e.Name})
		}
		seen[e.Name] = true
	}
	return sorted, nil
}

func sortTreeEntries(entries []types.TreeEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Name > entries[j].Name; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// treeDepth computes the depth of a tree given its (already validated)
// entries, consulting the cached per-hash depth of child trees so a
// deep directory isn't re-walked on every put.
func (s *Store) treeDepth(entries []types.TreeEntry) (int, error) {
	maxChild := 0
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		cache := tx.Bucket(bucketTreeDepth)
		for _, e := range entries {
			if e.Kind != types.EntryTree {
				continue
			}
			v := cache.Get([]byte(e.Hash))
			if v == nil {
				return flerr.Wrap(flerr.NotFound, "child tree depth not cached", flerr.ErrNotFound, map[string]any{"hash": e.Hash})
			}
			var d int
			if _, err := fmt.Sscanf(string(v), "%d", &d); err != nil {
				return err
			}
			if d > maxChild {
				maxChild = d
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return maxChild + 1, nil
}

// GetTree returns the entries stored under hash.
func (s *Store) GetTree(hash types.Hash) (types.Tree, error) {
	var tree types.Tree
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTrees).Get([]byte(hash))
		if v == nil {
			return flerr.ErrNotFound
		}
		return json.Unmarshal(v, &tree)
	})
	return tree, err
}

// PutState canonicalizes and stores a world state, returning its hash.
func (s *Store) PutState(rootTree types.Hash, parentID types.Hash, createdAt int64) (types.Hash, error) {
	state := types.WorldState{RootTree: rootTree, ParentID: parentID, CreatedAt: createdAt}
	hash, body, err := canonical.HashValue(state)
	if err != nil {
		return "", fmt.Errorf("cas: encode state: %w", err)
	}

	existed := false
	err = s.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		existed = b.Get([]byte(hash)) != nil
		if existed {
			return nil
		}
		return b.Put([]byte(hash), body)
	})
	if err != nil {
		return "", err
	}
	if existed {
		metrics.DedupHitsTotal.Inc()
	} else {
		metrics.StatesTotal.Inc()
	}
	return hash, nil
}

// GetState returns the world state stored under hash.
func (s *Store) GetState(hash types.Hash) (types.WorldState, error) {
	var state types.WorldState
	err := s.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStates).Get([]byte(hash))
		if v == nil {
			return flerr.ErrNotFound
		}
		return json.Unmarshal(v, &state)
	})
	return state, err
}
