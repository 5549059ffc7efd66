package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Materialize writes the full tree of stateHash into the workspace
// directory. It assumes the directory is new or empty; use Update to
// reconcile an already-materialized workspace against a new state.
func (m *Manager) Materialize(name string, stateHash types.Hash) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaterializeDuration)

	if err := m.writeDirtyMarker(name, stateHash); err != nil {
		return err
	}

	state, err := m.cas.GetState(stateHash)
	if err != nil {
		return err
	}
	dir := m.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("workspace: create directory: %w", err)
	}
	if err := m.writeTree(dir, state.RootTree); err != nil {
		return err
	}

	ws, err := m.Get(name)
	if err != nil {
		return err
	}
	ws.BaseState = stateHash
	if err := m.saveDescriptor(ws); err != nil {
		return err
	}

	log.WithWorkspace(name).Info().Str("state", stateHash).Msg("workspace materialized")
	return m.clearDirtyMarker(name)
}

func (m *Manager) writeTree(dirPath string, treeHash types.Hash) error {
	if treeHash == "" {
		return nil
	}
	tree, err := m.cas.GetTree(treeHash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		full := filepath.Join(dirPath, e.Name)
		switch e.Kind {
		case types.EntryTree:
			if err := os.MkdirAll(full, 0755); err != nil {
				return fmt.Errorf("workspace: mkdir %s: %w", full, err)
			}
			if err := m.writeTree(full, e.Hash); err != nil {
				return err
			}
		default:
			content, err := m.cas.GetBlob(e.Hash)
			if err != nil {
				return err
			}
			if err := writeFileAtomic(full, content, os.FileMode(e.Mode)); err != nil {
				return err
			}
			metrics.FilesTouchedTotal.WithLabelValues("write").Inc()
		}
	}
	return nil
}

// writeFileAtomic is the per-file atomic write spec.md §4.3's update
// algorithm names: temp-file + rename (no fsync; the descriptor's own
// write is what needs crash-durability, not every individual file).
func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, mode); err != nil {
		return fmt.Errorf("workspace: write tempfile %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: rename tempfile %s: %w", tmp, err)
	}
	return nil
}

// Update reconciles an already-materialized workspace against
// newState by computing a tree-diff against its current base state
// and applying only the delta: removed files, then empty directories,
// then new directories, then modified/added files, per spec.md §4.3.
func (m *Manager) Update(name string, newState types.Hash) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpdateDuration)

	ws, err := m.Get(name)
	if err != nil {
		return err
	}

	var currentTree types.Hash
	if ws.BaseState != "" {
		cur, err := m.cas.GetState(ws.BaseState)
		if err != nil {
			return err
		}
		currentTree = cur.RootTree
	}
	target, err := m.cas.GetState(newState)
	if err != nil {
		return err
	}

	diff, err := m.cas.Diff(currentTree, target.RootTree)
	if err != nil {
		return err
	}

	if err := m.writeDirtyMarker(name, newState); err != nil {
		return err
	}
	dir := m.Dir(name)

	for p := range diff.Removed {
		if err := os.Remove(filepath.Join(dir, p)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("workspace: remove %s: %w", p, err)
		}
		metrics.FilesTouchedTotal.WithLabelValues("remove").Inc()
	}
	removeEmptyDirs(dir)

	for p := range diff.Added {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, p)), 0755); err != nil {
			return err
		}
	}
	for p := range diff.Modified {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, p)), 0755); err != nil {
			return err
		}
	}

	for p, entry := range diff.Added {
		if err := m.writeDiffEntry(dir, p, entry); err != nil {
			return err
		}
		metrics.FilesTouchedTotal.WithLabelValues("add").Inc()
	}
	for p, entry := range diff.Modified {
		if err := m.writeDiffEntry(dir, p, entry); err != nil {
			return err
		}
		metrics.FilesTouchedTotal.WithLabelValues("modify").Inc()
	}

	ws.BaseState = newState
	if err := m.saveDescriptor(ws); err != nil {
		return err
	}
	log.WithWorkspace(name).Info().Str("state", newState).Msg("workspace updated")
	return m.clearDirtyMarker(name)
}

func (m *Manager) writeDiffEntry(dir, relPath string, entry types.TreeEntry) error {
	content, err := m.cas.GetBlob(entry.Hash)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, relPath), content, os.FileMode(entry.Mode))
}

// removeEmptyDirs walks dir bottom-up, removing any directory left
// empty by Update's file removals. Best-effort: errors are ignored,
// since a non-empty or in-use directory simply isn't removed.
func removeEmptyDirs(dir string) {
	var walk func(string) bool
	walk = func(p string) bool {
		entries, err := os.ReadDir(p)
		if err != nil {
			return false
		}
		empty := true
		for _, e := range entries {
			if e.IsDir() {
				if walk(filepath.Join(p, e.Name())) {
					empty = empty && true
					continue
				}
			}
			empty = false
		}
		if empty && p != dir {
			os.Remove(p)
			return true
		}
		return empty && p != dir
	}
	walk(dir)
}

// Snapshot walks the workspace directory, ingesting its contents into
// the CAS bottom-up, and returns the hash of the resulting state.
// laneHead is used as the new state's parent when the workspace has no
// base_state of its own (a fresh workspace created straight off a
// lane).
func (m *Manager) Snapshot(name string, laneHead types.Hash) (types.Hash, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotDuration)

	ws, err := m.Get(name)
	if err != nil {
		return "", err
	}
	dir := m.Dir(name)
	ig, err := loadIgnoreSet(dir)
	if err != nil {
		return "", err
	}

	rootTree, err := m.snapshotDir(name, dir, "", ig)
	if err != nil {
		return "", err
	}

	parent := ws.BaseState
	if parent == "" {
		parent = laneHead
	}
	stateHash, err := m.cas.PutState(rootTree, parent, types.Now())
	if err != nil {
		return "", err
	}
	log.WithWorkspace(name).Info().Str("state", stateHash).Msg("workspace snapshotted")
	return stateHash, nil
}

func (m *Manager) snapshotDir(wsName, absDir, relDir string, ig *ignoreSet) (types.Hash, error) {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return "", fmt.Errorf("workspace: read dir %s: %w", absDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var treeEntries []types.TreeEntry
	for _, entry := range entries {
		rel := entry.Name()
		if relDir != "" {
			rel = path.Join(relDir, entry.Name())
		}
		if ig.Ignored(rel) {
			continue
		}
		full := filepath.Join(absDir, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			continue // symlinks are never followed, per spec.md §4.3.
		}

		if entry.IsDir() {
			childHash, err := m.snapshotDir(wsName, full, rel, ig)
			if err != nil {
				return "", err
			}
			treeEntries = append(treeEntries, types.TreeEntry{Name: entry.Name(), Kind: types.EntryTree, Hash: childHash, Mode: 0755})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return "", err
		}
		hash, err := m.snapshotFile(wsName, full, rel, info)
		if err != nil {
			return "", err
		}
		treeEntries = append(treeEntries, types.TreeEntry{Name: entry.Name(), Kind: types.EntryBlob, Hash: hash, Mode: uint32(info.Mode().Perm())})
	}

	return m.cas.PutTree(treeEntries)
}

func (m *Manager) snapshotFile(wsName, absPath, relPath string, info os.FileInfo) (types.Hash, error) {
	identity := fileIdentity(info)
	if cached, ok, err := m.statCacheGet(wsName, relPath); err != nil {
		return "", err
	} else if ok && cached.matches(identity) {
		if has, err := m.cas.Has(cas.KindBlob, cached.Hash); err == nil && has {
			return cached.Hash, nil
		}
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("workspace: read %s: %w", absPath, err)
	}
	hash, err := m.cas.PutBlob(content)
	if err != nil {
		return "", err
	}
	if err := m.statCachePut(wsName, relPath, statCacheEntry{identity: identity, Hash: hash}); err != nil {
		return "", err
	}
	return hash, nil
}

type identity struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime_ns"`
	Inode   uint64 `json:"inode"`
}

func fileIdentity(info os.FileInfo) identity {
	id := identity{Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		id.Inode = st.Ino
	}
	return id
}

type statCacheEntry struct {
	identity
	Hash types.Hash `json:"hash"`
}

func (e statCacheEntry) matches(id identity) bool {
	return e.Size == id.Size && e.ModTime == id.ModTime && e.Inode == id.Inode
}

func statCacheKey(wsName, relPath string) []byte {
	return []byte(wsName + "\x00" + relPath)
}

func (m *Manager) statCacheGet(wsName, relPath string) (statCacheEntry, bool, error) {
	var entry statCacheEntry
	found := false
	err := m.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStatCache).Get(statCacheKey(wsName, relPath))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	return entry, found, err
}

func (m *Manager) statCachePut(wsName, relPath string, entry statCacheEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return m.db.Bolt().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatCache).Put(statCacheKey(wsName, relPath), body)
	})
}

// PruneStatCacheEntry removes a single stat-cache row. Exported for
// pkg/gc's sweep phase, which prunes entries referencing blobs that no
// longer exist.
func (m *Manager) PruneStatCacheEntry(wsName, relPath string) error {
	return m.db.Bolt().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatCache).Delete(statCacheKey(wsName, relPath))
	})
}

// StatCacheEntry pairs a stat-cache key with the blob hash it names,
// returned by IterStatCache for pkg/gc to audit.
type StatCacheEntry struct {
	Workspace string
	Path      string
	Hash      types.Hash
}

// IterStatCache returns every stat-cache row, for pkg/gc's sweep phase.
func (m *Manager) IterStatCache() ([]StatCacheEntry, error) {
	var out []StatCacheEntry
	err := m.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatCache).ForEach(func(k, v []byte) error {
			parts := splitStatCacheKey(k)
			var entry statCacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, StatCacheEntry{Workspace: parts[0], Path: parts[1], Hash: entry.Hash})
			return nil
		})
	})
	return out, err
}

func splitStatCacheKey(k []byte) [2]string {
	s := string(k)
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}
