package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// MainWorkspace is the name reserved for the repository's root working
// tree, which lives at the repo root itself rather than under
// .state/workspaces/.
const MainWorkspace = "main"

var bucketStatCache = []byte("workspace_statcache")

var migrations = []store.Migration{
	{
		Version: 1,
		Name:    "create_buckets",
		Apply: func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketStatCache)
			return err
		},
	},
}

// Manager materializes, updates, and snapshots workspace directories
// against pkg/cas, spec.md §4.3.
type Manager struct {
	repoRoot string
	cas      *cas.Store
	db       *store.DB
}

// Open prepares the workspace package's stat-cache bucket and returns
// a Manager rooted at repoRoot.
func Open(repoRoot string, db *store.DB, casStore *cas.Store) (*Manager, error) {
	if err := db.Migrate("workspace", migrations); err != nil {
		return nil, err
	}
	return &Manager{repoRoot: repoRoot, cas: casStore, db: db}, nil
}

// Dir returns the absolute path of a workspace's materialized tree.
func (m *Manager) Dir(name string) string {
	if name == MainWorkspace {
		return m.repoRoot
	}
	return filepath.Join(m.repoRoot, ".state", "workspaces", name)
}

func (m *Manager) descriptorPath(name string) string {
	if name == MainWorkspace {
		return filepath.Join(m.repoRoot, ".state", "main.json")
	}
	return filepath.Join(m.repoRoot, ".state", "workspaces", name+".json")
}

func (m *Manager) lockDir(name string) string {
	if name == MainWorkspace {
		return filepath.Join(m.repoRoot, ".state", "main.lockdir")
	}
	return filepath.Join(m.repoRoot, ".state", "workspaces", name+".lockdir")
}

// Create registers a new workspace: it makes the directory and writes a
// descriptor recording baseState. It does not write any files of that
// state; Materialize does. name must pass types.ValidateName; MainWorkspace is created once by
// repo init and recreated here only if its descriptor is missing.
func (m *Manager) Create(name, lane string, baseState types.Hash, agentID string) (types.Workspace, error) {
	if name != MainWorkspace {
		if err := types.ValidateName(name); err != nil {
			return types.Workspace{}, flerr.WithFields(flerr.ErrInvalidName, map[string]any{"name": name})
		}
	}
	if _, err := os.Stat(m.descriptorPath(name)); err == nil {
		return types.Workspace{}, flerr.WithFields(flerr.New(flerr.Conflict, "workspace already exists", nil), map[string]any{"name": name})
	}

	if err := os.MkdirAll(m.Dir(name), 0755); err != nil {
		return types.Workspace{}, fmt.Errorf("workspace: create directory: %w", err)
	}
	ws := types.Workspace{
		Name:      name,
		Lane:      lane,
		BaseState: baseState,
		CreatedAt: types.Now(),
		Status:    types.WorkspaceActive,
		AgentID:   agentID,
	}
	if err := m.saveDescriptor(ws); err != nil {
		return types.Workspace{}, err
	}
	log.WithWorkspace(name).Info().Str("lane", lane).Msg("workspace created")
	return ws, nil
}

// Get returns the descriptor for a workspace.
func (m *Manager) Get(name string) (types.Workspace, error) {
	var ws types.Workspace
	body, err := os.ReadFile(m.descriptorPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ws, flerr.WithFields(flerr.ErrNotFound, map[string]any{"workspace": name})
		}
		return ws, err
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return ws, err
	}
	return ws, nil
}

// List returns every workspace descriptor, main first, then others
// sorted by name.
func (m *Manager) List() ([]types.Workspace, error) {
	var out []types.Workspace
	if ws, err := m.Get(MainWorkspace); err == nil {
		out = append(out, ws)
	} else if !flerr.Is(err, flerr.NotFound) {
		return nil, err
	}

	dir := filepath.Join(m.repoRoot, ".state", "workspaces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	for _, name := range names {
		ws, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, nil
}

// Delete disposes of a workspace: removes its materialized directory,
// lock directory, and descriptor. MainWorkspace cannot be deleted.
func (m *Manager) Delete(name string) error {
	if name == MainWorkspace {
		return flerr.WithFields(flerr.New(flerr.Validation, "the main workspace cannot be removed", nil), nil)
	}
	if _, err := m.Get(name); err != nil {
		return err
	}
	if err := os.RemoveAll(m.Dir(name)); err != nil {
		return fmt.Errorf("workspace: remove directory: %w", err)
	}
	if err := os.RemoveAll(m.lockDir(name)); err != nil {
		return fmt.Errorf("workspace: remove lock directory: %w", err)
	}
	if err := os.Remove(m.descriptorPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: remove descriptor: %w", err)
	}
	log.WithWorkspace(name).Info().Msg("workspace deleted")
	return nil
}

// saveDescriptor writes ws's JSON descriptor atomically: tempfile,
// fsync, rename, per spec.md §4.3.
func (m *Manager) saveDescriptor(ws types.Workspace) error {
	path := m.descriptorPath(ws.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("workspace: create descriptor directory: %w", err)
	}
	body, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(path, body, 0644)
}

// atomicWriteFile writes content to path via tempfile + fsync + rename.
func atomicWriteFile(path string, content []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create tempfile: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write tempfile: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync tempfile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close tempfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename tempfile: %w", err)
	}
	return nil
}
