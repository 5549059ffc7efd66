package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *cas.Store, string) {
	t.Helper()
	root := t.TempDir()
	db, err := store.Open(filepath.Join(root, ".state", "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	casStore, err := cas.Open(db, cas.Options{BlobsDir: filepath.Join(root, ".state", "blobs")})
	require.NoError(t, err)

	mgr, err := Open(root, db, casStore)
	require.NoError(t, err)
	return mgr, casStore, root
}

func buildSimpleState(t *testing.T, c *cas.Store, fileContent string) types.Hash {
	t.Helper()
	blob, err := c.PutBlob([]byte(fileContent))
	require.NoError(t, err)
	tree, err := c.PutTree([]types.TreeEntry{{Name: "hello.txt", Kind: types.EntryBlob, Hash: blob, Mode: 0644}})
	require.NoError(t, err)
	state, err := c.PutState(tree, "", 1000)
	require.NoError(t, err)
	return state
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create("bad/name", "main", "", "")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Validation))
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	_, err = mgr.Create("feature", "main", "", "")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Conflict))
}

func TestMaterialize_WritesFiles(t *testing.T) {
	mgr, c, root := newTestManager(t)
	state := buildSimpleState(t, c, "hello world\n")

	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Materialize("feature", state))

	body, err := os.ReadFile(filepath.Join(root, ".state", "workspaces", "feature", "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(body))

	ws, err := mgr.Get("feature")
	require.NoError(t, err)
	require.Equal(t, state, ws.BaseState)
}

func TestMaterializeThenSnapshot_RoundTrips(t *testing.T) {
	mgr, c, _ := newTestManager(t)
	state := buildSimpleState(t, c, "round trip\n")

	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Materialize("feature", state))

	snapHash, err := mgr.Snapshot("feature", "")
	require.NoError(t, err)

	original, err := c.GetState(state)
	require.NoError(t, err)
	snap, err := c.GetState(snapHash)
	require.NoError(t, err)
	require.Equal(t, original.RootTree, snap.RootTree)
}

func TestSnapshot_UsesLaneHeadWhenNoBaseState(t *testing.T) {
	mgr, c, root := newTestManager(t)
	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".state", "workspaces", "feature", "f.txt"), []byte("x"), 0644))

	snapHash, err := mgr.Snapshot("feature", "some-lane-head")
	require.NoError(t, err)

	state, err := c.GetState(snapHash)
	require.NoError(t, err)
	require.Equal(t, "some-lane-head", state.ParentID)
}

func TestSnapshot_RespectsStateignore(t *testing.T) {
	mgr, c, root := newTestManager(t)
	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)

	dir := filepath.Join(root, ".state", "workspaces", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".stateignore"), []byte("secrets.txt\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.txt"), []byte("shh"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("keep"), 0644))

	snapHash, err := mgr.Snapshot("feature", "")
	require.NoError(t, err)
	state, err := c.GetState(snapHash)
	require.NoError(t, err)
	tree, err := c.GetTree(state.RootTree)
	require.NoError(t, err)

	var names []string
	for _, e := range tree.Entries {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "keep.txt")
	require.NotContains(t, names, "secrets.txt")
	require.NotContains(t, names, ".stateignore")
}

func TestUpdate_AppliesMinimalDiff(t *testing.T) {
	mgr, c, root := newTestManager(t)
	s1 := buildSimpleState(t, c, "version one\n")

	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Materialize("feature", s1))

	newBlob, err := c.PutBlob([]byte("version two\n"))
	require.NoError(t, err)
	addedBlob, err := c.PutBlob([]byte("new file\n"))
	require.NoError(t, err)
	tree2, err := c.PutTree([]types.TreeEntry{
		{Name: "hello.txt", Kind: types.EntryBlob, Hash: newBlob, Mode: 0644},
		{Name: "added.txt", Kind: types.EntryBlob, Hash: addedBlob, Mode: 0644},
	})
	require.NoError(t, err)
	s2, err := c.PutState(tree2, s1, 2000)
	require.NoError(t, err)

	require.NoError(t, mgr.Update("feature", s2))

	dir := filepath.Join(root, ".state", "workspaces", "feature")
	body, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "version two\n", string(body))

	body, err = os.ReadFile(filepath.Join(dir, "added.txt"))
	require.NoError(t, err)
	require.Equal(t, "new file\n", string(body))
}

func TestUpdate_RemovesDeletedFiles(t *testing.T) {
	mgr, c, root := newTestManager(t)
	blobA, err := c.PutBlob([]byte("a"))
	require.NoError(t, err)
	blobB, err := c.PutBlob([]byte("b"))
	require.NoError(t, err)
	tree1, err := c.PutTree([]types.TreeEntry{
		{Name: "a.txt", Kind: types.EntryBlob, Hash: blobA, Mode: 0644},
		{Name: "b.txt", Kind: types.EntryBlob, Hash: blobB, Mode: 0644},
	})
	require.NoError(t, err)
	s1, err := c.PutState(tree1, "", 1000)
	require.NoError(t, err)

	_, err = mgr.Create("feature", "main", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Materialize("feature", s1))

	tree2, err := c.PutTree([]types.TreeEntry{{Name: "a.txt", Kind: types.EntryBlob, Hash: blobA, Mode: 0644}})
	require.NoError(t, err)
	s2, err := c.PutState(tree2, s1, 2000)
	require.NoError(t, err)

	require.NoError(t, mgr.Update("feature", s2))

	dir := filepath.Join(root, ".state", "workspaces", "feature")
	_, err = os.Stat(filepath.Join(dir, "b.txt"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
}

func TestLock_AcquireBusyRelease(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)

	require.NoError(t, mgr.AcquireLock("feature"))
	err = mgr.AcquireLock("feature")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Resource))

	require.NoError(t, mgr.ReleaseLock("feature"))
	require.NoError(t, mgr.AcquireLock("feature"))
}

func TestDirtyMarker_SetClear(t *testing.T) {
	mgr, c, _ := newTestManager(t)
	state := buildSimpleState(t, c, "content\n")

	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)

	require.NoError(t, mgr.Materialize("feature", state))

	dirty, target, err := mgr.IsDirty("feature")
	require.NoError(t, err)
	require.False(t, dirty)
	require.Empty(t, target)
}

func TestDelete_RemovesDirectoryAndDescriptor(t *testing.T) {
	mgr, _, root := newTestManager(t)
	_, err := mgr.Create("feature", "main", "", "")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete("feature"))

	_, err = mgr.Get("feature")
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.NotFound))

	_, err = os.Stat(filepath.Join(root, ".state", "workspaces", "feature"))
	require.True(t, os.IsNotExist(err))
}

func TestDelete_RefusesMain(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create(MainWorkspace, "main", "", "")
	require.NoError(t, err)

	err = mgr.Delete(MainWorkspace)
	require.Error(t, err)
	require.True(t, flerr.Is(err, flerr.Validation))
}

func TestList_ReturnsMainFirst(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create(MainWorkspace, "main", "", "")
	require.NoError(t, err)
	_, err = mgr.Create("feature-b", "main", "", "")
	require.NoError(t, err)
	_, err = mgr.Create("feature-a", "main", "", "")
	require.NoError(t, err)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, MainWorkspace, list[0].Name)
	require.Equal(t, "feature-a", list[1].Name)
	require.Equal(t, "feature-b", list[2].Name)
}
