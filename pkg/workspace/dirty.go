package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/flanes-dev/flanes/pkg/types"
)

// dirtyMarkerName is added to defaultIgnorePatterns so it never shows
// up as a tracked file in a snapshot.
const dirtyMarkerName = ".flanes-dirty"

type dirtyMarker struct {
	TargetState types.Hash `json:"target_state"`
	StartedAt   int64      `json:"started_at"`
}

func (m *Manager) dirtyMarkerPath(name string) string {
	return filepath.Join(m.Dir(name), dirtyMarkerName)
}

// writeDirtyMarker records that a materialize/update toward target is
// in flight, so a crash mid-operation is detectable on restart.
func (m *Manager) writeDirtyMarker(name string, target types.Hash) error {
	body, err := json.Marshal(dirtyMarker{TargetState: target, StartedAt: types.Now()})
	if err != nil {
		return err
	}
	return os.WriteFile(m.dirtyMarkerPath(name), body, 0644)
}

// clearDirtyMarker removes the sentinel written by writeDirtyMarker on
// successful completion of materialize/update.
func (m *Manager) clearDirtyMarker(name string) error {
	err := os.Remove(m.dirtyMarkerPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsDirty reports whether workspace name has an uncleared dirty
// marker, and the target state it was moving toward if so.
func (m *Manager) IsDirty(name string) (bool, types.Hash, error) {
	body, err := os.ReadFile(m.dirtyMarkerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, "", nil
		}
		return false, "", err
	}
	var marker dirtyMarker
	if err := json.Unmarshal(body, &marker); err != nil {
		return true, "", err
	}
	return true, marker.TargetState, nil
}

// ClearDirty removes a dirty marker without performing recovery.
// Recovery itself (re-materializing from the target) is the caller's
// responsibility, matching spec.md §4.3's "recovery is to
// re-materialize from the target" note.
func (m *Manager) ClearDirty(name string) error {
	return m.clearDirtyMarker(name)
}
