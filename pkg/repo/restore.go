package repo

import (
	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/types"
)

// Restore repoints lane directly at stateHash, bypassing the
// transition/accept path, then re-materializes every workspace
// tracking lane onto the restored state so their directories reflect
// it immediately instead of going stale. Used to recover a lane after
// a bad promote or to pin a lane at a historical state; stateHash must
// already exist in the CAS.
func (r *Repository) Restore(lane string, stateHash types.Hash) error {
	if stateHash != "" {
		if _, err := r.cas.GetState(stateHash); err != nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"state": stateHash})
		}
	}
	if err := r.ledger.SetLaneHead(lane, stateHash); err != nil {
		return err
	}

	if stateHash != "" {
		workspaces, err := r.workspace.List()
		if err != nil {
			return err
		}
		for _, ws := range workspaces {
			if ws.Lane != lane {
				continue
			}
			if err := r.workspace.AcquireLock(ws.Name); err != nil {
				return err
			}
			// Update diffs from the descriptor's base_state, which can lag
			// the files on disk (accepting a checkpoint does not move it),
			// so first rebase the descriptor onto a snapshot of the directory.
			current, updateErr := r.workspace.Snapshot(ws.Name, "")
			if updateErr == nil {
				updateErr = r.workspace.Update(ws.Name, current)
			}
			if updateErr == nil {
				updateErr = r.workspace.Update(ws.Name, stateHash)
			}
			r.workspace.ReleaseLock(ws.Name)
			if updateErr != nil {
				return updateErr
			}
		}
	}

	r.publish(&events.Event{Type: events.LaneHeadAdvanced, Lane: lane, Context: map[string]string{"state": string(stateHash)}})
	log.WithLane(lane).Info().Str("state", stateHash).Msg("lane restored")
	return nil
}
