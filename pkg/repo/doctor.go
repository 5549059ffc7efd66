package repo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/types"
)

// DoctorReport is a read-only integrity sweep over a repository: it
// never mutates anything, unlike pkg/gc.Run, which is free to delete
// once its mark phase is done. Doctor exists for a human to read
// before deciding whether a gc run or a manual fix is warranted.
type DoctorReport struct {
	OrphanedSpillFiles   []string
	DanglingStatCache    int
	DirtyWorkspaces      []string
	LanesMissingHead     []string
	TransitionsMissingTo []string
	StaleWorkspaceLocks  []string
	InstanceLockHealthy  bool
}

// Doctor runs every read-only integrity check this package knows
// about and returns their combined findings.
func (r *Repository) Doctor() (DoctorReport, error) {
	var report DoctorReport

	spillOrphans, err := r.scanOrphanedSpillFiles()
	if err != nil {
		return report, err
	}
	report.OrphanedSpillFiles = spillOrphans

	entries, err := r.workspace.IterStatCache()
	if err != nil {
		return report, err
	}
	for _, e := range entries {
		has, err := r.cas.Has(cas.KindBlob, e.Hash)
		if err != nil {
			return report, err
		}
		if !has {
			report.DanglingStatCache++
		}
	}

	workspaces, err := r.workspace.List()
	if err != nil {
		return report, err
	}
	for _, ws := range workspaces {
		if dirty, _, err := r.workspace.IsDirty(ws.Name); err != nil {
			return report, err
		} else if dirty {
			report.DirtyWorkspaces = append(report.DirtyWorkspaces, ws.Name)
		}
		if locked, stale, err := r.workspace.LockStatus(ws.Name); err != nil {
			return report, err
		} else if locked && stale {
			report.StaleWorkspaceLocks = append(report.StaleWorkspaceLocks, ws.Name)
		}
	}

	lanes, err := r.ledger.ListLanes()
	if err != nil {
		return report, err
	}
	for _, lane := range lanes {
		if lane.HeadState == "" {
			continue
		}
		if _, err := r.cas.GetState(lane.HeadState); err != nil {
			report.LanesMissingHead = append(report.LanesMissingHead, lane.Name)
		}
	}

	transitions, err := r.ledger.History("", 0, nil)
	if err != nil {
		return report, err
	}
	for _, t := range transitions {
		if t.Status == types.TransitionRejected {
			continue
		}
		if _, err := r.cas.GetState(t.ToState); err != nil {
			report.TransitionsMissingTo = append(report.TransitionsMissingTo, t.ID)
		}
	}

	report.InstanceLockHealthy = r.instanceLockStillHealthy()
	return report, nil
}

// scanOrphanedSpillFiles walks the CAS's spill directory, flagging any
// leftover .tmp file from a crashed write and any spilled file whose
// hash is no longer a registered blob (the write committed the file
// but crashed before the bucket row, or GC removed the row but not the
// file through some path other than Delete).
func (r *Repository) scanOrphanedSpillFiles() ([]string, error) {
	dir := r.cas.BlobsDir()
	if dir == "" {
		return nil, nil
	}
	var orphans []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".tmp") {
			orphans = append(orphans, path)
			return nil
		}
		has, err := r.cas.Has(cas.KindBlob, name)
		if err != nil {
			return err
		}
		if !has {
			orphans = append(orphans, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}
