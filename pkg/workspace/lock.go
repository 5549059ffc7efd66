package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
)

// staleLockAge is spec.md §4.3's reclamation age: an owner.json older
// than this is considered abandoned regardless of process liveness.
const staleLockAge = 4 * time.Hour

type lockOwner struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// AcquireLock takes the advisory lock for workspace name, reclaiming
// a stale lock if one is held. Returns ErrLockBusy if the lock is held
// by a live owner.
func (m *Manager) AcquireLock(name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LockWaitDuration)

	dir := m.lockDir(name)
	if err := tryMkdirAndClaim(dir); err == nil {
		log.WithWorkspace(name).Debug().Msg("lock acquired")
		return nil
	} else if !os.IsExist(err) {
		return err
	}

	stale, err := m.lockIsStale(dir)
	if err != nil {
		return err
	}
	if !stale {
		return flerr.WithFields(flerr.ErrLockBusy, map[string]any{"workspace": name})
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := tryMkdirAndClaim(dir); err != nil {
		if os.IsExist(err) {
			// another process reclaimed it first; exactly one claimant wins.
			return flerr.WithFields(flerr.ErrLockBusy, map[string]any{"workspace": name})
		}
		return err
	}
	metrics.LockReclaimsTotal.Inc()
	log.WithWorkspace(name).Info().Msg("stale lock reclaimed")
	return nil
}

func tryMkdirAndClaim(dir string) error {
	if err := os.Mkdir(dir, 0755); err != nil {
		return err
	}
	owner := lockOwner{PID: os.Getpid(), Hostname: hostname(), StartedAt: time.Now()}
	body, err := json.Marshal(owner)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	if err := atomicWriteFile(filepath.Join(dir, "owner.json"), body, 0644); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

// ReleaseLock removes the lock directory for workspace name.
func (m *Manager) ReleaseLock(name string) error {
	if err := os.RemoveAll(m.lockDir(name)); err != nil {
		return err
	}
	log.WithWorkspace(name).Debug().Msg("lock released")
	return nil
}

// LockStatus reports whether workspace name currently holds a lock
// directory and, if so, whether it is stale (reclaimable) under the
// same rule AcquireLock uses. It never mutates anything, unlike
// AcquireLock, so callers like Doctor can inspect lock health without
// racing a real lock holder.
func (m *Manager) LockStatus(name string) (locked bool, stale bool, err error) {
	dir := m.lockDir(name)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	stale, err = m.lockIsStale(dir)
	if err != nil {
		return true, false, err
	}
	return true, stale, nil
}

// lockIsStale applies spec.md §4.3's reclamation rule: stale if
// owner.json is older than staleLockAge, or (same host only) its pid
// is no longer alive. On a cross-host shared filesystem only the age
// check can apply, since a remote pid can't be probed locally.
func (m *Manager) lockIsStale(dir string) (bool, error) {
	body, err := os.ReadFile(filepath.Join(dir, "owner.json"))
	if err != nil {
		if os.IsNotExist(err) {
			// lock directory exists but owner.json was never written —
			// a crash between mkdir and the write. Safe to reclaim.
			return true, nil
		}
		return false, err
	}
	var owner lockOwner
	if err := json.Unmarshal(body, &owner); err != nil {
		return false, err
	}
	if time.Since(owner.StartedAt) > staleLockAge {
		return true, nil
	}
	if owner.Hostname == hostname() && !processAlive(owner.PID) {
		return true, nil
	}
	return false, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
