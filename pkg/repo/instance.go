package repo

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
)

// instanceStaleAge bounds how long a same-host marker blocks a new
// Open: a marker older than this is reclaimed even if its PID is still
// alive. A marker written by a different host is never reclaimed,
// whatever its age.
const instanceStaleAge = 24 * time.Hour

// instanceMarker is the contents of .state/instance.lock, spec.md §6's
// cross-host fencing marker. Token is a crypto/rand identity, grounded
// on Warren's TokenManager.GenerateToken, repurposed from identifying
// a cluster join to identifying the one process holding this
// repository open.
type instanceMarker struct {
	Token    string    `json:"token"`
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`
	OpenedAt time.Time `json:"opened_at"`
}

func instanceLockPath(root string) string {
	return filepath.Join(root, ".state", "instance.lock")
}

func newInstanceToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// acquireInstanceLock writes .state/instance.lock, refusing if another
// host already holds it or the same host's owning PID is still alive.
func acquireInstanceLock(root string) (*instanceMarker, error) {
	path := instanceLockPath(root)
	existing, err := readInstanceMarker(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if existing.Hostname != repoHostname() {
			return nil, flerr.WithFields(flerr.ErrLockBusy, map[string]any{
				"held_by_host": existing.Hostname,
			})
		}
		if time.Since(existing.OpenedAt) < instanceStaleAge && repoProcessAlive(existing.PID) {
			return nil, flerr.WithFields(flerr.ErrLockBusy, map[string]any{
				"held_by_pid": existing.PID,
			})
		}
		log.WithComponent("repo").Info().Int("stale_pid", existing.PID).Msg("reclaiming stale instance lock")
	}

	token, err := newInstanceToken()
	if err != nil {
		return nil, err
	}
	marker := &instanceMarker{
		Token:    token,
		Hostname: repoHostname(),
		PID:      os.Getpid(),
		OpenedAt: time.Now(),
	}
	body, err := json.Marshal(marker)
	if err != nil {
		return nil, err
	}
	if err := atomicWriteFile(path, body); err != nil {
		return nil, err
	}
	return marker, nil
}

func readInstanceMarker(path string) (*instanceMarker, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var marker instanceMarker
	if err := json.Unmarshal(body, &marker); err != nil {
		return nil, err
	}
	return &marker, nil
}

// releaseInstanceLock removes the marker, letting a future Open (from
// any host) claim the repository cleanly.
func releaseInstanceLock(root string) error {
	err := os.Remove(instanceLockPath(root))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func atomicWriteFile(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func repoHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// instanceLockStillHealthy re-reads .state/instance.lock from disk and
// confirms it still names the current host and still carries this
// Repository's own token, rather than trusting the marker captured
// once at Open time. A mismatch means another process reclaimed or
// overwrote the lock after this one opened, or the file was tampered
// with — both integrity concerns Doctor should surface.
func (r *Repository) instanceLockStillHealthy() bool {
	marker, err := readInstanceMarker(instanceLockPath(r.root))
	if err != nil {
		// missing, unreadable, or corrupt marker is unhealthy, not fatal.
		return false
	}
	if r.marker == nil {
		return false
	}
	return marker.Hostname == repoHostname() && marker.Token == r.marker.Token
}

func repoProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
