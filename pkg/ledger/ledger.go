package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/metrics"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStates            = []byte("ledger_states")
	bucketIntents           = []byte("ledger_intents")
	bucketTransitions       = []byte("ledger_transitions")
	bucketTransitionsByTo   = []byte("ledger_transitions_by_to_state")
	bucketLanes             = []byte("ledger_lanes")
)

var migrations = []store.Migration{
	{
		Version: 1,
		Name:    "create_buckets",
		Apply: func(tx *bolt.Tx) error {
			for _, b := range [][]byte{bucketStates, bucketIntents, bucketTransitions, bucketTransitionsByTo, bucketLanes} {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Ledger is the Metadata Ledger: durable, transactional bookkeeping for
// states, transitions, intents, and lanes, spec.md §4.2.
type Ledger struct {
	db *store.DB
}

// Open prepares the ledger's buckets on db.
func Open(db *store.DB) (*Ledger, error) {
	if err := db.Migrate("ledger", migrations); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// InsertState registers hash as a referentially valid state. Idempotent.
func (l *Ledger) InsertState(hash types.Hash) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b.Get([]byte(hash)) != nil {
			return nil
		}
		return b.Put([]byte(hash), []byte(fmt.Sprintf("%d", types.Now())))
	})
}

// stateExists reports whether hash has been registered via InsertState.
func stateExists(tx *bolt.Tx, hash types.Hash) bool {
	if hash == "" {
		return true // the empty state (∅) is always a valid reference
	}
	return tx.Bucket(bucketStates).Get([]byte(hash)) != nil
}

// InsertTransition validates and stores a new transition, generating an
// ID if t.ID is empty. to_state must already be a registered state and
// lane must already exist. Returns the transition's ID.
func (l *Ledger) InsertTransition(t types.Transition) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.TransitionProposed
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = types.Now()
	}
	if t.Intent.ID == "" {
		t.Intent.ID = uuid.NewString()
	}

	err := l.db.Bolt().Update(func(tx *bolt.Tx) error {
		if !stateExists(tx, t.ToState) {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"to_state": t.ToState})
		}
		if tx.Bucket(bucketLanes).Get([]byte(t.Lane)) == nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"lane": t.Lane})
		}

		intentBody, err := json.Marshal(t.Intent)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIntents).Put([]byte(t.Intent.ID), intentBody); err != nil {
			return err
		}

		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransitions).Put([]byte(t.ID), body); err != nil {
			return err
		}
		return tx.Bucket(bucketTransitionsByTo).Put([]byte(t.ToState), []byte(t.ID))
	})
	if err != nil {
		return "", err
	}
	metrics.TransitionsTotal.WithLabelValues(string(t.Status)).Inc()
	log.WithTransition(t.ID).Info().Str("lane", t.Lane).Str("to_state", t.ToState).Msg("transition proposed")
	return t.ID, nil
}

// GetTransition returns the transition stored under id.
func (l *Ledger) GetTransition(id string) (types.Transition, error) {
	var t types.Transition
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTransitions).Get([]byte(id))
		if v == nil {
			return flerr.ErrNotFound
		}
		return json.Unmarshal(v, &t)
	})
	return t, err
}

// legalStatusTransition enforces the lifecycle edges spec.md §3 names:
// proposed -> evaluating -> {accepted, rejected}, with proposed also
// allowed to go straight to accepted or rejected; accepted -> superseded
// only (for git-import interoperability, never created by this module).
func legalStatusTransition(from, to types.TransitionStatus) bool {
	switch from {
	case types.TransitionProposed:
		return to == types.TransitionEvaluating || to == types.TransitionAccepted || to == types.TransitionRejected
	case types.TransitionEvaluating:
		return to == types.TransitionAccepted || to == types.TransitionRejected
	case types.TransitionAccepted:
		return to == types.TransitionSuperseded
	default:
		return false
	}
}

// SetTransitionStatus moves a transition to a new status, enforcing the
// legal-edge rule. Use Accept for the accepted edge: it additionally
// advances the lane head atomically.
func (l *Ledger) SetTransitionStatus(id string, status types.TransitionStatus, summary *types.EvalSummary) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		v := b.Get([]byte(id))
		if v == nil {
			return flerr.ErrNotFound
		}
		var t types.Transition
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if !legalStatusTransition(t.Status, status) {
			return flerr.WithFields(flerr.New(flerr.Conflict, "illegal transition status change", nil), map[string]any{
				"from": t.Status, "to": status,
			})
		}
		t.Status = status
		if summary != nil {
			t.EvalResult = summary
		}
		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), body)
	})
}

// UpdateCost additively applies delta to a transition's cost record.
// Allowed only while the transition is proposed or evaluating.
func (l *Ledger) UpdateCost(id string, delta types.CostRecord) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		v := b.Get([]byte(id))
		if v == nil {
			return flerr.ErrNotFound
		}
		var t types.Transition
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.Status != types.TransitionProposed && t.Status != types.TransitionEvaluating {
			return flerr.WithFields(flerr.New(flerr.Conflict, "cost is not mutable once a transition leaves proposed/evaluating", nil), map[string]any{
				"status": t.Status,
			})
		}
		t.Cost = t.Cost.Add(delta)
		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), body)
	})
}

// Accept atomically sets a transition's status to accepted and advances
// its lane's head to the transition's to_state. Refuses with
// StaleProposal if the lane head no longer equals the transition's
// from_state.
func (l *Ledger) Accept(id string) error {
	err := l.db.Bolt().Update(func(tx *bolt.Tx) error {
		transitions := tx.Bucket(bucketTransitions)
		v := transitions.Get([]byte(id))
		if v == nil {
			return flerr.ErrNotFound
		}
		var t types.Transition
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if !legalStatusTransition(t.Status, types.TransitionAccepted) {
			return flerr.WithFields(flerr.New(flerr.Conflict, "illegal transition status change", nil), map[string]any{
				"from": t.Status, "to": types.TransitionAccepted,
			})
		}

		lanes := tx.Bucket(bucketLanes)
		lv := lanes.Get([]byte(t.Lane))
		if lv == nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"lane": t.Lane})
		}
		var lane types.Lane
		if err := json.Unmarshal(lv, &lane); err != nil {
			return err
		}
		if lane.HeadState != t.FromState {
			return flerr.WithFields(flerr.ErrStaleProposal, map[string]any{
				"lane_head": lane.HeadState, "transition_from_state": t.FromState,
			})
		}

		t.Status = types.TransitionAccepted
		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := transitions.Put([]byte(id), body); err != nil {
			return err
		}

		lane.HeadState = t.ToState
		laneBody, err := json.Marshal(lane)
		if err != nil {
			return err
		}
		return lanes.Put([]byte(t.Lane), laneBody)
	})
	if err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(types.TransitionAccepted)).Inc()
	log.WithTransition(id).Info().Msg("transition accepted, lane head advanced")
	return nil
}

// Reject sets a transition's status to rejected, capturing an evaluator
// summary.
func (l *Ledger) Reject(id string, summary *types.EvalSummary) error {
	if err := l.SetTransitionStatus(id, types.TransitionRejected, summary); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(types.TransitionRejected)).Inc()
	log.WithTransition(id).Info().Msg("transition rejected")
	return nil
}

// TransitionByToState returns the transition whose to_state equals
// hash, used by pkg/repo's Trace to walk a state's parent chain.
func (l *Ledger) TransitionByToState(hash types.Hash) (types.Transition, bool, error) {
	var t types.Transition
	found := false
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTransitionsByTo).Get([]byte(hash))
		if id == nil {
			return nil
		}
		v := tx.Bucket(bucketTransitions).Get(id)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &t)
	})
	return t, found, err
}

// CreateLane creates a new lane. Fails if the name is invalid or a lane
// with that name already exists.
func (l *Ledger) CreateLane(name string, head, forkBase types.Hash) error {
	if err := types.ValidateName(name); err != nil {
		return flerr.WithFields(flerr.ErrInvalidName, map[string]any{"name": name})
	}
	lane := types.Lane{Name: name, HeadState: head, ForkBase: forkBase, CreatedAt: types.Now()}
	err := l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLanes)
		if b.Get([]byte(name)) != nil {
			return flerr.WithFields(flerr.New(flerr.Conflict, "lane already exists", nil), map[string]any{"name": name})
		}
		body, err := json.Marshal(lane)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), body)
	})
	if err != nil {
		return err
	}
	log.WithLane(name).Info().Msg("lane created")
	return nil
}

// SetLaneHead sets a lane's head pointer directly, bypassing the
// transition-based Accept path. Used by promote and by import-style
// recovery tooling.
func (l *Ledger) SetLaneHead(name string, head types.Hash) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLanes)
		v := b.Get([]byte(name))
		if v == nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"lane": name})
		}
		var lane types.Lane
		if err := json.Unmarshal(v, &lane); err != nil {
			return err
		}
		lane.HeadState = head
		body, err := json.Marshal(lane)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), body)
	})
}

// UpdateLaneMetadata replaces a lane's metadata map wholesale. Used by
// pkg/repo's budget commands to store BudgetLimits under the
// "budget" key, spec.md §3's note that "metadata: map (budgets live
// here)".
func (l *Ledger) UpdateLaneMetadata(name string, metadata map[string]types.Value) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLanes)
		v := b.Get([]byte(name))
		if v == nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"lane": name})
		}
		var lane types.Lane
		if err := json.Unmarshal(v, &lane); err != nil {
			return err
		}
		lane.Metadata = metadata
		body, err := json.Marshal(lane)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), body)
	})
}

// GetLane returns the lane stored under name.
func (l *Ledger) GetLane(name string) (types.Lane, error) {
	var lane types.Lane
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLanes).Get([]byte(name))
		if v == nil {
			return flerr.ErrNotFound
		}
		return json.Unmarshal(v, &lane)
	})
	return lane, err
}

// ListLanes returns every lane, ordered by name.
func (l *Ledger) ListLanes() ([]types.Lane, error) {
	var lanes []types.Lane
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLanes).ForEach(func(_, v []byte) error {
			var lane types.Lane
			if err := json.Unmarshal(v, &lane); err != nil {
				return err
			}
			lanes = append(lanes, lane)
			return nil
		})
	})
	metrics.LanesTotal.Set(float64(len(lanes)))
	return lanes, err
}

// DeleteLane removes a lane. Callers are responsible for ensuring no
// in-flight transitions still reference it.
func (l *Ledger) DeleteLane(name string) error {
	err := l.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLanes)
		if b.Get([]byte(name)) == nil {
			return flerr.WithFields(flerr.ErrNotFound, map[string]any{"lane": name})
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		return err
	}
	log.WithLane(name).Info().Msg("lane deleted")
	return nil
}

// History returns up to limit transitions for lane (all lanes if lane
// is empty), most recent first, optionally filtered by status.
func (l *Ledger) History(lane string, limit int, status *types.TransitionStatus) ([]types.Transition, error) {
	var all []types.Transition
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransitions).ForEach(func(_, v []byte) error {
			var t types.Transition
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if lane != "" && t.Lane != lane {
				return nil
			}
			if status != nil && t.Status != *status {
				return nil
			}
			all = append(all, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortTransitionsByCreatedAtDesc(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortTransitionsByCreatedAtDesc(ts []types.Transition) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].CreatedAt < ts[j].CreatedAt; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}

// ListStates returns every hash registered via InsertState, for pkg/gc's
// mark phase to know the full candidate set before it computes
// reachability.
func (l *Ledger) ListStates() ([]types.Hash, error) {
	var hashes []types.Hash
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, _ []byte) error {
			hashes = append(hashes, string(k))
			return nil
		})
	})
	return hashes, err
}

// DeleteState removes hash from the state registry. pkg/gc only; no
// other caller should ever stop treating a state as valid.
func (l *Ledger) DeleteState(hash types.Hash) error {
	return l.db.Bolt().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).Delete([]byte(hash))
	})
}

// DeleteTransition removes a transition, its intent, and its to_state
// index entry. pkg/gc only, for sweeping aged-out rejected transitions.
func (l *Ledger) DeleteTransition(id string) error {
	err := l.db.Bolt().Update(func(tx *bolt.Tx) error {
		transitions := tx.Bucket(bucketTransitions)
		v := transitions.Get([]byte(id))
		if v == nil {
			return flerr.ErrNotFound
		}
		var t types.Transition
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIntents).Delete([]byte(t.Intent.ID)); err != nil {
			return err
		}
		if id2 := tx.Bucket(bucketTransitionsByTo).Get([]byte(t.ToState)); string(id2) == id {
			if err := tx.Bucket(bucketTransitionsByTo).Delete([]byte(t.ToState)); err != nil {
				return err
			}
		}
		return transitions.Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	log.WithTransition(id).Debug().Msg("transition deleted by gc")
	return nil
}

// Search returns every transition whose intent prompt, tags, or agent
// identity contains query as a case-insensitive substring.
func (l *Ledger) Search(query string) ([]types.Transition, error) {
	q := strings.ToLower(query)
	var matches []types.Transition
	err := l.db.Bolt().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransitions).ForEach(func(_, v []byte) error {
			var t types.Transition
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if transitionMatches(t, q) {
				matches = append(matches, t)
			}
			return nil
		})
	})
	return matches, err
}

func transitionMatches(t types.Transition, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(t.Intent.Prompt), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Intent.AgentID), lowerQuery) ||
		strings.Contains(strings.ToLower(t.Intent.AgentType), lowerQuery) {
		return true
	}
	for _, tag := range t.Intent.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	return false
}
