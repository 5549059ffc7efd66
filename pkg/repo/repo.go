package repo

import (
	"os"
	"path/filepath"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/config"
	"github.com/flanes-dev/flanes/pkg/events"
	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/gc"
	"github.com/flanes-dev/flanes/pkg/ledger"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/store"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/flanes-dev/flanes/pkg/workspace"
)

// Repository is the opened, ready-to-use handle on a Flanes repository
// root: the shared store, the three layers built on it, the loaded
// configuration, and this process's instance lock.
type Repository struct {
	root      string
	db        *store.DB
	cas       *cas.Store
	ledger    *ledger.Ledger
	workspace *workspace.Manager
	config    *config.Config
	gc        *gc.GC
	events    *events.Broker
	marker    *instanceMarker
}

// Init bootstraps a new repository at root: creates .state, writes
// config.json, opens the store, and creates the configured default
// lane with a genesis (empty) state. Fails if root already has a
// .state directory.
func Init(root string, cfg *config.Config) (*Repository, error) {
	stateDir := filepath.Join(root, ".state")
	if _, err := os.Stat(stateDir); err == nil {
		return nil, flerr.WithFields(flerr.New(flerr.Conflict, "repository already initialized", nil), map[string]any{"root": root})
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(root); err != nil {
		return nil, err
	}

	r, err := open(root, cfg)
	if err != nil {
		return nil, err
	}

	genesisTree, err := r.cas.PutTree(nil)
	if err != nil {
		r.Close()
		return nil, err
	}
	genesisState, err := r.cas.PutState(genesisTree, "", types.Now())
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := r.ledger.InsertState(genesisState); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.ledger.CreateLane(cfg.DefaultLane, genesisState, ""); err != nil {
		r.Close()
		return nil, err
	}
	if _, err := r.workspace.Create("main", cfg.DefaultLane, genesisState, ""); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.workspace.Materialize("main", genesisState); err != nil {
		r.Close()
		return nil, err
	}

	log.WithComponent("repo").Info().Str("root", root).Str("lane", cfg.DefaultLane).Msg("repository initialized")
	return r, nil
}

// Open opens an existing repository at root, loading its
// configuration and acquiring the instance fencing marker.
func Open(root string) (*Repository, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return open(root, cfg)
}

func open(root string, cfg *config.Config) (*Repository, error) {
	marker, err := acquireInstanceLock(root)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(root, ".state", "store.db"))
	if err != nil {
		releaseInstanceLock(root)
		return nil, err
	}

	casStore, err := cas.Open(db, cas.Options{
		BlobsDir:     filepath.Join(root, ".state", "blobs"),
		MaxBlobSize:  cfg.MaxBlobSize,
		MaxTreeDepth: cfg.MaxTreeDepth,
	})
	if err != nil {
		db.Close()
		releaseInstanceLock(root)
		return nil, err
	}

	l, err := ledger.Open(db)
	if err != nil {
		db.Close()
		releaseInstanceLock(root)
		return nil, err
	}

	ws, err := workspace.Open(root, db, casStore)
	if err != nil {
		db.Close()
		releaseInstanceLock(root)
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	return &Repository{
		root:      root,
		db:        db,
		cas:       casStore,
		ledger:    l,
		workspace: ws,
		config:    cfg,
		gc:        gc.New(l, casStore, ws),
		events:    broker,
		marker:    marker,
	}, nil
}

// Close releases the instance lock, stops the event broker, and closes
// the shared store.
func (r *Repository) Close() error {
	r.events.Stop()
	if err := r.db.Close(); err != nil {
		return err
	}
	return releaseInstanceLock(r.root)
}

func (r *Repository) Root() string                  { return r.root }
func (r *Repository) Config() *config.Config        { return r.config }
func (r *Repository) Ledger() *ledger.Ledger        { return r.ledger }
func (r *Repository) CAS() *cas.Store               { return r.cas }
func (r *Repository) Workspace() *workspace.Manager { return r.workspace }
func (r *Repository) GC() *gc.GC                    { return r.gc }

// Events returns the repository's lifecycle event broker. Subscribe to
// it to receive transition/lane/budget/gc notifications; see pkg/events.
func (r *Repository) Events() *events.Broker { return r.events }

func (r *Repository) publish(ev *events.Event) {
	r.events.Publish(ev)
}
