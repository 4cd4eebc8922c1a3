// Package opsloom is the public facade over the work substrate: the
// element store with its event journal, the dependency graph and
// blocked-state cache, the ready scheduler, the plan/workflow engine,
// the inbox router, and the agent session manager. Everything real
// lives under internal/; this package wires the collaborators together
// the one correct way and re-exports the types callers need.
package opsloom

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/config"
	"github.com/opsloom/opsloom/internal/exportimport"
	"github.com/opsloom/opsloom/internal/lockfile"
	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/scheduler"
	"github.com/opsloom/opsloom/internal/session"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/store"
	"github.com/opsloom/opsloom/internal/types"
	"github.com/opsloom/opsloom/internal/workflow"
)

// Re-exported element model, so embedding applications work with one
// import path.
type (
	Element       = types.Element
	Header        = types.Header
	Kind          = types.Kind
	TaskData      = types.TaskData
	Dependency    = types.Dependency
	Event         = types.Event
	EventFilter   = types.EventFilter
	ElementFilter = types.ElementFilter
	Page          = types.Page
)

// Engine is one opened opsloom database plus every subsystem wired over
// it. Construct with Open, release with Close.
type Engine struct {
	Store     *store.Store
	Cache     *blocked.Cache
	Scheduler *scheduler.Scheduler
	Workflows *workflow.Engine
	Sessions  *session.Manager
	Config    *config.Config

	db   *sqlite.Store
	lock *lockfile.Locker
	log  *logging.Logger
}

// Options configures Open beyond what the config file provides.
type Options struct {
	// DBPath overrides config key db.path.
	DBPath string
	// Spawner enables the session manager; nil leaves Sessions nil,
	// for embedders that only want the work substrate.
	Spawner session.Spawner
}

// Open loads configuration, takes the single-writer lock next to the
// database, opens storage, and wires every subsystem. The lock is held
// until Close: the engine assumes it is the only writing process (one
// writable process owns the store and cache).
func Open(ctx context.Context, opts Options) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = cfg.GetString("db.path")
	}

	log := logging.New("opsloom", logging.Options{
		FilePath:   filepath.Join(cfg.GetString("log.dir"), "opsloom.log"),
		MaxSizeMB:  cfg.GetInt("log.max-size-mb"),
		MaxBackups: cfg.GetInt("log.max-backups"),
		MaxAgeDays: cfg.GetInt("log.max-age-days"),
	})

	var lock *lockfile.Locker
	if dbPath != "" {
		lock = lockfile.New(dbPath + ".lock")
		if err := lock.Lock(); err != nil {
			return nil, fmt.Errorf("acquire writer lock for %s: %w", dbPath, err)
		}
	}

	db, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	cache := blocked.New(db, log)
	elements := store.New(db, cache)

	eng := &Engine{
		Store:     elements,
		Cache:     cache,
		Scheduler: scheduler.New(db, cache, log),
		Workflows: workflow.New(db, cache, log),
		Config:    cfg,
		db:        db,
		lock:      lock,
		log:       log,
	}

	if opts.Spawner != nil {
		var registry *session.Registry
		if dbPath != "" {
			registry, err = session.NewRegistry(filepath.Dir(dbPath))
			if err != nil {
				eng.Close()
				return nil, err
			}
		}
		eng.Sessions = session.New(opts.Spawner, elements, registry, log)
		if _, err := eng.Sessions.ReconcileOnStartup(ctx); err != nil {
			eng.log.Warnf("startup reconciliation: %v", err)
		}
	}
	return eng, nil
}

// Export writes the full element and dependency set as NDJSON.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	return exportimport.Export(ctx, e.db, w)
}

// Import reads an NDJSON stream produced by Export.
func (e *Engine) Import(ctx context.Context, r io.Reader, opts exportimport.ImportOptions) (*exportimport.Result, error) {
	return exportimport.Import(ctx, e.db, r, opts)
}

// Close releases storage and the writer lock.
func (e *Engine) Close() error {
	err := e.db.Close()
	if e.lock != nil {
		if uerr := e.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}
