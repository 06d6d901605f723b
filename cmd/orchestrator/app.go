package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/internal/config"
	"github.com/jenozu/orchestrator/pkg/generate"
	"github.com/jenozu/orchestrator/pkg/memory"
	"github.com/jenozu/orchestrator/pkg/memory/postgres"
	"github.com/jenozu/orchestrator/pkg/runlog"
)

// app is the resolved environment for one command invocation.
type app struct {
	root    string
	paths   *config.Paths
	cfg     config.Config
	cfgPath string // "" when running on defaults
	logger  *log.Logger
}

// loadApp resolves paths and config from env vars and the persistent flags.
func loadApp(cmd *cobra.Command) (*app, error) {
	root, _ := cmd.Flags().GetString("project")
	explicit, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	paths, err := config.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if explicit == "" {
		explicit = paths.ConfigPath
	}

	cfg, used, err := config.Discover(root, explicit)
	if err != nil {
		return nil, err
	}

	var out io.Writer = io.Discard
	if verbose {
		out = cmd.ErrOrStderr()
	}

	return &app{
		root:    root,
		paths:   paths,
		cfg:     cfg,
		cfgPath: used,
		logger:  log.New(out, "orchestrator: ", log.LstdFlags),
	}, nil
}

// generator returns the configured generator, or generate.Null.
func (a *app) generator() generate.Generator {
	if len(a.cfg.Generator.Command) == 0 {
		return generate.Null{}
	}
	return &generate.Exec{Command: a.cfg.Generator.Command, Model: a.cfg.Generator.Model}
}

// runLogger opens the run log directory.
func (a *app) runLogger() (*runlog.Logger, error) {
	return runlog.NewLogger(runlog.Config{Dir: a.paths.LogDir, Logger: a.logger})
}

// memoryHandle owns a Store and whatever backs it. Save writes the current
// records to the configured persister; Close releases the databases.
type memoryHandle struct {
	Store     *memory.Store
	persister memory.Persister
	closers   []func()
	logger    *log.Logger
}

// openMemory is the single place the memory store is created: it picks the
// searcher and persister from config and restores the last snapshot.
func (a *app) openMemory(ctx context.Context) (*memoryHandle, error) {
	kind, target, err := config.ParsePersistence(a.cfg.Persistence, a.paths.MemoryDBPath)
	if err != nil {
		return nil, err
	}

	h := &memoryHandle{logger: a.logger}
	var db *sql.DB
	sqliteDB := func() (*sql.DB, error) {
		if db != nil {
			return db, nil
		}
		path := ":memory:"
		if kind == config.PersistSQLite {
			path = target
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create memory dir: %w", err)
			}
		}
		d, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		db = d
		h.closers = append(h.closers, func() { _ = d.Close() })
		return db, nil
	}

	var searcher memory.Searcher = memory.NullSearcher{}
	switch a.cfg.Search {
	case config.SearchFTS:
		d, err := sqliteDB()
		if err != nil {
			h.Close()
			return nil, err
		}
		fts, err := memory.NewFTSIndex(ctx, d)
		if err != nil {
			h.Close()
			return nil, err
		}
		searcher = fts
	case config.SearchVector:
		searcher = memory.NewVectorIndex()
	}

	switch kind {
	case config.PersistSQLite:
		d, err := sqliteDB()
		if err != nil {
			h.Close()
			return nil, err
		}
		p, err := memory.NewSQLitePersister(ctx, d)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.persister = p
	case config.PersistPostgres:
		pool, err := pgxpool.New(ctx, target)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		h.closers = append(h.closers, pool.Close)
		p := postgres.New(pool)
		if err := p.CreateSchema(ctx); err != nil {
			h.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		h.persister = p
	}

	h.Store = memory.NewStore(memory.Config{Searcher: searcher, Logger: a.logger})
	if h.persister != nil {
		records, err := h.persister.Load(ctx)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("load memory: %w", err)
		}
		n := h.Store.Restore(ctx, records)
		a.logger.Printf("memory: restored %d of %d records", n, len(records))
	}
	return h, nil
}

// Persistent reports whether Save writes anywhere.
func (h *memoryHandle) Persistent() bool { return h.persister != nil }

// Save writes the store snapshot. Without a persister it is a no-op.
func (h *memoryHandle) Save(ctx context.Context) error {
	if h.persister == nil {
		return nil
	}
	if err := h.persister.Save(ctx, h.Store.Records("")); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// Close releases databases in reverse open order.
func (h *memoryHandle) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
	h.closers = nil
}

// withMemory opens the store, runs fn, and saves the snapshot if fn
// succeeded and mutate is set.
func (a *app) withMemory(ctx context.Context, mutate bool, fn func(*memory.Store) error) error {
	h, err := a.openMemory(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := fn(h.Store); err != nil {
		return err
	}
	if mutate {
		return h.Save(ctx)
	}
	return nil
}
