// Package trellis assembles a schema version-control system from
// configuration: content-addressed snapshot storage, the commit DAG,
// branch directory, hierarchical locks, background compaction, and the
// engine facade that ties them together.
package trellis

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/compact"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/engine"
	"github.com/trellis-data/trellis/internal/config"
	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/resolve"
	"github.com/trellis-data/trellis/snapshot"
)

// System is a fully wired Trellis instance. Engine serves reads and
// writes; the compactor and lock monitor are background loops the caller
// starts and stops around it.
type System struct {
	Engine    *engine.Engine
	Compactor *compact.Compactor
	Monitor   *lock.Monitor

	walker *dag.Walker
	client *redis.Client
	db     *sql.DB
}

// Options overrides pieces of the assembly that configuration cannot
// express: a resolver policy, a manifest sink, or a logger.
type Options struct {
	Resolver *resolve.Resolver
	Exporter manifest.Exporter
	Log      *zap.Logger
}

// Open builds a System from configuration. The memory backend keeps all
// state in process; the redis backend shares snapshots, commits, branch
// heads, and lock leases through one Redis instance. A Postgres URL adds
// the durable compaction archive (the table is created if missing).
func Open(ctx context.Context, cfg *config.Config, opts Options) (*System, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	sys := &System{}

	var (
		snapshots snapshot.Store
		commits   dag.Store
		branches  branch.Directory
		coord     lock.Coordinator
	)
	switch cfg.Backend {
	case "redis":
		sys.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		snapshots = snapshot.NewRedisStore(sys.client, cfg.Redis.Prefix)
		commits = dag.NewRedisStore(sys.client, cfg.Redis.Prefix)
		branches = branch.NewRedisDirectory(sys.client, cfg.Redis.Prefix)
		coord = lock.NewRedisCoordinator(sys.client, cfg.Redis.Prefix)
	case "memory":
		snapshots = snapshot.NewMemoryStore()
		commits = dag.NewMemoryStore()
		branches = branch.NewMemoryDirectory()
		coord = lock.NewMemoryCoordinator()
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}

	if cfg.Cache.SchemaCacheEntries > 0 {
		cached, err := snapshot.NewCachingStore(snapshots, cfg.Cache.SchemaCacheEntries)
		if err != nil {
			sys.Close()
			return nil, fmt.Errorf("build schema cache: %w", err)
		}
		snapshots = cached
	}

	walker, err := dag.NewWalker(commits, &dag.WalkerConfig{MaxCost: cfg.Cache.CommitCacheBytes})
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("build walker: %w", err)
	}
	sys.walker = walker

	locks := lock.NewManager(coord, log)
	sys.Monitor = lock.NewMonitor(locks, cfg.Lock.MonitorInterval, log)

	var archive compact.Archive
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("pgx", cfg.Postgres.URL)
		if err != nil {
			sys.Close()
			return nil, fmt.Errorf("open archive database: %w", err)
		}
		sys.db = db
		pg := compact.NewPostgresArchive(db)
		if err := pg.Initialize(ctx); err != nil {
			sys.Close()
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		archive = pg
	} else {
		archive = compact.NewMemoryArchive()
	}

	sys.Compactor, err = compact.New(compact.Options{
		Store:          commits,
		Branches:       branches,
		Walker:         walker,
		Locks:          locks,
		Archive:        archive,
		Interval:       cfg.Compaction.Interval,
		BatchSize:      cfg.Compaction.BatchSize,
		MinChainLength: cfg.Compaction.MinChainLength,
		Log:            log,
	})
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("build compactor: %w", err)
	}

	sys.Engine, err = engine.New(engine.Options{
		Snapshots: snapshots,
		Commits:   commits,
		Walker:    walker,
		Branches:  branches,
		Locks:     locks,
		Resolver:  opts.Resolver,
		Archive:   archive,
		Exporter:  opts.Exporter,
		LockTTL:   cfg.Lock.TTL,
		LockWait:  cfg.Lock.AcquireTimeout,
		Log:       log,
	})
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return sys, nil
}

// Start launches the background loops: periodic compaction and the lock
// stall monitor.
func (s *System) Start(ctx context.Context) {
	s.Compactor.Start(ctx)
	s.Monitor.Start(ctx)
}

// Stop halts the background loops and waits for them to exit.
func (s *System) Stop() {
	s.Compactor.Stop()
	s.Monitor.Stop()
}

// Close releases connections and caches. Background loops must already be
// stopped.
func (s *System) Close() error {
	var firstErr error
	if s.walker != nil {
		s.walker.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			firstErr = err
		}
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
