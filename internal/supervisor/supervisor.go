// Package supervisor enumerates change-tracked tables every tick and
// dispatches a detached Table Sync task for each one not already active.
package supervisor

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/mssqlsync/syncd/internal/schema"
	"github.com/mssqlsync/syncd/internal/state"
	"github.com/mssqlsync/syncd/internal/tablesync"
)

// TableRef identifies one change-tracked table on the primary.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) qualified() string { return t.Schema + "." + t.Name }

// Supervisor owns the tick loop, the per-table exclusion set, and the
// concurrency permit pool.
type Supervisor struct {
	Primary      *sql.DB
	Replica      *sql.DB
	State        *state.TableState
	Logger       loggers.Advanced
	TickInterval time.Duration

	permits *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
}

// New returns a Supervisor with syncThreads permits and a default
// TickInterval of 5s.
func New(primary, replica *sql.DB, st *state.TableState, syncThreads int64, logger loggers.Advanced) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{
		Primary:      primary,
		Replica:      replica,
		State:        st,
		Logger:       logger,
		TickInterval: 5 * time.Second,
		permits:      semaphore.NewWeighted(syncThreads),
		active:       make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled, enumerating change-tracked tables and
// dispatching a detached sync task for each one not already in the active
// set. After fan-out it runs sync_views/sync_routines inline.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil {
			s.Logger.Errorf("supervisor tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) error {
	tables, err := ListChangeTrackedTables(ctx, s.Primary)
	if err != nil {
		return err
	}

	for _, t := range tables {
		if !s.claim(t.qualified()) {
			continue
		}
		go s.runTable(ctx, t)
	}

	reconciler := schema.New(s.Primary, s.Replica, s.Logger)
	if err := reconciler.SyncViews(ctx); err != nil {
		s.Logger.Warnf("sync_views failed: %v", err)
	}
	if err := reconciler.SyncRoutines(ctx); err != nil {
		s.Logger.Warnf("sync_routines failed: %v", err)
	}
	for _, t := range tables {
		if err := reconciler.PruneColumns(ctx, t.Schema, t.Name); err != nil {
			s.Logger.Warnf("prune_columns for %s failed: %v", t.qualified(), err)
		}
	}
	return nil
}

// claim inserts name into the active set if absent, returning whether the
// insertion happened. Check-and-insert is atomic under mu, guaranteeing at
// most one outstanding task per table.
func (s *Supervisor) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[name]; ok {
		return false
	}
	s.active[name] = struct{}{}
	return true
}

func (s *Supervisor) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, name)
}

// runTable acquires a permit, runs the table's sync worker, and releases
// both the permit and the active-set claim on every exit path. The permit
// acquire happens after the claim, so enumeration never blocks on a
// saturated worker pool.
func (s *Supervisor) runTable(ctx context.Context, t TableRef) {
	defer s.release(t.qualified())

	if err := s.permits.Acquire(ctx, 1); err != nil {
		return // context cancelled while waiting for a permit
	}
	defer s.permits.Release(1)

	worker := tablesync.New(s.Primary, s.Replica, s.State, t.Schema, t.Name, s.Logger)
	if err := worker.Run(ctx); err != nil {
		s.Logger.Errorf("sync of %s failed: %v", t.qualified(), err)
	}
}

// ListChangeTrackedTables enumerates every table with change tracking
// enabled on the primary. A table enters the system by appearing in the
// primary's change-tracking catalog.
func ListChangeTrackedTables(ctx context.Context, db *sql.DB) ([]TableRef, error) {
	rows, err := db.QueryContext(ctx, `
SELECT s.name, t.name
FROM sys.change_tracking_tables ctt
JOIN sys.tables t ON t.object_id = ctt.object_id
JOIN sys.schemas s ON s.schema_id = t.schema_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableRef
	for rows.Next() {
		var t TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
