// Package tablesync runs the per-table sync state machine: entry guards,
// schema reconciliation, then one of IdleUpToDate/FullReload/Incremental.
package tablesync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"

	"github.com/mssqlsync/syncd/internal/changefeed"
	"github.com/mssqlsync/syncd/internal/mssqlconn"
	"github.com/mssqlsync/syncd/internal/schema"
	"github.com/mssqlsync/syncd/internal/state"
	"github.com/mssqlsync/syncd/internal/table"
	"github.com/mssqlsync/syncd/internal/utils"
)

const fullReloadChunkSize = 5000

// Worker syncs one table between primary and replica.
type Worker struct {
	Primary  *sql.DB
	Replica  *sql.DB
	State    *state.TableState
	Conn     *mssqlconn.Config
	Logger   loggers.Advanced
	Schema   string
	Table    string
}

// New returns a Worker. logger may be nil, in which case a default logrus
// logger is used.
func New(primary, replica *sql.DB, st *state.TableState, schemaName, tableName string, logger loggers.Advanced) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Worker{
		Primary: primary, Replica: replica, State: st, Conn: mssqlconn.NewConfig(),
		Logger: logger, Schema: schemaName, Table: tableName,
	}
}

// qualified is a human-readable schema.table form, used only for logging
// and error messages.
func (w *Worker) qualified() string { return w.Schema + "." + w.Table }

// stateKey is the key this table is tracked under in the state store. It
// is the bare table name, not schema-qualified: the DDL consumer gates on
// the same bare name pulled out of a DDL event's <ObjectName>/
// <TargetObjectName>, and the design assumes a single schema namespace, so
// both subsystems must agree on this representation or DDL events for an
// enabled table will be silently ignored.
func (w *Worker) stateKey() string { return w.Table }

func (w *Worker) quotedName() string { return fmt.Sprintf("[%s].[%s]", w.Schema, w.Table) }

// Run performs the entry guards, schema reconciliation, and one iteration
// of the data-sync state machine for this table.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.State.EnsureDefaults(ctx, w.stateKey()); err != nil {
		return fmt.Errorf("ensuring default state for %s: %w", w.qualified(), err)
	}
	enabled, err := w.State.Enabled(ctx, w.stateKey())
	if err != nil {
		return fmt.Errorf("checking enabled state for %s: %w", w.qualified(), err)
	}
	if !enabled {
		return nil
	}

	reconciler := schema.New(w.Primary, w.Replica, w.Logger)
	if err := reconciler.EnsureTable(ctx, w.Schema, w.Table); err != nil {
		return fmt.Errorf("ensuring table %s exists on replica: %w", w.qualified(), err)
	}
	if err := reconciler.SyncObjects(ctx, w.Schema, w.Table); err != nil {
		return fmt.Errorf("syncing schema objects for %s: %w", w.qualified(), err)
	}

	forceFull, err := w.State.ForceFullLoad(ctx, w.stateKey())
	if err != nil {
		return err
	}

	total, err := countRows(ctx, w.Primary, w.quotedName())
	if err != nil {
		return fmt.Errorf("counting primary rows for %s: %w", w.qualified(), err)
	}
	startedAt := utils.EpochMillis(time.Now())

	if forceFull {
		return w.FullReload(ctx, total, startedAt)
	}

	curr, err := currentChangeTrackingVersion(ctx, w.Primary)
	if err != nil {
		return fmt.Errorf("reading current change tracking version: %w", err)
	}
	last, err := w.State.Version(ctx, w.stateKey())
	if err != nil {
		return err
	}
	if curr <= last {
		return w.State.PublishProgress(ctx, w.stateKey(), total, total, startedAt)
	}
	return w.Incremental(ctx, total, startedAt)
}

func currentChangeTrackingVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "SELECT CHANGE_TRACKING_CURRENT_VERSION()").Scan(&v)
	return v, err
}

func tableHasIdentity(ctx context.Context, db *sql.DB, quotedName string) (bool, error) {
	var has int
	err := db.QueryRowContext(ctx,
		"SELECT ISNULL(OBJECTPROPERTY(OBJECT_ID(@p1), 'TableHasIdentity'), 0)", quotedName).Scan(&has)
	return has == 1, err
}

// countRows returns the primary's row count for the table at quotedName,
// used as the progress snapshot's total for both full-reload and
// already-synced reporting.
func countRows(ctx context.Context, db *sql.DB, quotedName string) (uint64, error) {
	var total uint64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT CAST(COUNT_BIG(*) AS BIGINT) FROM %s", quotedName)).Scan(&total)
	return total, err
}

// FullReload truncates the replica table and repopulates it in
// fullReloadChunkSize-row chunks ordered by OrderColumn. On cancellation
// between chunks it stops without advancing version or clearing
// force_full_load, so the next tick resumes by re-truncating and
// re-loading from scratch. total and startedAt are the row count and
// start time the caller captured before dispatching to this path, so
// every progress snapshot during the reload reports against the same
// totals.
func (w *Worker) FullReload(ctx context.Context, total uint64, startedAt int64) error {
	info, err := table.LoadInfo(ctx, w.Primary, w.Schema, w.Table)
	if err != nil {
		return fmt.Errorf("loading primary catalog for %s: %w", w.qualified(), err)
	}
	versionAtStart, err := currentChangeTrackingVersion(ctx, w.Primary)
	if err != nil {
		return fmt.Errorf("reading version at reload start: %w", err)
	}

	replicaIdentity, err := tableHasIdentity(ctx, w.Replica, info.QuotedName())
	if err != nil {
		return fmt.Errorf("checking replica identity: %w", err)
	}
	useIdentityInsert := info.HasIdentity || replicaIdentity

	if _, err := w.Replica.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", info.QuotedName())); err != nil {
		return fmt.Errorf("truncating replica table %s: %w", w.qualified(), err)
	}

	var synced uint64
	orderCol := info.OrderColumn()
	for offset := 0; ; offset += fullReloadChunkSize {
		if err := ctx.Err(); err != nil {
			w.Logger.Warnf("full reload of %s cancelled between chunks, will resume next tick", w.qualified())
			return nil
		}

		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY [%s] OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
			info.CanonicalProjection(), info.QuotedName(), orderCol, offset, fullReloadChunkSize)
		rows, err := w.Primary.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("fetching chunk at offset %d for %s: %w", offset, w.qualified(), err)
		}
		chunk, err := scanRows(rows, len(info.Columns))
		rows.Close()
		if err != nil {
			return fmt.Errorf("scanning chunk at offset %d for %s: %w", offset, w.qualified(), err)
		}

		if len(chunk) > 0 {
			if err := w.insertChunk(ctx, info, chunk, useIdentityInsert); err != nil {
				return fmt.Errorf("applying chunk at offset %d for %s: %w", offset, w.qualified(), err)
			}
			synced += uint64(len(chunk))
			if err := w.State.PublishProgress(ctx, w.stateKey(), synced, total, startedAt); err != nil {
				w.Logger.Warnf("publishing progress for %s: %v", w.qualified(), err)
			}
		}

		if len(chunk) < fullReloadChunkSize {
			break
		}
	}

	if err := w.State.SetVersion(ctx, w.stateKey(), versionAtStart); err != nil {
		return fmt.Errorf("writing version for %s: %w", w.qualified(), err)
	}
	return w.State.ClearForceFullLoad(ctx, w.stateKey())
}

// scanRows materializes every column of every row as a nullable string,
// matching the canonical projection's all-portable-strings contract.
func scanRows(rows *sql.Rows, numCols int) ([][]sql.NullString, error) {
	var out [][]sql.NullString
	for rows.Next() {
		vals := make([]sql.NullString, numCols)
		ptrs := make([]any, numCols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (w *Worker) insertChunk(ctx context.Context, info *table.Info, chunk [][]sql.NullString, useIdentityInsert bool) error {
	insertSQL := buildInsertSQL(info)
	apply := func(tx *sql.Tx) error {
		for _, row := range chunk {
			args := make([]any, len(row))
			for i, v := range row {
				args[i] = v
			}
			if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
				return err
			}
		}
		return nil
	}
	return w.withOptionalIdentityInsert(ctx, info, useIdentityInsert, apply)
}

func (w *Worker) withOptionalIdentityInsert(ctx context.Context, info *table.Info, useIdentityInsert bool, fn func(*sql.Tx) error) error {
	return mssqlconn.RetryableTransactionFunc(ctx, w.Replica, w.Conn, func(tx *sql.Tx) error {
		if useIdentityInsert {
			return mssqlconn.WithIdentityInsert(ctx, tx, info.QuotedName(), func() error { return fn(tx) })
		}
		return fn(tx)
	})
}

// buildInsertSQL uses @p1, @p2, ... parameter markers, matching the
// positional-binding convention changefeed.QueryChanges already relies on
// for this driver.
func buildInsertSQL(info *table.Info) string {
	placeholders := make([]string, len(info.Columns))
	for i := range info.Columns {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		info.QuotedName(), info.ColumnNames(), joinPlaceholders(placeholders))
}

func joinPlaceholders(placeholders []string) string {
	out := ""
	for i, p := range placeholders {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// Incremental applies the CHANGETABLE-driven delete/upsert algorithm.
// Tables without a primary key are skipped: CHANGETABLE cannot be joined
// back to the source table without one. total and startedAt are the row
// count and start time the caller captured before dispatching here.
func (w *Worker) Incremental(ctx context.Context, total uint64, startedAt int64) error {
	info, err := table.LoadInfo(ctx, w.Primary, w.Schema, w.Table)
	if err != nil {
		return fmt.Errorf("loading primary catalog for %s: %w", w.qualified(), err)
	}
	if len(info.KeyColumns) == 0 {
		return nil
	}

	last, err := w.State.Version(ctx, w.stateKey())
	if err != nil {
		return err
	}
	curr, err := currentChangeTrackingVersion(ctx, w.Primary)
	if err != nil {
		return fmt.Errorf("reading current change tracking version: %w", err)
	}
	if curr <= last {
		return w.State.PublishProgress(ctx, w.stateKey(), total, total, startedAt)
	}

	changes, err := changefeed.QueryChanges(ctx, w.Primary, info, last)
	if err != nil {
		return err
	}
	deletes, upserts, lastVersion := changefeed.Fold(changes)
	if lastVersion == 0 {
		lastVersion = curr
	}

	replicaIdentity, err := tableHasIdentity(ctx, w.Replica, info.QuotedName())
	if err != nil {
		return fmt.Errorf("checking replica identity: %w", err)
	}
	useIdentityInsert := info.HasIdentity || replicaIdentity
	pk := info.KeyColumns[0]

	for _, chunk := range changefeed.Chunks(deletes) {
		if err := ctx.Err(); err != nil {
			return nil
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE [%s] IN (%s)", info.QuotedName(), pk, changefeed.InClause(chunk))
		if err := mssqlconn.RetryableTransaction(ctx, w.Replica, w.Conn, stmt); err != nil {
			return fmt.Errorf("applying deletes for %s: %w", w.qualified(), err)
		}
	}

	for _, chunk := range changefeed.Chunks(upserts) {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.applyUpsertChunk(ctx, info, pk, chunk, useIdentityInsert); err != nil {
			return fmt.Errorf("applying upserts for %s: %w", w.qualified(), err)
		}
	}

	if err := w.State.SetVersion(ctx, w.stateKey(), lastVersion); err != nil {
		return err
	}
	return w.State.PublishProgress(ctx, w.stateKey(), total, total, startedAt)
}

func (w *Worker) applyUpsertChunk(ctx context.Context, info *table.Info, pk string, chunk []string, useIdentityInsert bool) error {
	selectSQL := fmt.Sprintf("SELECT %s FROM %s WHERE [%s] IN (%s)",
		info.CanonicalProjection(), info.QuotedName(), pk, changefeed.InClause(chunk))
	rows, err := w.Primary.QueryContext(ctx, selectSQL)
	if err != nil {
		return err
	}
	fetched, err := scanRows(rows, len(info.Columns))
	rows.Close()
	if err != nil {
		return err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE [%s] IN (%s)", info.QuotedName(), pk, changefeed.InClause(chunk))
	insertSQL := buildInsertSQL(info)
	apply := func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteSQL); err != nil {
			return err
		}
		for _, row := range fetched {
			args := make([]any, len(row))
			for i, v := range row {
				args[i] = v
			}
			if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
				return err
			}
		}
		return nil
	}
	return w.withOptionalIdentityInsert(ctx, info, useIdentityInsert, apply)
}
