// Package schema converges the replica's tables, indexes, constraints,
// foreign keys, views, and routines toward the primary's catalog. Every
// DDL statement issued against the replica is logged; per-object failures
// are warned and swallowed so the next tick retries.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"

	"github.com/mssqlsync/syncd/internal/table"
)

// Reconciler holds the two database handles it diffs and converges.
type Reconciler struct {
	Primary *sql.DB
	Replica *sql.DB
	Logger  loggers.Advanced
}

// New returns a Reconciler. logger may be nil, in which case a default
// logrus logger is used.
func New(primary, replica *sql.DB, logger loggers.Advanced) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{Primary: primary, Replica: replica, Logger: logger}
}

func replicaExists(ctx context.Context, db *sql.DB, schema, name string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT CASE WHEN OBJECT_ID(@p1, 'U') IS NOT NULL THEN 1 ELSE 0 END`,
		schema+"."+name).Scan(&exists)
	return exists == 1, err
}

// EnsureTable creates the replica table from the primary's catalog if it
// is missing, or adds any columns present on the primary but absent on
// the replica otherwise. Column-property drift and column removal are
// outside this path — see PruneColumns.
func (r *Reconciler) EnsureTable(ctx context.Context, schema, name string) error {
	primaryInfo, err := table.LoadInfo(ctx, r.Primary, schema, name)
	if err != nil {
		return fmt.Errorf("loading primary catalog for %s.%s: %w", schema, name, err)
	}

	exists, err := replicaExists(ctx, r.Replica, schema, name)
	if err != nil {
		return fmt.Errorf("checking replica existence for %s.%s: %w", schema, name, err)
	}

	if !exists {
		ddl := buildCreateTable(primaryInfo)
		r.Logger.Infof("creating replica table %s: %s", primaryInfo.QuotedName(), ddl)
		if _, err := r.Replica.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating replica table %s.%s: %w", schema, name, err)
		}
		r.enableChangeTracking(ctx, primaryInfo)
		return nil
	}

	replicaInfo, err := table.LoadInfo(ctx, r.Replica, schema, name)
	if err != nil {
		return fmt.Errorf("loading replica catalog for %s.%s: %w", schema, name, err)
	}
	existingCols := make(map[string]bool, len(replicaInfo.Columns))
	for _, c := range replicaInfo.Columns {
		existingCols[c.Name] = true
	}
	for _, c := range primaryInfo.Columns {
		if existingCols[c.Name] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD %s", primaryInfo.QuotedName(), columnDefinition(c, true))
		r.Logger.Infof("adding column: %s", ddl)
		if _, err := r.Replica.ExecContext(ctx, ddl); err != nil {
			r.Logger.Warnf("adding column %s.%s failed, will retry next tick: %v", name, c.Name, err)
		}
	}
	return nil
}

// enableChangeTracking best-effort enables change tracking on a freshly
// created replica table. Failure is swallowed: replica-side change
// tracking is an optimization, not a correctness requirement.
func (r *Reconciler) enableChangeTracking(ctx context.Context, t *table.Info) {
	ddl := fmt.Sprintf("ALTER TABLE %s ENABLE CHANGE_TRACKING WITH (TRACK_COLUMNS_UPDATED=ON)", t.QuotedName())
	if _, err := r.Replica.ExecContext(ctx, ddl); err != nil {
		r.Logger.Warnf("could not enable change tracking on %s: %v", t.QuotedName(), err)
	}
}

func buildCreateTable(t *table.Info) string {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, columnDefinition(c, false))
	}
	if len(t.KeyColumns) > 0 {
		quoted := make([]string, len(t.KeyColumns))
		for i, k := range t.KeyColumns {
			quoted[i] = "[" + k + "]"
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", t.QuotedName(), strings.Join(cols, ",\n  "))
}

// columnDefinition renders one column's type/length/precision/identity/
// nullability/default, for both CREATE TABLE and ALTER TABLE ADD COLUMN.
// When
// addingToExisting is true the column is always nullable, since an ALTER
// ADD on a populated table cannot introduce a NOT NULL column without a
// default for existing rows.
func columnDefinition(c table.Column, addingToExisting bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", c.Name, typeWithLength(c))
	if c.IsIdentity {
		b.WriteString(" IDENTITY(1,1)")
	}
	if addingToExisting || c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if c.Default.Valid && c.Default.String != "" {
		fmt.Fprintf(&b, " DEFAULT %s", c.Default.String)
	}
	return b.String()
}

var lengthedTypes = map[string]bool{
	"varchar": true, "nvarchar": true, "char": true, "nchar": true, "varbinary": true, "binary": true,
}

var decimalTypes = map[string]bool{"decimal": true, "numeric": true}

var highPrecisionDatetime = map[string]bool{"datetime2": true, "datetimeoffset": true, "time": true}

func typeWithLength(c table.Column) string {
	switch {
	case lengthedTypes[c.DataType]:
		if c.MaxLength == -1 {
			return fmt.Sprintf("%s(MAX)", c.DataType)
		}
		length := c.MaxLength
		if c.DataType == "nvarchar" || c.DataType == "nchar" {
			length /= 2 // NVARCHAR length is reported in bytes (2 bytes/char) by INFORMATION_SCHEMA
		}
		return fmt.Sprintf("%s(%d)", c.DataType, length)
	case decimalTypes[c.DataType]:
		return fmt.Sprintf("%s(%d,%d)", c.DataType, c.Precision, c.Scale)
	case highPrecisionDatetime[c.DataType]:
		return fmt.Sprintf("%s(%d)", c.DataType, c.Scale)
	default:
		return c.DataType
	}
}
