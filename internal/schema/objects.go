package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mssqlsync/syncd/internal/table"
)

// indexDef describes one non-PK index or unique constraint, keyed by name.
type indexDef struct {
	name       string
	isUnique   bool
	isConstraint bool // true for a UNIQUE CONSTRAINT, false for a plain INDEX
	columns    []string // already formatted with a " DESC" suffix where applicable
}

func loadIndexes(ctx context.Context, db *sql.DB, schema, name string) (map[string]indexDef, error) {
	rows, err := db.QueryContext(ctx, `
SELECT i.name, i.is_unique, i.is_unique_constraint, c.name, ic.is_descending_key, ic.key_ordinal
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
JOIN sys.objects o ON o.object_id = i.object_id
JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE s.name = @p1 AND o.name = @p2 AND i.is_primary_key = 0 AND i.name IS NOT NULL AND ic.key_ordinal > 0
ORDER BY i.name, ic.key_ordinal`, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]indexDef)
	for rows.Next() {
		var idxName, colName string
		var isUnique, isUniqueConstraint, isDescending bool
		var ordinal int
		if err := rows.Scan(&idxName, &isUnique, &isUniqueConstraint, &colName, &isDescending, &ordinal); err != nil {
			return nil, err
		}
		def := out[idxName]
		def.name = idxName
		def.isUnique = isUnique
		def.isConstraint = isUniqueConstraint
		col := "[" + colName + "]"
		if isDescending {
			col += " DESC"
		}
		def.columns = append(def.columns, col)
		out[idxName] = def
	}
	return out, rows.Err()
}

// fkDef describes one foreign key, keyed by name.
type fkDef struct {
	name       string
	columns    []string
	refTable   string
	refColumns []string
	onDelete   string
	onUpdate   string
}

func loadForeignKeys(ctx context.Context, db *sql.DB, schema, name string) (map[string]fkDef, error) {
	rows, err := db.QueryContext(ctx, `
SELECT fk.name, c.name, rc.name, QUOTENAME(rs.name) + '.' + QUOTENAME(rt.name),
       fk.delete_referential_action_desc, fk.update_referential_action_desc, fkc.constraint_column_id
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.columns c ON c.object_id = fkc.parent_object_id AND c.column_id = fkc.parent_column_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
JOIN sys.objects o ON o.object_id = fk.parent_object_id
JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE s.name = @p1 AND o.name = @p2
ORDER BY fk.name, fkc.constraint_column_id`, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fkDef)
	for rows.Next() {
		var fkName, col, refCol, refTable, onDelete, onUpdate string
		var ordinal int
		if err := rows.Scan(&fkName, &col, &refCol, &refTable, &onDelete, &onUpdate, &ordinal); err != nil {
			return nil, err
		}
		def := out[fkName]
		def.name = fkName
		def.refTable = refTable
		def.onDelete = translateAction(onDelete)
		def.onUpdate = translateAction(onUpdate)
		def.columns = append(def.columns, "["+col+"]")
		def.refColumns = append(def.refColumns, "["+refCol+"]")
		out[fkName] = def
	}
	return out, rows.Err()
}

// translateAction turns a sys.foreign_keys underscored action description
// (e.g. "CASCADE", "SET_NULL", "NO_ACTION") into the space-separated SQL
// clause form, omitting the clause entirely for NO_ACTION since that is
// the server default.
func translateAction(desc string) string {
	if desc == "NO_ACTION" || desc == "" {
		return ""
	}
	return strings.ReplaceAll(desc, "_", " ")
}

// SyncObjects diffs indexes, unique constraints, and foreign keys by name
// between primary and replica, applying drops before creates and indexes
// before foreign keys so a dependent object is never created before its
// dependency.
func (r *Reconciler) SyncObjects(ctx context.Context, schema, name string) error {
	quoted := fmt.Sprintf("[%s].[%s]", schema, name)

	primaryFKs, err := loadForeignKeys(ctx, r.Primary, schema, name)
	if err != nil {
		return fmt.Errorf("loading primary foreign keys: %w", err)
	}
	replicaFKs, err := loadForeignKeys(ctx, r.Replica, schema, name)
	if err != nil {
		return fmt.Errorf("loading replica foreign keys: %w", err)
	}
	for fkName := range replicaFKs {
		if _, ok := primaryFKs[fkName]; ok {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT [%s]", quoted, fkName)
		r.execBestEffort(ctx, ddl)
	}

	primaryIdx, err := loadIndexes(ctx, r.Primary, schema, name)
	if err != nil {
		return fmt.Errorf("loading primary indexes: %w", err)
	}
	replicaIdx, err := loadIndexes(ctx, r.Replica, schema, name)
	if err != nil {
		return fmt.Errorf("loading replica indexes: %w", err)
	}
	for idxName, def := range replicaIdx {
		if _, ok := primaryIdx[idxName]; ok {
			continue
		}
		var ddl string
		if def.isConstraint {
			ddl = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT [%s]", quoted, idxName)
		} else {
			ddl = fmt.Sprintf("DROP INDEX [%s] ON %s", idxName, quoted)
		}
		r.execBestEffort(ctx, ddl)
	}

	for idxName, def := range primaryIdx {
		if _, ok := replicaIdx[idxName]; ok {
			continue
		}
		ddl := createIndexDDL(quoted, def)
		r.execBestEffort(ctx, ddl)
	}

	for fkName, def := range primaryFKs {
		if _, ok := replicaFKs[fkName]; ok {
			continue
		}
		ddl := createForeignKeyDDL(quoted, def)
		r.execBestEffort(ctx, ddl)
	}
	return nil
}

func createIndexDDL(quotedTable string, def indexDef) string {
	kind := "INDEX"
	if def.isUnique {
		if def.isConstraint {
			return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT [%s] UNIQUE (%s)",
				quotedTable, def.name, strings.Join(def.columns, ", "))
		}
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s [%s] ON %s (%s)", kind, def.name, quotedTable, strings.Join(def.columns, ", "))
}

func createForeignKeyDDL(quotedTable string, def fkDef) string {
	ddl := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT [%s] FOREIGN KEY (%s) REFERENCES %s (%s)",
		quotedTable, def.name, strings.Join(def.columns, ", "), def.refTable, strings.Join(def.refColumns, ", "))
	if def.onDelete != "" {
		ddl += " ON DELETE " + def.onDelete
	}
	if def.onUpdate != "" {
		ddl += " ON UPDATE " + def.onUpdate
	}
	return ddl
}

// execBestEffort runs ddl against the replica, logging success at info
// level and warning (never failing the caller) on error, so a single bad
// object never blocks the rest of the reconcile pass.
func (r *Reconciler) execBestEffort(ctx context.Context, ddl string) {
	r.Logger.Infof("schema reconcile: %s", ddl)
	if _, err := r.Replica.ExecContext(ctx, ddl); err != nil {
		r.Logger.Warnf("schema reconcile failed, will retry next tick: %s: %v", ddl, err)
	}
}

// routineDef describes one view, procedure, or function.
type routineDef struct {
	schema     string
	name       string
	routType   string // "V" view, "P" procedure, "FN"/"IF"/"TF" function
	definition string
}

func (d routineDef) qualifiedName() string {
	return fmt.Sprintf("[%s].[%s]", d.schema, d.name)
}

func loadViews(ctx context.Context, db *sql.DB) (map[string]routineDef, error) {
	return loadRoutines(ctx, db, `
SELECT s.name, v.name, 'V', m.definition
FROM sys.views v
JOIN sys.schemas s ON s.schema_id = v.schema_id
JOIN sys.sql_modules m ON m.object_id = v.object_id`)
}

func loadRoutineObjects(ctx context.Context, db *sql.DB) (map[string]routineDef, error) {
	return loadRoutines(ctx, db, `
SELECT s.name, o.name, o.type, m.definition
FROM sys.objects o
JOIN sys.schemas s ON s.schema_id = o.schema_id
JOIN sys.sql_modules m ON m.object_id = o.object_id
WHERE o.type IN ('P', 'FN', 'IF', 'TF')`)
}

func loadRoutines(ctx context.Context, db *sql.DB, query string) (map[string]routineDef, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]routineDef)
	for rows.Next() {
		var d routineDef
		var routType string
		if err := rows.Scan(&d.schema, &d.name, &routType, &d.definition); err != nil {
			return nil, err
		}
		d.routType = strings.TrimSpace(routType)
		out[d.schema+"."+d.name] = d
	}
	return out, rows.Err()
}

func dropStatement(d routineDef) string {
	switch d.routType {
	case "V":
		return fmt.Sprintf("DROP VIEW %s", d.qualifiedName())
	case "P":
		return fmt.Sprintf("DROP PROCEDURE %s", d.qualifiedName())
	default: // FN, IF, TF
		return fmt.Sprintf("DROP FUNCTION %s", d.qualifiedName())
	}
}

// SyncViews converges replica views toward the primary's, keyed by
// schema.name, comparing definitions as trimmed text.
func (r *Reconciler) SyncViews(ctx context.Context) error {
	primaryViews, err := loadViews(ctx, r.Primary)
	if err != nil {
		return fmt.Errorf("loading primary views: %w", err)
	}
	replicaViews, err := loadViews(ctx, r.Replica)
	if err != nil {
		return fmt.Errorf("loading replica views: %w", err)
	}
	return r.syncRoutineSet(ctx, primaryViews, replicaViews)
}

// SyncRoutines converges replica procedures and functions toward the
// primary's, keyed by schema.name.
func (r *Reconciler) SyncRoutines(ctx context.Context) error {
	primaryRoutines, err := loadRoutineObjects(ctx, r.Primary)
	if err != nil {
		return fmt.Errorf("loading primary routines: %w", err)
	}
	replicaRoutines, err := loadRoutineObjects(ctx, r.Replica)
	if err != nil {
		return fmt.Errorf("loading replica routines: %w", err)
	}
	return r.syncRoutineSet(ctx, primaryRoutines, replicaRoutines)
}

func (r *Reconciler) syncRoutineSet(ctx context.Context, primary, replica map[string]routineDef) error {
	for key, d := range replica {
		if _, ok := primary[key]; !ok {
			r.execBestEffort(ctx, dropStatement(d))
		}
	}
	for key, d := range primary {
		existing, ok := replica[key]
		if ok && strings.TrimSpace(existing.definition) == strings.TrimSpace(d.definition) {
			continue
		}
		if ok {
			r.execBestEffort(ctx, dropStatement(existing))
		}
		r.Logger.Infof("creating %s %s", d.routType, d.qualifiedName())
		if _, err := r.Replica.ExecContext(ctx, d.definition); err != nil {
			r.Logger.Warnf("creating %s failed, will retry next tick: %v", d.qualifiedName(), err)
		}
	}
	return nil
}

// PruneColumns drops replica columns that no longer exist on the primary.
// This is deliberately not called from the per-table worker's hot path:
// column removal is treated as a separate reconciliation pass, invoked
// only from the Supervisor's periodic sweep.
func (r *Reconciler) PruneColumns(ctx context.Context, schema, name string) error {
	primaryInfo, err := table.LoadInfo(ctx, r.Primary, schema, name)
	if err != nil {
		return fmt.Errorf("loading primary catalog for %s.%s: %w", schema, name, err)
	}
	replicaInfo, err := table.LoadInfo(ctx, r.Replica, schema, name)
	if err != nil {
		return fmt.Errorf("loading replica catalog for %s.%s: %w", schema, name, err)
	}
	keep := make(map[string]bool, len(primaryInfo.Columns))
	for _, c := range primaryInfo.Columns {
		keep[c.Name] = true
	}
	for _, c := range replicaInfo.Columns {
		if keep[c.Name] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s DROP COLUMN [%s]", replicaInfo.QuotedName(), c.Name)
		r.execBestEffort(ctx, ddl)
	}
	return nil
}
