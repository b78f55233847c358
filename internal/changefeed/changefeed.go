// Package changefeed folds a CHANGETABLE result set into the delete and
// upsert primary-key sets a Table Sync Worker applies to the replica.
//
// The source is a single CHANGETABLE(CHANGES T, @v) query result ordered
// by version, so a last-write-wins fold runs once over the whole batch
// rather than being flushed periodically off a streaming feed.
package changefeed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mssqlsync/syncd/internal/table"
	"github.com/mssqlsync/syncd/internal/utils"
)

// Op is a CHANGETABLE operation kind.
type Op byte

const (
	OpInsert Op = 'I'
	OpUpdate Op = 'U'
	OpDelete Op = 'D'
)

// Row is one CHANGETABLE(CHANGES ...) result row.
type Row struct {
	Version int64
	Op      Op
	PK      string
}

// QueryChanges issues CHANGETABLE(CHANGES T, @since) against db, projecting
// the version, operation, and primary key cast to a string, ordered by
// version. The primary key is read directly off the CHANGETABLE operator,
// not joined back to the base table: a deleted row no longer exists there,
// so joining would silently drop every delete.
func QueryChanges(ctx context.Context, db *sql.DB, t *table.Info, since int64) ([]Row, error) {
	pk := t.KeyColumns[0]
	query := fmt.Sprintf(`
SELECT ct.SYS_CHANGE_VERSION, ct.SYS_CHANGE_OPERATION, CAST(ct.[%s] AS VARCHAR(100)) AS pk_str
FROM CHANGETABLE(CHANGES %s, @p1) AS ct
ORDER BY ct.SYS_CHANGE_VERSION`, pk, t.QuotedName())

	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("querying changes for %s since version %d: %w", t.QuotedName(), since, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var op string
		if err := rows.Scan(&r.Version, &op, &r.PK); err != nil {
			return nil, err
		}
		if len(op) != 1 {
			return nil, fmt.Errorf("unexpected SYS_CHANGE_OPERATION %q", op)
		}
		r.Op = Op(op[0])
		out = append(out, r)
	}
	return out, rows.Err()
}

// Fold walks rows in version order and collapses repeated operations on
// the same primary key to the final one: a PK appears in exactly one of
// the returned sets. lastVersion is the version of the last row folded, or
// 0 if rows is empty (callers fall back to the version read before the
// query in that case).
func Fold(rows []Row) (deletes, upserts []string, lastVersion int64) {
	final := make(map[string]Op, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, seen := final[r.PK]; !seen {
			order = append(order, r.PK)
		}
		final[r.PK] = r.Op
		lastVersion = r.Version
	}
	for _, pk := range order {
		if final[pk] == OpDelete {
			deletes = append(deletes, pk)
		} else {
			upserts = append(upserts, pk)
		}
	}
	return deletes, upserts, lastVersion
}

// Chunks splits pks into groups of at most 100, the bound placed on a
// single DELETE/SELECT...IN(...) statement.
const ChunkSize = 100

func Chunks(pks []string) [][]string {
	return utils.ChunkStrings(pks, ChunkSize)
}

// InClause renders pks as a quoted, comma-separated SQL IN(...) list body,
// escaping embedded single quotes.
func InClause(pks []string) string {
	out := ""
	for idx, pk := range pks {
		if idx > 0 {
			out += ", "
		}
		out += "'" + utils.EscapeString(pk) + "'"
	}
	return out
}
