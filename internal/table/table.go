// Package table describes a replicated table's catalog shape and builds
// its canonical, driver-portable projection.
package table

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column describes one column of a table as seen in INFORMATION_SCHEMA.
type Column struct {
	Name       string
	DataType   string // e.g. "decimal", "nvarchar", "datetime2"
	MaxLength  int64  // -1 means (max)
	Precision  int
	Scale      int
	Nullable   bool
	Default    sql.NullString
	IsIdentity bool
}

// Info describes a table: its columns, key, and identity-column status.
type Info struct {
	Schema      string
	Name        string
	Columns     []Column
	KeyColumns  []string
	HasIdentity bool
}

// QuotedName returns the bracket-quoted schema.table reference SQL Server
// DDL and DML statements use.
func (i *Info) QuotedName() string {
	return fmt.Sprintf("[%s].[%s]", i.Schema, i.Name)
}

// OrderColumn returns the column the full-reload chunker orders by: the
// primary-key column if one exists, else the first column in ordinal
// order.
func (i *Info) OrderColumn() string {
	if len(i.KeyColumns) > 0 {
		return i.KeyColumns[0]
	}
	if len(i.Columns) > 0 {
		return i.Columns[0].Name
	}
	return ""
}

// decimalFamily, temporalFamily, and the text/ntext special cases implement
// the canonical-projection type-class table.
var decimalFamily = map[string]bool{
	"decimal": true, "numeric": true, "money": true, "smallmoney": true,
	"float": true, "real": true, "tinyint": true, "smallint": true,
	"int": true, "bigint": true, "bit": true,
}

var temporalFamily = map[string]bool{
	"datetime": true, "datetime2": true, "date": true, "time": true,
	"smalldatetime": true, "datetimeoffset": true,
}

// projectionFor returns the SELECT expression for a single column,
// canonicalizing numeric/temporal/large-object types to portable string
// forms so the replica driver never has to strictly decode them.
func projectionFor(c Column) string {
	quoted := "[" + c.Name + "]"
	switch {
	case decimalFamily[c.DataType]:
		return fmt.Sprintf("CAST(%s AS VARCHAR(100))", quoted)
	case temporalFamily[c.DataType]:
		return fmt.Sprintf("CONVERT(VARCHAR(100), %s, 126)", quoted)
	case c.DataType == "text":
		return fmt.Sprintf("CAST(%s AS VARCHAR(8000))", quoted)
	case c.DataType == "ntext":
		return fmt.Sprintf("CAST(%s AS NVARCHAR(4000))", quoted)
	default:
		return quoted
	}
}

// CanonicalProjection builds the full SELECT column list for this table,
// aliased back to the bare column names so the result set can be consumed
// positionally regardless of which columns needed casting.
func (i *Info) CanonicalProjection() string {
	parts := make([]string, len(i.Columns))
	for idx, c := range i.Columns {
		parts[idx] = fmt.Sprintf("%s AS [%s]", projectionFor(c), c.Name)
	}
	return strings.Join(parts, ", ")
}

// ColumnNames returns the bare, comma-joined, bracket-quoted column list,
// used for INSERT statements' column clause.
func (i *Info) ColumnNames() string {
	parts := make([]string, len(i.Columns))
	for idx, c := range i.Columns {
		parts[idx] = "[" + c.Name + "]"
	}
	return strings.Join(parts, ", ")
}

// LoadInfo queries INFORMATION_SCHEMA.{COLUMNS,KEY_COLUMN_USAGE} and
// OBJECTPROPERTY(...,'TableHasIdentity') to populate a table's catalog
// shape.
func LoadInfo(ctx context.Context, db *sql.DB, schema, name string) (*Info, error) {
	info := &Info{Schema: schema, Name: name}

	rows, err := db.QueryContext(ctx, `
SELECT c.COLUMN_NAME, c.DATA_TYPE,
       ISNULL(c.CHARACTER_MAXIMUM_LENGTH, -1),
       ISNULL(c.NUMERIC_PRECISION, 0),
       ISNULL(c.NUMERIC_SCALE, 0),
       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
       c.COLUMN_DEFAULT,
       COLUMNPROPERTY(OBJECT_ID(c.TABLE_SCHEMA + '.' + c.TABLE_NAME), c.COLUMN_NAME, 'IsIdentity')
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("loading columns for %s.%s: %w", schema, name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Column
		var isIdentity sql.NullInt64
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision, &c.Scale,
			&c.Nullable, &c.Default, &isIdentity); err != nil {
			return nil, err
		}
		c.IsIdentity = isIdentity.Valid && isIdentity.Int64 == 1
		if c.IsIdentity {
			info.HasIdentity = true
		}
		info.Columns = append(info.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keyRows, err := db.QueryContext(ctx, `
SELECT kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
ORDER BY kcu.ORDINAL_POSITION`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("loading primary key for %s.%s: %w", schema, name, err)
	}
	defer keyRows.Close()

	for keyRows.Next() {
		var col string
		if err := keyRows.Scan(&col); err != nil {
			return nil, err
		}
		info.KeyColumns = append(info.KeyColumns, col)
	}
	return info, keyRows.Err()
}
