package tablesync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mssqlsync/syncd/internal/table"
)

func TestBuildInsertSQLUsesPositionalMarkers(t *testing.T) {
	info := &table.Info{
		Schema: "dbo", Name: "Orders",
		Columns: []table.Column{{Name: "Id"}, {Name: "Total"}},
	}
	got := buildInsertSQL(info)
	assert.Equal(t, "INSERT INTO [dbo].[Orders] ([Id], [Total]) VALUES (@p1, @p2)", got)
}

func TestQualifiedName(t *testing.T) {
	w := &Worker{Schema: "dbo", Table: "Orders"}
	assert.Equal(t, "dbo.Orders", w.qualified())
}

// stateKey must match the bare <ObjectName> a DDL event carries, so an
// enabled table's data worker and its DDL consumer gate on the same key.
func TestStateKeyIsBareTableName(t *testing.T) {
	w := &Worker{Schema: "dbo", Table: "Orders"}
	assert.Equal(t, "Orders", w.stateKey())
}

func TestQuotedName(t *testing.T) {
	w := &Worker{Schema: "dbo", Table: "Orders"}
	assert.Equal(t, "[dbo].[Orders]", w.quotedName())
}
