package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleInfo() *Info {
	return &Info{
		Schema: "dbo",
		Name:   "Orders",
		Columns: []Column{
			{Name: "Id", DataType: "int"},
			{Name: "Total", DataType: "decimal"},
			{Name: "PlacedAt", DataType: "datetime2"},
			{Name: "Notes", DataType: "text"},
			{Name: "Body", DataType: "ntext"},
			{Name: "Code", DataType: "varchar"},
		},
		KeyColumns: []string{"Id"},
	}
}

func TestCanonicalProjection(t *testing.T) {
	i := sampleInfo()
	got := i.CanonicalProjection()
	want := "CAST([Id] AS VARCHAR(100)) AS [Id], " +
		"CAST([Total] AS VARCHAR(100)) AS [Total], " +
		"CONVERT(VARCHAR(100), [PlacedAt], 126) AS [PlacedAt], " +
		"CAST([Notes] AS VARCHAR(8000)) AS [Notes], " +
		"CAST([Body] AS NVARCHAR(4000)) AS [Body], " +
		"[Code] AS [Code]"
	assert.Equal(t, want, got)
}

func TestOrderColumnPrefersPrimaryKey(t *testing.T) {
	i := sampleInfo()
	assert.Equal(t, "Id", i.OrderColumn())
}

func TestOrderColumnFallsBackToFirstColumn(t *testing.T) {
	i := sampleInfo()
	i.KeyColumns = nil
	assert.Equal(t, "Id", i.OrderColumn())
}

func TestQuotedName(t *testing.T) {
	i := sampleInfo()
	assert.Equal(t, "[dbo].[Orders]", i.QuotedName())
}

func TestColumnNames(t *testing.T) {
	i := &Info{Columns: []Column{{Name: "A"}, {Name: "B"}}}
	assert.Equal(t, "[A], [B]", i.ColumnNames())
}
