package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// insert then delete collapses to a plain delete.
func TestFoldInsertThenDeleteCollapses(t *testing.T) {
	rows := []Row{
		{Version: 10, Op: OpInsert, PK: "7"},
		{Version: 11, Op: OpDelete, PK: "7"},
	}
	deletes, upserts, last := Fold(rows)
	assert.Equal(t, []string{"7"}, deletes)
	assert.Empty(t, upserts)
	assert.Equal(t, int64(11), last)
}

func TestFoldDeleteThenInsertIsUpsert(t *testing.T) {
	rows := []Row{
		{Version: 10, Op: OpDelete, PK: "7"},
		{Version: 11, Op: OpInsert, PK: "7"},
	}
	deletes, upserts, last := Fold(rows)
	assert.Empty(t, deletes)
	assert.Equal(t, []string{"7"}, upserts)
	assert.Equal(t, int64(11), last)
}

func TestFoldDisjointSets(t *testing.T) {
	rows := []Row{
		{Version: 1, Op: OpInsert, PK: "1"},
		{Version: 2, Op: OpUpdate, PK: "1"},
		{Version: 3, Op: OpDelete, PK: "2"},
	}
	deletes, upserts, last := Fold(rows)
	assert.ElementsMatch(t, []string{"2"}, deletes)
	assert.ElementsMatch(t, []string{"1"}, upserts)
	assert.Equal(t, int64(3), last)

	// every PK appears in exactly one set
	seen := map[string]bool{}
	for _, pk := range append(append([]string{}, deletes...), upserts...) {
		assert.False(t, seen[pk], "pk %s appeared twice across sets", pk)
		seen[pk] = true
	}
}

func TestFoldEmpty(t *testing.T) {
	deletes, upserts, last := Fold(nil)
	assert.Empty(t, deletes)
	assert.Empty(t, upserts)
	assert.Equal(t, int64(0), last)
}

// 250 pks chunks into 3 groups of at most 100.
func TestChunksOf250(t *testing.T) {
	pks := make([]string, 250)
	for i := range pks {
		pks[i] = string(rune('a' + i%26))
	}
	chunks := Chunks(pks)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)
}

func TestInClauseEscapesQuotes(t *testing.T) {
	assert.Equal(t, `'1', 'O''Brien'`, InClause([]string{"1", "O'Brien"}))
}
