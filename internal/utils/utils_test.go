package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscapeString(t *testing.T) {
	assert.Equal(t, "O''Brien", EscapeString("O'Brien"))
	assert.Equal(t, "plain", EscapeString("plain"))
}

func TestChunkStrings(t *testing.T) {
	pks := []string{"1", "2", "3", "4", "5"}
	chunks := ChunkStrings(pks, 2)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, chunks)

	assert.Nil(t, ChunkStrings(nil, 100))

	single := ChunkStrings(pks, 100)
	assert.Equal(t, [][]string{pks}, single)
}

func TestEpochMillis(t *testing.T) {
	tm := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, tm.UnixNano()/int64(time.Millisecond), EpochMillis(tm))
}
