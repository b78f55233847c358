// Package utils contains small helpers shared by the other internal packages.
package utils

import (
	"strings"
	"time"
)

// ErrInErr is used in defer/cleanup paths where an error is already being
// handled and a second error (e.g. from Close or Rollback) has nowhere
// useful to go. Naming the swallow keeps linters happy without nesting
// error handling inside error handling.
func ErrInErr(_ error) {}

// EscapeString doubles embedded single quotes, the only escaping this
// module performs since primary-key strings are the only externally
// sourced values ever interpolated directly into SQL text.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ChunkStrings splits pks into slices of at most size, preserving order.
func ChunkStrings(pks []string, size int) [][]string {
	if size <= 0 {
		size = len(pks)
	}
	var chunks [][]string
	for len(pks) > 0 {
		n := size
		if n > len(pks) {
			n = len(pks)
		}
		chunks = append(chunks, pks[:n])
		pks = pks[n:]
	}
	return chunks
}

// EpochMillis returns t as milliseconds since the Unix epoch, the format
// progress payloads use for started_at.
func EpochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
