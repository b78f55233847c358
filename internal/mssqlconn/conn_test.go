package mssqlconn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 5, cfg.MaxOpenConnections)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestCanRetryDoesNotRetryCancellation(t *testing.T) {
	assert.False(t, canRetry(context.Canceled))
	assert.False(t, canRetry(context.DeadlineExceeded))
}

func TestCanRetryUnknownDriverErrorIsRetryable(t *testing.T) {
	assert.True(t, canRetry(errors.New("connection reset by peer")))
}
