// Package mssqlconn opens and standardizes connections to the primary and
// replica SQL Server instances, and provides the retryable-transaction
// helpers the table sync worker uses for its chunked replica DML.
package mssqlconn

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
)

// Transient SQL Server error numbers that a retry can plausibly resolve:
// deadlock victim, lock request timeout, and the handful of connection-
// broken conditions that surface as driver-level errors rather than
// *mssql.Error.
const (
	errDeadlockVictim  = 1205
	errLockRequestTime = 1222
)

// Config tunes connection pooling and retry behavior. Both the primary and
// replica pools share the same shape.
type Config struct {
	MaxOpenConnections int
	MaxRetries         int
}

// NewConfig returns sensible defaults: a 5-connection pool and at most 5
// attempts of a transaction that fails transiently. MaxRetries counts
// attempts in total, including the first.
func NewConfig() *Config {
	return &Config{
		MaxOpenConnections: 5,
		MaxRetries:         5,
	}
}

// Open connects to url and applies the pool-sizing policy in cfg. It pings
// once so that an unreachable database is discovered immediately rather
// than on the first query.
func Open(url string, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("mssql", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxOpenConnections)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// canRetry reports whether err is a transient SQL Server error worth
// retrying the whole transaction for.
func canRetry(err error) bool {
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case errDeadlockVictim, errLockRequestTime:
			return true
		}
		return false
	}
	// Driver-level errors (connection reset, etc.) have no *mssql.Error
	// to inspect; treat them as retryable since the transaction never
	// reached the server in a way that could have partially applied.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryableTransaction runs stmts inside a single transaction, attempting
// the whole transaction at most cfg.MaxRetries times while errors are
// transient. No
// partial chunk is ever left committed: every attempt either commits all
// statements or rolls back before the next attempt.
func RetryableTransaction(ctx context.Context, db *sql.DB, cfg *Config, stmts ...string) error {
	var err error
RETRY:
	for i := 0; i < cfg.MaxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var trx *sql.Tx
		trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			backoff(i)
			continue RETRY
		}
		for _, stmt := range stmts {
			if stmt == "" {
				continue
			}
			if _, err = trx.ExecContext(ctx, stmt); err != nil {
				_ = trx.Rollback()
				if canRetry(err) {
					backoff(i)
					continue RETRY
				}
				return err
			}
		}
		if err = trx.Commit(); err != nil {
			backoff(i)
			continue RETRY
		}
		return nil
	}
	return err
}

// RetryableTransactionFunc runs fn inside a single transaction, attempting
// the whole transaction at most cfg.MaxRetries times while errors are
// transient.
// Unlike RetryableTransaction, fn receives the *sql.Tx directly so callers
// can issue parameterized statements with per-row arguments.
func RetryableTransactionFunc(ctx context.Context, db *sql.DB, cfg *Config, fn func(*sql.Tx) error) error {
	var err error
RETRY:
	for i := 0; i < cfg.MaxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var trx *sql.Tx
		trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			backoff(i)
			continue RETRY
		}
		if err = fn(trx); err != nil {
			_ = trx.Rollback()
			if canRetry(err) {
				backoff(i)
				continue RETRY
			}
			return err
		}
		if err = trx.Commit(); err != nil {
			backoff(i)
			continue RETRY
		}
		return nil
	}
	return err
}

// WithIdentityInsert wraps the execution of fn with
// SET IDENTITY_INSERT <table> ON/OFF around it, bracketing the chunk of
// single-row inserts a full-reload or upsert pass issues against an
// identity-bearing replica table.
func WithIdentityInsert(ctx context.Context, tx *sql.Tx, quotedTable string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+quotedTable+" ON"); err != nil {
		return err
	}
	fnErr := fn()
	// Always attempt to turn it back off, even if fn failed, so a
	// successful commit never leaves the session flag set for the next
	// statement on this connection.
	_, offErr := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+quotedTable+" OFF")
	if fnErr != nil {
		return fnErr
	}
	return offErr
}

func backoff(attempt int) {
	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	time.Sleep(time.Duration(attempt)*100*time.Millisecond + jitter)
}
