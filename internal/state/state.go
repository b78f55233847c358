// Package state wraps the key/value store used to hold sync versions,
// operator toggles, and progress. Every store call made here is a single
// GET/SET/SETNX on one key; EnsureDefaults makes two such calls, one per
// flag, and no call is pipelined or wrapped in a multi-key transaction.
package state

import (
	"context"
	"fmt"
	"strconv"
)

// Store is the narrow key/value surface this module requires. It is
// deliberately small enough that any key/value backend (Redis here, but
// also an in-memory fake for tests) can satisfy it.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// SetNX sets key to value only if it is currently absent, returning
	// whether the set happened.
	SetNX(ctx context.Context, key, value string) (did bool, err error)
}

// TableState is a typed view over Store for the per-table keys:
// version:<T>, enabled:<T>, force_full_load:<T>, progress:<T>.
type TableState struct {
	store Store
}

// New returns a TableState backed by store.
func New(store Store) *TableState {
	return &TableState{store: store}
}

// EnsureDefaults create-if-absent initializes enabled:<T> and
// force_full_load:<T> to "false", so these keys always exist once a table
// has been observed.
func (t *TableState) EnsureDefaults(ctx context.Context, table string) error {
	if _, err := t.store.SetNX(ctx, enabledKey(table), "false"); err != nil {
		return fmt.Errorf("initializing enabled flag for %s: %w", table, err)
	}
	if _, err := t.store.SetNX(ctx, forceFullLoadKey(table), "false"); err != nil {
		return fmt.Errorf("initializing force_full_load flag for %s: %w", table, err)
	}
	return nil
}

// Enabled reports whether table is enabled for replication. Absence is
// treated as disabled: a table is skipped unless its flag reads "true".
func (t *TableState) Enabled(ctx context.Context, table string) (bool, error) {
	v, ok, err := t.store.Get(ctx, enabledKey(table))
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// ForceFullLoad reports whether a full reload has been requested for table.
func (t *TableState) ForceFullLoad(ctx context.Context, table string) (bool, error) {
	v, ok, err := t.store.Get(ctx, forceFullLoadKey(table))
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// ClearForceFullLoad resets force_full_load:<T> to "false", called by the
// worker after a full reload completes cleanly.
func (t *TableState) ClearForceFullLoad(ctx context.Context, table string) error {
	return t.store.Set(ctx, forceFullLoadKey(table), "false")
}

// Version returns the highest source change-version confirmed applied for
// table, or 0 if the key has never been written.
func (t *TableState) Version(ctx context.Context, table string) (int64, error) {
	v, ok, err := t.store.Get(ctx, versionKey(table))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version:%s holds non-integer value %q: %w", table, v, err)
	}
	return n, nil
}

// SetVersion writes the new confirmed version for table. Callers are
// responsible for monotonicity: this method does not compare against the
// previous value.
func (t *TableState) SetVersion(ctx context.Context, table string, version int64) error {
	return t.store.Set(ctx, versionKey(table), strconv.FormatInt(version, 10))
}

// PublishProgress writes a hand-formatted JSON progress snapshot. No
// general JSON library is used for this since the shape never varies.
func (t *TableState) PublishProgress(ctx context.Context, table string, synced, total uint64, startedAtMillis int64) error {
	value := fmt.Sprintf(`{"synced":%d,"total":%d,"started_at":%d}`, synced, total, startedAtMillis)
	return t.store.Set(ctx, progressKey(table), value)
}

// PublishConfig writes a sanitized, operator-facing metadata value under
// config:<key>, used by cmd/syncd to publish connection URLs for an
// external UI.
func (t *TableState) PublishConfig(ctx context.Context, key, value string) error {
	return t.store.Set(ctx, "config:"+key, value)
}

func versionKey(table string) string       { return "version:" + table }
func enabledKey(table string) string       { return "enabled:" + table }
func forceFullLoadKey(table string) string { return "force_full_load:" + table }
func progressKey(table string) string      { return "progress:" + table }
