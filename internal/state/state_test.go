package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureDefaultsIsCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ts := New(store)

	assert.NoError(t, ts.EnsureDefaults(ctx, "Users"))
	enabled, err := ts.Enabled(ctx, "Users")
	assert.NoError(t, err)
	assert.False(t, enabled)

	// An operator enables the table...
	assert.NoError(t, store.Set(ctx, "enabled:Users", "true"))

	// ...and EnsureDefaults must not clobber it on a later observation.
	assert.NoError(t, ts.EnsureDefaults(ctx, "Users"))
	enabled, err = ts.Enabled(ctx, "Users")
	assert.NoError(t, err)
	assert.True(t, enabled)
}

func TestEnabledAbsentIsFalse(t *testing.T) {
	ts := New(newFakeStore())
	enabled, err := ts.Enabled(context.Background(), "NeverSeen")
	assert.NoError(t, err)
	assert.False(t, enabled)
}

func TestVersionRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := New(newFakeStore())

	v, err := ts.Version(ctx, "Orders")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), v)

	assert.NoError(t, ts.SetVersion(ctx, "Orders", 349))
	v, err = ts.Version(ctx, "Orders")
	assert.NoError(t, err)
	assert.Equal(t, int64(349), v)
}

func TestForceFullLoadClear(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ts := New(store)

	assert.NoError(t, store.Set(ctx, "force_full_load:Orders", "true"))
	full, err := ts.ForceFullLoad(ctx, "Orders")
	assert.NoError(t, err)
	assert.True(t, full)

	assert.NoError(t, ts.ClearForceFullLoad(ctx, "Orders"))
	full, err = ts.ForceFullLoad(ctx, "Orders")
	assert.NoError(t, err)
	assert.False(t, full)
}

func TestPublishProgressFormatsHandRolledJSON(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ts := New(store)

	assert.NoError(t, ts.PublishProgress(ctx, "Orders", 5000, 12300, 1700000000000))
	v, ok, err := store.Get(ctx, "progress:Orders")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"synced":5000,"total":12300,"started_at":1700000000000}`, v)
}

func TestPublishConfig(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ts := New(store)

	assert.NoError(t, ts.PublishConfig(ctx, "primary_url", "sqlserver://primary:1433"))
	v, ok, err := store.Get(ctx, "config:primary_url")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sqlserver://primary:1433", v)
}
