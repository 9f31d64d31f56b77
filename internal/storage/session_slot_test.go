package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedash/internal/core"
	"expensedash/internal/session"
)

func newSlot(t *testing.T) (*SessionSlot, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "expensedash.db")
	slot, err := OpenSessionSlot(path)
	require.NoError(t, err)
	t.Cleanup(func() { slot.Close() })
	return slot, path
}

func TestSessionSlot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	slot, _ := newSlot(t)

	data, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, slot.Save(ctx, []byte(`{"a":1}`)))
	require.NoError(t, slot.Save(ctx, []byte(`{"a":2}`)))

	data, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))

	require.NoError(t, slot.Clear(ctx))
	data, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSessionSlot_MigrationsAreIdempotent(t *testing.T) {
	_, path := newSlot(t)
	require.NoError(t, RunMigrations(path))

	again, err := OpenSessionSlot(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSessionSlot_BacksSessionStore(t *testing.T) {
	ctx := context.Background()
	slot, path := newSlot(t)

	store := session.Open(ctx, slot, nil)
	require.NoError(t, store.Login(ctx, core.User{ID: "5", Name: "mira"}, "tok"))
	require.NoError(t, slot.Close())

	reopened, err := OpenSessionSlot(path)
	require.NoError(t, err)
	defer reopened.Close()

	cur := session.Open(ctx, reopened, nil).Current()
	require.True(t, cur.Authenticated())
	assert.Equal(t, core.ID("5"), cur.User.ID)
}
