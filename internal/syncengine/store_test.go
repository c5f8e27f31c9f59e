package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreInitialCursor(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	c, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Zero(t, c.ReadCursorMS)
	assert.Zero(t, c.LastSyncMS)
	assert.Zero(t, c.TotalSynced)
	assert.Zero(t, c.Pending)
	assert.Empty(t, c.Errors)
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	want := Cursor{
		ReadCursorMS: 1700000009000,
		LastSyncMS:   1700000010000,
		TotalSynced:  42,
		Pending:      3,
		Errors:       []string{"network down", "batch rejected"},
	}

	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreBoundsErrorList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	var errs []string
	for i := 0; i < maxStoredErrors+10; i++ {
		errs = append(errs, fmt.Sprintf("error %d", i))
	}

	require.NoError(t, store.Save(ctx, Cursor{Errors: errs}))

	got, err := store.Load(ctx)
	require.NoError(t, err)

	require.Len(t, got.Errors, maxStoredErrors)

	// The newest errors survive.
	assert.Equal(t, fmt.Sprintf("error %d", maxStoredErrors+9), got.Errors[maxStoredErrors-1])
	assert.Equal(t, "error 10", got.Errors[0])
}

func TestStoreDiscardsCorruptErrorList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `UPDATE sync_cursor SET errors = 'not json' WHERE id = 1`)
	require.NoError(t, err)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Errors)
}

func TestStoreSelfNumber(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.SelfNumber(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SetSelfNumber(ctx, "+911234567890"))

	got, err = store.SelfNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+911234567890", got)

	// Upsert overwrites.
	require.NoError(t, store.SetSelfNumber(ctx, "+15550001111"))

	got, err = store.SelfNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", got)
}

func TestStoreReset(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Cursor{
		ReadCursorMS: 1700000000000,
		LastSyncMS:   1700000001000,
		TotalSynced:  10,
		Pending:      2,
		Errors:       []string{"boom"},
	}))
	require.NoError(t, store.SetSelfNumber(ctx, "+911234567890"))

	require.NoError(t, store.Reset(ctx))

	c, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cursor{Errors: []string{}}, c)

	number, err := store.SelfNumber(ctx)
	require.NoError(t, err)
	assert.Empty(t, number)
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewStore(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, Cursor{ReadCursorMS: 1700000000000, TotalSynced: 5, Errors: []string{}}))
	require.NoError(t, store.Close())

	// Reopening runs migrations again; they must be idempotent and the
	// data must still be there.
	store, err = NewStore(path, testLogger())
	require.NoError(t, err)
	defer store.Close()

	c, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), c.ReadCursorMS)
	assert.Equal(t, 5, c.TotalSynced)
}
