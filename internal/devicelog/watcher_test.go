package devicelog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherTriggersOnDatabaseWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "calllog.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("seed"), 0o600))

	w := NewWatcher(dbPath, testLogger())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, trigger) }()

	// Let the watch get established before writing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(dbPath, []byte("new call"), 0o600))

	select {
	case <-trigger:
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after database write")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "calllog.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("seed"), 0o600))

	w := NewWatcher(dbPath, testLogger())
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 10)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, trigger) }()

	time.Sleep(50 * time.Millisecond)

	// A commit burst: main file, WAL, journal, in quick succession.
	require.NoError(t, os.WriteFile(dbPath, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(dbPath+"-journal", []byte("c"), 0o600))

	select {
	case <-trigger:
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after write burst")
	}

	// The burst collapses into a single trigger.
	select {
	case <-trigger:
		t.Fatal("burst produced more than one trigger")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "calllog.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("seed"), 0o600))

	w := NewWatcher(dbPath, testLogger())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, trigger) }()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.db"), []byte("x"), 0o600))

	select {
	case <-trigger:
		t.Fatal("unrelated file must not trigger")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestWatcherRelevant(t *testing.T) {
	t.Parallel()

	w := NewWatcher("/var/db/calllog.db", testLogger())

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"database write", fsnotify.Event{Name: "/var/db/calllog.db", Op: fsnotify.Write}, true},
		{"wal write", fsnotify.Event{Name: "/var/db/calllog.db-wal", Op: fsnotify.Write}, true},
		{"journal create", fsnotify.Event{Name: "/var/db/calllog.db-journal", Op: fsnotify.Create}, true},
		{"unrelated file", fsnotify.Event{Name: "/var/db/other.db", Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: "/var/db/calllog.db", Op: fsnotify.Chmod}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, w.relevant(tc.ev))
		})
	}
}
