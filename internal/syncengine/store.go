// Package syncengine ties the device reader, transformer, and CRM client
// together: the sync cursor store, the orchestrator state machine, the
// subscriber registry, and the foreground/background scheduler drivers.
package syncengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// maxStoredErrors bounds the persisted error list. Older errors age out;
// full history belongs in logs, not the cursor row.
const maxStoredErrors = 20

// selfNumberKey is the settings key holding the configured self number.
const selfNumberKey = "self_number"

// Cursor is the persisted sync state: the read cursor used as the next
// minTimestamp, the last attempt wall time, and aggregate statistics.
// Owned exclusively by the Engine and persisted after every attempt, so a
// crash mid-sync never loses prior progress.
type Cursor struct {
	// ReadCursorMS is the minTimestamp for the next device read, epoch
	// milliseconds. Monotonically non-decreasing; advanced only when at
	// least one record succeeded.
	ReadCursorMS int64

	// LastSyncMS is when the last attempt finished, success or not.
	LastSyncMS int64

	TotalSynced int
	Pending     int
	Errors      []string
}

// Store persists the Cursor and engine settings in SQLite. The state
// crossing the foreground/background process boundary goes through here —
// never through shared memory.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the state database at dbPath and applies
// migrations. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("syncengine: opening state database: %w", err)
	}

	// A single logical writer per process; one connection keeps SQLite
	// locking simple for the :memory: case too.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("syncengine: setting journal mode: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug("sync state database ready", slog.String("path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Load reads the cursor row.
func (s *Store) Load(ctx context.Context) (Cursor, error) {
	var (
		c         Cursor
		errorsRaw string
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT read_cursor_ms, last_sync_ms, total_synced, pending, errors
		 FROM sync_cursor WHERE id = 1`)

	if err := row.Scan(&c.ReadCursorMS, &c.LastSyncMS, &c.TotalSynced, &c.Pending, &errorsRaw); err != nil {
		return Cursor{}, fmt.Errorf("syncengine: loading cursor: %w", err)
	}

	if err := json.Unmarshal([]byte(errorsRaw), &c.Errors); err != nil {
		// A corrupt error list is not worth failing a sync over.
		s.logger.Warn("discarding corrupt stored error list", slog.String("error", err.Error()))

		c.Errors = nil
	}

	return c, nil
}

// Save writes the cursor row, bounding the error list.
func (s *Store) Save(ctx context.Context, c Cursor) error {
	errs := c.Errors
	if len(errs) > maxStoredErrors {
		errs = errs[len(errs)-maxStoredErrors:]
	}

	if errs == nil {
		errs = []string{}
	}

	errorsRaw, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("syncengine: encoding error list: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sync_cursor
		 SET read_cursor_ms = ?, last_sync_ms = ?, total_synced = ?, pending = ?, errors = ?
		 WHERE id = 1`,
		c.ReadCursorMS, c.LastSyncMS, c.TotalSynced, c.Pending, string(errorsRaw))
	if err != nil {
		return fmt.Errorf("syncengine: saving cursor: %w", err)
	}

	return nil
}

// Reset clears the cursor and settings back to first-run state. Used on
// logout with --reset-state.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_cursor
		 SET read_cursor_ms = 0, last_sync_ms = 0, total_synced = 0, pending = 0, errors = '[]'
		 WHERE id = 1`); err != nil {
		return fmt.Errorf("syncengine: resetting cursor: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("syncengine: resetting settings: %w", err)
	}

	return nil
}

// SelfNumber returns the persisted self number, or "" when none is stored.
func (s *Store) SelfNumber(ctx context.Context) (string, error) {
	var v string

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, selfNumberKey).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("syncengine: loading self number: %w", err)
	}

	return v, nil
}

// SetSelfNumber persists the self number.
func (s *Store) SetSelfNumber(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		selfNumberKey, number)
	if err != nil {
		return fmt.Errorf("syncengine: saving self number: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
