package devicelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/callsync/callsync-go/internal/calllog"
)

// DefaultPath is where Android's call-log content provider keeps its
// database. Deployments running the agent unprivileged point CallLogPath at
// an exported copy instead.
const DefaultPath = "/data/data/com.android.providers.contacts/databases/calllog.db"

// callsQuery reads the provider's calls table. Column meanings follow the
// Android CallLog.Calls contract: type is 1-6, date is epoch milliseconds,
// duration is seconds.
const callsQuery = `
	SELECT number, name, type, date, duration
	FROM calls
	WHERE date > ?
	ORDER BY date DESC
	LIMIT ?`

// SQLiteReader reads the call-log SQLite database directly. The database is
// opened read-only per call rather than held open: the OS owns the file, and
// permission can be revoked between reads.
type SQLiteReader struct {
	path   string
	logger *slog.Logger

	// goos is injectable for tests; defaults to runtime.GOOS.
	goos string
}

// NewSQLiteReader creates a reader over the call-log database at path.
// An empty path selects DefaultPath.
func NewSQLiteReader(path string, logger *slog.Logger) *SQLiteReader {
	if path == "" {
		path = DefaultPath
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteReader{path: path, logger: logger, goos: runtime.GOOS}
}

// supported reports whether this OS has a call log at all. Android surfaces
// as linux to the Go runtime when the agent runs under a bridge like Termux.
func (r *SQLiteReader) supported() bool {
	return r.goos == "android" || r.goos == "linux"
}

// Status probes platform support and file readability. Never cached.
func (r *SQLiteReader) Status() Status {
	st := Status{Supported: r.supported(), Path: r.path}
	if !st.Supported {
		return st
	}

	f, err := os.Open(r.path)
	switch {
	case err == nil:
		f.Close()

		st.HasPermission = true
	case errors.Is(err, fs.ErrNotExist):
		// No call-log database at all is an unsupported device, matching
		// Read's classification. Granting a permission would not help.
		st.Supported = false
	}

	return st
}

// Read implements Reader.
func (r *SQLiteReader) Read(ctx context.Context, minTimestamp int64, limit int) ([]calllog.RawEntry, error) {
	if !r.supported() {
		return nil, ErrPlatformUnsupported
	}

	// Probe with a plain open first so EACCES maps cleanly to the
	// permission error instead of an opaque driver failure.
	f, err := os.Open(r.path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: no call-log database at %s", ErrPlatformUnsupported, r.path)
	case err != nil:
		return nil, fmt.Errorf("devicelog: opening %s: %w", r.path, err)
	}
	f.Close()

	db, err := sql.Open("sqlite", "file:"+r.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("devicelog: opening call-log database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, callsQuery, minTimestamp, limit)
	if err != nil {
		return nil, fmt.Errorf("devicelog: querying calls: %w", err)
	}
	defer rows.Close()

	var entries []calllog.RawEntry

	for rows.Next() {
		var (
			number, name sql.NullString
			callType     sql.NullInt64
			date         sql.NullInt64
			duration     sql.NullInt64
		)

		if err := rows.Scan(&number, &name, &callType, &date, &duration); err != nil {
			return nil, fmt.Errorf("devicelog: scanning call row: %w", err)
		}

		entries = append(entries, calllog.RawEntry{
			Number:    number.String,
			Name:      name.String,
			Type:      strconv.FormatInt(callType.Int64, 10),
			Timestamp: strconv.FormatInt(date.Int64, 10),
			Duration:  duration.Int64,
			Index:     len(entries),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("devicelog: reading calls: %w", err)
	}

	r.logger.Debug("read device call log",
		slog.Int64("min_timestamp_ms", minTimestamp),
		slog.Int("count", len(entries)),
	)

	return entries, nil
}
