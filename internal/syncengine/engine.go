package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/callsync/callsync-go/internal/calllog"
	"github.com/callsync/callsync-go/internal/crm"
	"github.com/callsync/callsync-go/internal/devicelog"
)

// defaultBatchLimit bounds one device read. The lookback window is already
// bounded by the read cursor; this bounds a first run.
const defaultBatchLimit = 50

// ErrorKind classifies a failed sync result.
type ErrorKind string

// Result error kinds. KindAlreadyInProgress is informational rather than a
// true error: a second sync request while one is in flight returns
// immediately with no side effects.
const (
	KindNone                ErrorKind = ""
	KindAlreadyInProgress   ErrorKind = "ALREADY_IN_PROGRESS"
	KindPermissionDenied    ErrorKind = "PERMISSION_DENIED"
	KindPrerequisitesFailed ErrorKind = "SYNC_PREREQUISITES_FAILED"
	KindRemoteFailed        ErrorKind = "REMOTE_SUBMISSION_FAILED"
	KindInternal            ErrorKind = "INTERNAL_ERROR"
)

// Result is the structured outcome of one sync attempt.
type Result struct {
	Success    bool      `json:"success"`
	Kind       ErrorKind `json:"error,omitempty"`
	Message    string    `json:"message"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Duplicates int       `json:"duplicates"`
	Total      int       `json:"total"`
	Errors     []string  `json:"errors,omitempty"`
}

// Readiness is a derived snapshot of the prerequisites for syncing. Computed
// fresh on every check and never cached — permission and auth state change
// outside this engine's control.
type Readiness struct {
	Ready             bool `json:"ready"`
	DeviceInitialized bool `json:"deviceInitialized"`
	HasPermission     bool `json:"hasPermission"`
	Authenticated     bool `json:"apiAuthenticated"`
	Supported         bool `json:"isSupported"`
}

// missing names the failed readiness dimensions, permission excepted (the
// orchestrator handles that dimension separately, with a request attempt).
func (r Readiness) missing() []string {
	var items []string

	if !r.DeviceInitialized {
		items = append(items, "device service not initialized")
	}

	if !r.Authenticated {
		items = append(items, "not authenticated with CRM")
	}

	if !r.Supported {
		items = append(items, "platform not supported")
	}

	return items
}

// RemoteClient is the slice of the CRM client the engine consumes.
// *crm.Client implements it; tests inject mocks.
type RemoteClient interface {
	SubmitCallLogs(ctx context.Context, records []calllog.Record) (*crm.BatchResult, error)
	UserProfile(ctx context.Context) (*crm.Profile, error)
	Authenticated(ctx context.Context) bool
}

// DeviceAccessReport is the outcome of a diagnostics read.
type DeviceAccessReport struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Count   int               `json:"count"`
	Sample  *calllog.RawEntry `json:"sampleLog,omitempty"`
}

// Config holds the engine's collaborators and knobs. All collaborators are
// injected — no package-level singletons — so tests construct isolated
// engines per case.
type Config struct {
	Reader     devicelog.Reader
	Requester  devicelog.PermissionRequester // nil selects devicelog.NoopRequester
	Client     RemoteClient
	Store      *Store
	SelfNumber string // config-file value; overrides the stored one when set
	BatchLimit int    // 0 selects the default
	Logger     *slog.Logger
}

// Engine is the sync orchestrator: it checks readiness, pulls new device
// entries, transforms them, submits one batch, updates the cursor, and
// reports a structured result. At most one sync is in flight at a time; the
// guard is the engine's only concurrency-control primitive.
type Engine struct {
	reader     devicelog.Reader
	requester  devicelog.PermissionRequester
	client     RemoteClient
	store      *Store
	selfNumber string
	batchLimit int
	logger     *slog.Logger
	events     *Notifier

	// syncMu is the single-flight guard. TryLock, never Lock: a sync
	// request arriving mid-sync answers "already in progress" instead of
	// queuing.
	syncMu sync.Mutex

	// now is injectable for tests.
	now func() time.Time
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requester := cfg.Requester
	if requester == nil {
		requester = devicelog.NoopRequester{}
	}

	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	return &Engine{
		reader:     cfg.Reader,
		requester:  requester,
		client:     cfg.Client,
		store:      cfg.Store,
		selfNumber: cfg.SelfNumber,
		batchLimit: limit,
		logger:     logger,
		events:     NewNotifier(),
	}
}

// Events exposes the subscriber registry for sync-completed notifications.
func (e *Engine) Events() *Notifier {
	return e.events
}

// Readiness computes a fresh readiness snapshot.
func (e *Engine) Readiness(ctx context.Context) Readiness {
	status := e.reader.Status()

	r := Readiness{
		DeviceInitialized: true,
		HasPermission:     status.HasPermission,
		Supported:         status.Supported,
		Authenticated:     e.client.Authenticated(ctx),
	}

	r.Ready = r.DeviceInitialized && r.HasPermission && r.Supported && r.Authenticated

	return r
}

// RequestPermissions asks the host platform for the call-log capability.
func (e *Engine) RequestPermissions(ctx context.Context) (bool, error) {
	return e.requester.Request(ctx)
}

// SyncCallLogs runs one sync cycle. It never lets a failure escape: every
// error path — permission, prerequisites, transform, submission, even a
// panic — is converted into a Result and reflected in the persisted cursor.
func (e *Engine) SyncCallLogs(ctx context.Context) (result Result) {
	if !e.syncMu.TryLock() {
		// No side effects, no cursor mutation, no event: informational.
		return Result{
			Success: false,
			Kind:    KindAlreadyInProgress,
			Message: "sync already in progress",
		}
	}
	defer e.syncMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sync panicked", slog.Any("panic", r))

			result = e.failure(ctx, KindInternal, fmt.Sprintf("sync failed: %v", r))
		}
	}()

	e.logger.Info("starting call log sync")

	readiness := e.Readiness(ctx)

	// Missing permission gets exactly one request attempt per sync.
	if !readiness.HasPermission && readiness.Supported {
		granted, err := e.requester.Request(ctx)
		if err != nil {
			e.logger.Warn("permission request failed", slog.String("error", err.Error()))
		}

		if !granted {
			return Result{
				Success: false,
				Kind:    KindPermissionDenied,
				Message: "call log permission is required to sync call logs; grant it in app settings",
			}
		}

		readiness = e.Readiness(ctx)
	}

	if !readiness.Ready {
		missing := readiness.missing()
		if !readiness.HasPermission {
			return Result{
				Success: false,
				Kind:    KindPermissionDenied,
				Message: "call log permission is required to sync call logs; grant it in app settings",
			}
		}

		return Result{
			Success: false,
			Kind:    KindPrerequisitesFailed,
			Message: "cannot sync: " + strings.Join(missing, ", "),
		}
	}

	return e.runCycle(ctx)
}

// runCycle is the post-readiness portion of a sync. Caller holds syncMu.
func (e *Engine) runCycle(ctx context.Context) Result {
	cursor, err := e.store.Load(ctx)
	if err != nil {
		return e.failure(ctx, KindInternal, err.Error())
	}

	entries, err := e.reader.Read(ctx, cursor.ReadCursorMS, e.batchLimit)
	if err != nil {
		switch {
		case errors.Is(err, devicelog.ErrPermissionDenied):
			// Cursor untouched: permission was revoked between the
			// readiness check and the read.
			return Result{
				Success: false,
				Kind:    KindPermissionDenied,
				Message: "call log permission is required to sync call logs; grant it in app settings",
			}
		case errors.Is(err, devicelog.ErrPlatformUnsupported):
			return Result{
				Success: false,
				Kind:    KindPrerequisitesFailed,
				Message: "cannot sync: platform not supported",
			}
		default:
			return e.failure(ctx, KindInternal, err.Error())
		}
	}

	now := e.now0()

	if len(entries) == 0 {
		// The read cursor stays put. A call can land in the provider
		// database after this read with a start timestamp in the past
		// (in-progress call, delayed provider write); advancing here
		// would push it behind the window for good.
		cursor.LastSyncMS = now.UnixMilli()
		cursor.Pending = 0

		e.persist(ctx, cursor)

		result := Result{Success: true, Message: "no new call logs to sync"}
		e.events.Publish(Event{Result: result, Stats: cursor, At: now})

		return result
	}

	e.logger.Info("found new call logs", slog.Int("count", len(entries)))

	// Early notification so a UI can show the pending count before the
	// network round trip.
	cursor.Pending = len(entries)
	e.events.Publish(Event{
		Result: Result{Success: true, Total: len(entries)},
		Stats:  cursor,
		At:     now,
	})

	selfNumber := e.resolveSelfNumber(ctx)

	transformer := calllog.NewTransformer(selfNumber, e.logger)

	records, transformErrs := transformer.TransformAll(entries)

	resp, submitErr := e.submit(ctx, records)

	result := Result{
		Success:    submitErr == nil && resp.FailureCount == 0,
		Synced:     resp.SuccessCount,
		Failed:     resp.FailureCount,
		Duplicates: resp.DuplicateCount,
		Total:      len(records),
		Errors:     resp.Errors,
	}

	for _, terr := range transformErrs {
		result.Errors = append(result.Errors, terr.Error())
	}

	if submitErr != nil {
		result.Kind = KindRemoteFailed
	}

	result.Message = summarize(result)

	now = e.now0()
	cursor.TotalSynced += resp.SuccessCount
	cursor.Pending = resp.FailureCount
	cursor.Errors = result.Errors
	cursor.LastSyncMS = now.UnixMilli()

	// A fully-failed batch retries from the same window next cycle.
	if resp.SuccessCount > 0 {
		cursor.ReadCursorMS = latestTimestamp(entries, now)
	}

	e.persist(ctx, cursor)
	e.events.Publish(Event{Result: result, Stats: cursor, At: now})

	e.logger.Info("sync completed",
		slog.Int("synced", result.Synced),
		slog.Int("failed", result.Failed),
		slog.Int("duplicates", result.Duplicates),
	)

	return result
}

// submit sends the batch, converting a transport-level failure into a
// failure-shaped BatchResult so the cursor update path is uniform.
func (e *Engine) submit(ctx context.Context, records []calllog.Record) (*crm.BatchResult, error) {
	if len(records) == 0 {
		return &crm.BatchResult{}, nil
	}

	resp, err := e.client.SubmitCallLogs(ctx, records)
	if err != nil {
		e.logger.Error("batch submission failed", slog.String("error", err.Error()))

		return &crm.BatchResult{
			FailureCount: len(records),
			Errors:       []string{err.Error()},
		}, err
	}

	return resp, nil
}

// resolveSelfNumber returns the self number for direction detection:
// config value first, then the persisted one, then a best-effort fetch from
// the user's remote profile (persisted for next time). Empty when all three
// come up short — the transformer degrades gracefully.
func (e *Engine) resolveSelfNumber(ctx context.Context) string {
	if e.selfNumber != "" {
		return e.selfNumber
	}

	stored, err := e.store.SelfNumber(ctx)
	if err != nil {
		e.logger.Warn("loading stored self number", slog.String("error", err.Error()))
	}

	if stored != "" {
		return stored
	}

	profile, err := e.client.UserProfile(ctx)
	if err != nil || profile.MobileNo == "" {
		if err != nil {
			e.logger.Warn("fetching user profile for self number", slog.String("error", err.Error()))
		}

		return ""
	}

	if err := e.store.SetSelfNumber(ctx, profile.MobileNo); err != nil {
		e.logger.Warn("persisting self number", slog.String("error", err.Error()))
	}

	e.logger.Info("seeded self number from user profile")

	return profile.MobileNo
}

// TestDeviceAccess reads a small sample without submitting, for diagnostics.
func (e *Engine) TestDeviceAccess(ctx context.Context) DeviceAccessReport {
	status := e.reader.Status()
	if !status.Supported {
		return DeviceAccessReport{Message: "platform not supported for call log access"}
	}

	if !status.HasPermission {
		granted, _ := e.requester.Request(ctx)
		if !granted {
			return DeviceAccessReport{Message: "call log permission not granted"}
		}
	}

	const sampleSize = 5

	entries, err := e.reader.Read(ctx, 0, sampleSize)
	if err != nil {
		return DeviceAccessReport{Message: err.Error()}
	}

	report := DeviceAccessReport{
		Success: true,
		Message: "successfully accessed device call logs",
		Count:   len(entries),
	}

	if len(entries) > 0 {
		report.Sample = &entries[0]
	}

	return report
}

// Stats returns the persisted cursor for status displays.
func (e *Engine) Stats(ctx context.Context) (Cursor, error) {
	return e.store.Load(ctx)
}

// failure records message into the cursor's error list, persists, notifies,
// and returns a failure result. Used for unexpected errors — the engine
// never crashes its host process.
func (e *Engine) failure(ctx context.Context, kind ErrorKind, message string) Result {
	now := e.now0()

	cursor, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Error("loading cursor while recording failure", slog.String("error", err.Error()))
	} else {
		cursor.Errors = append(cursor.Errors, message)
		cursor.LastSyncMS = now.UnixMilli()
		e.persist(ctx, cursor)
	}

	result := Result{
		Success: false,
		Kind:    kind,
		Message: message,
		Errors:  []string{message},
	}

	e.events.Publish(Event{Result: result, Stats: cursor, At: now})

	return result
}

// persist saves the cursor, logging rather than failing the sync when the
// write itself errors: the remote already has the records.
func (e *Engine) persist(ctx context.Context, cursor Cursor) {
	if err := e.store.Save(ctx, cursor); err != nil {
		e.logger.Error("persisting sync cursor", slog.String("error", err.Error()))
	}
}

func (e *Engine) now0() time.Time {
	if e.now != nil {
		return e.now()
	}

	return time.Now()
}

// latestTimestamp returns the newest sanitized timestamp in the batch; the
// read cursor advances to it after a successful submission.
func latestTimestamp(entries []calllog.RawEntry, now time.Time) int64 {
	var latest int64

	for _, entry := range entries {
		if ms := calllog.SanitizeTimestamp(entry.Timestamp, now, nil); ms > latest {
			latest = ms
		}
	}

	return latest
}

// summarize builds the human-readable result line.
func summarize(r Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Synced %d call logs", r.Synced)

	if r.Duplicates > 0 {
		fmt.Fprintf(&b, ", %d duplicates skipped", r.Duplicates)
	}

	if r.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", r.Failed)
	}

	return b.String()
}
