package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callsync/callsync-go/internal/calllog"
	"github.com/callsync/callsync-go/internal/crm"
	"github.com/callsync/callsync-go/internal/devicelog"
)

var engineNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	entries []calllog.RawEntry
	err     error
	status  devicelog.Status

	lastMin   int64
	lastLimit int
	reads     int
}

func (r *fakeReader) Read(_ context.Context, minTimestamp int64, limit int) ([]calllog.RawEntry, error) {
	r.reads++
	r.lastMin = minTimestamp
	r.lastLimit = limit

	if r.err != nil {
		return nil, r.err
	}

	return r.entries, nil
}

func (r *fakeReader) Status() devicelog.Status {
	return r.status
}

type fakeClient struct {
	authenticated bool

	batch    *crm.BatchResult
	batchErr error

	profile      *crm.Profile
	profileErr   error
	profileCalls int

	submitted [][]calllog.Record

	// entered and release choreograph the concurrency test. Both nil in
	// ordinary tests.
	entered chan struct{}
	release chan struct{}
}

func (c *fakeClient) SubmitCallLogs(_ context.Context, records []calllog.Record) (*crm.BatchResult, error) {
	c.submitted = append(c.submitted, records)

	if c.entered != nil {
		close(c.entered)
		c.entered = nil
	}

	if c.release != nil {
		<-c.release
	}

	if c.batchErr != nil {
		return nil, c.batchErr
	}

	if c.batch != nil {
		return c.batch, nil
	}

	return &crm.BatchResult{Success: true, SuccessCount: len(records)}, nil
}

func (c *fakeClient) UserProfile(context.Context) (*crm.Profile, error) {
	c.profileCalls++

	if c.profileErr != nil {
		return nil, c.profileErr
	}

	if c.profile != nil {
		return c.profile, nil
	}

	return &crm.Profile{}, nil
}

func (c *fakeClient) Authenticated(context.Context) bool {
	return c.authenticated
}

// grantingRequester grants the capability and flips the reader's status, the
// way a real platform prompt would.
type grantingRequester struct {
	reader *fakeReader
}

func (g grantingRequester) Request(context.Context) (bool, error) {
	g.reader.status.HasPermission = true

	return true, nil
}

func readyStatus() devicelog.Status {
	return devicelog.Status{Supported: true, HasPermission: true}
}

// sampleEntries builds n incoming entries one second apart starting at
// 1700000000000, oldest last (device reads are newest first).
func sampleEntries(n int) []calllog.RawEntry {
	entries := make([]calllog.RawEntry, 0, n)
	for i := n - 1; i >= 0; i-- {
		entries = append(entries, calllog.RawEntry{
			Number:    fmt.Sprintf("555000%04d", i),
			Type:      "1",
			Timestamp: strconv.FormatInt(1700000000000+int64(i)*1000, 10),
			Duration:  10,
			Index:     i,
		})
	}

	return entries
}

func newTestEngine(t *testing.T, reader devicelog.Reader, client RemoteClient, cfg Config) (*Engine, *Store) {
	t.Helper()

	store := newTestStore(t)

	cfg.Reader = reader
	cfg.Client = client
	cfg.Store = store
	cfg.Logger = testLogger()

	engine := New(cfg)
	engine.now = func() time.Time { return engineNow }

	return engine, store
}

func TestSyncHappyPath(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(3)}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{SelfNumber: "+911234567890"})

	result := engine.SyncCallLogs(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, KindNone, result.Kind)
	assert.Equal(t, "Synced 3 call logs", result.Message)
	assert.Equal(t, 3, result.Synced)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 3, result.Total)

	require.Len(t, client.submitted, 1)
	require.Len(t, client.submitted[0], 3)
	assert.Equal(t, "+911234567890", client.submitted[0][0].To)
	assert.Equal(t, calllog.Source, client.submitted[0][0].Source)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cursor.TotalSynced)
	assert.Zero(t, cursor.Pending)
	assert.Equal(t, int64(1700000002000), cursor.ReadCursorMS)
	assert.Equal(t, engineNow.UnixMilli(), cursor.LastSyncMS)
}

func TestSyncPartialFailure(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(10)}
	client := &fakeClient{
		authenticated: true,
		batch: &crm.BatchResult{
			SuccessCount:   7,
			FailureCount:   2,
			DuplicateCount: 1,
			Errors:         []string{"row 3: invalid number"},
		},
	}
	engine, store := newTestEngine(t, reader, client, Config{SelfNumber: "+911234567890"})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success, "any failed record fails the attempt")
	assert.Equal(t, KindNone, result.Kind)
	assert.Equal(t, "Synced 7 call logs, 1 duplicates skipped, 2 failed", result.Message)
	assert.Equal(t, 7, result.Synced)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, []string{"row 3: invalid number"}, result.Errors)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, cursor.TotalSynced)
	assert.Equal(t, 2, cursor.Pending)

	// Partial success still advances the cursor to the newest entry.
	assert.Equal(t, int64(1700000009000), cursor.ReadCursorMS)
}

func TestSyncFullBatchFailureKeepsCursor(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(4)}
	client := &fakeClient{
		authenticated: true,
		batch:         &crm.BatchResult{FailureCount: 4, Errors: []string{"server rejected batch"}},
	}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 4, result.Failed)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor.ReadCursorMS, "fully failed batch retries from the same window")
	assert.Zero(t, cursor.TotalSynced)
	assert.Equal(t, 4, cursor.Pending)
	assert.Equal(t, engineNow.UnixMilli(), cursor.LastSyncMS)
}

func TestSyncTransportFailure(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(2)}
	client := &fakeClient{authenticated: true, batchErr: errors.New("network down")}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindRemoteFailed, result.Kind)
	assert.Equal(t, 2, result.Failed)
	assert.Contains(t, result.Errors, "network down")

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor.ReadCursorMS)
	assert.Contains(t, cursor.Errors, "network down")
}

func TestSyncEmptyReadLeavesCursor(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus()}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{})

	require.NoError(t, store.Save(context.Background(),
		Cursor{ReadCursorMS: 1690000000000, Errors: []string{}}))

	result := engine.SyncCallLogs(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, "no new call logs to sync", result.Message)
	assert.Zero(t, result.Total)
	assert.Empty(t, client.submitted)

	// Only the attempt time moves; the read window stays open for
	// entries the provider has not committed yet.
	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1690000000000), cursor.ReadCursorMS)
	assert.Equal(t, engineNow.UnixMilli(), cursor.LastSyncMS)
}

func TestSyncPicksUpLateProviderWrite(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus()}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{})

	// First sync sees nothing.
	result := engine.SyncCallLogs(context.Background())
	require.True(t, result.Success)
	require.Zero(t, result.Total)

	// The provider then commits a call that started half an hour before
	// that sync — an in-progress call at read time, written late.
	late := engineNow.Add(-30 * time.Minute).UnixMilli()
	reader.entries = []calllog.RawEntry{{
		Number:    "9998887776",
		Type:      "1",
		Timestamp: strconv.FormatInt(late, 10),
		Duration:  120,
	}}

	result = engine.SyncCallLogs(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)
	assert.Less(t, reader.lastMin, late, "the late entry must fall inside the read window")

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, late, cursor.ReadCursorMS)
}

func TestSyncReadUsesCursorAndLimit(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus()}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{BatchLimit: 25})

	require.NoError(t, store.Save(context.Background(), Cursor{ReadCursorMS: 1690000000000, Errors: []string{}}))

	engine.SyncCallLogs(context.Background())

	assert.Equal(t, int64(1690000000000), reader.lastMin)
	assert.Equal(t, 25, reader.lastLimit)
}

func TestSyncPermissionDeniedReadLeavesCursorUntouched(t *testing.T) {
	t.Parallel()

	// Status says permitted but the read fails: permission revoked between
	// the readiness check and the read.
	reader := &fakeReader{status: readyStatus(), err: devicelog.ErrPermissionDenied}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindPermissionDenied, result.Kind)
	assert.Contains(t, result.Message, "permission")

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor.ReadCursorMS)
	assert.Zero(t, cursor.LastSyncMS)
}

func TestSyncPermissionRequestDenied(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: devicelog.Status{Supported: true, HasPermission: false}}
	client := &fakeClient{authenticated: true}
	engine, _ := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindPermissionDenied, result.Kind)
	assert.Zero(t, reader.reads)
}

func TestSyncPermissionRequestGranted(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{
		status:  devicelog.Status{Supported: true, HasPermission: false},
		entries: sampleEntries(1),
	}
	client := &fakeClient{authenticated: true}
	engine, _ := newTestEngine(t, reader, client, Config{Requester: grantingRequester{reader: reader}})

	result := engine.SyncCallLogs(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)
}

func TestSyncNotAuthenticated(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus()}
	client := &fakeClient{authenticated: false}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindPrerequisitesFailed, result.Kind)
	assert.Equal(t, "cannot sync: not authenticated with CRM", result.Message)
	assert.Zero(t, reader.reads)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor.LastSyncMS)
}

func TestSyncUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: devicelog.Status{Supported: false, HasPermission: true}}
	client := &fakeClient{authenticated: true}
	engine, _ := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindPrerequisitesFailed, result.Kind)
	assert.Contains(t, result.Message, "platform not supported")
}

func TestSyncAlreadyInProgress(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(1)}
	client := &fakeClient{
		authenticated: true,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	engine, store := newTestEngine(t, reader, client, Config{})

	entered := client.entered

	first := make(chan Result, 1)
	go func() {
		first <- engine.SyncCallLogs(context.Background())
	}()

	<-entered

	// A second request while the first is mid-submission backs off
	// immediately, without touching the cursor or the device.
	second := engine.SyncCallLogs(context.Background())
	assert.False(t, second.Success)
	assert.Equal(t, KindAlreadyInProgress, second.Kind)
	assert.Equal(t, "sync already in progress", second.Message)
	assert.Equal(t, 1, reader.reads)

	close(client.release)

	result := <-first
	assert.True(t, result.Success)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cursor.TotalSynced)
}

func TestSyncSeedsSelfNumberFromProfile(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(1)}
	client := &fakeClient{
		authenticated: true,
		profile:       &crm.Profile{MobileNo: "+911234567890"},
	}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())
	require.True(t, result.Success)

	assert.Equal(t, 1, client.profileCalls)
	require.Len(t, client.submitted, 1)
	assert.Equal(t, "+911234567890", client.submitted[0][0].To)

	stored, err := store.SelfNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "+911234567890", stored)

	// Second sync reads the persisted number instead of refetching.
	engine.SyncCallLogs(context.Background())
	assert.Equal(t, 1, client.profileCalls)
}

func TestSyncConfiguredSelfNumberWins(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(1)}
	client := &fakeClient{
		authenticated: true,
		profile:       &crm.Profile{MobileNo: "+15550001111"},
	}
	engine, _ := newTestEngine(t, reader, client, Config{SelfNumber: "+911234567890"})

	result := engine.SyncCallLogs(context.Background())
	require.True(t, result.Success)

	assert.Zero(t, client.profileCalls)
	assert.Equal(t, "+911234567890", client.submitted[0][0].To)
}

func TestSyncProfileUnavailableDegradesGracefully(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(1)}
	client := &fakeClient{authenticated: true, profileErr: errors.New("profile endpoint down")}
	engine, _ := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, "Unknown", client.submitted[0][0].To)
}

func TestSyncPublishesEvents(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(2)}
	client := &fakeClient{authenticated: true}
	engine, _ := newTestEngine(t, reader, client, Config{})

	var events []Event

	unsubscribe := engine.Events().Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	engine.SyncCallLogs(context.Background())

	// One pending notification before the network round trip, one final.
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Stats.Pending)
	assert.True(t, events[1].Result.Success)
	assert.Equal(t, 2, events[1].Result.Synced)
	assert.Equal(t, 2, events[1].Stats.TotalSynced)
}

func TestSyncAlreadyInProgressPublishesNothing(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus(), entries: sampleEntries(1)}
	client := &fakeClient{
		authenticated: true,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	engine, _ := newTestEngine(t, reader, client, Config{})

	entered := client.entered
	release := client.release

	go engine.SyncCallLogs(context.Background())
	<-entered

	var rejected []Event

	unsubscribe := engine.Events().Subscribe(func(ev Event) { rejected = append(rejected, ev) })

	engine.SyncCallLogs(context.Background())
	unsubscribe()

	assert.Empty(t, rejected)
	close(release)
}

type panickyReader struct {
	fakeReader
}

func (panickyReader) Read(context.Context, int64, int) ([]calllog.RawEntry, error) {
	panic("call log provider went away")
}

func TestSyncRecoversFromPanic(t *testing.T) {
	t.Parallel()

	reader := &panickyReader{fakeReader{status: readyStatus()}}
	client := &fakeClient{authenticated: true}
	engine, store := newTestEngine(t, reader, client, Config{})

	result := engine.SyncCallLogs(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, KindInternal, result.Kind)
	assert.Contains(t, result.Message, "call log provider went away")

	// The guard was released: the next attempt runs instead of reporting
	// "already in progress".
	second := engine.SyncCallLogs(context.Background())
	assert.NotEqual(t, KindAlreadyInProgress, second.Kind)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cursor.Errors)
}

func TestTestDeviceAccess(t *testing.T) {
	t.Parallel()

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{status: devicelog.Status{Supported: false}}
		engine, _ := newTestEngine(t, reader, &fakeClient{}, Config{})

		report := engine.TestDeviceAccess(context.Background())
		assert.False(t, report.Success)
		assert.Contains(t, report.Message, "not supported")
	})

	t.Run("permission not granted", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{status: devicelog.Status{Supported: true}}
		engine, _ := newTestEngine(t, reader, &fakeClient{}, Config{})

		report := engine.TestDeviceAccess(context.Background())
		assert.False(t, report.Success)
		assert.Contains(t, report.Message, "permission")
	})

	t.Run("success with sample", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{status: readyStatus(), entries: sampleEntries(3)}
		engine, _ := newTestEngine(t, reader, &fakeClient{}, Config{})

		report := engine.TestDeviceAccess(context.Background())
		assert.True(t, report.Success)
		assert.Equal(t, 3, report.Count)
		require.NotNil(t, report.Sample)
		assert.Equal(t, reader.entries[0], *report.Sample)
		assert.Equal(t, 5, reader.lastLimit)
	})
}

func TestStats(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{status: readyStatus()}
	engine, store := newTestEngine(t, reader, &fakeClient{}, Config{})

	require.NoError(t, store.Save(context.Background(), Cursor{TotalSynced: 12, Errors: []string{}}))

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalSynced)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Synced 5 call logs", summarize(Result{Synced: 5}))
	assert.Equal(t, "Synced 5 call logs, 2 duplicates skipped", summarize(Result{Synced: 5, Duplicates: 2}))
	assert.Equal(t, "Synced 0 call logs, 3 failed", summarize(Result{Failed: 3}))
	assert.Equal(t, "Synced 7 call logs, 1 duplicates skipped, 2 failed",
		summarize(Result{Synced: 7, Duplicates: 1, Failed: 2}))
}
