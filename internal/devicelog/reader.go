// Package devicelog reads raw call history from the operating system call
// log. The OS log is an external, changing resource: reads are finite,
// newest-first snapshots and are not restartable. This package performs no
// permission prompts itself — callers obtain permission first, via whatever
// PermissionRequester the host platform wires in.
package devicelog

import (
	"context"
	"errors"

	"github.com/callsync/callsync-go/internal/calllog"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrPermissionDenied means the call-log capability has not been
	// granted. Recoverable: the user can grant it in settings.
	ErrPermissionDenied = errors.New("devicelog: call log permission denied")

	// ErrPlatformUnsupported means this operating system exposes no
	// call-log API. Terminal for the device; the sync subsystem degrades
	// to a no-op.
	ErrPlatformUnsupported = errors.New("devicelog: platform exposes no call log")
)

// Status is a snapshot of the reader's view of the device. Computed fresh on
// every call — permission state changes outside this package's control.
type Status struct {
	Supported     bool
	HasPermission bool
	Path          string
}

// Reader reads raw call history entries.
type Reader interface {
	// Read returns entries with timestamps strictly after minTimestamp
	// (epoch milliseconds), newest first, at most limit entries. Fails
	// with ErrPermissionDenied or ErrPlatformUnsupported.
	Read(ctx context.Context, minTimestamp int64, limit int) ([]calllog.RawEntry, error)

	// Status reports the current permission and platform support state.
	Status() Status
}

// PermissionRequester asks the host platform to grant the call-log
// capability. The engine requests at most once per sync attempt.
type PermissionRequester interface {
	// Request prompts for the capability and reports whether it was
	// granted. Implementations must not block indefinitely; honor ctx.
	Request(ctx context.Context) (bool, error)
}

// NoopRequester is the default PermissionRequester for hosts with no
// prompting surface. It never grants anything; the user grants the
// capability out of band and the reader's Status picks it up.
type NoopRequester struct{}

func (NoopRequester) Request(context.Context) (bool, error) {
	return false, nil
}
