package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler cadence defaults.
const (
	// DefaultForegroundInterval is the in-process timer cadence.
	DefaultForegroundInterval = 60 * time.Second

	// DefaultBackgroundInterval is the cadence asked of the OS background
	// facility. The OS may stretch it under battery or network constraints.
	DefaultBackgroundInterval = 15 * time.Minute

	// progressTick is how often the service driver refreshes its countdown
	// notification.
	progressTick = time.Second
)

// Syncer runs one sync cycle. Implemented by *Engine. Drivers never
// deduplicate their own triggers — the engine's single-flight guard makes
// overlapping ticks from independent drivers harmless.
type Syncer interface {
	SyncCallLogs(ctx context.Context) Result
}

// BackgroundTasker registers a periodic wake with the platform's
// background-execution facility. Modeled as a capability interface with a
// no-op default selected at startup, rather than runtime existence checks
// scattered through the code.
type BackgroundTasker interface {
	// Register schedules task at roughly the given interval until the
	// returned unregister function is called. The OS may impose a larger
	// minimum interval.
	Register(ctx context.Context, interval time.Duration, task func(context.Context)) (unregister func(), err error)
}

// NoopTasker is the default BackgroundTasker for platforms without a
// background-execution facility.
type NoopTasker struct{}

func (NoopTasker) Register(context.Context, time.Duration, func(context.Context)) (func(), error) {
	return func() {}, nil
}

// IntervalTasker is an in-process BackgroundTasker fallback: a goroutine
// with a timer, honoring a floor comparable to OS-imposed minimums.
type IntervalTasker struct {
	// MinInterval floors the requested interval. Zero means 15 minutes,
	// matching common OS background-fetch minimums.
	MinInterval time.Duration

	Logger *slog.Logger
}

func (t *IntervalTasker) Register(ctx context.Context, interval time.Duration, task func(context.Context)) (func(), error) {
	floor := t.MinInterval
	if floor == 0 {
		floor = DefaultBackgroundInterval
	}

	if interval < floor {
		interval = floor
	}

	taskCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				task(taskCtx)
			}
		}
	}()

	return cancel, nil
}

// ProgressNotifier surfaces the service driver's countdown ("next sync in
// Ns") to whatever user-visible surface the host provides. Capability
// interface; NoopProgress is the default.
type ProgressNotifier interface {
	Update(ctx context.Context, text string)
}

// NoopProgress discards progress updates.
type NoopProgress struct{}

func (NoopProgress) Update(context.Context, string) {}

// LogProgress writes progress updates to the debug log. Used by the daemon,
// which has no notification surface of its own.
type LogProgress struct {
	Logger *slog.Logger
}

func (p LogProgress) Update(_ context.Context, text string) {
	p.Logger.Debug("sync progress", slog.String("status", text))
}

// Scheduler runs the drivers that invoke the engine outside direct user
// action: the foreground interval timer, the OS background task, the
// long-running service loop, and an external trigger channel fed by the
// device-log watcher and the realtime listener. Stopping the scheduler only
// prevents future ticks; a sync already in flight runs to completion.
type Scheduler struct {
	Syncer             Syncer
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	Background         BackgroundTasker
	Progress           ProgressNotifier
	Logger             *slog.Logger

	// Trigger delivers on-demand sync pulses. Optional.
	Trigger <-chan struct{}

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run drives all schedulers until ctx is done. Always returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.ForegroundInterval <= 0 {
		s.ForegroundInterval = DefaultForegroundInterval
	}

	if s.BackgroundInterval <= 0 {
		s.BackgroundInterval = DefaultBackgroundInterval
	}

	if s.Background == nil {
		s.Background = NoopTasker{}
	}

	if s.Progress == nil {
		s.Progress = NoopProgress{}
	}

	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	unregister, err := s.Background.Register(ctx, s.BackgroundInterval, func(taskCtx context.Context) {
		s.Logger.Debug("background task woke")
		s.Syncer.SyncCallLogs(taskCtx)
	})
	if err != nil {
		return fmt.Errorf("syncengine: registering background task: %w", err)
	}
	defer unregister()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runForeground(gctx) })
	g.Go(func() error { return s.runService(gctx) })

	if s.Trigger != nil {
		g.Go(func() error { return s.runTrigger(gctx) })
	}

	return g.Wait()
}

// runForeground is the simple recurring timer, active only while the
// process is alive.
func (s *Scheduler) runForeground(ctx context.Context) error {
	ticker := time.NewTicker(s.ForegroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Syncer.SyncCallLogs(ctx)
		}
	}
}

// runService is the long-running service loop: sync, then count down to the
// next cycle while updating the progress notification, staying visibly
// alive to remain eligible for continued execution.
func (s *Scheduler) runService(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.Syncer.SyncCallLogs(ctx)

		remaining := int(s.ForegroundInterval / time.Second)
		for remaining > 0 {
			s.Progress.Update(ctx, fmt.Sprintf("Next sync in %ds", remaining))

			if err := s.doSleep(ctx, progressTick); err != nil {
				return err
			}

			remaining--
		}
	}
}

// runTrigger syncs on demand when the watcher or realtime listener fires.
func (s *Scheduler) runTrigger(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Trigger:
			s.Logger.Debug("sync triggered externally")
			s.Syncer.SyncCallLogs(ctx)
		}
	}
}

func (s *Scheduler) doSleep(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
