package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/callsync/callsync-go/internal/crm"
	"github.com/callsync/callsync-go/internal/devicelog"
	"github.com/callsync/callsync-go/internal/syncengine"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync schedulers until interrupted",
		Long: `Run the agent in the background: a foreground interval timer, an
OS-registered periodic task, a service loop with a progress countdown, and —
when enabled — call-log change and CRM realtime triggers. All drivers funnel
into the same engine, whose single-flight guard keeps at most one sync in
flight. SIGINT/SIGTERM stop future ticks; a sync already in flight runs to
completion.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handles, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer handles.Close()

			return runSchedulers(ctx, handles)
		},
	}

	return cmd
}

// runSchedulers wires the trigger sources and drives the scheduler until
// ctx is done.
func runSchedulers(ctx context.Context, handles *engineHandles) error {
	logger := handles.logger

	unsubscribe := handles.engine.Events().Subscribe(func(ev syncengine.Event) {
		logger.Debug("sync event",
			slog.Bool("success", ev.Result.Success),
			slog.Int("synced", ev.Result.Synced),
			slog.Int("total_synced", ev.Stats.TotalSynced),
		)
	})
	defer unsubscribe()

	trigger := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)

	if resolvedCfg.WatchCallLog {
		watcher := devicelog.NewWatcher(resolvedCfg.CallLogPath, logger)

		g.Go(func() error {
			// Watch failures degrade to cadence-only syncing.
			if err := watcher.Run(gctx, trigger); err != nil && gctx.Err() == nil {
				logger.Warn("call-log watcher stopped", slog.String("error", err.Error()))
			}

			return nil
		})
	}

	if resolvedCfg.Realtime {
		realtime := crm.NewRealtime(resolvedCfg.ServerURL, handles.client.TokenSource(), logger)

		g.Go(func() error {
			if err := realtime.Run(gctx, trigger); err != nil && gctx.Err() == nil {
				logger.Warn("realtime listener stopped", slog.String("error", err.Error()))
			}

			return nil
		})
	}

	scheduler := &syncengine.Scheduler{
		Syncer:             handles.engine,
		ForegroundInterval: resolvedCfg.SyncInterval.Duration,
		BackgroundInterval: resolvedCfg.BackgroundInterval.Duration,
		Background:         &syncengine.IntervalTasker{Logger: logger},
		Progress:           syncengine.LogProgress{Logger: logger},
		Logger:             logger,
		Trigger:            trigger,
	}

	g.Go(func() error { return scheduler.Run(gctx) })

	logger.Info("callsync agent started",
		slog.String("server", resolvedCfg.ServerURL),
		slog.Duration("interval", resolvedCfg.SyncInterval.Duration),
	)

	err := g.Wait()
	if ctx.Err() != nil {
		fmt.Println("shutting down")

		return nil
	}

	return err
}
