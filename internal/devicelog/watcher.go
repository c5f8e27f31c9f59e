package devicelog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses the burst of writes the provider makes while
// committing one call (journal, WAL, main file) into a single trigger.
const debounceWindow = 2 * time.Second

// Watcher turns call-log database changes into sync triggers. It watches the
// directory containing the database (the provider replaces files, so
// watching the file itself would miss renames) and emits on the trigger
// channel, debounced.
type Watcher struct {
	path   string
	logger *slog.Logger

	// debounce is overridable in tests.
	debounce time.Duration
}

// NewWatcher creates a Watcher for the call-log database at path.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if path == "" {
		path = DefaultPath
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{path: path, logger: logger, debounce: debounceWindow}
}

// Run watches until ctx is done, sending on trigger after each debounced
// change. Sends are non-blocking: if the consumer is mid-sync the trigger is
// dropped, which is fine — the sync in flight will pick up the new entries
// or the next trigger will.
func (w *Watcher) Run(ctx context.Context, trigger chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("devicelog: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("devicelog: watching %s: %w", dir, err)
	}

	w.logger.Info("watching call-log database", slog.String("dir", dir))

	var debounce *time.Timer

	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	pending := make(chan time.Time, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("call-log change detected",
				slog.String("name", event.Name),
				slog.String("op", event.Op.String()),
			)

			if debounce == nil {
				debounce = time.AfterFunc(w.debounce, func() {
					select {
					case pending <- time.Now():
					default:
					}
				})
			} else {
				debounce.Reset(w.debounce)
			}

		case <-pending:
			debounce = nil

			select {
			case trigger <- struct{}{}:
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("call-log watcher error", slog.String("error", err.Error()))
		}
	}
}

// relevant filters events down to writes touching the database or its WAL
// and journal siblings. Chmod-only events carry no content change.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}

	base := filepath.Base(w.path)
	name := filepath.Base(event.Name)

	return name == base || name == base+"-wal" || name == base+"-journal"
}
