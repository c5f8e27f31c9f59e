package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// realtimePath is the CRM's websocket endpoint for agent events.
const realtimePath = "/api/realtime/call-log-sync"

// reconnectBackoff caps how fast the listener re-dials after a drop.
const (
	realtimeMinBackoff = 2 * time.Second
	realtimeMaxBackoff = 2 * time.Minute
)

// syncRequestedEvent is the server event that asks the agent to sync now.
const syncRequestedEvent = "sync_requested"

// Realtime listens on the CRM websocket and converts server-side
// "sync_requested" events into trigger pulses. It is a best-effort channel:
// connection loss never breaks syncing, it only removes the push path until
// reconnect.
type Realtime struct {
	serverURL string
	token     TokenSource
	logger    *slog.Logger
}

// NewRealtime creates a Realtime listener.
func NewRealtime(serverURL string, token TokenSource, logger *slog.Logger) *Realtime {
	if logger == nil {
		logger = slog.Default()
	}

	return &Realtime{serverURL: serverURL, token: token, logger: logger}
}

type realtimeEvent struct {
	Event string `json:"event"`
}

// Run connects and listens until ctx is done, reconnecting with backoff.
// Trigger sends are non-blocking; a dropped pulse is fine because a sync is
// already in flight.
func (r *Realtime) Run(ctx context.Context, trigger chan<- struct{}) error {
	backoff := realtimeMinBackoff

	for {
		err := r.listen(ctx, trigger)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warn("realtime connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > realtimeMaxBackoff {
			backoff = realtimeMaxBackoff
		}
	}
}

// listen runs one websocket session until it drops.
func (r *Realtime) listen(ctx context.Context, trigger chan<- struct{}) error {
	wsURL := strings.Replace(r.serverURL, "http", "ws", 1) + realtimePath

	tok, err := r.token.Token()
	if err != nil {
		return fmt.Errorf("crm: realtime token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + tok},
			"User-Agent":    {userAgent},
		},
	})
	if err != nil {
		return fmt.Errorf("crm: realtime dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	r.logger.Info("realtime listener connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("crm: realtime read: %w", err)
		}

		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Debug("ignoring malformed realtime message")

			continue
		}

		if ev.Event != syncRequestedEvent {
			continue
		}

		r.logger.Info("server requested sync")

		select {
		case trigger <- struct{}{}:
		default:
		}
	}
}
