package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimeTriggersOnSyncRequested(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, realtimePath, r.URL.Path)
		gotAuth <- r.Header.Get("Authorization")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"agent_updated"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"sync_requested"}`))

		// Hold the connection open until the client goes away.
		<-ctx.Done()
	}))
	defer srv.Close()

	rt := NewRealtime(srv.URL, staticToken("tok"), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() { done <- rt.listen(ctx, trigger) }()

	select {
	case <-trigger:
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger for sync_requested event")
	}

	assert.Equal(t, "Bearer tok", <-gotAuth)

	cancel()
	<-done
}

func TestRealtimeListenFailsWithoutServer(t *testing.T) {
	t.Parallel()

	rt := NewRealtime("http://127.0.0.1:1", staticToken("tok"), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := rt.listen(ctx, make(chan struct{}, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime dial")
}
