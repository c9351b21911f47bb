package callkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bazaarlane/callkit/shared"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushServer(t *testing.T, messages []string, participants chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if participants != nil {
			participants <- r.URL.Query().Get("participant")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestPushChannelDeliversEvents(t *testing.T) {
	participants := make(chan string, 1)
	ts := pushServer(t, []string{
		`{"type":"call.ringing","room":"room-1"}`,
		`not json at all`,
		`{"type":"call.upgraded","room":"room-1"}`,
		`{"event_id":"ev-7","type":"call.ended","room":"room-1"}`,
	}, participants)

	push, err := NewPushChannel(shared.NewNopLogger(), wsURL(ts), "buyer@example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan StatusEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- push.Run(ctx, func(ev StatusEvent) {
			events <- ev
			if ev.Terminal() {
				cancel()
			}
		})
	}()

	assert.Equal(t, "buyer@example.com", <-participants)

	var got []StatusEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Terminal() {
			break
		}
	}
	// malformed and unknown-type messages are skipped, not fatal
	require.Len(t, got, 2)
	assert.Equal(t, StatusEventRinging, got[0].Type)
	assert.Equal(t, StatusEventEnded, got[1].Type)
	assert.Equal(t, "ev-7", got[1].EventID)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("push channel did not stop after cancellation")
	}
}

func TestPushChannelDialFailure(t *testing.T) {
	push, err := NewPushChannel(shared.NewNopLogger(), "ws://127.0.0.1:1/events", "buyer@example.com")
	require.NoError(t, err)

	err = push.Run(context.Background(), func(StatusEvent) {})
	assert.ErrorIs(t, err, shared.ErrSignalingUnreachable)
}

func TestPushChannelRequiresHandler(t *testing.T) {
	push, err := NewPushChannel(shared.NewNopLogger(), "ws://localhost/events", "buyer@example.com")
	require.NoError(t, err)
	assert.Error(t, push.Run(context.Background(), nil))
}

func TestNewPushChannelGuards(t *testing.T) {
	_, err := NewPushChannel(nil, "ws://localhost/events", "buyer@example.com")
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}
