package wsobserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/observerbus"
)

func newTestServer(t *testing.T, h *Handler, executionID string) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(h.StreamHandler(executionID))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHandlerStreamsObserverEventsToClient(t *testing.T) {
	observer := observerbus.NewStreamingObserver(8, zerolog.Nop())
	h := NewHandler(observer, nil, NewNoAuth(), zerolog.Nop())
	_, wsURL := newTestServer(t, h, "exec-1")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// give the server goroutine time to subscribe before publishing
	time.Sleep(20 * time.Millisecond)
	observer.OnExecutionStart("exec-1", "diag-1", time.Now())

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got wireEvent
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, wireExecutionStart, got.Type)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "diag-1", got.DiagramID)
}

func TestHandlerRejectsUnauthenticatedConnection(t *testing.T) {
	observer := observerbus.NewStreamingObserver(8, zerolog.Nop())
	h := NewHandler(observer, nil, NewJWTAuth("secret"), zerolog.Nop())
	_, wsURL := newTestServer(t, h, "exec-1")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHandlerForwardsInteractiveResponseToResolver(t *testing.T) {
	observer := observerbus.NewStreamingObserver(8, zerolog.Nop())
	resolver := NewPromptResolver()
	h := NewHandler(observer, resolver, NewNoAuth(), zerolog.Nop())
	_, wsURL := newTestServer(t, h, "exec-2")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	done := make(chan struct{})
	var got string
	go func() {
		got, _ = resolver.Resolve(context.Background(), "exec-2", "n1", "continue?", nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ws.WriteJSON(clientCommand{
		Action:      cmdInteractiveResponse,
		ExecutionID: "exec-2",
		NodeID:      "n1",
		Response:    "yes",
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolver never received the client's interactive response")
	}
	assert.Equal(t, "yes", got)
}
