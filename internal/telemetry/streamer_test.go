package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/store"
)

func dialStreamer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamerBroadcastsBusEvents(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), "")
	s := NewStreamer(bus)
	go s.Run()
	defer s.Stop()

	server := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer server.Close()

	conn := dialStreamer(t, server)

	// The hub registers clients asynchronously; emit only once it has.
	require.Eventually(t, func() bool {
		return s.Statistics()["connected_clients"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.Emit(context.Background(), events.TrustModeChanged, "agent-1",
		map[string]interface{}{"to": "CRITICAL"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TrustModeChanged, got.Type)
	assert.Equal(t, "agent-1", got.Subject)
}

func TestHandleWebSocketReturnsAfterStop(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), "")
	s := NewStreamer(bus)
	s.Stop()

	handlerDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.HandleWebSocket(w, r)
		close(handlerDone)
	}))
	defer server.Close()

	dialStreamer(t, server)

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on a stopped hub")
	}

	assert.Equal(t, 0, s.Statistics()["connected_clients"].(int))
}
