package notify

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/logging"
)

func dialUI(t *testing.T, hub *Hub, srv *httptest.Server, want int) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	logging.Disable()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dialUI(t, hub, srv, 1)
	b := dialUI(t, hub, srv, 2)

	hub.Broadcast(TypeBroadcast, map[string]any{"event": "new_message", "data": map[string]any{"n": 1}})

	for _, ws := range []*websocket.Conn{a, b} {
		msg := readMessage(t, ws)
		assert.Equal(t, TypeBroadcast, msg.Type)
		assert.NotZero(t, msg.Timestamp)
		data, ok := msg.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "new_message", data["event"])
	}
}

func TestPingAndDisconnect(t *testing.T) {
	logging.Disable()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialUI(t, hub, srv, 1)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readMessage(t, ws).Type)

	ws.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// Nothing connected: broadcasting is a no-op.
	hub.Broadcast(TypeCheckHealth, true)
}

func TestOriginRejected(t *testing.T) {
	logging.Disable()
	hub := NewHub(func(string) bool { return false })
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}
