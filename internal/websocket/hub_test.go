package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/logger"
)

func dial(t *testing.T, srv *httptest.Server, origin string) *gws.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub(logger.Discard())
	go hub.Run()
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "")
	welcome := readMessage(t, conn)
	assert.Equal(t, TypeHealth, welcome.Type)
	assert.Equal(t, "connected", welcome.Event)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.BroadcastEvent(TypeCheckout, "checkout.completed", map[string]string{"contract_id": "C-1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeCheckout, msg.Type)
	assert.Equal(t, "checkout.completed", msg.Event)
	assert.Equal(t, map[string]any{"contract_id": "C-1"}, msg.Data)

	stats := hub.Stats()
	assert.Equal(t, 1, stats["client_count"])
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(logger.Discard(), "https://office.example.test")
	go hub.Run()
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)

	_, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), http.Header{"Origin": {"https://evil.example.test"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	conn := dial(t, srv, "https://office.example.test")
	assert.Equal(t, "connected", readMessage(t, conn).Event)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(logger.Discard())
	go hub.Run()
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "")
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
