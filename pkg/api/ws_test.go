package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/hub/pkg/broadcast"
)

func TestWebSocketRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	ts := httptest.NewServer(router)
	defer ts.Close()

	sessionID := connectSession(t, router)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?session=" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// A message sent over the socket comes back as a broadcast event.
	require.NoError(t, conn.WriteJSON(wsFrame{
		Type: "message",
		Data: []byte(`{"content":"hi over ws"}`),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event broadcast.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "message", event.Type)

	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi over ws", data["content"])
}

func TestWebSocketRequiresKnownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?session=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
