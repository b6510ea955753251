package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/api/middleware"
	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/session"
)

func setupStream(t *testing.T, limits middleware.RateLimitConfig) (*httptest.Server, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := session.NewManager(config.Default())
	t.Cleanup(sessions.CloseAll)

	router := gin.New()
	router.GET("/sessions/:id/stream", NewHandler(sessions, nil, nil, limits).HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, sessions
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	payload, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// readUntil reads messages until one of type msgType arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg map[string]interface{}
		require.NoError(t, sonic.Unmarshal(payload, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func createSession(t *testing.T, sessions *session.Manager) *session.Session {
	t.Helper()
	s, err := sessions.Create(session.Spec{
		Entry: "index.js",
		Files: map[string]string{"index.js": "module.exports = 1;"},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State().Runs >= 1 }, 5*time.Second, 10*time.Millisecond)
	return s
}

func TestStreamEvents(t *testing.T) {
	srv, sessions := setupStream(t, middleware.DefaultRateLimitConfig())
	s := createSession(t, sessions)
	conn := dial(t, srv, s.ID)

	connected := readUntil(t, conn, "connected")
	assert.Equal(t, s.ID, connected["session"].(map[string]interface{})["id"])

	send(t, conn, ClientMessage{Type: "edit", Filename: "index.js", Code: "console.log('hi'); module.exports = 2;"})

	change := readUntil(t, conn, "change")
	assert.Equal(t, "index.js", change["filename"])

	console := readUntil(t, conn, "console")
	assert.Equal(t, []interface{}{"hi"}, console["console"].(map[string]interface{})["args"])

	complete := readUntil(t, conn, "complete")
	assert.Equal(t, float64(2), complete["exports"])
}

func TestClientMessages(t *testing.T) {
	srv, sessions := setupStream(t, middleware.DefaultRateLimitConfig())
	s := createSession(t, sessions)
	conn := dial(t, srv, s.ID)
	readUntil(t, conn, "connected")

	send(t, conn, ClientMessage{Type: "ping"})
	readUntil(t, conn, "pong")

	send(t, conn, ClientMessage{Type: "toggleDetails", Show: true})
	details := readUntil(t, conn, "details")
	assert.Equal(t, true, details["show"])
	assert.True(t, s.State().ShowDetails)

	send(t, conn, ClientMessage{Type: "quickInfo", RequestID: "q1", Filename: "index.js"})
	info := readUntil(t, conn, "quickInfo")
	assert.Equal(t, "q1", info["requestId"])
	assert.Equal(t, false, info["available"])

	send(t, conn, ClientMessage{Type: "edit", Filename: "../escape.js"})
	assert.Contains(t, readUntil(t, conn, "error")["message"], "relative")

	send(t, conn, ClientMessage{Type: "launch"})
	assert.Equal(t, "unknown message type", readUntil(t, conn, "error")["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed message", readUntil(t, conn, "error")["message"])
}

func TestEditRateLimit(t *testing.T) {
	srv, sessions := setupStream(t, middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	s := createSession(t, sessions)
	conn := dial(t, srv, s.ID)
	readUntil(t, conn, "connected")

	send(t, conn, ClientMessage{Type: "edit", Filename: "index.js", Code: "module.exports = 2;"})
	send(t, conn, ClientMessage{Type: "edit", Filename: "index.js", Code: "module.exports = 3;"})

	assert.Equal(t, "rate limit exceeded", readUntil(t, conn, "error")["message"])
}

func TestSessionCloseEndsStream(t *testing.T) {
	srv, sessions := setupStream(t, middleware.DefaultRateLimitConfig())
	s := createSession(t, sessions)
	conn := dial(t, srv, s.ID)
	readUntil(t, conn, "connected")

	require.True(t, sessions.Close(s.ID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			return
		}
	}
}

func TestUnknownSession(t *testing.T) {
	srv, _ := setupStream(t, middleware.DefaultRateLimitConfig())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
