package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/sandbox"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	vendor := sandbox.NewVendorRegistry()
	require.NoError(t, vendor.Register("answer", 42))

	srv, err := NewServer(cfg, WithLogger(logging.NewNop()), WithVendor(vendor))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})
	return srv, ts
}

func TestNewServerRequiresConfig(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "playground_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCompressedResponses(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestSessionOverHTTPAndStream(t *testing.T) {
	srv, ts := newTestServer(t)

	body, err := sonic.Marshal(map[string]interface{}{
		"entry": "index.js",
		"files": map[string]string{"index.js": "module.exports = require('answer');"},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Stream string `json:"stream"`
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, &created))

	s, ok := srv.Sessions().Get(created.Session.ID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return s.State().Runs >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, s.State().Error())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + created.Stream
	header := http.Header{"Accept-Encoding": []string{"gzip"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"type":"connected"`)
}
