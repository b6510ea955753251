package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/session"
)

type testAPI struct {
	router   *gin.Engine
	sessions *session.Manager
}

func setupTestAPI(t *testing.T, assetsDir string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Sessions.Max = 2
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	t.Cleanup(metrics.Close)

	sessions := session.NewManager(cfg, session.WithMetrics(metrics))
	t.Cleanup(sessions.CloseAll)

	router := gin.New()
	NewHandlers(sessions, metrics, nil, assetsDir).Register(router)
	return &testAPI{router: router, sessions: sessions}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (a *testAPI) create(t *testing.T, spec session.Spec) string {
	t.Helper()
	w, resp := a.do(t, http.MethodPost, "/sessions", spec)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["session"].(map[string]interface{})["id"].(string)
}

func TestRootAndHealth(t *testing.T) {
	api := setupTestAPI(t, "")

	w, resp := api.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", resp["status"])

	w, resp = api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])
	assert.Contains(t, resp, "sessions")
	assert.Contains(t, resp, "metrics")
}

func TestCreateSessionValidation(t *testing.T) {
	api := setupTestAPI(t, "")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"missing files", map[string]interface{}{"entry": "index.js"}, http.StatusBadRequest},
		{"entry not in files", session.Spec{Entry: "main.js", Files: map[string]string{"index.js": ""}}, http.StatusBadRequest},
		{"unsafe filename", session.Spec{Entry: "index.js", Files: map[string]string{"index.js": "", "../x.js": ""}}, http.StatusBadRequest},
		{"relative vendor", session.Spec{Entry: "index.js", Files: map[string]string{"index.js": ""}, Vendor: map[string]string{"./lib": ""}}, http.StatusBadRequest},
		{"valid", session.Spec{Entry: "index.js", Files: map[string]string{"index.js": "module.exports = 1;"}}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := api.do(t, http.MethodPost, "/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestCreateSessionLimit(t *testing.T) {
	api := setupTestAPI(t, "")
	spec := session.Spec{Entry: "index.js", Files: map[string]string{"index.js": ""}}

	api.create(t, spec)
	api.create(t, spec)

	w, _ := api.do(t, http.MethodPost, "/sessions", spec)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCreateSessionVendorFetchFailure(t *testing.T) {
	api := setupTestAPI(t, "")
	cdn := httptest.NewServer(http.NotFoundHandler())
	defer cdn.Close()

	w, resp := api.do(t, http.MethodPost, "/sessions", session.Spec{
		Entry:  "index.js",
		Files:  map[string]string{"index.js": "module.exports = require('lib');"},
		Vendor: map[string]string{"lib": cdn.URL + "/lib.js"},
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, resp["error"], "vendor module lib")
	assert.Equal(t, 0, api.sessions.Stats().Active)
}

func TestSessionLifecycle(t *testing.T) {
	api := setupTestAPI(t, "")
	id := api.create(t, session.Spec{
		Title:   "counter",
		Entry:   "index.js",
		Files:   map[string]string{"index.js": "module.exports = 1;"},
		Display: true,
	})

	w, resp := api.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["sessions"], 1)

	s, ok := api.sessions.Get(id)
	require.True(t, ok)
	require.Eventually(t, func() bool { return s.State().Runs >= 1 }, 5*time.Second, 10*time.Millisecond)

	w, resp = api.do(t, http.MethodPut, "/sessions/"+id+"/files", map[string]interface{}{
		"files": map[string]string{"index.js": "throw new Error('boom');"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(1), resp["files"])

	require.Eventually(t, func() bool {
		state := s.State()
		return state.Runs >= 2 && state.RuntimeError != nil
	}, 5*time.Second, 10*time.Millisecond)

	w, resp = api.do(t, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := resp["state"].(map[string]interface{})
	assert.Contains(t, state["runtimeError"].(map[string]interface{})["errorMessage"], "boom")

	w, _ = api.do(t, http.MethodGet, "/sessions/"+id+"/display/index.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")

	w, _ = api.do(t, http.MethodGet, "/sessions/"+id+"/display/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = api.do(t, http.MethodPost, "/sessions/"+id+"/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ran"])

	w, _ = api.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = api.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateFilesValidation(t *testing.T) {
	api := setupTestAPI(t, "")
	id := api.create(t, session.Spec{Entry: "index.js", Files: map[string]string{"index.js": ""}})

	w, _ := api.do(t, http.MethodPut, "/sessions/"+id+"/files", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodPut, "/sessions/"+id+"/files", map[string]interface{}{
		"files": map[string]string{"/abs.js": ""},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodPut, "/sessions/bad$id/files", map[string]interface{}{
		"files": map[string]string{"index.js": ""},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuickInfo(t *testing.T) {
	api := setupTestAPI(t, "")
	id := api.create(t, session.Spec{
		Entry:    "index.ts",
		Files:    map[string]string{"index.ts": "const answer: number = 42;\nexport default answer;"},
		TypeInfo: &session.TypeInfoSpec{Enabled: true},
	})

	w, _ := api.do(t, http.MethodPost, "/sessions/"+id+"/quick-info", map[string]interface{}{"filename": "index.ts"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Eventually(t, func() bool {
		_, resp := api.do(t, http.MethodPost, "/sessions/"+id+"/quick-info", map[string]interface{}{
			"filename": "index.ts",
			"position": 7,
		})
		return resp["available"] == true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAssets(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), png, 0o644))

	api := setupTestAPI(t, dir)

	w, _ := api.do(t, http.MethodGet, "/assets/logo.png", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w, _ = api.do(t, http.MethodGet, "/assets/../../etc/passwd", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, http.MethodGet, "/assets/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	none := setupTestAPI(t, "")
	w, _ = none.do(t, http.MethodGet, "/assets/logo.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
