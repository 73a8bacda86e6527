package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/filededup/config"
	"github.com/cppla/filededup/controllers"
	"github.com/cppla/filededup/models"
	"github.com/cppla/filededup/services"
)

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	frontend := filepath.Join(root, "frontend")
	require.NoError(t, os.MkdirAll(frontend, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(frontend, "index.html"), []byte("<html>files</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(frontend, "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0o644))

	cfg := config.AppConfig{
		GinMode:            "test",
		FrontendDir:        frontend,
		UploadDir:          filepath.Join(root, "uploads"),
		DBDriver:           "sqlite",
		SQLitePath:         filepath.Join(root, "router.db"),
		LogLevel:           "silent",
		MaxUploadMB:        1,
		RateLimitPerMinute: 2,
	}
	db, err := config.InitDatabase(cfg, models.All()...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := services.NewDiskStore(cfg.UploadDir)
	require.NoError(t, err)
	files := controllers.NewFileController(services.NewRegistry(db), store, services.NewFetcher(nil, "", 0), nil, cfg)
	return SetupRouter(cfg, db, files), root
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t)

	w := get(h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "filededup_http_requests_total")
}

func TestRouter_GetFiles(t *testing.T) {
	h, _ := newTestRouter(t)

	w := get(h, "/get_files")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"files":[]}`, w.Body.String())
}

func TestRouter_Frontend(t *testing.T) {
	h, _ := newTestRouter(t)

	w := get(h, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "files")

	w = get(h, "/app.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = get(h, "/../secret.txt")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "secret"))

	w = get(h, "/missing.css")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_DownloadFromURLIsRateLimited(t *testing.T) {
	h, _ := newTestRouter(t)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/download_from_url", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	// burst of one for two per minute
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}
