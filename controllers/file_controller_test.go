package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/filededup/config"
	"github.com/cppla/filededup/models"
	"github.com/cppla/filededup/services"
)

type testEnv struct {
	router   *gin.Engine
	registry *services.Registry
	dir      string
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestEnv(t *testing.T, client *http.Client, mutate func(*config.AppConfig)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AppConfig{
		DBDriver:           "sqlite",
		SQLitePath:         filepath.Join(t.TempDir(), "files.db"),
		LogLevel:           "silent",
		UploadDir:          filepath.Join(t.TempDir(), "uploads"),
		MaxUploadMB:        1,
		FetchTimeoutSecond: 5,
	}
	if mutate != nil {
		mutate(&cfg)
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

	reg := services.NewRegistry(db)
	ctrl := NewFileController(reg, store, services.NewFetcher(client, "test-agent", cfg.FetchTimeout()), nil, cfg)
	ctrl.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) }

	r := gin.New()
	r.POST("/upload", ctrl.Upload)
	r.POST("/download_by_name", ctrl.DownloadByName)
	r.POST("/download_from_url", ctrl.DownloadFromURL)
	r.GET("/get_files", ctrl.GetFiles)
	return &testEnv{router: r, registry: reg, dir: cfg.UploadDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) storedNames(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func uploadRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, body interface{}) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func userIDs(t *testing.T, v interface{}) []string {
	t.Helper()
	list, ok := v.([]interface{})
	require.True(t, ok, "users should be a list, got %T", v)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		m := item.(map[string]interface{})
		ids = append(ids, m["user_id"].(string))
		assert.NotEmpty(t, m["timestamp"])
	}
	return ids
}

func TestUpload_StoresFile(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice", "description": "<b>Q1</b> report"}, "report.txt", []byte("quarterly numbers")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "File uploaded successfully", decodeBody(t, w)["message"])

	assert.Equal(t, []string{"report.txt"}, env.storedNames(t))
	rec, err := env.registry.FindByName(context.Background(), "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.UploadedBy)
	assert.Equal(t, "Q1 report", *rec.Description)
	assert.Equal(t, int64(len("quarterly numbers")), rec.Size)
	assert.Len(t, rec.FileHash, 64)
}

func TestUpload_DefaultDescription(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "a.txt", []byte("a")))
	require.Equal(t, http.StatusOK, w.Code)
	rec, err := env.registry.FindByName(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "File metadata", *rec.Description)
}

func TestUpload_SameContentIsRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	content := []byte("identical bytes")

	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "first.bin", content))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(uploadRequest(t, map[string]string{"user_id": "bob"}, "second.bin", content))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Duplicate file detected", body["message"])
	assert.Equal(t, "alice", body["uploaded_by"])

	// no second copy and no leftover temp file
	assert.Equal(t, []string{"first.bin"}, env.storedNames(t))
}

func TestUpload_MissingFields(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(uploadRequest(t, nil, "orphan.txt", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File and user ID are required", decodeBody(t, w)["error"])

	w = env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, env.storedNames(t))
}

func TestUpload_RejectsBadNames(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.AppConfig) { c.AllowedExtensions = []string{"pdf"} })

	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "notes.txt", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File type not allowed", decodeBody(t, w)["error"])

	w = env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, ".tmp-evil.pdf", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, env.storedNames(t))
}

func TestUpload_StripsDirectories(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "../../etc/passwd", []byte("root")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"passwd"}, env.storedNames(t))
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	big := bytes.Repeat([]byte("x"), 1024*1024+1)
	w := env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "big.bin", big))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.storedNames(t))
}

func TestDownloadByName_ServesThenReportsDuplicate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "doc.txt", []byte("hello"))).Code)

	w := env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "doc.txt", "user_id": "bob"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "doc.txt")

	w = env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "doc.txt", "user_id": "bob"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Duplicate file detected", body["message"])
	assert.Equal(t, "alice", body["uploaded_by"])
	assert.Equal(t, []string{"bob"}, userIDs(t, body["users"]))

	// a different user still gets the bytes
	w = env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "doc.txt", "user_id": "carol"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestDownloadByName_Errors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "doc.txt"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File name and user ID are required", decodeBody(t, w)["error"])

	w = env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "missing.txt", "user_id": "bob"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File not found", decodeBody(t, w)["error"])
}

func TestDownloadByName_MissingContent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "gone.txt", []byte("bye"))).Code)
	require.NoError(t, os.Remove(filepath.Join(env.dir, "gone.txt")))

	w := env.do(jsonRequest(t, "/download_by_name", gin.H{"file_name": "gone.txt", "user_id": "bob"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	done, err := env.registry.HasDownloaded(context.Background(), mustHash(t, env, "gone.txt"), "bob")
	require.NoError(t, err)
	assert.False(t, done)
}

func mustHash(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	rec, err := env.registry.FindByName(context.Background(), name)
	require.NoError(t, err)
	return rec.FileHash
}

func TestDownloadFromURL_StoresAndDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote payload"))
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.Client(), nil)

	fileURL := srv.URL + "/files/report.pdf"
	w := env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": fileURL, "user_id": "alice"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "File downloaded and processed successfully", decodeBody(t, w)["message"])

	names := env.storedNames(t)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "report.pdf_"))
	assert.True(t, strings.HasSuffix(names[0], "_20240301123045"))

	rec, err := env.registry.FindByName(context.Background(), names[0])
	require.NoError(t, err)
	assert.Equal(t, fileURL, *rec.SourceURL)
	assert.Equal(t, "Downloaded from "+fileURL, *rec.Description)
	assert.Equal(t, "alice", rec.UploadedBy)

	// same URL again
	w = env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": fileURL, "user_id": "bob"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Duplicate file detected", body["message"])
	assert.Equal(t, names[0], body["existing_file"])
	assert.Equal(t, rec.FilePath, body["location"])
	assert.Equal(t, "Downloaded from "+fileURL, body["metadata"])
	assert.Equal(t, []string{"alice"}, userIDs(t, body["users"]))

	// same bytes behind a different URL
	w = env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": srv.URL + "/mirror/copy.pdf", "user_id": "bob"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, names[0], decodeBody(t, w)["existing_file"])

	assert.Len(t, env.storedNames(t), 1)
}

func TestDownloadFromURL_MatchesUploadedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("shared"))
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.Client(), nil)

	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "shared.txt", []byte("shared"))).Code)

	w := env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": srv.URL + "/shared.txt", "user_id": "bob"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "shared.txt", body["existing_file"])
	assert.Equal(t, "File metadata", body["metadata"])
}

func TestDownloadFromURL_RemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.Client(), nil)

	w := env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": srv.URL + "/nope", "user_id": "alice"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "HTTP error occurred: 404 Not Found", decodeBody(t, w)["error"])

	w = env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": "ftp://example.com/x", "user_id": "alice"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(decodeBody(t, w)["error"].(string), "URL error occurred:"))

	w = env.do(jsonRequest(t, "/download_from_url", gin.H{"file_url": srv.URL}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing file URL or user ID", decodeBody(t, w)["error"])

	assert.Empty(t, env.storedNames(t))
}

func TestDownloadFromURL_RewritesDriveLinks(t *testing.T) {
	var requested string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requested = r.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("drive bytes")),
			Request:    r,
		}, nil
	})}
	env := newTestEnv(t, client, nil)

	w := env.do(jsonRequest(t, "/download_from_url", gin.H{
		"file_url": "https://drive.google.com/file/d/FILE123/view?usp=sharing",
		"user_id":  "alice",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=FILE123", requested)
}

func TestGetFiles(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/get_files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decodeBody(t, w)["files"])

	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, map[string]string{"user_id": "alice"}, "one.txt", []byte("1"))).Code)
	require.NoError(t, env.registry.AddFile(context.Background(), &models.FileRecord{
		FileName: "legacy.txt",
		FilePath: filepath.Join(env.dir, "legacy.txt"),
		FileHash: strings.Repeat("f", 64),
	}))

	w = env.do(httptest.NewRequest(http.MethodGet, "/get_files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	files := decodeBody(t, w)["files"].([]interface{})
	require.Len(t, files, 2)
	first := files[0].(map[string]interface{})
	assert.Equal(t, "one.txt", first["file_name"])
	assert.Equal(t, "alice", first["uploaded_by"])
	assert.Equal(t, "Unknown", files[1].(map[string]interface{})["uploaded_by"])
}
