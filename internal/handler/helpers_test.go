package handler

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"

	"fileshare/internal/client"
	"fileshare/internal/config"
	"fileshare/internal/service"
	"fileshare/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config with the built-in defaults and the given upstream.
func testConfig(upstreamURL string) *config.Config {
	validate := true
	return &config.Config{
		Storage: config.StorageConfig{
			Backend:            config.BackendLocal,
			MaxUploadBytes:     1 << 20,
			ValidateExtensions: &validate,
			AllowedExtensions:  config.DefaultAllowedExtensions,
		},
		Upstream: config.UpstreamConfig{
			Name:               "PocketBase",
			BaseURL:            upstreamURL,
			Prefix:             "/_",
			TimeoutSeconds:     10,
			DialTimeoutSeconds: 2,
			IdleConnections:    10,
			ChunkBytes:         1024,
		},
	}
}

func newTestFileHandler(t *testing.T, cfg *config.Config) (*FileHandler, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	logger := testLogger()
	svc := service.NewFileService(storage.NewLocalStore(fsys, logger), cfg, logger, nil)
	return NewFileHandler(svc, logger), fsys
}

func newTestProxyHandler(t *testing.T, cfg *config.Config) *ProxyHandler {
	t.Helper()
	logger := testLogger()
	svc, err := service.NewProxyService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, cfg, logger)
}

// newTestServer builds an Echo instance with every route registered.
func newTestServer(t *testing.T, cfg *config.Config) (*echo.Echo, afero.Fs) {
	t.Helper()
	files, fsys := newTestFileHandler(t, cfg)
	renderer, err := NewTemplateRenderer(cfg)
	if err != nil {
		t.Fatalf("NewTemplateRenderer: %v", err)
	}

	e := echo.New()
	e.Renderer = renderer
	RegisterRoutes(e, cfg.Upstream.Prefix, files, newTestProxyHandler(t, cfg), NewHealthHandler(cfg, "test"))
	return e, fsys
}

// uploadRequest builds a multipart POST /upload. An empty field omits the
// file part altogether.
func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	} else if err := mw.WriteField("comment", "no file here"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}
