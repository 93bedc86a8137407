package service

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fileshare/internal/client"
	"fileshare/internal/config"
	"fileshare/internal/model"
)

type upstreamSeen struct {
	method string
	uri    string
	host   string
	body   string
	header http.Header
}

func newTestProxyService(t *testing.T, baseURL string) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:            baseURL,
			TimeoutSeconds:     10,
			DialTimeoutSeconds: 2,
			IdleConnections:    10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewProxyService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return svc
}

func TestFilterRequestHeaders(t *testing.T) {
	src := http.Header{
		"Host":            {"fileshare.local"},
		"Accept":          {"application/json"},
		"Accept-Encoding": {"gzip, br"},
		"Authorization":   {"Bearer token"},
		"Cookie":          {"pb_auth=abc"},
		"Connection":      {"keep-alive"},
		"Upgrade":         {"websocket"},
		"X-Custom":        {"one", "two"},

		"Proxy-Authorization": {"Basic cmVsYXk6c2VjcmV0"},
	}

	dst := filterRequestHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Authorization forwarded", "Authorization", 1},
		{"Cookie forwarded", "Cookie", 1},
		{"duplicate values kept", "X-Custom", 2},
		{"Host stripped", "Host", 0},
		{"Accept-Encoding stripped", "Accept-Encoding", 0},
		{"Connection stripped", "Connection", 0},
		{"Upgrade stripped", "Upgrade", 0},
		{"Proxy-Authorization stripped", "Proxy-Authorization", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	if got := src.Get("Host"); got != "fileshare.local" {
		t.Errorf("source header mutated: Host = %q", got)
	}
	if got := dst.Values("X-Custom"); got[0] != "one" || got[1] != "two" {
		t.Errorf("X-Custom order = %v, want [one two]", got)
	}
}

func TestFilterRequestHeaders_Nil(t *testing.T) {
	if dst := filterRequestHeaders(nil); dst == nil {
		t.Fatal("filterRequestHeaders(nil) = nil, want empty header")
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"video/mp4"},
		"Content-Length":    {"42"},
		"Content-Encoding":  {"gzip"},
		"Transfer-Encoding": {"chunked"},
		"Connection":        {"close"},
		"Set-Cookie":        {"a=1", "b=2"},
		"Location":          {"/elsewhere"},
		"Cache-Control":     {"no-store"},
	}

	dst := filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type forwarded", "Content-Type", 1},
		{"Set-Cookie forwarded", "Set-Cookie", 2},
		{"Location forwarded", "Location", 1},
		{"Cache-Control forwarded", "Cache-Control", 1},
		{"Content-Length stripped", "Content-Length", 0},
		{"Content-Encoding stripped", "Content-Encoding", 0},
		{"Transfer-Encoding stripped", "Transfer-Encoding", 0},
		{"Connection stripped", "Connection", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		rawQuery string
		want     string
	}{
		{"plain", "http://127.0.0.1:8090", "api/collections", "", "http://127.0.0.1:8090/api/collections"},
		{"with query", "http://127.0.0.1:8090", "foo", "x=1", "http://127.0.0.1:8090/foo?x=1"},
		{"query kept raw", "http://127.0.0.1:8090", "foo", "filter=%28a%3D1%29&x=1&x=2", "http://127.0.0.1:8090/foo?filter=%28a%3D1%29&x=1&x=2"},
		{"root", "http://127.0.0.1:8090", "", "", "http://127.0.0.1:8090/"},
		{"base with path", "http://db.internal/pb/", "api/health", "", "http://db.internal/pb/api/health"},
		{"escaped segment", "http://db.internal", "files/a%20b.png", "", "http://db.internal/files/a%20b.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestProxyService(t, tt.base)
			if got := s.targetURL(tt.path, tt.rawQuery); got != tt.want {
				t.Errorf("targetURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProxyService_RejectsRelativeBase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Upstream: config.UpstreamConfig{BaseURL: "/just/a/path"}}
	if _, err := NewProxyService(nil, cfg, logger); err == nil {
		t.Fatal("NewProxyService() expected error for relative base_url, got nil")
	}
}

func TestForward_PutWithBodyAndQuery(t *testing.T) {
	seen := make(chan upstreamSeen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- upstreamSeen{
			method: r.Method,
			uri:    r.RequestURI,
			host:   r.Host,
			body:   string(b),
			header: r.Header.Clone(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer upstream.Close()

	svc := newTestProxyService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:      context.Background(),
		Method:   http.MethodPut,
		Path:     "foo",
		RawQuery: "x=1",
		Header: http.Header{
			"Host":         {"fileshare.local"},
			"Content-Type": {"application/json"},
			"X-Trace":      {"t-1"},
			"Cookie":       {"pb_auth=token"},
		},
		Body:          io.NopCloser(strings.NewReader(`{"title":"hello"}`)),
		ContentLength: int64(len(`{"title":"hello"}`)),
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	got := <-seen
	if got.method != http.MethodPut {
		t.Errorf("upstream method = %q, want PUT", got.method)
	}
	if got.uri != "/foo?x=1" {
		t.Errorf("upstream URI = %q, want %q", got.uri, "/foo?x=1")
	}
	if got.host != strings.TrimPrefix(upstream.URL, "http://") {
		t.Errorf("upstream Host = %q, want the upstream's own host", got.host)
	}
	if got.body != `{"title":"hello"}` {
		t.Errorf("upstream body = %q", got.body)
	}
	for key, want := range map[string]string{
		"Content-Type": "application/json",
		"X-Trace":      "t-1",
		"Cookie":       "pb_auth=token",
	} {
		if v := got.header.Get(key); v != want {
			t.Errorf("upstream header %s = %q, want %q", key, v, want)
		}
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.Header.Get("Content-Length") != "" {
		t.Errorf("Content-Length should be stripped, got %q", resp.Header.Get("Content-Length"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"id":"abc"}` {
		t.Errorf("body = %q", string(body))
	}
}

func TestForward_RedirectPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/old" {
			t.Errorf("redirect was followed to %q", r.URL.Path)
		}
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	}))
	defer upstream.Close()

	svc := newTestProxyService(t, upstream.URL)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "old",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusMovedPermanently)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Errorf("Location = %q, want %q", loc, "/new")
	}
}

func TestForward_UpstreamErrorStatusIsNotAnError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer upstream.Close()

	svc := newTestProxyService(t, upstream.URL)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodDelete,
		Path:   "api/collections/posts/records/1",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestForward_GzipDecodedForClient(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("Accept-Encoding = %q, want transport default gzip", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte("hello"))
		_ = zw.Close()
	}))
	defer upstream.Close()

	svc := newTestProxyService(t, upstream.URL)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "greeting",
		Header: http.Header{"Accept-Encoding": {"br"}},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Encoding") != "" {
		t.Errorf("Content-Encoding should be stripped, got %q", resp.Header.Get("Content-Encoding"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want decoded %q", string(body), "hello")
	}
}
