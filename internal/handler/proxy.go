package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"fileshare/internal/client"
	"fileshare/internal/config"
	"fileshare/internal/model"
	"fileshare/internal/service"
)

const defaultChunkBytes = 10 * 1024

// ProxyHandler relays requests under the upstream prefix to the upstream origin.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	prefix  string
	name    string
	buffers sync.Pool
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	size := cfg.Upstream.ChunkBytes
	if size <= 0 {
		size = defaultChunkBytes
	}
	name := cfg.Upstream.Name
	if name == "" {
		name = "Upstream"
	}

	h := &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		prefix:  strings.TrimRight(cfg.Upstream.Prefix, "/"),
		name:    name,
	}
	h.buffers.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return h
}

// Handle forwards the request upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          h.relativePath(req.URL),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream values replace anything middleware already set under the same key.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header.Del(key)
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	// A nil entry stops net/http from sniffing a type the upstream never sent.
	if _, ok := resp.Header["Content-Type"]; !ok {
		header["Content-Type"] = nil
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already sent, so a mid-stream failure can only
	// truncate the body.
	if n, err := h.relay(c.Response(), resp.Body); err != nil {
		h.logger.Warn("relaying response body",
			"err", err,
			"path", req.URL.Path,
			"bytes", n,
		)
	}

	return nil
}

// relay copies body to w one chunk at a time, flushing after each chunk so
// the upstream is read no faster than the client drains.
func (h *ProxyHandler) relay(w *echo.Response, body io.Reader) (int64, error) {
	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)
	buf := *bufp

	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, writeErr
			}
			w.Flush()
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// relativePath returns the escaped request path below the prefix, without
// the leading slash.
func (h *ProxyHandler) relativePath(u *url.URL) string {
	p := strings.TrimPrefix(u.EscapedPath(), h.prefix)
	return strings.TrimPrefix(p, "/")
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	kind := client.FailureKind(err)
	details := errorDetails(err)

	h.logger.Error("upstream unavailable",
		"kind", kind,
		"err", details,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":   h.name + " connection failed",
		"kind":    kind,
		"details": details,
	})
}

// errorDetails returns the transport error text without the request URL.
func errorDetails(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
