// Package service implements the storage gateway and the relay forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"fileshare/internal/client"
	"fileshare/internal/config"
	"fileshare/internal/model"
)

// droppedRequestHeaders are never forwarded upstream. Host must name the
// upstream, and Accept-Encoding is left to the transport so the relayed body
// arrives identity-coded.
var droppedRequestHeaders = []string{
	"Host",
	"Accept-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// droppedResponseHeaders describe framing the relay itself decides.
var droppedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// ProxyService handles the forwarding logic for relayed requests.
type ProxyService struct {
	client *client.UpstreamClient
	logger *slog.Logger
	base   string
}

// NewProxyService creates a ProxyService targeting cfg.Upstream.BaseURL.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q is not absolute", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		client: c,
		logger: logger.With("component", "proxy_service"),
		base:   strings.TrimRight(u.String(), "/"),
	}, nil
}

// Forward sends a ProxyRequest to the upstream origin and returns the response.
// The caller is responsible for closing the response body. Upstream error
// statuses are returned as responses, not errors.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.targetURL(pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

func (s *ProxyService) targetURL(path, rawQuery string) string {
	target := s.base + "/" + strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range droppedRequestHeaders {
		dst.Del(key)
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
