package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders describe a single connection and are removed from every
// inbound request.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop request
// headers and adds security headers to responses. Responses under
// relayPrefix carry the upstream's own headers and are left alone.
func SecurityHeaders(relayPrefix string) echo.MiddlewareFunc {
	relayPrefix = strings.TrimRight(relayPrefix, "/")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			if !underPrefix(c.Request().URL.Path, relayPrefix) {
				// Set before next: a streamed body commits the headers.
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
				c.Response().Header().Set("X-Frame-Options", "DENY")
			}

			return next(c)
		}
	}
}

// underPrefix reports whether path is prefix itself or lies below it.
func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
