package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"fileshare/internal/config"
)

// CORS returns an Echo middleware applying two policies: requests to
// protectedPaths only admit the configured origins, every other path admits
// any origin. An empty origin list admits nobody on the protected paths.
// Requests under relayPrefix, preflights included, are left to the upstream.
func CORS(cfg config.CORSConfig, protectedPaths []string, relayPrefix string) echo.MiddlewareFunc {
	relayPrefix = strings.TrimRight(relayPrefix, "/")

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	protected := make(map[string]bool, len(protectedPaths))
	for _, p := range protectedPaths {
		protected[p] = true
	}

	restricted := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowed[origin], nil
		},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	})
	open := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		restrictedNext := restricted(next)
		openNext := open(next)

		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if underPrefix(path, relayPrefix) {
				return next(c)
			}
			if protected[path] {
				return restrictedNext(c)
			}
			return openNext(c)
		}
	}
}
