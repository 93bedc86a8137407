package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Fixed
// routes take precedence over stored files of the same name.
func RegisterRoutes(e *echo.Echo, prefix string, files *FileHandler, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.Any(prefix, proxy.Handle)
	e.Any(prefix+"/*", proxy.Handle)

	e.GET("/", files.Index)
	e.POST("/upload", files.Upload)
	e.POST("/delete", files.Delete)
	e.Match([]string{http.MethodGet, http.MethodHead}, "/:filename", files.Serve)
}
