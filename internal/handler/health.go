package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints on the admin listener.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, started: time.Now()}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":                   "ok",
		"version":                  string(h.version),
		"listen_addr":              h.cfg.Server.Addr(),
		"upstream_timeout_seconds": h.cfg.Upstream.TimeoutSeconds,
		"upstream_max_redirects":   h.cfg.Upstream.MaxRedirects,
		"uptime_seconds":           int64(time.Since(h.started).Seconds()),
	})
}
