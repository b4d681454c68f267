package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
)

// RegisterRoutes mounts the proxy on every path of the proxy listener.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}

// RegisterAdminRoutes wires health, status and, when enabled, metrics onto
// the admin listener.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
