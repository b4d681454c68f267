// Package middleware provides Echo middleware for CORS, logging, metrics and
// admin endpoint hardening.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/metrics"
)

// corsHeaders are set on every response, whatever the outcome.
var corsHeaders = []struct{ name, value string }{
	{echo.HeaderAccessControlAllowOrigin, "*"},
	{echo.HeaderAccessControlAllowMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"},
	{echo.HeaderAccessControlAllowHeaders, "*"},
	{echo.HeaderAccessControlExposeHeaders, "*"},
}

// IsCORSHeader reports whether name is one of the headers owned by the CORS
// gate. Handlers copying upstream headers must skip these.
func IsCORSHeader(name string) bool {
	for _, h := range corsHeaders {
		if strings.EqualFold(h.name, name) {
			return true
		}
	}
	return false
}

// CORS returns the preflight gate. It annotates every response with
// permissive CORS headers before calling next, and answers OPTIONS with 204
// without forwarding. The metrics parameter is optional.
func CORS(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, ch := range corsHeaders {
				h.Set(ch.name, ch.value)
			}

			if c.Request().Method == http.MethodOptions {
				if m != nil {
					m.Preflights.Inc()
				}
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
