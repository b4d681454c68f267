package middleware

import (
	"github.com/labstack/echo/v4"
)

// AdminHeaders returns an Echo middleware that hardens health and metrics
// responses. It is not used on the proxy listener, whose response headers
// belong to the target.
func AdminHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set(echo.HeaderCacheControl, "no-store")

			return next(c)
		}
	}
}
