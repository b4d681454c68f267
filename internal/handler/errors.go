package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// NewErrorHandler returns the echo error handler for the proxy listener. It
// renders every unhandled error, recovered panics included, as a text body
// "Error: <message>" so the proxy never answers with echo's JSON error shape.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := err.Error()

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
			if he.Message == nil {
				msg = http.StatusText(code)
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("unhandled error",
				"err", err,
				"status", code,
				"path", c.Request().URL.Path,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.String(code, ErrorBody(errors.New(msg)))
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
