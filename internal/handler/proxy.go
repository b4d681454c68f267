package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// missingTargetBody is the 400 body for a request to "/" with nothing after it.
const missingTargetBody = "Bad Request: No URL provided"

// ProxyHandler forwards every inbound request to the target encoded in its path.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle reads the inbound body, runs the forwarding pipeline and writes the
// translated response. Every failure is turned into a response here.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return h.mapError(c, err)
	}

	in := &model.InboundRequest{
		Method:      req.Method,
		Capture:     strings.TrimPrefix(req.URL.Path, "/"),
		RawQuery:    req.URL.RawQuery,
		Header:      req.Header,
		Body:        body,
		ContentType: req.Header.Get(echo.HeaderContentType),
	}

	resp, err := h.service.Forward(req.Context(), in)
	if err != nil {
		return h.mapError(c, err)
	}

	// CORS headers set by the gate win over the target's.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if middleware.IsCORSHeader(key) {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}

	writeBody := len(resp.Body) > 0 && req.Method != http.MethodHead && bodyAllowed(resp.StatusCode)
	if writeBody {
		dst.Set(echo.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	}
	c.Response().WriteHeader(resp.StatusCode)

	if !writeBody {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
		return nil
	}
	if h.metrics != nil {
		h.metrics.RelayedBytes.WithLabelValues(string(resp.Kind)).Add(float64(len(resp.Body)))
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	kind := failureKind(err)
	if h.metrics != nil {
		h.metrics.ForwardFailures.WithLabelValues(kind).Inc()
	}

	if errors.Is(err, service.ErrMissingTarget) {
		return c.String(http.StatusBadRequest, missingTargetBody)
	}

	// Framework errors (e.g. body limit) keep their status and go through the
	// central error handler.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	h.logger.Error("proxy error",
		"err", err,
		"kind", kind,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	return c.String(http.StatusInternalServerError, ErrorBody(err))
}

// ErrorBody renders a failure as "Error: <message>", substituting
// "Unknown error" when there is no message.
func ErrorBody(err error) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return "Error: " + msg
}

func failureKind(err error) string {
	if errors.Is(err, service.ErrMissingTarget) {
		return metrics.FailureMissingTarget
	}

	var de *service.DecodeError
	if errors.As(err, &de) {
		return metrics.FailureDecode
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.FailureNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return metrics.FailureNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return metrics.FailureNetwork
	}

	return metrics.FailureOther
}

// bodyAllowed reports whether the status permits a response body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
