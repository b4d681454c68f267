// Package service implements the core forwarding pipeline: target derivation,
// outbound request construction and response translation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cors-proxy-go/internal/model"
)

// ErrMissingTarget is returned when the inbound path carries no target URL.
var ErrMissingTarget = errors.New("no URL provided")

// outboundDeniedHeaders are removed from the inbound header copy before sending.
// Accept-Encoding is dropped so the transport negotiates compression itself
// and hands back decoded bodies for content-type dispatch.
var outboundDeniedHeaders = []string{
	"Host",
	"Origin",
	"Content-Length",
	"Accept-Encoding",
}

// responseDeniedHeaders are never copied from the target's response.
var responseDeniedHeaders = []string{
	"Content-Security-Policy",
	"Content-Length",
	"Connection",
}

// bodyMethods are the only methods whose inbound body is forwarded.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Upstream sends an outbound request and returns the buffered response.
type Upstream interface {
	Do(ctx context.Context, out *model.OutboundRequest) (*model.UpstreamResponse, error)
}

// ProxyService runs the forwarding pipeline for one inbound request at a time.
// It holds no per-request state and is safe for concurrent use.
type ProxyService struct {
	upstream Upstream
	logger   *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(u Upstream, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		upstream: u,
		logger:   logger.With("component", "proxy_service"),
	}
}

// Forward derives the target, sends exactly one outbound request and
// translates the result. ctx bounds the outbound call. Failures are returned,
// never retried.
func (s *ProxyService) Forward(ctx context.Context, in *model.InboundRequest) (*model.ProxyResponse, error) {
	target, err := DeriveTarget(in.Capture, in.RawQuery)
	if err != nil {
		return nil, err
	}

	out, err := BuildOutbound(in, target)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"target", target.URL,
		"body_bytes", len(out.Body),
	)

	resp, err := s.upstream.Do(ctx, out)
	if err != nil {
		return nil, err
	}

	return Translate(resp)
}

// DeriveTarget turns the captured path into a target URL. A capture without
// an http:// or https:// prefix gets https://. A non-empty raw query is
// appended verbatim.
func DeriveTarget(capture, rawQuery string) (model.Target, error) {
	if capture == "" {
		return model.Target{}, ErrMissingTarget
	}

	u := capture
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return model.Target{URL: u}, nil
}

// BuildOutbound copies the inbound method and headers minus the denylist. For
// POST, PUT and PATCH the body is re-serialized as JSON and Content-Type is
// forced to application/json whatever the inbound type was; an empty or
// unparsed body goes out as {}.
func BuildOutbound(in *model.InboundRequest, target model.Target) (*model.OutboundRequest, error) {
	header := in.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	deleteHeaders(header, outboundDeniedHeaders)

	out := &model.OutboundRequest{
		Method: in.Method,
		URL:    target.URL,
		Header: header,
	}

	if !bodyMethods[in.Method] {
		return out, nil
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = in.Header.Get("Content-Type")
	}
	body, ok, err := encodeRequestBody(contentType, in.Body)
	if err != nil {
		return nil, &DecodeError{Source: "request", ContentType: contentType, Err: err}
	}
	if ok {
		deleteHeaders(header, []string{"Content-Type"})
		header.Set("Content-Type", "application/json")
		out.Body = body
	}
	return out, nil
}

// Translate filters the target's headers and decodes its body per content type.
func Translate(resp *model.UpstreamResponse) (*model.ProxyResponse, error) {
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	deleteHeaders(header, responseDeniedHeaders)

	contentType := resp.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	kind := Dispatch(contentType)

	body, err := decodeResponseBody(kind, resp.Body, bodyless(resp))
	if err != nil {
		return nil, &DecodeError{Source: "response", ContentType: contentType, Err: err}
	}

	if kind == model.BodyBinary && contentType == "" {
		header.Set("Content-Type", "application/octet-stream")
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Kind:       kind,
	}, nil
}

// bodyless reports whether a response carries no content by definition.
func bodyless(resp *model.UpstreamResponse) bool {
	return resp.RequestMethod == http.MethodHead ||
		resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotModified
}

// Dispatch picks the body strategy for a content type.
func Dispatch(contentType string) model.BodyKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return model.BodyJSON
	case strings.Contains(ct, "text/"):
		return model.BodyText
	default:
		return model.BodyBinary
	}
}

// deleteHeaders removes names case-insensitively, including keys that were
// stored without canonicalization.
func deleteHeaders(h http.Header, names []string) {
	for key := range h {
		for _, name := range names {
			if strings.EqualFold(key, name) {
				delete(h, key)
				break
			}
		}
	}
}

// DecodeError reports a body that could not be parsed as its declared type.
type DecodeError struct {
	Source      string // "request" or "response"
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s body for content type %q: %v", e.Source, e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
