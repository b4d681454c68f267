// Package model defines the per-request types of the forwarding pipeline.
package model

import "net/http"

// BodyKind is the decoding strategy picked from an upstream content type.
type BodyKind string

const (
	BodyJSON   BodyKind = "json"
	BodyText   BodyKind = "text"
	BodyBinary BodyKind = "binary"
)

// InboundRequest is the caller's request as received by the proxy.
type InboundRequest struct {
	Method      string
	Capture     string // path after the mount point, encodes the target
	RawQuery    string
	Header      http.Header
	Body        []byte
	ContentType string
}

// Target is a fully-qualified URL with an explicit http or https scheme.
type Target struct {
	URL string
}

// OutboundRequest is what gets sent to the target. Body is nil when not attached.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// UpstreamResponse is the target's fully buffered response.
type UpstreamResponse struct {
	RequestMethod string // method of the request that produced it
	StatusCode    int
	Header        http.Header
	Body          []byte
	ContentType   string
}

// ProxyResponse is the translated response relayed back to the caller.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Kind       BodyKind
}
