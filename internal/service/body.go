package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/url"
	"strings"

	"cors-proxy-go/internal/model"
)

var errNotObjectOrArray = errors.New("only objects and arrays are accepted")

// emptyObject is what an empty or unparsed body is forwarded as.
var emptyObject = []byte("{}")

// encodeRequestBody parses an inbound body and returns it serialized as JSON.
// Bodies that are empty or of a type the proxy does not parse are forwarded
// as an empty object. ok is false only for an empty text body, which is not
// forwarded at all.
func encodeRequestBody(contentType string, body []byte) (data []byte, ok bool, err error) {
	mt := mediaType(contentType)
	switch {
	case mt == "text/plain", mt == "text/xml":
		if len(body) == 0 {
			return nil, false, nil
		}
		data, err = marshalJSON(string(body))
	case len(body) == 0:
		return emptyObject, true, nil
	case mt == "application/json", strings.HasSuffix(mt, "+json"):
		data, err = strictJSON(body)
	case mt == "application/x-www-form-urlencoded":
		data, err = encodeForm(body)
	default:
		return emptyObject, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// strictJSON accepts only an object or an array at the top level.
func strictJSON(body []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, errNotObjectOrArray
	}
	return compactJSON(body)
}

// decodeResponseBody applies the body strategy chosen by Dispatch. bodyless
// is true for responses that carry no content by definition (HEAD, 204, 304);
// those are relayed as they are whatever their declared type.
func decodeResponseBody(kind model.BodyKind, body []byte, bodyless bool) ([]byte, error) {
	if kind != model.BodyJSON || (bodyless && len(body) == 0) {
		return body, nil
	}
	return compactJSON(body)
}

// encodeForm turns url-encoded fields into a JSON object. Repeated fields
// become arrays.
func encodeForm(body []byte) ([]byte, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			obj[k] = v[0]
		} else {
			obj[k] = v
		}
	}
	return marshalJSON(obj)
}

func compactJSON(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalJSON encodes v without HTML escaping or a trailing newline.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
