package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// Event is an API Gateway proxy event. The handler only reads it.
type Event struct {
	HTTPMethod        string              `json:"httpMethod"`
	Path              string              `json:"path"`
	Headers           map[string]string   `json:"headers"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
	RequestContext    RequestContext      `json:"requestContext"`
}

// RequestContext carries the gateway-side metadata of an invocation.
type RequestContext struct {
	RequestID    string   `json:"requestId,omitempty"`
	HTTPMethod   string   `json:"httpMethod,omitempty"`
	ResourcePath string   `json:"resourcePath,omitempty"`
	Identity     Identity `json:"identity"`
}

// Identity holds caller attributes resolved by the gateway.
type Identity struct {
	SourceIP string `json:"sourceIp,omitempty"`
}

// Response is returned for every invocation, successful or not.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// Header returns the first value of the named header. An exact-case key
// wins; otherwise lookup is case-insensitive, and when several keys differ
// only by case the lexically smallest one is used.
func (e Event) Header(name string) (string, bool) {
	if v, ok := e.Headers[name]; ok {
		return v, true
	}
	if vs, ok := e.MultiValueHeaders[name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	if k, ok := foldMatch(e.Headers, name); ok {
		return e.Headers[k], true
	}
	for _, k := range foldMatches(e.MultiValueHeaders, name) {
		if vs := e.MultiValueHeaders[k]; len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

func foldMatch(m map[string]string, name string) (string, bool) {
	keys := foldMatches(m, name)
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

func foldMatches[V any](m map[string]V, name string) []string {
	var keys []string
	for k := range m {
		if strings.EqualFold(k, name) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// DecodedBody returns the raw body bytes, undoing gateway base64 encoding.
func (e Event) DecodedBody() ([]byte, error) {
	if !e.IsBase64Encoded {
		return []byte(e.Body), nil
	}
	return base64.StdEncoding.DecodeString(e.Body)
}

// JSON builds a response with a JSON body. A value that cannot be encoded
// yields a bare 500.
func JSON(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"internal_error"}`,
		}
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
