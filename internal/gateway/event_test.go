package gateway

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderIsCaseInsensitive(t *testing.T) {
	evt := Event{
		Headers:           map[string]string{"authorization": "Bearer abc"},
		MultiValueHeaders: map[string][]string{"X-Trace": {"one", "two"}},
	}

	v, ok := evt.Header("Authorization")
	require.True(t, ok)
	require.Equal(t, "Bearer abc", v)

	v, ok = evt.Header("x-trace")
	require.True(t, ok)
	require.Equal(t, "one", v)

	_, ok = evt.Header("Content-Type")
	require.False(t, ok)
}

func TestHeaderPrefersExactCase(t *testing.T) {
	evt := Event{Headers: map[string]string{
		"authorization": "Bearer lower",
		"Authorization": "Bearer exact",
		"AUTHORIZATION": "Bearer upper",
	}}
	for i := 0; i < 20; i++ {
		v, ok := evt.Header("Authorization")
		require.True(t, ok)
		require.Equal(t, "Bearer exact", v)
	}

	// No exact key: the lexically smallest variant is stable across calls.
	for i := 0; i < 20; i++ {
		v, ok := evt.Header("authorizatioN")
		require.True(t, ok)
		require.Equal(t, "Bearer upper", v)
	}
}

func TestDecodedBody(t *testing.T) {
	plain := Event{Body: `{"a":1}`}
	got, err := plain.DecodedBody()
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))

	encoded := Event{Body: base64.StdEncoding.EncodeToString([]byte(`{"b":2}`)), IsBase64Encoded: true}
	got, err = encoded.DecodedBody()
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(got))

	broken := Event{Body: "%%%", IsBase64Encoded: true}
	_, err = broken.DecodedBody()
	require.Error(t, err)
}

func TestEventDecodesGatewayShape(t *testing.T) {
	raw := `{
		"httpMethod": "POST",
		"body": "{\"prompt\":\"hi\"}",
		"headers": {"Content-Type": "application/json", "Authorization": "Bearer t"},
		"isBase64Encoded": false,
		"path": "/v1/completions",
		"requestContext": {"httpMethod": "POST", "resourcePath": "/v1/completions", "requestId": "req-1"}
	}`
	var evt Event
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))
	require.Equal(t, "POST", evt.HTTPMethod)
	require.Equal(t, "/v1/completions", evt.RequestContext.ResourcePath)
	require.Equal(t, "req-1", evt.RequestContext.RequestID)
}

func TestJSONResponse(t *testing.T) {
	resp := JSON(http.StatusBadRequest, map[string]string{"error": "missing_field: prompt"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.JSONEq(t, `{"error":"missing_field: prompt"}`, resp.Body)

	bad := JSON(http.StatusOK, math.Inf(1))
	require.Equal(t, http.StatusInternalServerError, bad.StatusCode)
}
