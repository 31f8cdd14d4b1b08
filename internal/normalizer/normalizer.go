package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/gateway"
	"github.com/ncecere/cerebro/internal/models"
)

const authBearerPrefix = "bearer "

var errImageURLsType = errors.New("image_urls must be a string or a list of strings")

// Normalizer turns gateway events into validated completion requests.
// It holds only immutable defaults and is safe for concurrent use.
type Normalizer struct {
	defaults config.DefaultsConfig
}

// New returns a Normalizer applying the given defaults and bounds.
func New(defaults config.DefaultsConfig) *Normalizer {
	return &Normalizer{defaults: defaults}
}

// completionPayload is the wire schema of the inbound body. Pointer fields
// distinguish omitted values from zero values.
type completionPayload struct {
	Prompt      *string   `json:"prompt"`
	ImageURLs   imageURLs `json:"image_urls"`
	MaxTokens   *int      `json:"max_tokens"`
	Temperature *float64  `json:"temperature"`
	DoSample    *bool     `json:"do_sample"`
}

// imageURLs accepts either a single string or a list of strings.
type imageURLs struct {
	values []string
	set    bool
}

func (u *imageURLs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		u.set = true
		if strings.TrimSpace(single) != "" {
			u.values = []string{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errImageURLsType
	}
	u.set = true
	u.values = list
	return nil
}

// Normalize validates the credential and body of evt. It returns the typed
// request and the opaque bearer token, or a ValidationError / AuthError.
func (n *Normalizer) Normalize(evt gateway.Event) (models.CompletionRequest, string, error) {
	token, err := BearerToken(evt)
	if err != nil {
		return models.CompletionRequest{}, "", err
	}
	req, err := n.Parse(evt)
	if err != nil {
		return models.CompletionRequest{}, "", err
	}
	return req, token, nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(evt gateway.Event) (string, error) {
	raw, ok := evt.Header("Authorization")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", &apierror.AuthError{Code: apierror.CodeMissingAuthorization}
	}
	if len(raw) < len(authBearerPrefix) || !strings.EqualFold(raw[:len(authBearerPrefix)], authBearerPrefix) {
		return "", &apierror.AuthError{Code: apierror.CodeInvalidAuthorization}
	}
	token := strings.TrimSpace(raw[len(authBearerPrefix):])
	if token == "" {
		return "", &apierror.AuthError{Code: apierror.CodeInvalidAuthorization}
	}
	return token, nil
}

// Parse decodes and validates the event body, applying defaults.
func (n *Normalizer) Parse(evt gateway.Event) (models.CompletionRequest, error) {
	body, err := evt.DecodedBody()
	if err != nil {
		return models.CompletionRequest{}, &apierror.ValidationError{Code: apierror.CodeMalformedBody}
	}

	var payload completionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.CompletionRequest{}, decodeError(err)
	}

	if payload.Prompt == nil || strings.TrimSpace(*payload.Prompt) == "" {
		return models.CompletionRequest{}, apierror.Missing("prompt")
	}
	if !payload.ImageURLs.set || len(payload.ImageURLs.values) == 0 {
		return models.CompletionRequest{}, apierror.Missing("image_urls")
	}
	urls, err := n.validateImageURLs(payload.ImageURLs.values)
	if err != nil {
		return models.CompletionRequest{}, err
	}

	req := models.CompletionRequest{
		Prompt:      *payload.Prompt,
		ImageURLs:   urls,
		MaxTokens:   n.defaults.MaxTokens,
		Temperature: n.defaults.Temperature,
		DoSample:    n.defaults.DoSample,
	}
	if payload.MaxTokens != nil {
		req.MaxTokens = *payload.MaxTokens
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	if payload.DoSample != nil {
		req.DoSample = *payload.DoSample
	}

	if req.MaxTokens <= 0 || (n.defaults.MaxTokensLimit > 0 && req.MaxTokens > n.defaults.MaxTokensLimit) {
		return models.CompletionRequest{}, apierror.Invalid("max_tokens")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return models.CompletionRequest{}, apierror.Invalid("temperature")
	}
	return req, nil
}

func (n *Normalizer) validateImageURLs(values []string) ([]string, error) {
	if n.defaults.MaxImages > 0 && len(values) > n.defaults.MaxImages {
		return nil, apierror.Invalid("image_urls")
	}
	out := make([]string, 0, len(values))
	for _, raw := range values {
		candidate := strings.TrimSpace(raw)
		u, err := url.Parse(candidate)
		if candidate == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, apierror.Invalid("image_urls")
		}
		out = append(out, candidate)
	}
	return out, nil
}

func decodeError(err error) error {
	if errors.Is(err, errImageURLsType) {
		return apierror.Invalid("image_urls")
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apierror.Invalid(typeErr.Field)
	}
	return &apierror.ValidationError{Code: apierror.CodeMalformedJSON}
}
