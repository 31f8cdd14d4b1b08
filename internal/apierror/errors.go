package apierror

import (
	"errors"
	"net/http"
	"strconv"
)

// Validation codes.
const (
	CodeMalformedJSON = "malformed_json"
	CodeMalformedBody = "malformed_body"
	CodeMissingField  = "missing_field"
	CodeInvalidField  = "invalid_field"
)

// Auth codes.
const (
	CodeMissingAuthorization = "missing_authorization"
	CodeInvalidAuthorization = "invalid_authorization"
)

// Backend codes. Upstream status failures use UpstreamStatus(code).
const (
	CodeTimeout          = "timeout"
	CodeTransport        = "transport"
	CodePredictionFailed = "prediction_failed"
)

// Format codes.
const (
	CodeNoChoices       = "no_choices"
	CodeMalformedOutput = "malformed_output"
)

// CodeInternal is the only message ever returned for unexpected failures.
const CodeInternal = "internal_error"

// ValidationError reports malformed or missing input fields.
type ValidationError struct {
	Code string
	// Field is the offending body field, empty for whole-body failures.
	Field string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field != "" {
		return e.Code + ": " + e.Field
	}
	return e.Code
}

// AuthError reports a missing or malformed credential.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Code
}

// BackendError reports a failed call to the inference backend.
type BackendError struct {
	Code string
	// StatusCode is the upstream HTTP status when one was received.
	StatusCode int
	// Err is the underlying cause. It is never rendered to callers.
	Err error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Code
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Timeout reports whether the backend call ran out of time.
func (e *BackendError) Timeout() bool {
	return e != nil && e.Code == CodeTimeout
}

// FormatError reports an unusable backend payload.
type FormatError struct {
	Code string
	Err  error
}

func (e *FormatError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Code
}

func (e *FormatError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Missing builds a missing_field validation error.
func Missing(field string) error {
	return &ValidationError{Code: CodeMissingField, Field: field}
}

// Invalid builds an invalid_field validation error.
func Invalid(field string) error {
	return &ValidationError{Code: CodeInvalidField, Field: field}
}

// UpstreamStatus builds the backend error for a non-success upstream status.
func UpstreamStatus(status int, cause error) *BackendError {
	return &BackendError{
		Code:       "upstream_status:" + strconv.Itoa(status),
		StatusCode: status,
		Err:        cause,
	}
}

// Status maps an error to the HTTP status and the message written to the
// caller. Unknown errors collapse to 500 with a fixed message.
func Status(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return http.StatusUnauthorized, auth.Error()
	}
	var backend *BackendError
	if errors.As(err, &backend) {
		if backend.Timeout() {
			return http.StatusGatewayTimeout, backend.Error()
		}
		return http.StatusBadGateway, backend.Error()
	}
	var format *FormatError
	if errors.As(err, &format) {
		return http.StatusBadGateway, format.Error()
	}
	return http.StatusInternalServerError, CodeInternal
}

// Kind returns a short label for logs and metrics.
func Kind(err error) string {
	var (
		validation *ValidationError
		auth       *AuthError
		backend    *BackendError
		format     *FormatError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &auth):
		return "auth"
	case errors.As(err, &backend):
		return "backend"
	case errors.As(err, &format):
		return "format"
	default:
		return "unexpected"
	}
}
