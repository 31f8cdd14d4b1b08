package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMapsEveryKind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
		wantKind   string
	}{
		{name: "validation", err: Missing("prompt"), wantStatus: http.StatusBadRequest, wantMsg: "missing_field: prompt", wantKind: "validation"},
		{name: "whole body", err: &ValidationError{Code: CodeMalformedJSON}, wantStatus: http.StatusBadRequest, wantMsg: "malformed_json", wantKind: "validation"},
		{name: "auth", err: &AuthError{Code: CodeMissingAuthorization}, wantStatus: http.StatusUnauthorized, wantMsg: "missing_authorization", wantKind: "auth"},
		{name: "upstream", err: UpstreamStatus(503, errors.New("boom")), wantStatus: http.StatusBadGateway, wantMsg: "upstream_status:503", wantKind: "backend"},
		{name: "timeout", err: &BackendError{Code: CodeTimeout, Err: context.DeadlineExceeded}, wantStatus: http.StatusGatewayTimeout, wantMsg: "timeout", wantKind: "backend"},
		{name: "format", err: &FormatError{Code: CodeNoChoices}, wantStatus: http.StatusBadGateway, wantMsg: "no_choices", wantKind: "format"},
		{name: "wrapped", err: fmt.Errorf("handle: %w", Invalid("max_tokens")), wantStatus: http.StatusBadRequest, wantMsg: "invalid_field: max_tokens", wantKind: "validation"},
		{name: "unexpected", err: errors.New("secret internal detail"), wantStatus: http.StatusInternalServerError, wantMsg: CodeInternal, wantKind: "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := Status(tt.err)
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, tt.wantMsg, msg)
			require.Equal(t, tt.wantKind, Kind(tt.err))
		})
	}
}

func TestBackendErrorHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: token=abc")
	err := &BackendError{Code: CodeTransport, Err: cause}

	require.Equal(t, "transport", err.Error())
	require.ErrorIs(t, err, cause)
}
