package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Code: CodeNotFoundRole, Message: `role "AUDITOR" not found`},
			want: `NF_003: role "AUDITOR" not found`,
		},
		{
			name: "with cause",
			err: &Error{
				Code:    CodeInternalDatabase,
				Message: "rbac: load permissions",
				Cause:   errors.New("connection refused"),
			},
			want: "INT_002: rbac: load permissions: connection refused",
		},
		{
			name: "nested platform cause",
			err: &Error{
				Code:    CodeAuthentication,
				Message: "unauthorized",
				Cause:   &Error{Code: CodeAuthenticationExpired, Message: "token expired"},
			},
			want: "AUTH_001: unauthorized: AUTH_002: token expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_UnwrapSupportsIsAndAs(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("ldap: connection reset")
	err := Wrap(sentinel, CodeUnavailableDependency, "directory unreachable")

	assert.ErrorIs(t, err, sentinel)

	outer := fmt.Errorf("login: %w", err)
	var target *Error
	require.True(t, errors.As(outer, &target))
	assert.Equal(t, CodeUnavailableDependency, target.Code)
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidationRequired, http.StatusBadRequest},
		{CodeAuthentication, http.StatusUnauthorized},
		{CodeAuthenticationRevoked, http.StatusUnauthorized},
		{CodeAuthorizationField, http.StatusForbidden},
		{CodeNotFoundToken, http.StatusNotFound},
		{CodeConflictAlreadyExists, http.StatusConflict},
		{CodeInternalConfiguration, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDatabase, http.StatusGatewayTimeout},
		{Code("BOGUS"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus())
		})
	}
}

func TestError_WithDetailsCopies(t *testing.T) {
	t.Parallel()
	base := New(CodeAuthorizationField, "field is read-only").WithDetail("field", "department")
	extended := base.WithDetails(map[string]any{"operation": "WRITE", "field": "ipAddress"})

	assert.Equal(t, map[string]any{"field": "department"}, base.Details)
	assert.Equal(t, map[string]any{"field": "ipAddress", "operation": "WRITE"}, extended.Details)
	assert.Equal(t, base.Code, extended.Code)
}

func TestError_Format(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("boom"), CodeInternal, "failed").WithDetail("role", "ADMIN")

	assert.Equal(t, "INT_001: failed: boom", fmt.Sprintf("%v", err))
	assert.Equal(t, "INT_001: failed: boom", fmt.Sprintf("%s", err))
	assert.Equal(t, `"INT_001: failed: boom"`, fmt.Sprintf("%q", err))

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, `Code: "INT_001"`)
	assert.Contains(t, detailed, "Details: map[role:ADMIN]")
	assert.Contains(t, detailed, "Cause: boom")
}

// ---------------------------------------------------------------------------
// Codes
// ---------------------------------------------------------------------------

func TestCode_Category(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTHZ", CodeAuthorizationDenied.Category())
	assert.Equal(t, "UNAVAIL", CodeUnavailable.Category())
	assert.Equal(t, "PLAIN", Code("PLAIN").Category())
	assert.Equal(t, "", Code("").Category())
}

func TestCodes_AreUnique(t *testing.T) {
	t.Parallel()
	all := []Code{
		CodeValidation, CodeValidationRequired, CodeValidationFormat,
		CodeAuthentication, CodeAuthenticationExpired, CodeAuthenticationInvalid, CodeAuthenticationRevoked,
		CodeAuthorization, CodeAuthorizationDenied, CodeAuthorizationField,
		CodeNotFound, CodeNotFoundUser, CodeNotFoundRole, CodeNotFoundPermission, CodeNotFoundToken,
		CodeConflict, CodeConflictAlreadyExists,
		CodeInternal, CodeInternalDatabase, CodeInternalConfiguration,
		CodeUnavailable, CodeUnavailableDependency,
		CodeTimeout, CodeTimeoutDatabase,
	}
	seen := make(map[Code]bool, len(all))
	for _, c := range all {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
		assert.Regexp(t, `^[A-Z]+_\d{3}$`, c.String())
	}
}
