package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"validation", Validation("bad"), CodeValidation},
		{"validationf", Validationf("bad %d", 1), CodeValidation},
		{"required", Required("username"), CodeValidationRequired},
		{"not found", NotFound("gone"), CodeNotFound},
		{"not foundf", NotFoundf("gone %s", "x"), CodeNotFound},
		{"unauthorized", Unauthorized("unauthorized"), CodeAuthentication},
		{"forbidden", Forbidden("no"), CodeAuthorization},
		{"conflict", Conflict("dup"), CodeConflict},
		{"already exists", AlreadyExists("role", "ADMIN"), CodeConflictAlreadyExists},
		{"internal", Internal("oops"), CodeInternal},
		{"configuration", Configuration("no key"), CodeInternalConfiguration},
		{"configurationf", Configurationf("key is %d bits", 2048), CodeInternalConfiguration},
		{"unavailable", Unavailable("down"), CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestRequired_NamesField(t *testing.T) {
	t.Parallel()
	err := Required("password")
	assert.Equal(t, "password is required", err.Message)
	assert.Equal(t, "password", err.Details["field"])
}

func TestAlreadyExists_Details(t *testing.T) {
	t.Parallel()
	err := AlreadyExists("role", "ADMIN")
	assert.Equal(t, `role "ADMIN" already exists`, err.Message)
	assert.Equal(t, "ADMIN", err.Details["name"])
}

func TestWrap_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil, CodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "x %d", 1))
	assert.Nil(t, FromError(nil))
}

func TestFromError(t *testing.T) {
	t.Parallel()
	platform := New(CodeNotFoundToken, "token not found")
	assert.Same(t, platform, FromError(fmt.Errorf("wrapped: %w", platform)))

	foreign := FromError(errors.New("plain"))
	assert.Equal(t, CodeInternal, foreign.Code)
}

func TestCategoryChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", Required("x"), IsValidation, true},
		{"authentication expired", New(CodeAuthenticationExpired, "x"), IsAuthentication, true},
		{"authz is not auth", New(CodeAuthorizationDenied, "x"), IsAuthentication, false},
		{"authorization", New(CodeAuthorizationField, "x"), IsAuthorization, true},
		{"not found", New(CodeNotFoundRole, "x"), IsNotFound, true},
		{"conflict", AlreadyExists("role", "x"), IsConflict, true},
		{"internal", Configuration("x"), IsInternal, true},
		{"unavailable", New(CodeUnavailableDependency, "x"), IsUnavailable, true},
		{"timeout", New(CodeTimeoutDatabase, "x"), IsTimeout, true},
		{"retryable timeout", New(CodeTimeoutDatabase, "x"), IsRetryable, true},
		{"retryable unavailable", New(CodeUnavailableDependency, "x"), IsRetryable, true},
		{"auth not retryable", New(CodeAuthentication, "x"), IsRetryable, false},
		{"client error", New(CodeNotFoundToken, "x"), IsClientError, true},
		{"server error is not client", Internal("x"), IsClientError, false},
		{"wrapped", fmt.Errorf("ctx: %w", New(CodeNotFoundUser, "x")), IsNotFound, true},
		{"plain error", errors.New("x"), IsNotFound, false},
		{"nil", nil, IsNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetCodeAndHasCode(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("outer: %w", New(CodeAuthenticationRevoked, "revoked"))
	assert.Equal(t, CodeAuthenticationRevoked, GetCode(err))
	assert.True(t, HasCode(err, CodeAuthenticationRevoked))
	assert.False(t, HasCode(err, CodeAuthentication))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
}
