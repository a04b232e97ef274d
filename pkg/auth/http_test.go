package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(
		&fakeVerifier{accept: "signed.jwt.token", principal: &Principal{Name: "alice"}},
		&fakeVerifier{accept: "tok.secret", principal: &Principal{Name: "admin", Roles: []string{"ADMIN"}}},
	)
}

// serve runs a final handler behind the middleware and the optional guard,
// returning the recorder plus the principal the handler saw.
func serve(t *testing.T, guard func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()
	var seen *Principal
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	if guard != nil {
		h = guard(h)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	HTTPMiddleware(newTestAuthenticator())(h).ServeHTTP(rec, req)
	return rec, seen
}

// ---------------------------------------------------------------------------
// HTTPMiddleware
// ---------------------------------------------------------------------------

func TestHTTPMiddleware_NeverRejects(t *testing.T) {
	t.Parallel()
	for _, header := range []string{"", "Basic dXNlcjpwdw==", "Bearer nope"} {
		rec, p := serve(t, nil, header)
		assert.Equal(t, http.StatusNoContent, rec.Code, "header %q", header)
		assert.Nil(t, p)
	}
}

func TestHTTPMiddleware_AttachesPrincipal(t *testing.T) {
	t.Parallel()
	rec, p := serve(t, nil, "Bearer signed.jwt.token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Name)

	_, p = serve(t, nil, "Bearer tok.secret")
	require.NotNil(t, p)
	assert.True(t, p.HasRole("ADMIN"))
}

// ---------------------------------------------------------------------------
// Guards
// ---------------------------------------------------------------------------

func TestRequireAuthenticated(t *testing.T) {
	t.Parallel()
	guard := RequireAuthenticated

	rec, _ := serve(t, guard, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertErrorBody(t, rec, sserr.CodeAuthentication, "unauthorized")

	rec, _ = serve(t, guard, "Bearer signed.jwt.token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()
	guard := RequireRole("ADMIN")

	rec, _ := serve(t, guard, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, guard, "Bearer signed.jwt.token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assertErrorBody(t, rec, sserr.CodeAuthorizationDenied, "access denied")

	rec, _ = serve(t, guard, "Bearer tok.secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWriteError_HidesAuthenticationDetail(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	WriteError(rec, sserr.New(sserr.CodeAuthenticationExpired, "token expired at 12:00"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assertErrorBody(t, rec, sserr.CodeAuthenticationExpired, "unauthorized")
}

func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, code sserr.Code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(code), body.Error.Code)
	assert.Equal(t, message, body.Error.Message)
}
