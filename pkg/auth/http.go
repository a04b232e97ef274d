package auth

import (
	"encoding/json"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// HTTPMiddleware attaches the principal for a valid bearer credential to
// the request context. It never rejects: requests without a credential,
// or with one no verifier accepts, continue unauthenticated.
func HTTPMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, m, ok := a.Authenticate(r.Context(), token)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := ContextWithMethod(ContextWithPrincipal(r.Context(), p), m)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated responds 401 when the request carries no principal.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			WriteError(w, sserr.Unauthorized("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole responds 401 without a principal and 403 when the principal
// lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, sserr.Unauthorized("unauthorized"))
				return
			}
			if !p.HasRole(role) {
				WriteError(w, sserr.New(sserr.CodeAuthorizationDenied, "access denied"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    sserr.Code `json:"code"`
	Message string     `json:"message"`
}

// WriteError writes the JSON error envelope {"error":{"code","message"}}
// with the status derived from the code. Authentication failures always
// carry the message "unauthorized" so callers cannot tell which check
// failed.
func WriteError(w http.ResponseWriter, err *sserr.Error) {
	msg := err.Message
	if sserr.IsAuthentication(err) {
		msg = "unauthorized"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: err.Code, Message: msg}})
}
