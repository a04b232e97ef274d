package httpapi

import (
	"net/http"
	"strings"

	"github.com/StricklySoft/stricklysoft-iam/internal/metrics"
	"github.com/StricklySoft/stricklysoft-iam/pkg/credentials"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *API) jwks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, a.deps.Tokens.PublicKeySet())
}

// login runs the credential chain and issues a signed token. Every chain
// failure is the same 401.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	p, _, err := a.deps.Chain.Authenticate(r.Context(), credentials.PasswordCredential(req.Username, req.Password))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	tok, err := a.deps.Tokens.Issue(r.Context(), p.Name, a.deps.Tokens.RoleClaims(p))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.deps.Metrics.TokenIssued(metrics.TokenSigned)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(a.deps.Tokens.TTL().Seconds()),
	})
}
