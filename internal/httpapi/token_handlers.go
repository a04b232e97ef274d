package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/StricklySoft/stricklysoft-iam/internal/metrics"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// createToken handles POST /tokens?ownerUserId=&scopes=&expiryDays=.
// scopes may be repeated or comma separated.
func (a *API) createToken(w http.ResponseWriter, r *http.Request) {
	owner, err := queryInt64(r, "ownerUserId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var scopes []string
	for _, v := range r.URL.Query()["scopes"] {
		scopes = append(scopes, strings.Split(v, ",")...)
	}

	expiryDays := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("expiryDays")); raw != "" {
		expiryDays, err = strconv.Atoi(raw)
		if err != nil || expiryDays <= 0 {
			a.writeError(w, r, sserr.Validation("expiryDays must be a positive integer").WithDetail("field", "expiryDays"))
			return
		}
	}

	issued, err := a.deps.Opaque.Create(r.Context(), owner, scopes, expiryDays)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.deps.Metrics.TokenIssued(metrics.TokenOpaque)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) listTokens(w http.ResponseWriter, r *http.Request) {
	owner, err := queryInt64(r, "ownerUserId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tokens, err := a.deps.Opaque.List(r.Context(), owner)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Opaque.Revoke(r.Context(), chi.URLParam(r, "tokenId")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
