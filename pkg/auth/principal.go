// Package auth defines the authenticated principal, the user collaborator
// types, and the request authentication entry shared by the HTTP and gRPC
// surfaces.
//
// An [Authenticator] turns a bearer credential into a [Principal] by
// trying the signed-token verifier first and the opaque-token verifier
// second. The entry never rejects a request by itself: a request without
// a valid credential simply carries no principal, and the guards
// ([RequireAuthenticated], [RequireRole]) or the handler decide.
//
//	authn := auth.NewAuthenticator(tokens, opaqueTokens)
//	router.Use(auth.HTTPMiddleware(authn))
//	router.With(auth.RequireRole("ADMIN")).Post("/admin/roles", h.createRole)
package auth

import (
	"context"
	"slices"
)

// Principal is an authenticated caller. Roles, Department and UserID are
// empty for a bare signed-token subject.
type Principal struct {
	Name       string   `json:"name"`
	Roles      []string `json:"roles,omitempty"`
	Department string   `json:"department,omitempty"`
	UserID     *int64   `json:"user_id,omitempty"`
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// ID returns the numeric user id when the principal carries one.
func (p *Principal) ID() (int64, bool) {
	if p == nil || p.UserID == nil {
		return 0, false
	}
	return *p.UserID, true
}

// User is a directory record. PasswordHash never leaves the process.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	Department   string `json:"department,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Principal builds the principal for an authenticated user: the username,
// the user's single role, department and id.
func (u *User) Principal() *Principal {
	id := u.ID
	p := &Principal{Name: u.Username, Department: u.Department, UserID: &id}
	if u.Role != "" {
		p.Roles = []string{u.Role}
	}
	return p
}

// UserDirectory looks up users. Implementations return a
// [sserr.CodeNotFoundUser] error for unknown users.
type UserDirectory interface {
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}
