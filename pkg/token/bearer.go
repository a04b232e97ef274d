package token

import (
	"context"
	"math"

	"github.com/golang-jwt/jwt/v5"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// Claim names read by VerifyBearer when role claims are attached.
const (
	ClaimRoles      = "roles"
	ClaimDepartment = "department"
	ClaimUserID     = "uid"
)

// VerifyBearer implements [auth.BearerVerifier]. The principal carries the
// subject only, unless AttachRoleClaims is set.
func (s *Service) VerifyBearer(ctx context.Context, tokenString string) (*auth.Principal, error) {
	claims, err := s.Parse(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "token: subject missing")
	}

	p := &auth.Principal{Name: sub}
	if s.cfg.AttachRoleClaims && !s.Keyless() {
		attachRoleClaims(p, claims)
	}
	return p, nil
}

// RoleClaims returns the claims Issue should embed for p when role claims
// are attached, or nil otherwise.
func (s *Service) RoleClaims(p *auth.Principal) map[string]any {
	if !s.cfg.AttachRoleClaims || p == nil {
		return nil
	}
	claims := map[string]any{ClaimRoles: p.Roles}
	if p.Department != "" {
		claims[ClaimDepartment] = p.Department
	}
	if id, ok := p.ID(); ok {
		claims[ClaimUserID] = id
	}
	return claims
}

func attachRoleClaims(p *auth.Principal, claims jwt.MapClaims) {
	switch roles := claims[ClaimRoles].(type) {
	case []any:
		for _, r := range roles {
			if name, ok := r.(string); ok && name != "" {
				p.Roles = append(p.Roles, name)
			}
		}
	case string:
		if roles != "" {
			p.Roles = []string{roles}
		}
	}
	if dept, ok := claims[ClaimDepartment].(string); ok {
		p.Department = dept
	}
	// JSON numbers decode as float64.
	if uid, ok := claims[ClaimUserID].(float64); ok && uid == math.Trunc(uid) {
		id := int64(uid)
		p.UserID = &id
	}
}
