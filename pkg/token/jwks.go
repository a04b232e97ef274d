package token

import (
	"encoding/base64"

	"github.com/StricklySoft/stricklysoft-iam/pkg/keys"
)

// JWK is the public half of an RSA signing key. It has no private members.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicKeySet returns the verification key as a JWK Set, or an empty set
// when the service is keyless.
func (s *Service) PublicKeySet() JWKS {
	if s.Keyless() {
		return JWKS{Keys: []JWK{}}
	}
	pub := s.material.Public
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Kid: s.material.KeyID,
		Alg: s.cfg.Algorithm,
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   keys.EncodeExponent(pub.E),
	}}}
}
