// Package token issues and verifies the RSA-signed bearer tokens of the
// service and publishes the matching public key as a JWK Set.
//
// Tokens carry sub, iat, exp, jti and (when configured) iss, followed by
// configured static claims and finally caller claims, each layer
// overriding the previous one. Only the configured algorithm is accepted
// on verification, and exp is mandatory.
//
// A Service built without key material is "keyless" and only exists when
// [Config.InsecureMode] is set: Issue then returns a random opaque string
// and Verify accepts any non-empty string. Every keyless issuance is
// logged at ERROR level.
package token

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/keys"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/token"

// InsecurePrincipalName is the principal name for any credential accepted
// by a keyless service.
const InsecurePrincipalName = "insecure-anonymous"

// DefaultAlgorithm is used when Config.Algorithm is empty.
const DefaultAlgorithm = "RS512"

// allowedAlgorithms lists the RSA-based JWS algorithms accepted in config.
var allowedAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}

// Config controls token issuance.
type Config struct {
	Algorithm    string            `env:"ALGORITHM" envDefault:"RS512" yaml:"algorithm" json:"algorithm"`
	TTL          time.Duration     `env:"TTL" envDefault:"1h" yaml:"ttl" json:"ttl"`
	Issuer       string            `env:"ISSUER" yaml:"issuer" json:"issuer"`
	StaticClaims map[string]string `env:"STATIC_CLAIMS" yaml:"static_claims" json:"static_claims"`

	// AttachRoleClaims copies the roles, department and uid claims of a
	// verified token into the principal. Off by default: a signed token
	// then proves the subject only.
	AttachRoleClaims bool `env:"ATTACH_ROLE_CLAIMS" yaml:"attach_role_claims" json:"attach_role_claims"`

	// InsecureMode permits construction without key material.
	InsecureMode bool `yaml:"-" json:"-"`
}

// Validate checks the algorithm and TTL.
func (c *Config) Validate() error {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if !slices.Contains(allowedAlgorithms, c.Algorithm) {
		return sserr.Configurationf("token: unsupported algorithm %q", c.Algorithm).
			WithDetail("allowed", allowedAlgorithms)
	}
	if c.TTL <= 0 {
		return sserr.Configurationf("token: ttl must be positive, got %s", c.TTL)
	}
	return nil
}

// Service issues and verifies signed tokens.
type Service struct {
	cfg      Config
	material *keys.Material
	method   jwt.SigningMethod
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a [Service].
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds a Service. material may be nil only when cfg.InsecureMode is
// set.
func New(material *keys.Material, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if material == nil && !cfg.InsecureMode {
		return nil, sserr.Configuration("token: no signing key loaded and insecure mode is off")
	}
	s := &Service{
		cfg:      cfg,
		material: material,
		method:   jwt.GetSigningMethod(cfg.Algorithm),
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Keyless() {
		s.logger.Error("token service running WITHOUT a signing key; any non-empty bearer is accepted",
			slog.Bool("insecure_mode", true))
	}
	return s, nil
}

// Keyless reports whether the service runs without key material.
func (s *Service) Keyless() bool {
	return s.material == nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue returns a signed token for subject.
func (s *Service) Issue(ctx context.Context, subject string, claims map[string]any) (string, error) {
	ctx, span := s.tracer.Start(ctx, "token.Issue")
	defer span.End()

	if subject == "" {
		err := sserr.Required("subject")
		finishSpan(span, err)
		return "", err
	}

	if s.Keyless() {
		s.logger.ErrorContext(ctx, "issuing unsigned placeholder token in insecure mode",
			slog.String("subject", subject))
		span.SetAttributes(attribute.Bool("token.insecure", true))
		return uuid.NewString(), nil
	}

	now := s.now()
	mc := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.TTL).Unix(),
		"jti": uuid.NewString(),
	}
	if s.cfg.Issuer != "" {
		mc["iss"] = s.cfg.Issuer
	}
	for k, v := range s.cfg.StaticClaims {
		mc[k] = v
	}
	for k, v := range claims {
		mc[k] = v
	}

	tok := jwt.NewWithClaims(s.method, mc)
	tok.Header["kid"] = s.material.KeyID
	signed, err := tok.SignedString(s.material.Private)
	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeInternal, "token: signing failed")
		finishSpan(span, wrapped)
		return "", wrapped
	}
	span.SetAttributes(attribute.String("token.subject", subject), attribute.String("token.alg", s.cfg.Algorithm))
	return signed, nil
}

// Verify reports whether tokenString is a token this service would accept.
func (s *Service) Verify(ctx context.Context, tokenString string) bool {
	_, err := s.Parse(ctx, tokenString)
	return err == nil
}

// Parse verifies tokenString and returns its claims. Expired tokens fail
// with [sserr.CodeAuthenticationExpired]; every other failure is
// [sserr.CodeAuthenticationInvalid].
func (s *Service) Parse(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	_, span := s.tracer.Start(ctx, "token.Parse")
	defer span.End()

	if tokenString == "" {
		err := sserr.New(sserr.CodeAuthenticationInvalid, "token: empty token")
		finishSpan(span, err)
		return nil, err
	}
	if s.Keyless() {
		return jwt.MapClaims{"sub": InsecurePrincipalName}, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.material.Public, nil },
		jwt.WithValidMethods([]string{s.cfg.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		classified := classifyError(err)
		finishSpan(span, classified)
		return nil, classified
	}
	return claims, nil
}

func classifyError(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "token: expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: unverifiable")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: required claim missing")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "token: validation failed")
	}
}

func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
