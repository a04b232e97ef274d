// Package opaque issues long-lived persistent API tokens.
//
// A token value has the form "<id>.<secret>". The id is a UUID used as the
// lookup key; the secret is 48 random bytes, base64url encoded, and only
// its SHA-256 hex digest is stored. The full value is returned once, at
// creation. Revocation flips a flag and never deletes the record.
package opaque

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/opaque"

const (
	// DefaultExpiryDays applies when Create is given zero or a negative value.
	DefaultExpiryDays = 365

	secretBytes = 48
)

// Token is a stored token record. SecretHash is never serialised.
type Token struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"-"`
	OwnerID    int64     `json:"owner_id"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
}

// Active reports whether the token is unrevoked and unexpired at now.
func (t *Token) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Issued is the one-time result of Create.
type Issued struct {
	TokenID    string    `json:"token_id"`
	TokenValue string    `json:"token_value"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store persists token records. GetToken and RevokeToken return a
// [sserr.CodeNotFoundToken] error for unknown ids; RevokeToken on an
// already revoked token succeeds.
type Store interface {
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, id string) (*Token, error)
	ListTokens(ctx context.Context, ownerID int64) ([]*Token, error)
	RevokeToken(ctx context.Context, id string) error
}

// Service creates, verifies and revokes opaque tokens.
type Service struct {
	store  Store
	users  auth.UserDirectory
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
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

// New returns a Service over store, resolving owners through users.
func New(store Store, users auth.UserDirectory, opts ...Option) *Service {
	s := &Service{
		store:  store,
		users:  users,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a token for ownerID. expiryDays <= 0 means
// [DefaultExpiryDays]. An unknown owner is a [sserr.CodeNotFoundUser] error.
func (s *Service) Create(ctx context.Context, ownerID int64, scopes []string, expiryDays int) (*Issued, error) {
	ctx, span := s.tracer.Start(ctx, "opaque.Create")
	defer span.End()

	if _, err := s.users.UserByID(ctx, ownerID); err != nil {
		if sserr.IsNotFound(err) {
			err = sserr.Newf(sserr.CodeNotFoundUser, "user %d not found", ownerID).WithDetail("owner_id", ownerID)
		}
		finishSpan(span, err)
		return nil, err
	}
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}

	secret, err := newSecret()
	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeInternal, "opaque: failed to generate secret")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	now := s.now().UTC()
	t := &Token{
		ID:         uuid.NewString(),
		SecretHash: hashSecret(secret),
		OwnerID:    ownerID,
		Scopes:     normaliseScopes(scopes),
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, expiryDays),
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("opaque.token_id", t.ID), attribute.Int64("opaque.owner_id", ownerID))
	s.logger.InfoContext(ctx, "opaque token created",
		slog.String("token_id", t.ID),
		slog.Int64("owner_id", ownerID),
		slog.Time("expires_at", t.ExpiresAt))
	return &Issued{TokenID: t.ID, TokenValue: t.ID + "." + secret, ExpiresAt: t.ExpiresAt}, nil
}

// Verify checks a presented "<id>.<secret>" value and returns a principal
// carrying the owner's role.
func (s *Service) Verify(ctx context.Context, presented string) (*auth.Principal, error) {
	ctx, span := s.tracer.Start(ctx, "opaque.Verify")
	defer span.End()

	p, err := s.verify(ctx, presented)
	finishSpan(span, err)
	return p, err
}

// VerifyBearer implements [auth.BearerVerifier].
func (s *Service) VerifyBearer(ctx context.Context, presented string) (*auth.Principal, error) {
	return s.Verify(ctx, presented)
}

func (s *Service) verify(ctx context.Context, presented string) (*auth.Principal, error) {
	id, secret, ok := strings.Cut(presented, ".")
	if !ok || id == "" || secret == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: malformed token")
	}
	// Reject anything that cannot be a token id before touching the store;
	// signed tokens land here after failing signature verification.
	if _, err := uuid.Parse(id); err != nil {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: malformed token id")
	}

	t, err := s.store.GetToken(ctx, id)
	if err != nil {
		if sserr.IsNotFound(err) {
			return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: unknown token")
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(secret)), []byte(t.SecretHash)) != 1 {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: secret mismatch")
	}
	if t.Revoked {
		return nil, sserr.New(sserr.CodeAuthenticationRevoked, "opaque: token revoked")
	}
	if !s.now().Before(t.ExpiresAt) {
		return nil, sserr.New(sserr.CodeAuthenticationExpired, "opaque: token expired")
	}

	user, err := s.users.UserByID(ctx, t.OwnerID)
	if err != nil {
		if sserr.IsNotFound(err) {
			return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: owner no longer exists")
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "opaque: owner disabled")
	}
	return user.Principal(), nil
}

// Revoke marks the token revoked. It is idempotent; unknown ids fail with
// [sserr.CodeNotFoundToken].
func (s *Service) Revoke(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "opaque.Revoke")
	defer span.End()

	if err := s.store.RevokeToken(ctx, id); err != nil {
		finishSpan(span, err)
		return err
	}
	s.logger.InfoContext(ctx, "opaque token revoked", slog.String("token_id", id))
	return nil
}

// List returns the tokens of ownerID, newest first as ordered by the store.
func (s *Service) List(ctx context.Context, ownerID int64) ([]*Token, error) {
	return s.store.ListTokens(ctx, ownerID)
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashSecret returns the lowercase hex SHA-256 of secret.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func normaliseScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		if sc = strings.TrimSpace(sc); sc != "" {
			out = append(out, sc)
		}
	}
	return out
}

func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
