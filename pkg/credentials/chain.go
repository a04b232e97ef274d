// Package credentials verifies username/password credentials against an
// ordered list of identity providers.
//
// The [Chain] tries each provider in turn. A provider that does not handle
// the credential declines with [ErrNotApplicable]; a provider that fails
// is logged and skipped. The first success wins. When every provider has
// declined or failed, the caller gets one generic AUTH_001 error, so the
// response never reveals which directory knew the user.
package credentials

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	"github.com/StricklySoft/stricklysoft-iam/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/credentials"

// ErrNotApplicable is returned by a provider that does not handle a
// credential, such as an Active Directory provider given a user of a
// foreign domain.
var ErrNotApplicable = errors.New("credentials: provider not applicable")

// errInvalid is the cause used by providers for a plain credential mismatch.
var errInvalid = errors.New("credentials: username or password mismatch")

// Kind is the credential type.
type Kind string

// KindPassword is a username/password pair.
const KindPassword Kind = "password"

// Credential is a login attempt. Password is redacted when printed.
type Credential struct {
	Kind     Kind
	Username string
	Password config.Secret
}

// PasswordCredential builds a [KindPassword] credential.
func PasswordCredential(username, password string) Credential {
	return Credential{Kind: KindPassword, Username: username, Password: config.Secret(password)}
}

// Provider authenticates credentials against one identity source.
type Provider interface {
	Name() string
	Supports(kind Kind) bool
	Authenticate(ctx context.Context, cred Credential) (*auth.Principal, error)
}

// Observer is notified of each provider outcome. provider is "" when the
// whole chain failed.
type Observer func(provider string, ok bool)

// Chain is an ordered list of providers.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer
}

// Option configures a [Chain].
type Option func(*Chain)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// WithObserver registers a metrics callback.
func WithObserver(o Observer) Option {
	return func(c *Chain) { c.observer = o }
}

// NewChain returns a chain over providers in the given order.
func NewChain(providers []Provider, opts ...Option) *Chain {
	c := &Chain{
		providers: providers,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Authenticate returns the principal from the first provider that accepts
// cred, together with that provider's name.
func (c *Chain) Authenticate(ctx context.Context, cred Credential) (*auth.Principal, string, error) {
	ctx, span := c.tracer.Start(ctx, "credentials.Authenticate")
	defer span.End()

	for _, p := range c.providers {
		if !p.Supports(cred.Kind) {
			continue
		}
		principal, err := p.Authenticate(ctx, cred)
		switch {
		case err == nil && principal != nil:
			span.SetAttributes(attribute.String("credentials.provider", p.Name()))
			c.observe(p.Name(), true)
			c.logger.InfoContext(ctx, "login succeeded",
				slog.String("provider", p.Name()),
				slog.String("username", cred.Username))
			return principal, p.Name(), nil
		case errors.Is(err, ErrNotApplicable):
			c.logger.DebugContext(ctx, "provider declined credential", slog.String("provider", p.Name()))
		default:
			if err == nil {
				err = errors.New("provider returned no principal")
			}
			c.observe(p.Name(), false)
			c.logger.WarnContext(ctx, "provider rejected credential",
				slog.String("provider", p.Name()),
				slog.String("username", cred.Username),
				slog.String("reason", err.Error()))
		}
	}

	err := sserr.Unauthorized("invalid credentials")
	span.SetStatus(codes.Error, err.Message)
	c.observe("", false)
	return nil, "", err
}

func (c *Chain) observe(provider string, ok bool) {
	if c.observer != nil {
		c.observer(provider, ok)
	}
}
