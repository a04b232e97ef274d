package auth

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/auth"

// Method names the verifier that accepted a bearer credential.
type Method string

const (
	MethodSigned Method = "signed"
	MethodOpaque Method = "opaque"
	MethodNone   Method = "none"
)

// BearerVerifier turns a bearer credential into a principal. Both the
// signed-token service and the opaque-token service implement it.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, credential string) (*Principal, error)
}

// Observer is notified of every authentication attempt.
type Observer func(method Method, ok bool)

// Authenticator is the request authentication entry.
type Authenticator struct {
	signed   BearerVerifier
	opaque   BearerVerifier
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// AuthenticatorOption configures an [Authenticator].
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.logger = logger }
}

// WithObserver registers a callback for metrics.
func WithObserver(o Observer) AuthenticatorOption {
	return func(a *Authenticator) { a.observer = o }
}

// NewAuthenticator returns an entry over the two verifiers. Either may be
// nil, in which case that path is skipped.
func NewAuthenticator(signed, opaque BearerVerifier, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		signed: signed,
		opaque: opaque,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate makes a single synchronous pass over the credential:
// signed verification first, then opaque verification when the signed
// path failed and the credential has the "id.secret" shape. It returns
// false when neither accepts the credential.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, Method, bool) {
	if credential == "" {
		return nil, MethodNone, false
	}
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	if a.signed != nil {
		p, err := a.signed.VerifyBearer(ctx, credential)
		if err == nil {
			return a.accept(span, p, MethodSigned)
		}
		a.logger.DebugContext(ctx, "signed token rejected", slog.String("reason", err.Error()))
	}

	if a.opaque != nil && strings.Contains(credential, ".") {
		p, err := a.opaque.VerifyBearer(ctx, credential)
		if err == nil {
			return a.accept(span, p, MethodOpaque)
		}
		a.logger.DebugContext(ctx, "opaque token rejected", slog.String("reason", err.Error()))
	}

	attrs := []any{slog.String("reason", "no verifier accepted the credential")}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	a.logger.WarnContext(ctx, "bearer authentication failed", attrs...)
	span.SetAttributes(attribute.String("auth.method", string(MethodNone)))
	a.observe(MethodNone, false)
	return nil, MethodNone, false
}

func (a *Authenticator) accept(span trace.Span, p *Principal, m Method) (*Principal, Method, bool) {
	span.SetAttributes(
		attribute.String("auth.method", string(m)),
		attribute.String("auth.principal", p.Name),
	)
	a.observe(m, true)
	return p, m, true
}

func (a *Authenticator) observe(m Method, ok bool) {
	if a.observer != nil {
		a.observer(m, ok)
	}
}

// bearerPrefix is matched case-insensitively.
const bearerPrefix = "Bearer "

// HeaderAuthorization is the HTTP header and gRPC metadata key carrying
// the credential. gRPC metadata keys are lowercase.
const HeaderAuthorization = "authorization"

// ExtractBearerToken returns the token of a "Bearer <token>" header value,
// or "" when the value has another scheme or is empty.
func ExtractBearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
