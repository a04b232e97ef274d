package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	principalKey contextKey = iota
	methodKey
)

// ContextWithPrincipal attaches p to ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by the entry, if any.
// It never returns a nil principal with true.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// MustPrincipalFromContext panics when no principal is attached. Use it
// only behind [RequireAuthenticated].
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure the authentication entry and guard are installed")
	}
	return p
}

// ContextWithMethod records which verifier accepted the credential.
func ContextWithMethod(ctx context.Context, m Method) context.Context {
	return context.WithValue(ctx, methodKey, m)
}

// MethodFromContext returns the verifier that accepted the credential.
func MethodFromContext(ctx context.Context) (Method, bool) {
	m, ok := ctx.Value(methodKey).(Method)
	return m, ok
}

// TraceIDFromContext returns the active OpenTelemetry trace id, for
// correlating authentication log lines with traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
