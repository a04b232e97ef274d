package auth

import (
	"context"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type interceptorConfig struct {
	requireAuth bool
	exempt      []string
}

// InterceptorOption configures the gRPC interceptors.
type InterceptorOption func(*interceptorConfig)

// RequireAuthentication makes the interceptors return Unauthenticated for
// calls without a principal, except for the exempt full method names
// (for example "/grpc.health.v1.Health/Check").
func RequireAuthentication(exemptMethods ...string) InterceptorOption {
	return func(c *interceptorConfig) {
		c.requireAuth = true
		c.exempt = append(c.exempt, exemptMethods...)
	}
}

// UnaryServerInterceptor applies the authentication entry to unary calls.
// Without [RequireAuthentication] it behaves like [HTTPMiddleware] and
// never rejects.
func UnaryServerInterceptor(a *Authenticator, opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	cfg := newInterceptorConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticateGRPC(ctx, a, cfg, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of [UnaryServerInterceptor].
func StreamServerInterceptor(a *Authenticator, opts ...InterceptorOption) grpc.StreamServerInterceptor {
	cfg := newInterceptorConfig(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticateGRPC(ss.Context(), a, cfg, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func newInterceptorConfig(opts []InterceptorOption) *interceptorConfig {
	cfg := &interceptorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func authenticateGRPC(ctx context.Context, a *Authenticator, cfg *interceptorConfig, method string) (context.Context, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(HeaderAuthorization); len(values) > 0 {
			token = ExtractBearerToken(values[0])
		}
	}

	if token != "" {
		if p, m, ok := a.Authenticate(ctx, token); ok {
			return ContextWithMethod(ContextWithPrincipal(ctx, p), m), nil
		}
	}

	if cfg.requireAuth && !slices.Contains(cfg.exempt, method) {
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return ctx, nil
}

// wrappedServerStream overrides Context so handlers see the principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
