// Package httpapi is the HTTP surface of the identity service: login,
// the JWKS document, opaque token administration, RBAC administration,
// health and metrics.
//
//	api := httpapi.New(httpapi.Deps{...}, httpapi.Config{AdminRole: "ADMIN"})
//	srv := &http.Server{Addr: ":8080", Handler: api.Routes()}
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"

	"github.com/StricklySoft/stricklysoft-iam/internal/metrics"
	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	"github.com/StricklySoft/stricklysoft-iam/pkg/credentials"
	"github.com/StricklySoft/stricklysoft-iam/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-iam/pkg/opaque"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
	"github.com/StricklySoft/stricklysoft-iam/pkg/token"
)

// DefaultAdminRole guards the token and RBAC administration routes.
const DefaultAdminRole = "ADMIN"

// Config tunes the HTTP surface.
type Config struct {
	// AdminRole is the role privileged routes require.
	AdminRole string `env:"ADMIN_ROLE" envDefault:"ADMIN" yaml:"admin_role" json:"admin_role"`

	// LoginRateLimit caps login attempts per client IP per minute. Zero
	// disables the limit.
	LoginRateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"30" yaml:"login_rate_limit" json:"login_rate_limit"`

	// Development relaxes the security headers middleware.
	Development bool `env:"DEVELOPMENT" yaml:"development" json:"development"`
}

// Deps are the components the handlers call. Service and Metrics may be
// nil.
type Deps struct {
	Chain         *credentials.Chain
	Tokens        *token.Service
	Opaque        *opaque.Service
	Admin         *rbac.Admin
	Authenticator *auth.Authenticator
	Service       *lifecycle.Service
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// API holds the handlers.
type API struct {
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
}

// New returns the API. An empty AdminRole falls back to
// [DefaultAdminRole].
func New(deps Deps, cfg Config) *API {
	if cfg.AdminRole == "" {
		cfg.AdminRole = DefaultAdminRole
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		validate: newValidator(),
	}
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		IsDevelopment:         a.cfg.Development,
	})

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		a.deps.Metrics.Middleware,
		a.accessLog,
		middleware.Recoverer,
		secureMiddleware.Handler,
		auth.HTTPMiddleware(a.deps.Authenticator),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, errNotFound)
	})

	r.Get("/.well-known/jwks.json", a.jwks)
	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", a.deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if a.cfg.LoginRateLimit > 0 {
			r.Use(httprate.LimitByIP(a.cfg.LoginRateLimit, time.Minute))
		}
		r.Post("/auth/login", a.login)
	})

	r.Route("/tokens", func(r chi.Router) {
		r.Use(auth.RequireRole(a.cfg.AdminRole))
		r.Post("/", a.createToken)
		r.Get("/", a.listTokens)
		r.Delete("/{tokenId}", a.revokeToken)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireRole(a.cfg.AdminRole))

		r.Get("/roles", a.listRoles)
		r.Post("/roles", a.createRole)
		r.Get("/roles/{roleName}", a.getRole)
		r.Put("/roles/{roleName}", a.updateRole)
		r.Delete("/roles/{roleName}", a.deleteRole)
		r.Get("/roles/{roleName}/permissions", a.rolePermissions)
		r.Put("/roles/{roleName}/permissions/{permissionId}", a.assignPermission)
		r.Delete("/roles/{roleName}/permissions/{permissionId}", a.revokePermission)

		r.Get("/permissions", a.listPermissions)
		r.Post("/permissions", a.createPermission)
		r.Get("/permissions/{permissionId}", a.getPermission)
		r.Put("/permissions/{permissionId}", a.updatePermission)
		r.Delete("/permissions/{permissionId}", a.deletePermission)

		r.Post("/cache/reload", a.reloadCache)
	})
	return r
}

// accessLog logs one line per request at Info, or Debug for probes.
func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		a.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
