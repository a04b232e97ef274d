// Package app wires the identity service together from a [Config]: key
// material, the token services, the credential chain, persistence, the
// permission cache and its reload bus, metrics, and the HTTP API, all
// under one lifecycle service.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/StricklySoft/stricklysoft-iam/internal/httpapi"
	"github.com/StricklySoft/stricklysoft-iam/internal/metrics"
	"github.com/StricklySoft/stricklysoft-iam/internal/reloadbus"
	"github.com/StricklySoft/stricklysoft-iam/internal/store/memory"
	pgstore "github.com/StricklySoft/stricklysoft-iam/internal/store/postgres"
	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	pgclient "github.com/StricklySoft/stricklysoft-iam/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-iam/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-iam/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/keys"
	"github.com/StricklySoft/stricklysoft-iam/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-iam/pkg/opaque"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
	"github.com/StricklySoft/stricklysoft-iam/pkg/token"
)

// Store is everything the service persists.
type Store interface {
	auth.UserDirectory
	rbac.Store
	opaque.Store

	CreateUser(ctx context.Context, u *auth.User) error
	Ping(ctx context.Context) error
}

// App is a wired service. Start and Stop go through Service.
type App struct {
	Service       *lifecycle.Service
	Tokens        *token.Service
	Opaque        *opaque.Service
	Chain         *credentials.Chain
	Cache         *rbac.PermissionCache
	Admin         *rbac.Admin
	Engine        *rbac.Engine
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics
	Bus           *reloadbus.Bus
	API           *httpapi.API

	cfg      Config
	store    Store
	pgClient *pgclient.Client
	logger   *slog.Logger
}

type options struct {
	logger    *slog.Logger
	lookupEnv func(string) (string, bool)
	dial      credentials.Dialer
	store     Store
}

// Option configures [New].
type Option func(*options)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLookupEnv replaces os.LookupEnv for the key loader's PEM variables.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = fn }
}

// WithDialer replaces the LDAP and Active Directory dialer.
func WithDialer(dial credentials.Dialer) Option {
	return func(o *options) { o.dial = dial }
}

// WithStore bypasses the configured storage driver.
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// New builds the service. It connects to PostgreSQL and Redis when they
// are configured but does not migrate, load permissions or subscribe
// until Service.Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: o.logger, Metrics: metrics.New()}

	material, err := a.loadKeys(ctx, o.lookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.Token.InsecureMode = cfg.InsecureMode
	if a.Tokens, err = token.New(material, cfg.Token, token.WithLogger(a.logger)); err != nil {
		return nil, err
	}

	builder := lifecycle.NewBuilder(cfg.Name, cfg.Version).
		WithLogger(a.logger).
		OnStateChange(func(old, new lifecycle.State) {
			a.logger.Info("service state changed",
				slog.String("from", old.String()),
				slog.String("to", new.String()))
		})

	if err := a.openStore(ctx, o.store, builder); err != nil {
		return nil, err
	}

	a.Chain = credentials.NewChain(a.providers(o.dial),
		credentials.WithLogger(a.logger),
		credentials.WithObserver(a.Metrics.ObserveLogin))
	a.Opaque = opaque.New(a.store, a.store, opaque.WithLogger(a.logger))

	a.Cache = rbac.NewPermissionCache(a.store, rbac.WithCacheLogger(a.logger))
	a.Cache.OnReload(a.Metrics.ObserveReload)
	a.Admin = rbac.NewAdmin(a.store, a.Cache,
		rbac.WithReloadOnWrite(cfg.RBAC.ReloadOnWrite),
		rbac.WithAdminLogger(a.logger))
	a.Engine = rbac.NewEngine(a.Cache, a.logger)

	a.Authenticator = auth.NewAuthenticator(a.Tokens, a.Opaque,
		auth.WithLogger(a.logger),
		auth.WithObserver(a.Metrics.ObserveBearer))

	builder.OnStart(a.bootstrapAdmin).OnStart(a.Cache.ReloadAll)

	if err := a.openBus(ctx, builder); err != nil {
		a.closeStore()
		return nil, err
	}

	if a.Service, err = builder.Build(); err != nil {
		a.closeStore()
		return nil, err
	}

	a.API = httpapi.New(httpapi.Deps{
		Chain:         a.Chain,
		Tokens:        a.Tokens,
		Opaque:        a.Opaque,
		Admin:         a.Admin,
		Authenticator: a.Authenticator,
		Service:       a.Service,
		Metrics:       a.Metrics,
		Logger:        a.logger,
	}, cfg.API)
	return a, nil
}

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.API.Routes()
}

// loadKeys returns nil material only in insecure mode.
func (a *App) loadKeys(ctx context.Context, lookupEnv func(string) (string, bool)) (*keys.Material, error) {
	loaderOpts := []keys.Option{keys.WithLogger(a.logger)}
	if lookupEnv != nil {
		loaderOpts = append(loaderOpts, keys.WithLookupEnv(lookupEnv))
	}
	material, err := keys.NewLoader(a.cfg.Keys, loaderOpts...).Load(ctx)
	if err == nil {
		return material, nil
	}
	if !a.cfg.InsecureMode {
		return nil, err
	}
	a.logger.ErrorContext(ctx, "no usable signing key; starting in INSECURE MODE",
		slog.String("error", err.Error()))
	return nil, nil
}

func (a *App) openStore(ctx context.Context, injected Store, builder *lifecycle.Builder) error {
	switch {
	case injected != nil:
		a.store = injected
	case a.cfg.Storage.Driver == DriverPostgres:
		client, err := pgclient.NewClient(ctx, a.cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		pg := pgstore.New(client, a.logger)
		a.store, a.pgClient = pg, client
		builder.OnStart(pg.Migrate).OnStop(func(context.Context) error {
			client.Close()
			return nil
		})
	default:
		a.store = memory.New()
	}
	builder.WithHealthCheck("storage", a.store.Ping)
	return nil
}

func (a *App) closeStore() {
	if a.pgClient != nil {
		a.pgClient.Close()
	}
}

// providers returns LDAP endpoints, then Active Directory, then local
// users.
func (a *App) providers(dial credentials.Dialer) []credentials.Provider {
	mapper := credentials.NewGroupRoleMapper(a.cfg.GroupRoles, a.cfg.DefaultRole)

	var providers []credentials.Provider
	for _, l := range a.cfg.LDAP {
		providers = append(providers, credentials.NewLDAPProvider(l, mapper, dial))
	}
	if a.cfg.ActiveDirectory.Enabled() {
		providers = append(providers, credentials.NewActiveDirectoryProvider(a.cfg.ActiveDirectory, mapper, dial))
	}
	if a.cfg.Local.Enabled {
		providers = append(providers, credentials.NewLocalProvider(a.store, a.comparer()))
	}
	return providers
}

func (a *App) comparer() credentials.BcryptComparer {
	return credentials.BcryptComparer{Cost: a.cfg.Local.BcryptCost}
}

func (a *App) openBus(ctx context.Context, builder *lifecycle.Builder) error {
	if !a.cfg.Redis.Configured() {
		return nil
	}
	client, err := redis.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	a.Bus = reloadbus.New(client, a.Cache,
		reloadbus.WithChannel(a.cfg.RBAC.ReloadChannel),
		reloadbus.WithLogger(a.logger))

	builder.
		OnStart(a.Bus.Start).
		OnStop(func(context.Context) error { return client.Close() }).
		OnStop(a.Bus.Stop).
		WithHealthCheck("redis", client.Health)
	return nil
}

// bootstrapAdmin creates the configured admin user when it is missing.
func (a *App) bootstrapAdmin(ctx context.Context) error {
	name := a.cfg.Local.BootstrapAdmin
	if name == "" {
		return nil
	}
	if _, err := a.store.UserByUsername(ctx, name); err == nil {
		return nil
	} else if !sserr.IsNotFound(err) {
		return err
	}

	hash, err := a.comparer().Hash(a.cfg.Local.BootstrapAdminPassword.Value())
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "app: failed to hash bootstrap admin password")
	}
	role := a.cfg.API.AdminRole
	if role == "" {
		role = httpapi.DefaultAdminRole
	}
	u := &auth.User{Username: name, PasswordHash: hash, Role: role, Enabled: true}
	if err := a.store.CreateUser(ctx, u); err != nil {
		if sserr.IsConflict(err) {
			return nil
		}
		return err
	}
	a.logger.InfoContext(ctx, "bootstrap admin created",
		slog.String("username", name),
		slog.String("role", role))
	return nil
}
