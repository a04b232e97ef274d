package rbac

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-iam/pkg/rbac"

// snapshot is an immutable view of the cache. gen increments on every
// full reload.
type snapshot struct {
	gen   uint64
	roles map[string][]Permission
}

// ReloadSourceLocal labels reloads started without [WithReloadSource].
const ReloadSourceLocal = "local"

// ReloadEvent describes a completed reload.
type ReloadEvent struct {
	Generation uint64
	Roles      int
	Duration   time.Duration
	Source     string
}

type reloadSourceKey struct{}

// WithReloadSource labels the reloads run with ctx. Listeners see the
// label in [ReloadEvent.Source].
func WithReloadSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, reloadSourceKey{}, source)
}

func reloadSource(ctx context.Context) string {
	if s, ok := ctx.Value(reloadSourceKey{}).(string); ok && s != "" {
		return s
	}
	return ReloadSourceLocal
}

// PermissionCache maps role names to permissions.
//
// Reads are a single atomic load. A miss loads the role from the source,
// with concurrent misses for the same role sharing one load, and
// publishes it into a copy of the current snapshot unless a reload has
// happened in the meantime. ReloadAll replaces the whole snapshot at
// once, so a role is never visible half-loaded. Writes to the source are
// not seen until the next reload or first miss.
//
// Returned slices are shared between callers and must not be modified.
type PermissionCache struct {
	source Source
	snap   atomic.Pointer[snapshot]
	loads  singleflight.Group

	mu        sync.Mutex // serialises snapshot writers and guards listeners
	listeners []func(ReloadEvent)

	logger *slog.Logger
	tracer trace.Tracer
}

// CacheOption configures a [PermissionCache].
type CacheOption func(*PermissionCache)

// WithCacheLogger sets the logger; slog.Default is used otherwise.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *PermissionCache) { c.logger = logger }
}

// NewPermissionCache returns an empty cache over source.
func NewPermissionCache(source Source, opts ...CacheOption) *PermissionCache {
	c := &PermissionCache{
		source: source,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	c.snap.Store(&snapshot{roles: map[string][]Permission{}})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the permissions of role, loading it on a miss.
func (c *PermissionCache) Get(ctx context.Context, role string) ([]Permission, error) {
	if perms, ok := c.snap.Load().roles[role]; ok {
		return perms, nil
	}

	// The shared load must not die with the first caller's context.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(role, func() (any, error) {
		gen := c.snap.Load().gen
		perms, err := c.source.PermissionsForRole(loadCtx, role)
		if err != nil {
			return nil, err
		}
		if perms == nil {
			perms = []Permission{}
		}
		c.publish(role, perms, gen)
		return perms, nil
	})

	select {
	case <-ctx.Done():
		return nil, sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "rbac: permission load cancelled")
	case res := <-ch:
		if res.Err != nil {
			return nil, sserr.Wrapf(res.Err, sserr.CodeInternalDatabase, "rbac: failed to load permissions of role %q", role)
		}
		return res.Val.([]Permission), nil
	}
}

// publish adds role to the current snapshot if no reload happened since
// the load began at gen.
func (c *PermissionCache) publish(role string, perms []Permission, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur.gen != gen {
		return
	}
	next := make(map[string][]Permission, len(cur.roles)+1)
	maps.Copy(next, cur.roles)
	next[role] = perms
	c.snap.Store(&snapshot{gen: cur.gen, roles: next})
}

// ReloadAll reads every role from the source and swaps in a new snapshot.
// On error the previous snapshot stays in place.
func (c *PermissionCache) ReloadAll(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "rbac.ReloadAll")
	defer span.End()

	start := time.Now()
	all, err := c.source.AllRolePermissions(ctx)
	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeInternalDatabase, "rbac: permission reload failed")
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		c.logger.ErrorContext(ctx, "permission cache reload failed, keeping previous snapshot",
			slog.String("error", err.Error()))
		return wrapped
	}
	if all == nil {
		all = map[string][]Permission{}
	}

	c.mu.Lock()
	gen := c.snap.Load().gen + 1
	c.snap.Store(&snapshot{gen: gen, roles: all})
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	ev := ReloadEvent{Generation: gen, Roles: len(all), Duration: time.Since(start), Source: reloadSource(ctx)}
	span.SetAttributes(attribute.Int64("rbac.generation", int64(gen)), attribute.Int("rbac.roles", ev.Roles))
	c.logger.InfoContext(ctx, "permission cache reloaded",
		slog.Uint64("generation", gen),
		slog.Int("roles", ev.Roles),
		slog.String("source", ev.Source),
		slog.Duration("duration", ev.Duration))

	for _, l := range listeners {
		l(ev)
	}
	return nil
}

// OnReload registers fn to run after each successful ReloadAll.
func (c *PermissionCache) OnReload(fn func(ReloadEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Generation returns the number of completed reloads.
func (c *PermissionCache) Generation() uint64 {
	return c.snap.Load().gen
}

// Len returns the number of cached roles.
func (c *PermissionCache) Len() int {
	return len(c.snap.Load().roles)
}
