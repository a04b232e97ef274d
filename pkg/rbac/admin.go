package rbac

import (
	"context"
	"log/slog"
	"strings"
)

// Admin manages roles, permissions and their assignments. With
// reload-on-write (the default) every successful mutation is followed by
// a full cache reload; otherwise changes become visible only after
// [Admin.Reload].
type Admin struct {
	store         Store
	cache         *PermissionCache
	reloadOnWrite bool
	logger        *slog.Logger
}

// AdminOption configures an [Admin].
type AdminOption func(*Admin)

// WithReloadOnWrite toggles the reload after each mutation.
func WithReloadOnWrite(enabled bool) AdminOption {
	return func(a *Admin) { a.reloadOnWrite = enabled }
}

// WithAdminLogger sets the logger; slog.Default is used otherwise.
func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(a *Admin) { a.logger = logger }
}

// NewAdmin returns an Admin over store that reloads cache.
func NewAdmin(store Store, cache *PermissionCache, opts ...AdminOption) *Admin {
	a := &Admin{store: store, cache: cache, reloadOnWrite: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

func (a *Admin) ListRoles(ctx context.Context) ([]Role, error) {
	return a.store.ListRoles(ctx)
}

func (a *Admin) GetRole(ctx context.Context, name string) (*Role, error) {
	return a.store.GetRole(ctx, strings.TrimSpace(name))
}

func (a *Admin) CreateRole(ctx context.Context, r Role) (*Role, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := a.store.CreateRole(ctx, &r); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "role created", slog.String("role", r.Name))
	a.afterWrite(ctx)
	return &r, nil
}

// UpdateRole replaces the name and description of the role called name.
func (a *Admin) UpdateRole(ctx context.Context, name string, r Role) (*Role, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := a.store.UpdateRole(ctx, strings.TrimSpace(name), &r); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "role updated", slog.String("role", name), slog.String("new_name", r.Name))
	a.afterWrite(ctx)
	return &r, nil
}

func (a *Admin) DeleteRole(ctx context.Context, name string) error {
	if err := a.store.DeleteRole(ctx, strings.TrimSpace(name)); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "role deleted", slog.String("role", name))
	a.afterWrite(ctx)
	return nil
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func (a *Admin) ListPermissions(ctx context.Context) ([]Permission, error) {
	return a.store.ListPermissions(ctx)
}

func (a *Admin) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	return a.store.GetPermission(ctx, id)
}

func (a *Admin) CreatePermission(ctx context.Context, p Permission) (*Permission, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := a.store.CreatePermission(ctx, &p); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "permission created", slog.Int64("permission_id", p.ID))
	a.afterWrite(ctx)
	return &p, nil
}

func (a *Admin) UpdatePermission(ctx context.Context, id int64, p Permission) (*Permission, error) {
	p.ID = id
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := a.store.UpdatePermission(ctx, &p); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "permission updated", slog.Int64("permission_id", id))
	a.afterWrite(ctx)
	return &p, nil
}

func (a *Admin) DeletePermission(ctx context.Context, id int64) error {
	if err := a.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "permission deleted", slog.Int64("permission_id", id))
	a.afterWrite(ctx)
	return nil
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

// PermissionsForRole reads the role's permissions from the store, not the
// cache, so admins see their writes immediately.
func (a *Admin) PermissionsForRole(ctx context.Context, role string) ([]Permission, error) {
	role = strings.TrimSpace(role)
	if _, err := a.store.GetRole(ctx, role); err != nil {
		return nil, err
	}
	return a.store.PermissionsForRole(ctx, role)
}

func (a *Admin) AssignPermission(ctx context.Context, role string, permissionID int64) error {
	if err := a.store.AssignPermission(ctx, strings.TrimSpace(role), permissionID); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "permission assigned", slog.String("role", role), slog.Int64("permission_id", permissionID))
	a.afterWrite(ctx)
	return nil
}

func (a *Admin) RevokePermission(ctx context.Context, role string, permissionID int64) error {
	if err := a.store.RevokePermission(ctx, strings.TrimSpace(role), permissionID); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "permission revoked", slog.String("role", role), slog.Int64("permission_id", permissionID))
	a.afterWrite(ctx)
	return nil
}

// Reload rebuilds the permission cache from the store.
func (a *Admin) Reload(ctx context.Context) error {
	return a.cache.ReloadAll(ctx)
}

// afterWrite reloads the cache when reload-on-write is on. A failed
// reload does not fail the committed write; the cache keeps its previous
// snapshot and the failure is logged by ReloadAll.
func (a *Admin) afterWrite(ctx context.Context) {
	if !a.reloadOnWrite {
		return
	}
	_ = a.cache.ReloadAll(ctx)
}
