package rbac_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-iam/internal/store/memory"
	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	"github.com/StricklySoft/stricklysoft-iam/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

type harness struct {
	store  *memory.Store
	cache  *rbac.PermissionCache
	admin  *rbac.Admin
	engine *rbac.Engine
}

func newHarness(t *testing.T, opts ...rbac.AdminOption) *harness {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	store := memory.New()
	cache := rbac.NewPermissionCache(store, rbac.WithCacheLogger(discard))
	admin := rbac.NewAdmin(store, cache, append([]rbac.AdminOption{rbac.WithAdminLogger(discard)}, opts...)...)
	return &harness{store: store, cache: cache, admin: admin, engine: rbac.NewEngine(cache, discard)}
}

func (h *harness) grant(t *testing.T, role string, p rbac.Permission) *rbac.Permission {
	t.Helper()
	ctx := context.Background()
	if _, err := h.admin.GetRole(ctx, role); err != nil {
		_, err = h.admin.CreateRole(ctx, rbac.Role{Name: role})
		require.NoError(t, err)
	}
	created, err := h.admin.CreatePermission(ctx, p)
	require.NoError(t, err)
	require.NoError(t, h.admin.AssignPermission(ctx, role, created.ID))
	return created
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

func TestAdmin_RoleLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.admin.CreateRole(ctx, rbac.Role{Name: " " + fixtures.RoleAuditor + " ", Description: "read-only"})
	require.NoError(t, err)
	assert.Equal(t, fixtures.RoleAuditor, created.Name)
	assert.NotZero(t, created.ID)

	_, err = h.admin.CreateRole(ctx, rbac.Role{Name: fixtures.RoleAuditor})
	testutil.RequireErrorCode(t, err, sserr.CodeConflictAlreadyExists)

	_, err = h.admin.CreateRole(ctx, rbac.Role{})
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)

	updated, err := h.admin.UpdateRole(ctx, fixtures.RoleAuditor, rbac.Role{Name: "AUDIT", Description: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "AUDIT", updated.Name)

	_, err = h.admin.GetRole(ctx, fixtures.RoleAuditor)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundRole)

	roles, err := h.admin.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "AUDIT", roles[0].Name)

	require.NoError(t, h.admin.DeleteRole(ctx, "AUDIT"))
	testutil.RequireErrorCode(t, h.admin.DeleteRole(ctx, "AUDIT"), sserr.CodeNotFoundRole)
}

// ---------------------------------------------------------------------------
// Permissions and assignments
// ---------------------------------------------------------------------------

func TestAdmin_PermissionValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.admin.CreatePermission(context.Background(), rbac.Permission{
		ResourceType: fixtures.ResourceComputerSystem,
		Operation:    "EXECUTE",
		Scope:        rbac.ScopeAll,
	})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

func TestAdmin_AssignIsVisibleAfterReloadOnWrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	p := &auth.Principal{Roles: []string{fixtures.RoleUser}}
	inst := rbac.InstanceRef{Department: fixtures.DepartmentIT}

	_, err := h.admin.CreateRole(ctx, rbac.Role{Name: fixtures.RoleUser})
	require.NoError(t, err)
	assert.False(t, h.engine.CanAccessInstance(ctx, p, fixtures.ResourceComputerSystem, rbac.OperationRead, inst))

	h.grant(t, fixtures.RoleUser, rbac.Permission{
		ResourceType: fixtures.ResourceComputerSystem,
		Operation:    rbac.OperationRead,
		Scope:        rbac.ScopeAll,
	})
	assert.True(t, h.engine.CanAccessInstance(ctx, p, fixtures.ResourceComputerSystem, rbac.OperationRead, inst))
}

func TestAdmin_WithoutReloadOnWriteIsStale(t *testing.T) {
	t.Parallel()
	h := newHarness(t, rbac.WithReloadOnWrite(false))
	ctx := context.Background()

	_, err := h.admin.CreateRole(ctx, rbac.Role{Name: fixtures.RoleUser})
	require.NoError(t, err)
	assert.False(t, h.engine.HasPermission(ctx, fixtures.RoleUser, fixtures.ResourceComputerSystem, rbac.OperationRead, rbac.ScopeOwn))

	h.grant(t, fixtures.RoleUser, rbac.Permission{
		ResourceType: fixtures.ResourceComputerSystem,
		Operation:    rbac.OperationRead,
		Scope:        rbac.ScopeOwn,
	})
	assert.False(t, h.engine.HasPermission(ctx, fixtures.RoleUser, fixtures.ResourceComputerSystem, rbac.OperationRead, rbac.ScopeOwn))

	// The admin view reads the store directly.
	perms, err := h.admin.PermissionsForRole(ctx, fixtures.RoleUser)
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	require.NoError(t, h.admin.Reload(ctx))
	assert.True(t, h.engine.HasPermission(ctx, fixtures.RoleUser, fixtures.ResourceComputerSystem, rbac.OperationRead, rbac.ScopeOwn))
}

func TestAdmin_AssignmentErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	perm := h.grant(t, fixtures.RoleAdmin, rbac.Permission{
		ResourceType: fixtures.ResourceComputerSystem,
		Operation:    rbac.OperationDelete,
		Scope:        rbac.ScopeAll,
	})

	testutil.AssertErrorCode(t, h.admin.AssignPermission(ctx, fixtures.RoleAdmin, perm.ID), sserr.CodeConflictAlreadyExists)
	testutil.AssertErrorCode(t, h.admin.AssignPermission(ctx, "GHOST", perm.ID), sserr.CodeNotFoundRole)
	testutil.AssertErrorCode(t, h.admin.AssignPermission(ctx, fixtures.RoleAdmin, 9999), sserr.CodeNotFoundPermission)

	require.NoError(t, h.admin.RevokePermission(ctx, fixtures.RoleAdmin, perm.ID))
	testutil.AssertErrorCode(t, h.admin.RevokePermission(ctx, fixtures.RoleAdmin, perm.ID), sserr.CodeNotFoundPermission)

	_, err := h.admin.PermissionsForRole(ctx, "GHOST")
	testutil.AssertErrorCode(t, err, sserr.CodeNotFoundRole)
}

func TestAdmin_UpdateAndDeletePermission(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	p := &auth.Principal{Roles: []string{fixtures.RoleUser}}
	perm := h.grant(t, fixtures.RoleUser, rbac.Permission{
		ResourceType: fixtures.ResourceComputerSystem,
		Operation:    rbac.OperationWrite,
		Scope:        rbac.ScopeAll,
	})
	assert.True(t, h.engine.CanWriteField(ctx, p, fixtures.ResourceComputerSystem, "hostname"))

	perm.FieldPermissions = map[string]rbac.FieldAccess{"hostname": rbac.FieldRead}
	_, err := h.admin.UpdatePermission(ctx, perm.ID, *perm)
	require.NoError(t, err)
	assert.False(t, h.engine.CanWriteField(ctx, p, fixtures.ResourceComputerSystem, "hostname"))

	got, err := h.admin.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.FieldRead, got.FieldPermissions["hostname"])

	require.NoError(t, h.admin.DeletePermission(ctx, perm.ID))
	perms, err := h.admin.PermissionsForRole(ctx, fixtures.RoleUser)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.False(t, h.engine.HasPermission(ctx, fixtures.RoleUser, fixtures.ResourceComputerSystem, rbac.OperationWrite, rbac.ScopeAll))

	_, err = h.admin.UpdatePermission(ctx, perm.ID, *perm)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFoundPermission)
}
