// Package rbac holds the role and permission model, the role→permission
// cache and the authorization engine.
//
// A permission grants one operation on one resource type at a scope:
//
//	ALL         every instance
//	DEPARTMENT  instances whose department equals the principal's
//	OWN         instances owned by the principal
//
// and may restrict individual fields to READ, WRITE or HIDDEN. A role's
// effective rights are the union of its permissions, and a principal's
// the union over its roles.
package rbac

import (
	"context"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// Operation is an action on a resource.
type Operation string

const (
	OperationRead   Operation = "READ"
	OperationWrite  Operation = "WRITE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationRead, OperationWrite, OperationDelete:
		return true
	}
	return false
}

// Scope bounds which instances a permission covers.
type Scope string

const (
	ScopeOwn        Scope = "OWN"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeAll        Scope = "ALL"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwn, ScopeDepartment, ScopeAll:
		return true
	}
	return false
}

// Covers reports whether a grant at s satisfies a request at requested.
// ALL covers every scope; other scopes cover only themselves.
func (s Scope) Covers(requested Scope) bool {
	return s == ScopeAll || s == requested
}

// FieldAccess is the visibility of a single field.
type FieldAccess string

const (
	FieldRead   FieldAccess = "READ"
	FieldWrite  FieldAccess = "WRITE"
	FieldHidden FieldAccess = "HIDDEN"
)

// Valid reports whether a is a known field access level.
func (a FieldAccess) Valid() bool {
	switch a {
	case FieldRead, FieldWrite, FieldHidden:
		return true
	}
	return false
}

// Role is a named bundle of permissions.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate trims the role and checks its name.
func (r *Role) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if r.Name == "" {
		return sserr.Required("name")
	}
	if len(r.Name) > 64 {
		return sserr.Validation("name must be at most 64 characters").WithDetail("field", "name")
	}
	return nil
}

// Permission grants Operation on ResourceType at Scope.
type Permission struct {
	ID               int64                  `json:"id"`
	ResourceType     string                 `json:"resource_type"`
	Operation        Operation              `json:"operation"`
	Scope            Scope                  `json:"scope"`
	FieldPermissions map[string]FieldAccess `json:"field_permissions,omitempty"`
}

// Validate trims the permission and checks its enums.
func (p *Permission) Validate() error {
	p.ResourceType = strings.TrimSpace(p.ResourceType)
	if p.ResourceType == "" {
		return sserr.Required("resource_type")
	}
	if !p.Operation.Valid() {
		return sserr.Validationf("operation %q must be one of READ, WRITE, DELETE", p.Operation).WithDetail("field", "operation")
	}
	if !p.Scope.Valid() {
		return sserr.Validationf("scope %q must be one of OWN, DEPARTMENT, ALL", p.Scope).WithDetail("field", "scope")
	}
	for field, access := range p.FieldPermissions {
		if strings.TrimSpace(field) == "" {
			return sserr.Validation("field permission names must not be empty").WithDetail("field", "field_permissions")
		}
		if !access.Valid() {
			return sserr.Validationf("field %q access %q must be one of READ, WRITE, HIDDEN", field, access).
				WithDetail("field", "field_permissions")
		}
	}
	return nil
}

// Source reads role permissions for the cache. PermissionsForRole returns
// an empty slice for a role without permissions or an unknown role.
type Source interface {
	PermissionsForRole(ctx context.Context, role string) ([]Permission, error)
	AllRolePermissions(ctx context.Context) (map[string][]Permission, error)
}

// Store is the persistence behind the admin service. Unknown roles fail
// with [sserr.CodeNotFoundRole], unknown permissions and assignments with
// [sserr.CodeNotFoundPermission], duplicates with
// [sserr.CodeConflictAlreadyExists]. Deleting a role or permission removes
// its assignments.
type Store interface {
	Source

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, name string, r *Role) error
	DeleteRole(ctx context.Context, name string) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id int64) error

	AssignPermission(ctx context.Context, role string, permissionID int64) error
	RevokePermission(ctx context.Context, role string, permissionID int64) error
}

// Instance is a protected resource instance.
type Instance interface {
	InstanceDepartment() string
	InstanceOwner() (int64, bool)
}

// InstanceRef is a plain [Instance].
type InstanceRef struct {
	Department string
	OwnerID    *int64
}

func (r InstanceRef) InstanceDepartment() string { return r.Department }

func (r InstanceRef) InstanceOwner() (int64, bool) {
	if r.OwnerID == nil {
		return 0, false
	}
	return *r.OwnerID, true
}
