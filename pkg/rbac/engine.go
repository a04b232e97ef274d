package rbac

import (
	"context"
	"log/slog"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// PermissionLookup returns the permissions of a role. *PermissionCache
// implements it.
type PermissionLookup interface {
	Get(ctx context.Context, role string) ([]Permission, error)
}

// Engine answers authorization questions from cached permissions.
//
// The boolean checks fail closed when permissions cannot be loaded and
// log the failure; the Authorize* forms return it instead.
//
// Field checks default to allow: a field with no entry in any relevant
// field map is readable and writable. An explicit HIDDEN denies read and
// anything but WRITE denies write.
type Engine struct {
	perms  PermissionLookup
	logger *slog.Logger
}

// NewEngine returns an engine over perms. A nil logger uses slog.Default.
func NewEngine(perms PermissionLookup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{perms: perms, logger: logger}
}

// HasPermission reports whether role holds op on resourceType at a scope
// covering scope.
func (e *Engine) HasPermission(ctx context.Context, role, resourceType string, op Operation, scope Scope) bool {
	perms, err := e.perms.Get(ctx, role)
	if err != nil {
		e.logFailure(ctx, err)
		return false
	}
	for _, p := range perms {
		if p.ResourceType == resourceType && p.Operation == op && p.Scope.Covers(scope) {
			return true
		}
	}
	return false
}

// CanAccessInstance reports whether any of the principal's roles grants
// op on the instance.
func (e *Engine) CanAccessInstance(ctx context.Context, p *auth.Principal, resourceType string, op Operation, inst Instance) bool {
	ok, err := e.canAccess(ctx, p, resourceType, op, inst)
	if err != nil {
		e.logFailure(ctx, err)
		return false
	}
	return ok
}

// AuthorizeInstance is CanAccessInstance returning AUTHZ_002 on denial.
func (e *Engine) AuthorizeInstance(ctx context.Context, p *auth.Principal, resourceType string, op Operation, inst Instance) error {
	ok, err := e.canAccess(ctx, p, resourceType, op, inst)
	if err != nil {
		return err
	}
	if !ok {
		return sserr.Newf(sserr.CodeAuthorizationDenied, "%s on %s denied", op, resourceType).
			WithDetails(map[string]any{"operation": string(op), "resource_type": resourceType})
	}
	return nil
}

func (e *Engine) canAccess(ctx context.Context, p *auth.Principal, resourceType string, op Operation, inst Instance) (bool, error) {
	if p == nil {
		return false, nil
	}
	for _, role := range p.Roles {
		perms, err := e.perms.Get(ctx, role)
		if err != nil {
			return false, err
		}
		for _, perm := range perms {
			if perm.ResourceType != resourceType || perm.Operation != op {
				continue
			}
			if scopeGrants(perm.Scope, p, inst) {
				return true, nil
			}
		}
	}
	return false, nil
}

func scopeGrants(scope Scope, p *auth.Principal, inst Instance) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopeDepartment:
		return inst != nil && p.Department != "" && p.Department == inst.InstanceDepartment()
	case ScopeOwn:
		if inst == nil {
			return false
		}
		uid, ok := p.ID()
		owner, hasOwner := inst.InstanceOwner()
		return ok && hasOwner && uid == owner
	}
	return false
}

// CanReadField reports whether the principal may see field.
func (e *Engine) CanReadField(ctx context.Context, p *auth.Principal, resourceType, field string) bool {
	ok, err := e.fieldAllowed(ctx, p, resourceType, field, OperationRead)
	if err != nil {
		e.logFailure(ctx, err)
		return false
	}
	return ok
}

// CanWriteField reports whether the principal may change field.
func (e *Engine) CanWriteField(ctx context.Context, p *auth.Principal, resourceType, field string) bool {
	ok, err := e.fieldAllowed(ctx, p, resourceType, field, OperationWrite)
	if err != nil {
		e.logFailure(ctx, err)
		return false
	}
	return ok
}

// AuthorizeFieldRead is CanReadField returning AUTHZ_003 on denial.
func (e *Engine) AuthorizeFieldRead(ctx context.Context, p *auth.Principal, resourceType, field string) error {
	return e.authorizeField(ctx, p, resourceType, field, OperationRead)
}

// AuthorizeFieldWrite is CanWriteField returning AUTHZ_003 on denial.
func (e *Engine) AuthorizeFieldWrite(ctx context.Context, p *auth.Principal, resourceType, field string) error {
	return e.authorizeField(ctx, p, resourceType, field, OperationWrite)
}

func (e *Engine) authorizeField(ctx context.Context, p *auth.Principal, resourceType, field string, op Operation) error {
	ok, err := e.fieldAllowed(ctx, p, resourceType, field, op)
	if err != nil {
		return err
	}
	if !ok {
		return sserr.Newf(sserr.CodeAuthorizationField, "%s of field %q on %s denied", op, field, resourceType).
			WithDetails(map[string]any{"operation": string(op), "field": field, "resource_type": resourceType})
	}
	return nil
}

// fieldAllowed takes the most permissive entry for the field among the
// roles that have one. Roles without an entry grant nothing; the field is
// allowed only when no role has an entry at all. A principal with no roles
// is allowed.
func (e *Engine) fieldAllowed(ctx context.Context, p *auth.Principal, resourceType, field string, op Operation) (bool, error) {
	if p == nil || len(p.Roles) == 0 {
		return true, nil
	}
	var (
		best  FieldAccess
		found bool
	)
	for _, role := range p.Roles {
		perms, err := e.perms.Get(ctx, role)
		if err != nil {
			return false, err
		}
		a, ok := fieldAccess(perms, resourceType, field, op)
		if ok && (!found || rank(a) > rank(best)) {
			best, found = a, true
		}
	}
	switch {
	case !found:
		return true, nil
	case op == OperationWrite:
		return best == FieldWrite, nil
	default:
		return best != FieldHidden, nil
	}
}

// fieldAccess finds the entry for field in the field maps of the
// permissions for op on resourceType, falling back to the resource
// type's permissions for other operations. Among several entries the
// most permissive one counts.
func fieldAccess(perms []Permission, resourceType, field string, op Operation) (FieldAccess, bool) {
	if a, ok := mostPermissive(perms, resourceType, field, func(o Operation) bool { return o == op }); ok {
		return a, true
	}
	return mostPermissive(perms, resourceType, field, func(o Operation) bool { return o != op })
}

func mostPermissive(perms []Permission, resourceType, field string, match func(Operation) bool) (FieldAccess, bool) {
	var (
		best  FieldAccess
		found bool
	)
	for _, p := range perms {
		if p.ResourceType != resourceType || !match(p.Operation) {
			continue
		}
		a, ok := p.FieldPermissions[field]
		if !ok {
			continue
		}
		if !found || rank(a) > rank(best) {
			best, found = a, true
		}
	}
	return best, found
}

func rank(a FieldAccess) int {
	switch a {
	case FieldWrite:
		return 2
	case FieldRead:
		return 1
	default:
		return 0
	}
}

func (e *Engine) logFailure(ctx context.Context, err error) {
	e.logger.ErrorContext(ctx, "authorization check failed closed", slog.String("error", err.Error()))
}
