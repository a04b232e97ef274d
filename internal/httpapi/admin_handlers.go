package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=1024"`
}

type permissionRequest struct {
	ResourceType     string            `json:"resource_type" validate:"required,max=128"`
	Operation        string            `json:"operation" validate:"required,oneof=READ WRITE DELETE"`
	Scope            string            `json:"scope" validate:"required,oneof=OWN DEPARTMENT ALL"`
	FieldPermissions map[string]string `json:"field_permissions" validate:"omitempty,dive,keys,required,endkeys,oneof=READ WRITE HIDDEN"`
}

func (p permissionRequest) permission() rbac.Permission {
	perm := rbac.Permission{
		ResourceType: p.ResourceType,
		Operation:    rbac.Operation(p.Operation),
		Scope:        rbac.Scope(p.Scope),
	}
	if len(p.FieldPermissions) > 0 {
		perm.FieldPermissions = make(map[string]rbac.FieldAccess, len(p.FieldPermissions))
		for field, access := range p.FieldPermissions {
			perm.FieldPermissions[field] = rbac.FieldAccess(access)
		}
	}
	return perm
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.deps.Admin.ListRoles(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.deps.Admin.CreateRole(r.Context(), rbac.Role{Name: req.Name, Description: req.Description})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.deps.Admin.GetRole(r.Context(), chi.URLParam(r, "roleName"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.deps.Admin.UpdateRole(r.Context(), chi.URLParam(r, "roleName"),
		rbac.Role{Name: req.Name, Description: req.Description})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Admin.DeleteRole(r.Context(), chi.URLParam(r, "roleName")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.deps.Admin.PermissionsForRole(r.Context(), chi.URLParam(r, "roleName"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) assignPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "permissionId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Admin.AssignPermission(r.Context(), chi.URLParam(r, "roleName"), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "permissionId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Admin.RevokePermission(r.Context(), chi.URLParam(r, "roleName"), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.deps.Admin.ListPermissions(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	perm, err := a.deps.Admin.CreatePermission(r.Context(), req.permission())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "permissionId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	perm, err := a.deps.Admin.GetPermission(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "permissionId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req permissionRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	perm, err := a.deps.Admin.UpdatePermission(r.Context(), id, req.permission())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "permissionId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Admin.DeletePermission(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reloadCache rebuilds the permission cache from the store.
func (a *API) reloadCache(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Admin.Reload(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
