// Package memory is an in-process implementation of every store the
// service needs: users, RBAC roles and permissions, and opaque tokens. It
// backs development runs (storage driver "memory") and tests, and mirrors
// the error codes of the PostgreSQL store.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/opaque"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

var (
	_ auth.UserDirectory = (*Store)(nil)
	_ rbac.Store         = (*Store)(nil)
	_ opaque.Store       = (*Store)(nil)
)

type rolePermission struct {
	role         string
	permissionID int64
}

// Store is safe for concurrent use. Returned values are copies.
type Store struct {
	mu sync.RWMutex

	users      map[int64]*auth.User
	nextUserID int64

	roles      map[string]*rbac.Role
	nextRoleID int64

	permissions map[int64]*rbac.Permission
	nextPermID  int64

	links map[rolePermission]struct{}

	tokens map[string]*opaque.Token
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       map[int64]*auth.User{},
		roles:       map[string]*rbac.Role{},
		permissions: map[int64]*rbac.Permission{},
		links:       map[rolePermission]struct{}{},
		tokens:      map[string]*opaque.Token{},
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser stores u and assigns its ID. Usernames are unique.
func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return sserr.AlreadyExists("user", u.Username)
		}
	}
	s.nextUserID++
	u.ID = s.nextUserID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) UserByID(_ context.Context, id int64) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sserr.Newf(sserr.CodeNotFoundUser, "user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UserByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sserr.Newf(sserr.CodeNotFoundUser, "user %q not found", username)
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

func (s *Store) ListRoles(context.Context) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b rbac.Role) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, name string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, roleNotFound(name)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) CreateRole(_ context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.Name]; ok {
		return sserr.AlreadyExists("role", r.Name)
	}
	s.nextRoleID++
	r.ID = s.nextRoleID
	cp := *r
	s.roles[r.Name] = &cp
	return nil
}

func (s *Store) UpdateRole(_ context.Context, name string, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[name]
	if !ok {
		return roleNotFound(name)
	}
	if r.Name != name {
		if _, taken := s.roles[r.Name]; taken {
			return sserr.AlreadyExists("role", r.Name)
		}
		for link := range s.links {
			if link.role == name {
				delete(s.links, link)
				s.links[rolePermission{role: r.Name, permissionID: link.permissionID}] = struct{}{}
			}
		}
		for _, u := range s.users {
			if u.Role == name {
				u.Role = r.Name
			}
		}
		delete(s.roles, name)
	}
	r.ID = cur.ID
	cp := *r
	s.roles[r.Name] = &cp
	return nil
}

func (s *Store) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return roleNotFound(name)
	}
	delete(s.roles, name)
	for link := range s.links {
		if link.role == name {
			delete(s.links, link)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func (s *Store) ListPermissions(context.Context) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, clonePermission(p))
	}
	slices.SortFunc(out, func(a, b rbac.Permission) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetPermission(_ context.Context, id int64) (*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, permissionNotFound(id)
	}
	cp := clonePermission(p)
	return &cp, nil
}

func (s *Store) CreatePermission(_ context.Context, p *rbac.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPermID++
	p.ID = s.nextPermID
	cp := clonePermission(p)
	s.permissions[p.ID] = &cp
	return nil
}

func (s *Store) UpdatePermission(_ context.Context, p *rbac.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p.ID]; !ok {
		return permissionNotFound(p.ID)
	}
	cp := clonePermission(p)
	s.permissions[p.ID] = &cp
	return nil
}

func (s *Store) DeletePermission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return permissionNotFound(id)
	}
	delete(s.permissions, id)
	for link := range s.links {
		if link.permissionID == id {
			delete(s.links, link)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

func (s *Store) AssignPermission(_ context.Context, role string, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role]; !ok {
		return roleNotFound(role)
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return permissionNotFound(permissionID)
	}
	link := rolePermission{role: role, permissionID: permissionID}
	if _, ok := s.links[link]; ok {
		return sserr.Newf(sserr.CodeConflictAlreadyExists, "permission %d is already assigned to role %q", permissionID, role)
	}
	s.links[link] = struct{}{}
	return nil
}

func (s *Store) RevokePermission(_ context.Context, role string, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role]; !ok {
		return roleNotFound(role)
	}
	link := rolePermission{role: role, permissionID: permissionID}
	if _, ok := s.links[link]; !ok {
		return sserr.Newf(sserr.CodeNotFoundPermission, "permission %d is not assigned to role %q", permissionID, role)
	}
	delete(s.links, link)
	return nil
}

func (s *Store) PermissionsForRole(_ context.Context, role string) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissionsForRoleLocked(role), nil
}

func (s *Store) AllRolePermissions(context.Context) (map[string][]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]rbac.Permission, len(s.roles))
	for name := range s.roles {
		out[name] = s.permissionsForRoleLocked(name)
	}
	return out, nil
}

func (s *Store) permissionsForRoleLocked(role string) []rbac.Permission {
	out := []rbac.Permission{}
	for link := range s.links {
		if link.role != role {
			continue
		}
		if p, ok := s.permissions[link.permissionID]; ok {
			out = append(out, clonePermission(p))
		}
	}
	slices.SortFunc(out, func(a, b rbac.Permission) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ---------------------------------------------------------------------------
// Opaque tokens
// ---------------------------------------------------------------------------

func (s *Store) CreateToken(_ context.Context, t *opaque.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return sserr.AlreadyExists("token", t.ID)
	}
	s.tokens[t.ID] = cloneToken(t)
	return nil
}

func (s *Store) GetToken(_ context.Context, id string) (*opaque.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, tokenNotFound(id)
	}
	return cloneToken(t), nil
}

func (s *Store) ListTokens(_ context.Context, ownerID int64) ([]*opaque.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*opaque.Token{}
	for _, t := range s.tokens {
		if t.OwnerID == ownerID {
			out = append(out, cloneToken(t))
		}
	}
	slices.SortFunc(out, func(a, b *opaque.Token) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *Store) RevokeToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return tokenNotFound(id)
	}
	t.Revoked = true
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func clonePermission(p *rbac.Permission) rbac.Permission {
	cp := *p
	if p.FieldPermissions != nil {
		cp.FieldPermissions = maps.Clone(p.FieldPermissions)
	}
	return cp
}

func cloneToken(t *opaque.Token) *opaque.Token {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	return &cp
}

func roleNotFound(name string) error {
	return sserr.Newf(sserr.CodeNotFoundRole, "role %q not found", name)
}

func permissionNotFound(id int64) error {
	return sserr.Newf(sserr.CodeNotFoundPermission, "permission %d not found", id)
}

func tokenNotFound(id string) error {
	return sserr.Newf(sserr.CodeNotFoundToken, "token %q not found", id)
}
