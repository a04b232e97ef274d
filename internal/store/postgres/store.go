// Package postgres implements the user directory, the RBAC store and the
// opaque token store on PostgreSQL through the traced pgx client.
//
// Errors follow the memory store: unknown rows map to the NF_* code of
// their kind, unique violations to [sserr.CodeConflictAlreadyExists], and
// everything else to the classification of [pgclient.WrapError].
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	pgclient "github.com/StricklySoft/stricklysoft-iam/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/opaque"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

var (
	_ auth.UserDirectory = (*Store)(nil)
	_ rbac.Store         = (*Store)(nil)
	_ opaque.Store       = (*Store)(nil)
)

const (
	userColumns       = `id, username, password_hash, role, department, enabled`
	permissionColumns = `id, resource_type, operation, scope, field_permissions`
	tokenColumns      = `id, secret_hash, owner_id, scopes, created_at, expires_at, revoked`
)

// Store is safe for concurrent use.
type Store struct {
	db     *pgclient.Client
	logger *slog.Logger
}

// New returns a store on db. A nil logger means slog.Default.
func New(db *pgclient.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "store: schema applied")
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts u and sets its ID. Usernames are unique regardless
// of case.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO iam_users (username, password_hash, role, department, enabled)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Username, u.PasswordHash, u.Role, u.Department, u.Enabled,
	).Scan(&u.ID)
	if err != nil {
		if pgclient.IsUniqueViolation(err) {
			return sserr.AlreadyExists("user", u.Username)
		}
		return pgclient.WrapError(err, "store: create user failed")
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM iam_users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sserr.Newf(sserr.CodeNotFoundUser, "user %d not found", id)
	}
	if err != nil {
		return nil, pgclient.WrapError(err, "store: load user failed")
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM iam_users WHERE lower(username) = lower($1)`, username)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sserr.Newf(sserr.CodeNotFoundUser, "user %q not found", username)
	}
	if err != nil {
		return nil, pgclient.WrapError(err, "store: load user failed")
	}
	return u, nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Department, &u.Enabled); err != nil {
		return nil, err
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, description FROM iam_roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rbac.Role{}
	for rows.Next() {
		var r rbac.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, pgclient.WrapError(err, "store: scan role failed")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgclient.WrapError(err, "store: list roles failed")
	}
	return out, nil
}

func (s *Store) GetRole(ctx context.Context, name string) (*rbac.Role, error) {
	var r rbac.Role
	err := s.db.QueryRow(ctx, `SELECT id, name, description FROM iam_roles WHERE name = $1`, name).
		Scan(&r.ID, &r.Name, &r.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, roleNotFound(name)
	}
	if err != nil {
		return nil, pgclient.WrapError(err, "store: load role failed")
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r *rbac.Role) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO iam_roles (name, description) VALUES ($1, $2) RETURNING id`,
		r.Name, r.Description,
	).Scan(&r.ID)
	if err != nil {
		if pgclient.IsUniqueViolation(err) {
			return sserr.AlreadyExists("role", r.Name)
		}
		return pgclient.WrapError(err, "store: create role failed")
	}
	return nil
}

// UpdateRole replaces the role called name. Assignments follow a rename
// through the foreign key's ON UPDATE CASCADE.
// UpdateRole renames users holding the role in the same statement; the
// role links follow through their foreign key.
func (s *Store) UpdateRole(ctx context.Context, name string, r *rbac.Role) error {
	err := s.db.QueryRow(ctx, updateRoleQuery, name, r.Name, r.Description).Scan(&r.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return roleNotFound(name)
	}
	if err != nil {
		if pgclient.IsUniqueViolation(err) {
			return sserr.AlreadyExists("role", r.Name)
		}
		return pgclient.WrapError(err, "store: update role failed")
	}
	return nil
}

const updateRoleQuery = `
WITH renamed AS (
    UPDATE iam_roles SET name = $2, description = $3 WHERE name = $1 RETURNING id
), holders AS (
    UPDATE iam_users SET role = $2 WHERE role = $1 AND $1 <> $2 AND EXISTS (SELECT 1 FROM renamed)
)
SELECT id FROM renamed`

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM iam_roles WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return roleNotFound(name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return s.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM iam_permissions ORDER BY id`)
}

func (s *Store) GetPermission(ctx context.Context, id int64) (*rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM iam_permissions WHERE id = $1`, id)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, permissionNotFound(id)
	}
	if err != nil {
		return nil, pgclient.WrapError(err, "store: load permission failed")
	}
	return p, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	fields, err := encodeFields(p.FieldPermissions)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO iam_permissions (resource_type, operation, scope, field_permissions)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		p.ResourceType, string(p.Operation), string(p.Scope), fields,
	).Scan(&p.ID)
	if err != nil {
		return pgclient.WrapError(err, "store: create permission failed")
	}
	return nil
}

func (s *Store) UpdatePermission(ctx context.Context, p *rbac.Permission) error {
	fields, err := encodeFields(p.FieldPermissions)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE iam_permissions SET resource_type = $2, operation = $3, scope = $4, field_permissions = $5
		 WHERE id = $1`,
		p.ID, p.ResourceType, string(p.Operation), string(p.Scope), fields,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return permissionNotFound(p.ID)
	}
	return nil
}

func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM iam_permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return permissionNotFound(id)
	}
	return nil
}

func (s *Store) queryPermissions(ctx context.Context, sql string, args ...any) ([]rbac.Permission, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rbac.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, pgclient.WrapError(err, "store: scan permission failed")
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, pgclient.WrapError(err, "store: list permissions failed")
	}
	return out, nil
}

func scanPermission(row pgx.Row) (*rbac.Permission, error) {
	var (
		p         rbac.Permission
		operation string
		scope     string
		fields    []byte
	)
	if err := row.Scan(&p.ID, &p.ResourceType, &operation, &scope, &fields); err != nil {
		return nil, err
	}
	if err := decodePermission(&p, operation, scope, fields); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodePermission(p *rbac.Permission, operation, scope string, fields []byte) error {
	p.Operation = rbac.Operation(operation)
	p.Scope = rbac.Scope(scope)
	if len(fields) == 0 {
		return nil
	}
	if err := json.Unmarshal(fields, &p.FieldPermissions); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalDatabase, "store: permission %d has malformed field_permissions", p.ID)
	}
	if len(p.FieldPermissions) == 0 {
		p.FieldPermissions = nil
	}
	return nil
}

func encodeFields(fields map[string]rbac.FieldAccess) ([]byte, error) {
	if len(fields) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "store: encode field_permissions failed")
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

// AssignPermission links a permission to a role. The existence checks and
// the insert are separate statements; the foreign keys still reject a row
// deleted in between.
func (s *Store) AssignPermission(ctx context.Context, role string, permissionID int64) error {
	if _, err := s.GetRole(ctx, role); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO iam_role_permissions (role_name, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		role, permissionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sserr.Newf(sserr.CodeConflictAlreadyExists, "permission %d is already assigned to role %q", permissionID, role)
	}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, role string, permissionID int64) error {
	if _, err := s.GetRole(ctx, role); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM iam_role_permissions WHERE role_name = $1 AND permission_id = $2`,
		role, permissionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sserr.Newf(sserr.CodeNotFoundPermission, "permission %d is not assigned to role %q", permissionID, role)
	}
	return nil
}

// PermissionsForRole returns an empty slice for an unknown role.
func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]rbac.Permission, error) {
	return s.queryPermissions(ctx,
		`SELECT p.id, p.resource_type, p.operation, p.scope, p.field_permissions
		 FROM iam_permissions p
		 JOIN iam_role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_name = $1
		 ORDER BY p.id`,
		role,
	)
}

// AllRolePermissions returns every role, including roles without
// permissions, mapped to its permissions.
func (s *Store) AllRolePermissions(ctx context.Context) (map[string][]rbac.Permission, error) {
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]rbac.Permission, len(roles))
	for _, r := range roles {
		out[r.Name] = []rbac.Permission{}
	}

	rows, err := s.db.Query(ctx,
		`SELECT rp.role_name, p.id, p.resource_type, p.operation, p.scope, p.field_permissions
		 FROM iam_role_permissions rp
		 JOIN iam_permissions p ON p.id = rp.permission_id
		 ORDER BY rp.role_name, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role      string
			p         rbac.Permission
			operation string
			scope     string
			fields    []byte
		)
		if err := rows.Scan(&role, &p.ID, &p.ResourceType, &operation, &scope, &fields); err != nil {
			return nil, pgclient.WrapError(err, "store: scan role permission failed")
		}
		if err := decodePermission(&p, operation, scope, fields); err != nil {
			return nil, err
		}
		out[role] = append(out[role], p)
	}
	if err := rows.Err(); err != nil {
		return nil, pgclient.WrapError(err, "store: list role permissions failed")
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Opaque tokens
// ---------------------------------------------------------------------------

func (s *Store) CreateToken(ctx context.Context, t *opaque.Token) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO iam_opaque_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.SecretHash, t.OwnerID, t.Scopes, t.CreatedAt, t.ExpiresAt, t.Revoked,
	)
	if err != nil {
		if pgclient.IsUniqueViolation(err) {
			return sserr.AlreadyExists("token", t.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*opaque.Token, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM iam_opaque_tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tokenNotFound(id)
	}
	if err != nil {
		return nil, pgclient.WrapError(err, "store: load token failed")
	}
	return t, nil
}

// ListTokens returns the owner's tokens, newest first.
func (s *Store) ListTokens(ctx context.Context, ownerID int64) ([]*opaque.Token, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM iam_opaque_tokens WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*opaque.Token{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, pgclient.WrapError(err, "store: scan token failed")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pgclient.WrapError(err, "store: list tokens failed")
	}
	return out, nil
}

// RevokeToken marks a token revoked. Revoking twice succeeds.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE iam_opaque_tokens SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tokenNotFound(id)
	}
	return nil
}

func scanToken(row pgx.Row) (*opaque.Token, error) {
	var t opaque.Token
	if err := row.Scan(&t.ID, &t.SecretHash, &t.OwnerID, &t.Scopes, &t.CreatedAt, &t.ExpiresAt, &t.Revoked); err != nil {
		return nil, err
	}
	if t.Scopes == nil {
		t.Scopes = []string{}
	}
	return &t, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func roleNotFound(name string) error {
	return sserr.Newf(sserr.CodeNotFoundRole, "role %q not found", name)
}

func permissionNotFound(id int64) error {
	return sserr.Newf(sserr.CodeNotFoundPermission, "permission %d not found", id)
}

func tokenNotFound(id string) error {
	return sserr.Newf(sserr.CodeNotFoundToken, "token %q not found", id)
}
