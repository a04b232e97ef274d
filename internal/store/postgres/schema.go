package postgres

// Schema creates the tables the store reads and writes. It is idempotent
// and meant for development databases and tests; production schemas are
// managed outside the service.
const Schema = `
CREATE TABLE IF NOT EXISTS iam_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT        NOT NULL,
    password_hash TEXT        NOT NULL DEFAULT '',
    role          TEXT        NOT NULL DEFAULT '',
    department    TEXT        NOT NULL DEFAULT '',
    enabled       BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS iam_users_username_key ON iam_users (lower(username));

CREATE TABLE IF NOT EXISTS iam_roles (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(64) NOT NULL UNIQUE,
    description TEXT        NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS iam_permissions (
    id                BIGSERIAL PRIMARY KEY,
    resource_type     TEXT  NOT NULL,
    operation         TEXT  NOT NULL CHECK (operation IN ('READ', 'WRITE', 'DELETE')),
    scope             TEXT  NOT NULL CHECK (scope IN ('OWN', 'DEPARTMENT', 'ALL')),
    field_permissions JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS iam_role_permissions (
    role_name     VARCHAR(64) NOT NULL REFERENCES iam_roles (name) ON DELETE CASCADE ON UPDATE CASCADE,
    permission_id BIGINT      NOT NULL REFERENCES iam_permissions (id) ON DELETE CASCADE,
    PRIMARY KEY (role_name, permission_id)
);

CREATE TABLE IF NOT EXISTS iam_opaque_tokens (
    id          TEXT PRIMARY KEY,
    secret_hash TEXT        NOT NULL,
    owner_id    BIGINT      NOT NULL REFERENCES iam_users (id) ON DELETE RESTRICT,
    scopes      TEXT[]      NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    revoked     BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS iam_opaque_tokens_owner_idx ON iam_opaque_tokens (owner_id, created_at DESC);
`
