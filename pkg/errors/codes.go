package errors

// Code is a stable, machine-readable error identifier (e.g. "AUTH_001").
type Code string

const (
	// CodeValidation indicates malformed request input.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field holds an unrecognised value,
	// for example an unknown scope or operation.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication is the generic authentication failure. It is the
	// only AUTH code that may be surfaced to a client.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates a bearer token is past its expiry.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates a bearer token is malformed or its
	// signature or secret does not verify.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationRevoked indicates an opaque token has been revoked.
	CodeAuthenticationRevoked Code = "AUTH_004"

	// CodeAuthorization is the generic authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates the principal lacks a scope grant
	// for an operation on a resource type.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeAuthorizationField indicates a field is hidden or read-only for
	// the principal.
	CodeAuthorizationField Code = "AUTHZ_003"

	// CodeNotFound is the generic not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates an unknown user or token owner.
	CodeNotFoundUser Code = "NF_002"

	// CodeNotFoundRole indicates an unknown role.
	CodeNotFoundRole Code = "NF_003"

	// CodeNotFoundPermission indicates an unknown permission or an unknown
	// role/permission assignment.
	CodeNotFoundPermission Code = "NF_004"

	// CodeNotFoundToken indicates an unknown opaque token id.
	CodeNotFoundToken Code = "NF_005"

	// CodeConflict is the generic conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates a duplicate resource such as a
	// role name collision.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal is the generic internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates invalid or missing configuration,
	// including unusable key material.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable is the generic service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a directory server, database or
	// Redis instance could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout is the generic timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// String returns the string form of the code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_001"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
