// Package errors defines the structured error type shared by every
// stricklysoft-iam package. Callers import it as sserr:
//
//	import sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
//
// # Taxonomy
//
// Each [Error] carries a machine-readable [Code] of the form CATEGORY_NNN.
// The category decides the HTTP status returned by [Error.HTTPStatus]:
//
//	VAL     400  request input is malformed or incomplete
//	AUTH    401  credential or bearer token rejected
//	AUTHZ   403  principal lacks a scope or field grant
//	NF      404  user, role, permission or token does not exist
//	CONF    409  duplicate role name or role/permission pair
//	INT     500  configuration, key material or database failure
//	UNAVAIL 503  directory or database unreachable
//	TIMEOUT 504  deadline exceeded talking to a dependency
//
// Authentication errors are deliberately coarse at the API boundary. The
// finer AUTH codes (expired, invalid, revoked) exist for logs and metrics
// and must never be echoed to clients.
//
// # Usage
//
//	if err := admin.CreateRole(ctx, name, desc); err != nil {
//	    if sserr.IsConflict(err) {
//	        // role name already taken
//	    }
//	}
package errors
