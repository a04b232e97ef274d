package errors

import (
	"errors"
	"fmt"
)

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err. It returns nil when err is nil.
//
//	row, err := store.RoleByName(ctx, name)
//	if err != nil {
//	    return sserr.Wrap(err, sserr.CodeInternalDatabase, "rbac: load role")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a VAL_001 error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a VAL_001 error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Required creates a VAL_002 error naming the missing field.
func Required(field string) *Error {
	return Newf(CodeValidationRequired, "%s is required", field).WithDetail("field", field)
}

// NotFound creates a NF_001 error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf creates a NF_001 error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Unauthorized creates the generic AUTH_001 error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates an AUTHZ_001 error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Conflict creates a CONF_001 error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// AlreadyExists creates a CONF_002 error for a duplicate resource.
func AlreadyExists(kind, name string) *Error {
	return Newf(CodeConflictAlreadyExists, "%s %q already exists", kind, name).
		WithDetails(map[string]any{"kind": kind, "name": name})
}

// Internal creates an INT_001 error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Configuration creates an INT_003 error.
func Configuration(message string) *Error {
	return New(CodeInternalConfiguration, message)
}

// Configurationf creates an INT_003 error with a formatted message.
func Configurationf(format string, args ...any) *Error {
	return Newf(CodeInternalConfiguration, format, args...)
}

// Unavailable creates an UNAVAIL_001 error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError returns err as an *Error, wrapping foreign errors as INT_001.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
