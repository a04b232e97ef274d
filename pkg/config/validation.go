package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond the required tag. Validate runs after all layers are applied.
// Returned *sserr.Error values pass through unchanged; other errors are
// wrapped as [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
		}
	}
	return nil
}

// validateRequired walks the struct and reports the dotted path of the
// first zero field tagged required:"true".
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired, "config: required field %q is empty", fieldPath).
				WithDetail("field", fieldPath)
		}
	}
	return nil
}
