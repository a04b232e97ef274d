package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
)

const maxBodyBytes = 1 << 20

var errNotFound = sserr.NotFound("resource not found")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the shared error envelope. Internal errors are
// logged with their cause and reach the client as a generic message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := sserr.FromError(err)
	if se.HTTPStatus() >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(se.Code)),
			slog.String("error", se.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())))
		if se.Code.Category() == "INT" {
			se = sserr.New(se.Code, "internal server error")
		}
	}
	auth.WriteError(w, se)
}

// decode reads a JSON body into dst and validates it.
func (a *API) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return sserr.Validation("request body is required")
		}
		return sserr.Wrap(err, sserr.CodeValidation, "request body is not valid JSON")
	}
	return a.validateStruct(dst)
}

func (a *API) validateStruct(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return sserr.Wrap(err, sserr.CodeValidation, "request is invalid")
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return sserr.Required(field)
	case "oneof":
		return sserr.Validationf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")).
			WithDetail("field", field)
	case "max":
		return sserr.Validationf("%s must be at most %s characters", field, fe.Param()).WithDetail("field", field)
	default:
		return sserr.Validationf("%s is invalid", field).WithDetail("field", field)
	}
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, sserr.Validationf("%s must be a positive integer", name).WithDetail("field", name)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, sserr.Required(name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, sserr.Validationf("%s must be a positive integer", name).WithDetail("field", name)
	}
	return v, nil
}
