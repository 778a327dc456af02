package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// Validate runs struct validation and converts the first failure into a shared.ValidationError.
func Validate(v *validator.Validate, dto any) error {
	err := v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return shared.NewValidationError(toSnake(fe.Field()), reason)
	}
	return shared.NewValidationError("", err.Error())
}

// Decode parses the JSON body and validates it.
func Decode(r *http.Request, v *validator.Validate, dto any) error {
	if err := DecodeJSON(r, dto); err != nil {
		return shared.NewValidationError("body", "malformed json: "+err.Error())
	}
	return Validate(v, dto)
}

// URLParamInt64 reads a positive integer chi URL parameter.
func URLParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError(toSnake(name), "must be a positive integer")
	}
	return id, nil
}

// URLParamDate reads a YYYY-MM-DD chi URL parameter.
func URLParamDate(r *http.Request, name string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, chi.URLParam(r, name))
	if err != nil {
		return time.Time{}, shared.NewValidationError(name, "must be formatted as YYYY-MM-DD")
	}
	return day, nil
}

// QueryTime reads an RFC 3339 query parameter, falling back to def when absent.
func QueryTime(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return at, nil
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && name[i-1] >= 'a' && name[i-1] <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
