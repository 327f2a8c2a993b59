// Package validation wraps go-playground/validator and converts its errors
// into domain validation errors keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cureliah/backend/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Get returns the shared validator instance.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns a *domain.ValidationError on failure.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError("body", err.Error())
	}

	ve := &domain.ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Fields[fe.Field()] = message(fe)
	}
	return ve
}

var messages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"uuid":     "must be a valid UUID",
	"url":      "must be a valid URL",
}

var messagesWithParam = map[string]string{
	"oneof":   "must be one of: %s",
	"gte":     "must be greater than or equal to %s",
	"lte":     "must be less than or equal to %s",
	"gt":      "must be greater than %s",
	"max":     "must be at most %s characters",
	"min":     "must be at least %s characters",
	"gtfield": "must be after %s",
}

func message(fe validator.FieldError) string {
	if m, ok := messages[fe.Tag()]; ok {
		return m
	}
	if m, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(m, fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
