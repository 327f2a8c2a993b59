package domain

import (
	"errors"
	"sort"
	"strings"
)

// Sentinel errors shared by the service layer and mapped to HTTP codes by the API.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("action not permitted for this user")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrVacationUnavailable = errors.New("vacation post is not available for booking")
	ErrConflict            = errors.New("conflicting resource state")
	ErrAlreadyResponded    = errors.New("already responded to this request")
	ErrReviewNotAllowed    = errors.New("reviews require a completed booking")
	ErrUnknownTemplate     = errors.New("unknown email template")
	ErrUpstream            = errors.New("upstream provider error")
)

// ValidationError carries per-field messages for a rejected payload.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
