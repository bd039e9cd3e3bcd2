package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing actor identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDuplicate indicates a unique constraint collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrConflict indicates a write raced with another writer.
	ErrConflict = errors.New("conflict")
)

// ValidationError aggregates every field problem found in one request.
type ValidationError struct {
	Fields map[string]string
}

// Add records a problem for field. The first message per field is kept.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// Err returns nil when no field failed, otherwise the aggregate itself.
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }
