package patient

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound covers both a record that never existed and one that is
// soft-deleted; callers must not be able to tell the two apart.
var ErrNotFound = errors.New("patient not found")

// ErrStoreUnavailable marks transient record-store failures. Retrying is the
// store client's concern; the router surfaces it as a 500 without retrying.
var ErrStoreUnavailable = errors.New("record store unavailable")

// FieldViolation is a single field-level schema violation.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the full list of field violations for a rejected
// payload. The router renders it verbatim as a 400 response.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
