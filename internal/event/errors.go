package event

import "fmt"

// ValidationError is a caller mistake: the request can never succeed as
// written. Handlers map it to HTTP 400 with the stable code in the body.
type ValidationError struct {
	Code  string // e.g. "owner_required", "bad_kg", "too_broad"
	Field string // optional offending field
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.Field)
	}
	return e.Code
}

// Validation constructs a ValidationError with the given code.
func Validation(code, field string) error {
	return &ValidationError{Code: code, Field: field}
}
