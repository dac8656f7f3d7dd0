package domain

import "errors"

// ErrMalformedEvent is returned when a webhook body cannot be turned into an event.
var ErrMalformedEvent = errors.New("malformed event payload")

// ValidationError reports a bad or missing request field. Its message is safe to
// show to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthenticationError means the identity provider rejected the credentials.
// Cause carries the provider detail for logs only.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return "invalid email or password"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
