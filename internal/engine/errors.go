package engine

import "fmt"

// InvalidStateError reports an operation that the decision's current status
// or stage does not allow.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string {
	return e.Reason
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalidState(format string, args ...any) error {
	return InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}

func invalidField(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
