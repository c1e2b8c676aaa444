package auth

import (
	"crypto/subtle"

	"consentline/internal/domain"
)

// ForbiddenError indicates the actor may not perform the operation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// RequireCreator allows only the decision's creator.
func RequireCreator(d domain.Decision, actorID string) error {
	if actorID == "" {
		return ForbiddenError{Reason: "actor required"}
	}
	if !d.IsCreator(actorID) {
		return ForbiddenError{Reason: "only the decision creator can do this"}
	}
	return nil
}

// SecretMatches compares a shared secret in constant time. An empty expected
// secret never matches.
func SecretMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
