package auth

import (
	"errors"
	"testing"

	"consentline/internal/domain"
)

func TestRequireCreator(t *testing.T) {
	d := domain.Decision{ID: "d1", CreatorID: "alice"}
	if err := RequireCreator(d, "alice"); err != nil {
		t.Fatalf("creator rejected: %v", err)
	}
	var fe ForbiddenError
	if err := RequireCreator(d, "bob"); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := RequireCreator(d, ""); !errors.As(err, &fe) || fe.Reason != "actor required" {
		t.Fatalf("expected actor required, got %v", err)
	}
}

func TestSecretMatches(t *testing.T) {
	if !SecretMatches("s3cret", "s3cret") {
		t.Fatal("equal secrets must match")
	}
	if SecretMatches("s3cret", "s3cre") {
		t.Fatal("prefix must not match")
	}
	if SecretMatches("", "") {
		t.Fatal("unset secret must never match")
	}
}
