// Package fingerprint derives the one-way keys that deduplicate anonymous
// ballots without storing who cast them.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const info = "consentline/ballot-fingerprint/v1"

var (
	ErrNoSecret   = errors.New("fingerprint secret not configured")
	ErrEmptyInput = errors.New("deduplication key required")
)

// Derive returns a hex HMAC of dedupKey under a key derived per decision, so
// the same voter yields unrelated fingerprints on different decisions.
func Derive(secret []byte, decisionID, dedupKey string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	dedupKey = strings.TrimSpace(dedupKey)
	if dedupKey == "" {
		return "", ErrEmptyInput
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(decisionID), []byte(info)), key); err != nil {
		return "", fmt.Errorf("derive fingerprint key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(dedupKey))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
