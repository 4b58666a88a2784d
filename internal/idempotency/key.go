package idempotency

import (
	"errors"
	"fmt"
	"maps"
	"regexp"

	"github.com/roach88/graphwriter/internal/canonical"
)

// KeyField is the request body field carrying the idempotency key. It is
// excluded from the payload hash.
const KeyField = "idempotencyKey"

// ErrInvalidKey is returned for keys outside ^[A-Za-z0-9:_-]{1,128}$.
var ErrInvalidKey = errors.New("invalid idempotency key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,128}$`)

// ValidateKey rejects keys that do not match the allowed alphabet and length.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: must match %s", ErrInvalidKey, keyPattern.String())
	}
	return nil
}

// HashPayload hashes a decoded request body for replay detection. The key
// field itself is dropped first, so the same payload hashes identically
// regardless of the key it was sent under or the order of its fields.
func HashPayload(body map[string]any) (string, error) {
	stripped := maps.Clone(body)
	if stripped == nil {
		stripped = map[string]any{}
	}
	delete(stripped, KeyField)

	h, err := canonical.Hash(canonical.DomainPayload, stripped)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return h, nil
}
