package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with stored hashes.
const (
	DomainPayload = "graphwriter/payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the domain-separated SHA-256 of v's canonical encoding.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	return hashWithDomain(domain, data), nil
}
