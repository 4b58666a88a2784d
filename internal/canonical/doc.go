// Package canonical produces deterministic JSON encodings and content hashes.
//
// Two values that differ only in object key order encode to identical bytes,
// which makes the encoding suitable for comparing request payloads by hash.
//
// Rules:
//   - Object keys sorted by UTF-16 code units (RFC 8785)
//   - Array order preserved
//   - Strings NFC normalized, HTML characters not escaped
//   - Numbers written in their shortest round-trip form
package canonical
