// Package idempotency deduplicates retried batch submissions.
//
// A caller may attach an idempotency key to a submission. The Registry
// remembers, per key, a hash of the canonicalized request payload and the
// Operation created for it:
//
//   - same key, same payload hash: replay; the caller gets the existing
//     Operation and no new one is created
//   - same key, different payload hash: conflict; the request is rejected
//   - unknown or expired key: a new record is reserved
//
// Records expire after a TTL and the registry is additionally bounded by a
// maximum record count, evicting least-recently-touched records first.
//
// Thread-safety: all Registry methods are safe for concurrent use.
package idempotency
