// Package model defines the records shared by the queue, the diagnosis and
// digest builders, the apply layer and the transport.
//
// This package contains type definitions and small accessors only. Other
// internal packages import model; model imports nothing internal.
//
// Wire conventions:
//   - JSON tags use camelCase (the HTTP surface returns these records as-is)
//   - Timestamps are time.Time and encode as RFC 3339
//   - Timestamps not yet reached are nil pointers and encode as null
package model
