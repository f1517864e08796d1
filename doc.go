// Package phoneauth provides a phone-based authentication engine with
// one-time verification codes delivered out of band, opaque bearer tokens,
// and race-safe refresh token rotation.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// phoneauth is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (VerifyResult, TokenPair, MetricsSnapshot, etc.). Persistence lives in the store
// sub-package, coordination primitives in kv and once, and delivery in notify. Account
// records stay with the host application behind [SubjectProvider].
//
// # What this package must NOT do
//
//   - Expose Redis clients, database handles, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Retain code or token plaintext after the call that produced it returns.
//
// # Concurrency contract
//
// Refresh holds a per-token distributed lock while it rotates; concurrent holders of the
// same refresh token either replay the cached result inside the grace window or fail with
// [ErrRotationInProgress]. A presented refresh token is consumed at most once.
package phoneauth
