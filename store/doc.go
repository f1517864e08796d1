// Package store persists the two credential families the engine manages:
// one-time verification codes and opaque bearer tokens.
//
// [OTPStore] and [TokenStore] are the seams the engine is built against.
// The PostgreSQL implementations run over database/sql with the pgx stdlib
// driver; [MemoryOTPStore] and [MemoryTokenStore] back tests and
// single-process deployments. Schema management lives in the embedded
// goose migrations under migrations/.
//
// # What this package must NOT do
//
//   - Generate codes or secrets. Records arrive fully formed.
//   - Enforce rate limits or attempt ceilings; it only counts.
package store
