// Package kv defines the key-value capability the verification engine is
// built against: TTL-bounded reads and writes, atomic windowed counters,
// and a best-effort distributed mutex.
//
// The engine never talks to a concrete backend directly. Callers inject a
// [Store] at build time, which keeps the hot paths testable against
// miniredis and leaves room for a different backend without touching the
// engine.
//
// # What this package must NOT do
//
//   - Expose backend client types in its interface.
//   - Implement read-modify-write sequences; every operation here maps to
//     a single atomic backend command.
package kv
