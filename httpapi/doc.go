// Package httpapi exposes the phoneauth engine over HTTP.
//
// [NewServer] wraps a [phoneauth.Engine] with a gin router implementing the
// /auth/* routes: code issuance and verification, password login,
// registration, refresh rotation, logout, and the authenticated profile
// endpoint. Request counts and latencies are collected in a local
// Prometheus registry the host can mount.
//
// # What this package must NOT do
//
//   - Reach past the Engine into stores or the kv layer.
//   - Log request bodies. Codes, passwords, and token plaintext never reach
//     the logger.
package httpapi
