// Package internal contains helper utilities that are intentionally private to
// phoneauth: secure random code generation, token secret handling, and the
// opaque token wire encoding.
//
// # What this package must NOT do
//
//   - Export types that appear in the public phoneauth API.
//   - Be imported by any package outside the phoneauth module.
package internal
