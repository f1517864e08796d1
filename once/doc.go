// Package once provides a distributed produce-at-most-once guard built from
// two primitives: a TTL mutex that elects a single producer, and a TTL
// result cache that lets every concurrent caller observe the one produced
// value.
//
// The guard is the building block behind refresh-token rotation, where a
// fleet of retrying clients may present the same credential simultaneously
// and must all receive the identical response. It is deliberately generic:
// any operation whose result can be serialized to bytes can be deduplicated
// with it.
//
// # What this package must NOT do
//
//   - Queue or retry the producer. Losers of the election either observe
//     the cached result or report [ErrInProgress]; they never produce.
//   - Hold the mutex past its TTL. A crashed producer self-heals.
package once
