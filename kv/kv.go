package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// Store is the key-value capability injected into the engine. Implementations
// must be safe for concurrent use.
//
// Every method is a single atomic backend operation. TTLs are mandatory on
// writes; the engine never stores unbounded state.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key with the given TTL. A ttl <= 0 is rejected.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter at key and returns the new
	// count. When the increment creates the key, window becomes its TTL;
	// subsequent increments leave the deadline untouched.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// TTL reports the remaining lifetime of key, or 0 when the key is
	// absent or has no deadline.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// TryLock attempts to acquire the mutex at key for owner. It returns
	// false without blocking when another owner holds the lock. The lock
	// self-releases after ttl.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Unlock releases the mutex at key if and only if owner still holds
	// it. Releasing an expired or foreign lock is a no-op.
	Unlock(ctx context.Context, key, owner string) error
}
