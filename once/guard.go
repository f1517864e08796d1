package once

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/viznet/phoneauth/kv"
)

// ErrInProgress is returned when another producer holds the election and no
// result became visible within the guard's retry wait.
var ErrInProgress = errors.New("once: production in progress")

const (
	defaultLockTTL   = 5 * time.Second
	defaultRetryWait = time.Second
	defaultResultTTL = 20 * time.Second
)

// Guard deduplicates a produce operation across processes. The zero value is
// not usable; construct with [New].
type Guard struct {
	store     kv.Store
	lockTTL   time.Duration
	retryWait time.Duration
	resultTTL time.Duration
}

// Option adjusts a Guard at construction.
type Option func(*Guard)

// WithLockTTL sets how long a producer may hold the election before the
// mutex self-releases.
func WithLockTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockTTL = d
		}
	}
}

// WithRetryWait sets how long a contended caller waits before re-checking
// the result cache.
func WithRetryWait(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.retryWait = d
		}
	}
}

// WithResultTTL sets how long a produced result stays visible to
// concurrent and trailing callers.
func WithResultTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.resultTTL = d
		}
	}
}

// New builds a Guard over the given store.
func New(store kv.Store, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		lockTTL:   defaultLockTTL,
		retryWait: defaultRetryWait,
		resultTTL: defaultResultTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs produce at most once across all callers sharing the same lockKey.
//
// The first caller to win the election runs produce and publishes its result
// under resultKey for the guard's result TTL. Every other concurrent caller
// either observes that published result (replayed=true) or, when the
// producer has not finished within the retry wait, fails with
// [ErrInProgress]. A caller arriving after the result TTL has lapsed starts
// a fresh election.
//
// produce errors are returned to the winning caller only; nothing is cached
// on failure, so a later caller may retry the production.
func (g *Guard) Do(ctx context.Context, resultKey, lockKey string, produce func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if cached, err := g.store.Get(ctx, resultKey); err == nil {
		return []byte(cached), true, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, false, err
	}

	owner := uuid.NewString()

	acquired, err := g.store.TryLock(ctx, lockKey, owner, g.lockTTL)
	if err != nil {
		return nil, false, err
	}

	if !acquired {
		if err := sleep(ctx, g.retryWait); err != nil {
			return nil, false, err
		}
		cached, err := g.store.Get(ctx, resultKey)
		if err == nil {
			return []byte(cached), true, nil
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, ErrInProgress
	}

	defer func() {
		_ = g.store.Unlock(ctx, lockKey, owner)
	}()

	// The election may have been won and resolved between the first cache
	// check and the lock acquisition.
	if cached, err := g.store.Get(ctx, resultKey); err == nil {
		return []byte(cached), true, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, false, err
	}

	result, err := produce(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := g.store.Set(ctx, resultKey, string(result), g.resultTTL); err != nil {
		return nil, false, err
	}

	return result, false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
