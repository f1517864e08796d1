package phoneauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/viznet/phoneauth/kv"
	"github.com/viznet/phoneauth/store"
)

var errLimiterUnavailable = errors.New("code limiter unavailable")

// otpLimiter enforces the fixed-window issuance budget. The counter is
// created by the first issuance and expires with the window, so the limit
// rolls forward on its own.
type otpLimiter struct {
	store  kv.Store
	config OTPConfig
}

func newOTPLimiter(kvStore kv.Store, cfg OTPConfig) *otpLimiter {
	return &otpLimiter{
		store:  kvStore,
		config: cfg,
	}
}

func (l *otpLimiter) key(phone string, purpose store.Purpose) string {
	if l.config.RateLimitScope == ScopePhonePurpose {
		return "otp_rate:" + phone + ":" + string(purpose)
	}
	return "otp_rate:" + phone
}

// Limited reports whether the budget is spent, and if so how many seconds
// remain until the window reopens. It never increments.
func (l *otpLimiter) Limited(ctx context.Context, phone string, purpose store.Purpose) (bool, int, error) {
	spent, err := l.spent(ctx, phone, purpose)
	if err != nil {
		return false, 0, err
	}
	if !spent {
		return false, 0, nil
	}

	retryAfter, err := l.RetryAfter(ctx, phone, purpose)
	if err != nil {
		return true, int(l.config.RateLimitWindow / time.Second), nil
	}
	return true, retryAfter, nil
}

// Record spends one unit of the budget. The first issuance arms the
// window TTL.
func (l *otpLimiter) Record(ctx context.Context, phone string, purpose store.Purpose) error {
	if _, err := l.store.Incr(ctx, l.key(phone, purpose), l.config.RateLimitWindow); err != nil {
		return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}
	return nil
}

// RetryAfter reports the seconds until the window closes, 0 when open.
func (l *otpLimiter) RetryAfter(ctx context.Context, phone string, purpose store.Purpose) (int, error) {
	limited, err := l.spent(ctx, phone, purpose)
	if err != nil {
		return 0, err
	}
	if !limited {
		return 0, nil
	}

	ttl, err := l.store.TTL(ctx, l.key(phone, purpose))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}
	if ttl <= 0 {
		return 0, nil
	}

	secs := int((ttl + time.Second - 1) / time.Second)
	return secs, nil
}

// Clear forgets the budget, used after a successful verification.
func (l *otpLimiter) Clear(ctx context.Context, phone string, purpose store.Purpose) error {
	if err := l.store.Delete(ctx, l.key(phone, purpose)); err != nil {
		return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}
	return nil
}

// Used reports how many issuances the current window has consumed.
func (l *otpLimiter) Used(ctx context.Context, phone string, purpose store.Purpose) (int, error) {
	val, err := l.store.Get(ctx, l.key(phone, purpose))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter", errLimiterUnavailable)
	}
	return int(count), nil
}

func (l *otpLimiter) spent(ctx context.Context, phone string, purpose store.Purpose) (bool, error) {
	val, err := l.store.Get(ctx, l.key(phone, purpose))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt counter", errLimiterUnavailable)
	}
	return count >= int64(l.config.RateLimitMax), nil
}
