package phoneauth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/viznet/phoneauth/internal"
	"github.com/viznet/phoneauth/store"
)

func verifiedMarkerKey(phone string) string {
	return "phone_verified:" + phone
}

// SendCode describes the sendcode operation and its observable behavior.
//
// SendCode may return an error when input validation, dependency calls, or security checks fail.
// SendCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SendCode(ctx context.Context, phone string, purpose store.Purpose) (*SendCodeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if phone == "" {
		return nil, ErrInvalidPhone
	}
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}

	limited, retryAfter, err := e.limiter.Limited(ctx, phone, purpose)
	if err != nil {
		return nil, err
	}
	if limited {
		e.metricInc(MetricCodeRateLimited)
		e.emitAudit(ctx, auditEventCodeRateLimited, false, "", phone, "", ErrRateLimited, nil)
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	now := time.Now().UTC()

	if _, err := e.otps.SupersedeValid(ctx, phone, purpose); err != nil {
		return nil, err
	}

	code, err := internal.NewCode(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	rec := &store.OTPRecord{
		ID:        uuid.NewString(),
		Phone:     phone,
		Code:      code,
		Purpose:   purpose,
		State:     store.OTPValid,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.OTP.Expiry),
	}
	if err := e.otps.Create(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.limiter.Record(ctx, phone, purpose); err != nil {
		return nil, err
	}

	e.deliverCode(ctx, phone, code)

	userExists := false
	if _, err := e.subjects.GetByPhone(ctx, phone); err == nil {
		userExists = true
	} else if !errors.Is(err, ErrSubjectNotFound) {
		return nil, err
	}

	e.metricInc(MetricCodeSent)
	e.emitAudit(ctx, auditEventCodeSent, true, "", phone, "", nil, func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
		}
	})

	return &SendCodeResult{
		UserExists: userExists,
		ExpiresIn:  int(e.config.OTP.Expiry / time.Second),
	}, nil
}

// deliverCode hands the code to the notifier under its own deadline.
// Delivery failures are counted and logged, never surfaced: the record is
// already live and the caller can retry delivery by requesting again.
func (e *Engine) deliverCode(ctx context.Context, phone, code string) {
	if e.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, e.config.Notifier.Timeout)
	defer cancel()

	if err := e.notifier.SendCode(notifyCtx, phone, code); err != nil {
		e.metricInc(MetricNotifierFailure)
		e.emitAudit(ctx, auditEventNotifierFailure, false, "", phone, "", nil, nil)
		log.Print("phoneauth: code delivery failed")
	}
}

// RetryAfter describes the retryafter operation and its observable behavior.
//
// RetryAfter may return an error when input validation, dependency calls, or security checks fail.
// RetryAfter does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RetryAfter(ctx context.Context, phone string, purpose store.Purpose) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.limiter.RetryAfter(ctx, phone, purpose)
}

// SendBudget reports the issuance limit, the sends remaining in the
// current window, and the seconds until the window reopens.
func (e *Engine) SendBudget(ctx context.Context, phone string, purpose store.Purpose) (limit, remaining, reset int, err error) {
	if e == nil {
		return 0, 0, 0, ErrEngineNotReady
	}

	used, err := e.limiter.Used(ctx, phone, purpose)
	if err != nil {
		return 0, 0, 0, err
	}
	reset, err = e.limiter.RetryAfter(ctx, phone, purpose)
	if err != nil {
		return 0, 0, 0, err
	}

	limit = e.config.OTP.RateLimitMax
	remaining = limit - used
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining, reset, nil
}

// VerifyCode describes the verifycode operation and its observable behavior.
//
// VerifyCode may return an error when input validation, dependency calls, or security checks fail.
// VerifyCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyCode(ctx context.Context, phone, code string, purpose store.Purpose) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if phone == "" {
		return nil, ErrInvalidPhone
	}
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}

	now := time.Now().UTC()

	rec, err := e.otps.FindValid(ctx, phone, purpose)
	if errors.Is(err, store.ErrNotFound) {
		e.metricInc(MetricCodeInvalid)
		e.emitAudit(ctx, auditEventCodeInvalid, false, "", phone, "", ErrOTPInvalid, func() map[string]string {
			return map[string]string{"reason": "no_code"}
		})
		return nil, &InvalidCodeError{AttemptsRemaining: 0}
	}
	if err != nil {
		return nil, err
	}

	if !rec.Usable(now) {
		e.metricInc(MetricCodeInvalid)
		e.emitAudit(ctx, auditEventCodeInvalid, false, "", phone, "", ErrOTPInvalid, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return nil, &InvalidCodeError{AttemptsRemaining: 0}
	}

	if code != rec.Code {
		attempts, err := e.otps.IncrementAttempts(ctx, rec.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		remaining := e.config.OTP.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		e.metricInc(MetricCodeInvalid)
		e.emitAudit(ctx, auditEventCodeInvalid, false, "", phone, "", ErrOTPInvalid, func() map[string]string {
			return map[string]string{"reason": "mismatch"}
		})
		return nil, &InvalidCodeError{AttemptsRemaining: remaining}
	}

	// The correct code no longer redeems once the attempt budget is
	// spent. The lockout holds for the record's remaining lifetime.
	if rec.Attempts >= e.config.OTP.MaxAttempts {
		e.metricInc(MetricCodeLockedOut)
		e.emitAudit(ctx, auditEventCodeLockedOut, false, "", phone, "", ErrOTPLockedOut, nil)
		return nil, ErrOTPLockedOut
	}

	if err := e.otps.MarkVerified(ctx, rec.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// lost the race to a concurrent verification
			e.metricInc(MetricCodeInvalid)
			return nil, &InvalidCodeError{AttemptsRemaining: 0}
		}
		return nil, err
	}

	if err := e.limiter.Clear(ctx, phone, purpose); err != nil {
		log.Print("phoneauth: rate counter clear failed")
	}

	subject, err := e.subjects.GetByPhone(ctx, phone)
	if errors.Is(err, ErrSubjectNotFound) {
		verifiedUntil := now.Add(e.config.OTP.VerifiedMarkerTTL)
		if err := e.kv.Set(ctx, verifiedMarkerKey(phone), now.Format(time.RFC3339), e.config.OTP.VerifiedMarkerTTL); err != nil {
			return nil, err
		}

		e.metricInc(MetricCodeVerified)
		e.emitAudit(ctx, auditEventCodeVerified, true, "", phone, "", nil, func() map[string]string {
			return map[string]string{"outcome": "needs_registration"}
		})

		return &VerifyResult{
			NeedsRegistration: true,
			Phone:             phone,
			VerifiedUntil:     verifiedUntil,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if subject.PhoneVerifiedAt == nil {
		if err := e.subjects.MarkPhoneVerified(ctx, subject.ID, now); err != nil {
			return nil, err
		}
		subject.PhoneVerifiedAt = &now
	}

	pair, err := e.mintPair(ctx, subject.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricCodeVerified)
	e.emitAudit(ctx, auditEventCodeVerified, true, subject.ID, phone, "", nil, nil)

	return &VerifyResult{
		Phone:   phone,
		Subject: subject,
		Pair:    pair,
	}, nil
}

// PurgeExpiredCodes deletes verification records whose deadline passed more
// than retention ago. Intended for a periodic housekeeping ticker.
func (e *Engine) PurgeExpiredCodes(ctx context.Context, retention time.Duration) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.otps.PurgeExpired(ctx, time.Now().UTC().Add(-retention))
}
