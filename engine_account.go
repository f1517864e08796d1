package phoneauth

import (
	"context"
	"errors"
	"log"
	"time"
)

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, phone, passwordPlain string) (*Subject, *TokenPair, error) {
	if e == nil {
		return nil, nil, ErrEngineNotReady
	}
	if phone == "" {
		return nil, nil, ErrInvalidPhone
	}

	subject, err := e.subjects.GetByPhone(ctx, phone)
	if errors.Is(err, ErrSubjectNotFound) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", phone, "", ErrInvalidCredentials, nil)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	ok, err := e.passwordHash.Verify(passwordPlain, subject.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, subject.ID, phone, "", ErrInvalidCredentials, nil)
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := e.mintPair(ctx, subject.ID)
	if err != nil {
		return nil, nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, subject.ID, phone, "", nil, nil)
	return subject, pair, nil
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Subject, *TokenPair, error) {
	if e == nil {
		return nil, nil, ErrEngineNotReady
	}
	if in.Phone == "" {
		return nil, nil, ErrInvalidPhone
	}

	if _, err := e.kv.Get(ctx, verifiedMarkerKey(in.Phone)); err != nil {
		e.metricInc(MetricRegisterRejected)
		e.emitAudit(ctx, auditEventRegisterRejected, false, "", in.Phone, "", ErrPhoneNotVerified, nil)
		return nil, nil, ErrPhoneNotVerified
	}

	if _, err := e.subjects.GetByPhone(ctx, in.Phone); err == nil {
		e.metricInc(MetricRegisterRejected)
		e.emitAudit(ctx, auditEventRegisterRejected, false, "", in.Phone, "", ErrSubjectExists, nil)
		return nil, nil, ErrSubjectExists
	} else if !errors.Is(err, ErrSubjectNotFound) {
		return nil, nil, err
	}

	hash, err := e.passwordHash.Hash(in.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	subject, err := e.subjects.Create(ctx, CreateSubjectInput{
		Phone:           in.Phone,
		Name:            in.Name,
		Email:           in.Email,
		PasswordHash:    hash,
		PhoneVerifiedAt: &now,
	})
	if err != nil {
		return nil, nil, err
	}

	// The marker is single use. Failure to clear it only widens the
	// window until its TTL fires.
	if err := e.kv.Delete(ctx, verifiedMarkerKey(in.Phone)); err != nil {
		log.Print("phoneauth: verified marker clear failed")
	}

	pair, err := e.mintPair(ctx, subject.ID)
	if err != nil {
		return nil, nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, subject.ID, in.Phone, "", nil, nil)
	return subject, pair, nil
}
