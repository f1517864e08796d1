package phoneauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/viznet/phoneauth/internal"
	"github.com/viznet/phoneauth/once"
	"github.com/viznet/phoneauth/store"
)

func refreshGraceKey(fingerprint string) string {
	return "refresh_grace:" + fingerprint
}

func refreshLockKey(tokenID string) string {
	return "refresh_lock:" + tokenID
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, secret, err := internal.DecodeToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	fingerprint := internal.FingerprintString(refreshToken)

	var subjectID string
	payload, replayed, err := e.rotationGuard.Do(ctx, refreshGraceKey(fingerprint), refreshLockKey(tokenID), func(ctx context.Context) ([]byte, error) {
		pair, sid, err := e.rotate(ctx, tokenID, secret)
		if err != nil {
			return nil, err
		}
		subjectID = sid
		return json.Marshal(pair)
	})
	if errors.Is(err, once.ErrInProgress) {
		e.metricInc(MetricRefreshContended)
		e.emitAudit(ctx, auditEventRefreshContended, false, "", "", tokenID, ErrRotationInProgress, nil)
		return nil, ErrRotationInProgress
	}
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			e.metricInc(MetricRefreshInvalid)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", tokenID, err, nil)
		}
		return nil, err
	}

	var pair TokenPair
	if err := json.Unmarshal(payload, &pair); err != nil {
		return nil, err
	}

	if replayed {
		e.metricInc(MetricRefreshReplayed)
		e.emitAudit(ctx, auditEventRefreshReplayed, true, "", "", tokenID, nil, nil)
		return &pair, nil
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, subjectID, "", tokenID, nil, nil)
	return &pair, nil
}

// rotate consumes the presented refresh record and mints the replacement
// pair. The caller holds the rotation lock for tokenID.
func (e *Engine) rotate(ctx context.Context, tokenID string, secret [32]byte) (*TokenPair, string, error) {
	rec, err := e.tokens.FindByID(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrRefreshInvalid
	}
	if err != nil {
		return nil, "", err
	}

	digest := internal.HashSecret(secret)
	if subtle.ConstantTimeCompare(digest[:], rec.SecretHash[:]) != 1 {
		return nil, "", ErrRefreshInvalid
	}
	if !rec.Can(abilityRefresh) {
		return nil, "", ErrRefreshInvalid
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, "", ErrRefreshInvalid
	}

	if err := e.tokens.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	pair, err := e.mintPair(ctx, rec.SubjectID)
	if err != nil {
		return nil, "", err
	}
	return pair, rec.SubjectID, nil
}

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate may return an error when input validation, dependency calls, or security checks fail.
// Authenticate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics.Enabled() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}
	}()

	rec, err := e.resolveToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if rec.Name != tokenNameAccess {
		return nil, ErrTokenInvalid
	}

	subject, err := e.subjects.GetByID(ctx, rec.SubjectID)
	if errors.Is(err, ErrSubjectNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	if err := e.tokens.Touch(ctx, rec.ID, time.Now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Print("phoneauth: token touch failed")
	}

	return &AuthResult{Subject: subject, Token: rec}, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, tokenID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.tokens.Delete(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutToken, true, "", "", tokenID, nil, nil)
	return nil
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, subjectID string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.tokens.DeleteBySubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subjectID, "", "", nil, nil)
	return n, nil
}
