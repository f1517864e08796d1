package phoneauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/viznet/phoneauth/internal"
	"github.com/viznet/phoneauth/kv"
	"github.com/viznet/phoneauth/notify"
	"github.com/viznet/phoneauth/once"
	"github.com/viznet/phoneauth/password"
	"github.com/viznet/phoneauth/store"
)

const (
	tokenNameAccess  = "app"
	tokenNameRefresh = "refresh"

	abilityRefresh = "refresh"
)

// Engine defines a public type used by phoneauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	kv            kv.Store
	otps          store.OTPStore
	tokens        store.TokenStore
	subjects      SubjectProvider
	notifier      notify.Notifier
	limiter       *otpLimiter
	rotationGuard *once.Guard
	passwordHash  *password.Argon2
	audit         *auditDispatcher
	metrics       *Metrics
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// mintPair creates and persists a fresh access/refresh record pair for the
// subject and returns the one-time plaintexts.
func (e *Engine) mintPair(ctx context.Context, subjectID string) (*TokenPair, error) {
	now := time.Now().UTC()

	accessSecret, err := internal.NewTokenSecret()
	if err != nil {
		return nil, err
	}
	refreshSecret, err := internal.NewTokenSecret()
	if err != nil {
		return nil, err
	}

	access := &store.TokenRecord{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		Name:       tokenNameAccess,
		Abilities:  []string{"*"},
		SecretHash: internal.HashSecret(accessSecret),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.Token.AccessTTL),
	}
	refresh := &store.TokenRecord{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		Name:       tokenNameRefresh,
		Abilities:  []string{abilityRefresh},
		SecretHash: internal.HashSecret(refreshSecret),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.Token.RefreshTTL),
	}

	if err := e.tokens.Create(ctx, access); err != nil {
		return nil, err
	}
	if err := e.tokens.Create(ctx, refresh); err != nil {
		// keep the stores consistent when the second insert fails
		_ = e.tokens.Delete(ctx, access.ID)
		return nil, err
	}

	return &TokenPair{
		AccessToken:  internal.EncodeToken(access.ID, accessSecret),
		RefreshToken: internal.EncodeToken(refresh.ID, refreshSecret),
		ExpiresIn:    int(e.config.Token.AccessTTL / time.Second),
	}, nil
}

// resolveToken decodes a plaintext, loads its record, and verifies the
// secret digest in constant time.
func (e *Engine) resolveToken(ctx context.Context, plaintext string) (*store.TokenRecord, error) {
	tokenID, secret, err := internal.DecodeToken(plaintext)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	rec, err := e.tokens.FindByID(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	provided := internal.HashSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], rec.SecretHash[:]) != 1 {
		return nil, ErrTokenInvalid
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, ErrTokenInvalid
	}

	return rec, nil
}
