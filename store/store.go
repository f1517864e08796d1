package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("store: record not found")

// Purpose identifies the flow a verification code was issued for.
type Purpose string

const (
	// PurposeLogin is a code issued for a sign-in attempt.
	PurposeLogin Purpose = "login"
	// PurposeRegister is a code issued for account creation.
	PurposeRegister Purpose = "register"
	// PurposePasswordReset is a code issued for a credential reset.
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposePasswordReset:
		return true
	}
	return false
}

// OTPState is the lifecycle position of a verification code.
//
// Persisted states are OTPValid, OTPVerified, and OTPSuperseded.
// OTPExpired is derived: a valid record past its deadline reports expired
// without a write.
type OTPState string

const (
	// OTPValid is a live code awaiting verification.
	OTPValid OTPState = "valid"
	// OTPVerified is a code consumed by a successful verification.
	OTPVerified OTPState = "verified"
	// OTPSuperseded is a code retired by the issuance of a newer one.
	OTPSuperseded OTPState = "superseded"
	// OTPExpired is a valid code whose deadline has passed. Derived only.
	OTPExpired OTPState = "expired"
)

// OTPRecord is one issued verification code.
type OTPRecord struct {
	ID         string
	Phone      string
	Code       string
	Purpose    Purpose
	Attempts   int
	State      OTPState
	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}

// StateAt reports the record's effective state at the given instant,
// deriving OTPExpired for valid records past their deadline.
func (r *OTPRecord) StateAt(now time.Time) OTPState {
	if r.State == OTPValid && !now.Before(r.ExpiresAt) {
		return OTPExpired
	}
	return r.State
}

// Usable reports whether the code can still be presented for verification.
func (r *OTPRecord) Usable(now time.Time) bool {
	return r.StateAt(now) == OTPValid
}

// TokenRecord is one opaque bearer token. The plaintext secret is never
// stored; only its SHA-256 digest.
type TokenRecord struct {
	ID         string
	SubjectID  string
	Name       string
	Abilities  []string
	SecretHash [32]byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Can reports whether the token carries the given ability. A token holding
// the wildcard "*" can do anything.
func (r *TokenRecord) Can(ability string) bool {
	return slices.Contains(r.Abilities, "*") || slices.Contains(r.Abilities, ability)
}

// Expired reports whether the token's deadline has passed.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// OTPStore persists verification codes.
type OTPStore interface {
	// Create inserts a new record.
	Create(ctx context.Context, rec *OTPRecord) error

	// FindValid returns the newest record in state valid for the phone
	// and purpose, or ErrNotFound. Expired-but-valid records are still
	// returned; the caller derives expiry.
	FindValid(ctx context.Context, phone string, purpose Purpose) (*OTPRecord, error)

	// SupersedeValid retires every valid record for the phone and purpose
	// and returns how many were retired.
	SupersedeValid(ctx context.Context, phone string, purpose Purpose) (int64, error)

	// IncrementAttempts bumps the attempt counter of the record and
	// returns the new count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// MarkVerified moves the record from valid to verified at the given
	// instant. Only valid records transition; anything else is
	// ErrNotFound.
	MarkVerified(ctx context.Context, id string, at time.Time) error

	// PurgeExpired deletes records whose deadline passed before the
	// cutoff and returns how many were removed.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenStore persists bearer tokens.
type TokenStore interface {
	// Create inserts a new record.
	Create(ctx context.Context, rec *TokenRecord) error

	// FindByID returns the record, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*TokenRecord, error)

	// Touch stamps the record's last-use instant.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes the record. Deleting an absent record returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteBySubject removes every token of the subject and returns how
	// many were removed.
	DeleteBySubject(ctx context.Context, subjectID string) (int64, error)
}
