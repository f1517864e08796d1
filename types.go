package phoneauth

import (
	"context"
	"time"

	"github.com/viznet/phoneauth/store"
)

// Subject is the account record the engine operates on. Account ownership
// stays with the host application; the engine only reads and stamps it
// through [SubjectProvider].
type Subject struct {
	ID              string
	Phone           string
	Name            string
	Email           string
	PasswordHash    string
	PhoneVerifiedAt *time.Time
}

// CreateSubjectInput carries the fields for a new account. PasswordHash is
// already hashed by the engine.
type CreateSubjectInput struct {
	Phone           string
	Name            string
	Email           string
	PasswordHash    string
	PhoneVerifiedAt *time.Time
}

// SubjectProvider defines a public type used by phoneauth APIs.
//
// SubjectProvider instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SubjectProvider interface {
	// GetByPhone returns the subject owning the phone, or
	// [ErrSubjectNotFound].
	GetByPhone(ctx context.Context, phone string) (*Subject, error)
	// GetByID returns the subject, or [ErrSubjectNotFound].
	GetByID(ctx context.Context, id string) (*Subject, error)
	// Create registers a new subject. Duplicate phones return
	// [ErrSubjectExists].
	Create(ctx context.Context, input CreateSubjectInput) (*Subject, error)
	// MarkPhoneVerified stamps the subject's phone as verified at the
	// given instant.
	MarkPhoneVerified(ctx context.Context, id string, at time.Time) error
}

// TokenPair is one freshly minted access/refresh pair. Both plaintexts are
// shown exactly once; only their digests persist.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// SendCodeResult reports the outcome of a code issuance.
type SendCodeResult struct {
	UserExists bool
	ExpiresIn  int
}

// VerifyResult reports the outcome of a successful code verification.
// Exactly one of Pair or NeedsRegistration is set: a known subject gets a
// token pair, an unknown phone gets a registration window.
type VerifyResult struct {
	NeedsRegistration bool
	Phone             string
	VerifiedUntil     time.Time
	Subject           *Subject
	Pair              *TokenPair
}

// RegisterInput carries the fields for [Engine.Register]. The phone must
// hold an unexpired verification marker.
type RegisterInput struct {
	Phone    string
	Name     string
	Email    string
	Password string
}

// AuthResult is the resolved identity behind a presented access token.
type AuthResult struct {
	Subject *Subject
	Token   *store.TokenRecord
}
