package phoneauth

import (
	"errors"
	"time"
)

// Config defines a public type used by phoneauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	OTP      OTPConfig
	Token    TokenConfig
	Password PasswordConfig
	Notifier NotifierConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// RateLimitScope selects the key the issuance budget is counted against.
type RateLimitScope int

const (
	// ScopePhone counts all purposes against one shared per-phone budget.
	ScopePhone RateLimitScope = iota
	// ScopePhonePurpose gives each purpose its own per-phone budget.
	ScopePhonePurpose
)

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig defines a public type used by phoneauth APIs.
//
// OTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPConfig struct {
	Digits            int
	Expiry            time.Duration
	MaxAttempts       int
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitScope    RateLimitScope
	VerifiedMarkerTTL time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by phoneauth APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	GraceWindow      time.Duration
	RotationLockTTL  time.Duration
	RotationLockWait time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by phoneauth APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
NOTIFIER CONFIG
====================================
*/

// NotifierConfig defines a public type used by phoneauth APIs.
//
// NotifierConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NotifierConfig struct {
	Timeout time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by phoneauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by phoneauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults: 6-digit codes valid for
// five minutes, five verification attempts, three code requests per
// five-minute window, hour-long access tokens, 30-day refresh tokens, and
// a 20-second rotation grace window.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:            6,
			Expiry:            5 * time.Minute,
			MaxAttempts:       5,
			RateLimitMax:      3,
			RateLimitWindow:   5 * time.Minute,
			RateLimitScope:    ScopePhone,
			VerifiedMarkerTTL: 5 * time.Minute,
		},
		Token: TokenConfig{
			AccessTTL:        time.Hour,
			RefreshTTL:       30 * 24 * time.Hour,
			GraceWindow:      20 * time.Second,
			RotationLockTTL:  5 * time.Second,
			RotationLockWait: time.Second,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Notifier: NotifierConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.Expiry <= 0 {
		return errors.New("OTP Expiry must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be positive")
	}
	if c.OTP.RateLimitMax <= 0 {
		return errors.New("OTP RateLimitMax must be positive")
	}
	if c.OTP.RateLimitWindow <= 0 {
		return errors.New("OTP RateLimitWindow must be positive")
	}
	if c.OTP.RateLimitScope != ScopePhone && c.OTP.RateLimitScope != ScopePhonePurpose {
		return errors.New("OTP RateLimitScope is invalid")
	}
	if c.OTP.VerifiedMarkerTTL <= 0 {
		return errors.New("OTP VerifiedMarkerTTL must be positive")
	}

	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be positive")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}
	if c.Token.GraceWindow <= 0 {
		return errors.New("Token GraceWindow must be positive")
	}
	if c.Token.RotationLockTTL <= 0 {
		return errors.New("Token RotationLockTTL must be positive")
	}
	if c.Token.RotationLockWait <= 0 {
		return errors.New("Token RotationLockWait must be positive")
	}
	if c.Token.RotationLockWait >= c.Token.RotationLockTTL {
		return errors.New("Token RotationLockWait must be shorter than RotationLockTTL")
	}

	if c.Notifier.Timeout <= 0 {
		return errors.New("Notifier Timeout must be positive")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be positive when audit is enabled")
	}

	return nil
}
