package phoneauth

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is an exported constant or variable used by the verification engine.
	ErrRateLimited = errors.New("code requests rate limited")
	// ErrOTPInvalid is an exported constant or variable used by the verification engine.
	ErrOTPInvalid = errors.New("invalid verification code")
	// ErrOTPLockedOut is an exported constant or variable used by the verification engine.
	ErrOTPLockedOut = errors.New("verification attempts exceeded")
	// ErrRefreshInvalid is an exported constant or variable used by the verification engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRotationInProgress is an exported constant or variable used by the verification engine.
	ErrRotationInProgress = errors.New("token rotation in progress")
	// ErrTokenInvalid is an exported constant or variable used by the verification engine.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrInvalidCredentials is an exported constant or variable used by the verification engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPhoneNotVerified is an exported constant or variable used by the verification engine.
	ErrPhoneNotVerified = errors.New("phone not verified")
	// ErrSubjectNotFound is an exported constant or variable used by the verification engine.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrSubjectExists is an exported constant or variable used by the verification engine.
	ErrSubjectExists = errors.New("subject already exists")
	// ErrInvalidPhone is an exported constant or variable used by the verification engine.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidPurpose is an exported constant or variable used by the verification engine.
	ErrInvalidPurpose = errors.New("invalid code purpose")
	// ErrBackendUnavailable is an exported constant or variable used by the verification engine.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the seconds remaining until the request window
// reopens. errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("code requests rate limited, retry in %ds", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// InvalidCodeError carries the verification attempts the caller has left.
// errors.Is(err, ErrOTPInvalid) matches it.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.AttemptsRemaining)
}

func (e *InvalidCodeError) Unwrap() error {
	return ErrOTPInvalid
}
