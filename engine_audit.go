package phoneauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventCodeSent         = "code_sent"
	auditEventCodeRateLimited  = "code_rate_limited"
	auditEventCodeVerified     = "code_verified"
	auditEventCodeInvalid      = "code_invalid"
	auditEventCodeLockedOut    = "code_locked_out"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshReplayed  = "refresh_replayed"
	auditEventRefreshContended = "refresh_contended"
	auditEventRefreshInvalid   = "refresh_invalid"
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventRegisterSuccess  = "register_success"
	auditEventRegisterRejected = "register_rejected"
	auditEventLogoutToken      = "logout_token"
	auditEventLogoutAll        = "logout_all"
	auditEventNotifierFailure  = "notifier_failure"
)

// AuditErrorCode defines a public type used by phoneauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeLockedOut      AuditErrorCode = "code_locked_out"
	auditErrRefreshInvalid     AuditErrorCode = "refresh_invalid"
	auditErrRotationInProgress AuditErrorCode = "rotation_in_progress"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrPhoneNotVerified   AuditErrorCode = "phone_not_verified"
	auditErrSubjectNotFound    AuditErrorCode = "subject_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	phone string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		Phone:     phone,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrOTPLockedOut):
		return auditErrCodeLockedOut
	case errors.Is(err, ErrOTPInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrRotationInProgress):
		return auditErrRotationInProgress
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrPhoneNotVerified):
		return auditErrPhoneNotVerified
	case errors.Is(err, ErrSubjectNotFound):
		return auditErrSubjectNotFound
	case errors.Is(err, ErrSubjectExists):
		return auditErrDuplicate
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
