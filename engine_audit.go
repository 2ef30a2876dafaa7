package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginChallenge        = "login_mfa_challenge"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventRegisterDuplicate     = "register_duplicate"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFACodeResent         = "mfa_code_resent"
	auditEventMFASetupStarted       = "mfa_setup_started"
	auditEventMFAEnabled            = "mfa_enabled"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventRecoveryCodeUsed      = "recovery_code_used"
	auditEventRecoveryCodesRotated  = "recovery_codes_rotated"
)

// AuditErrorCode is the stable machine-readable failure label attached to
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrNotConfigured      AuditErrorCode = "not_configured"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
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

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantIDFromContext(ctx),
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
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrCodeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrNotConfigured):
		return auditErrNotConfigured
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrCredentialBackend),
		errors.Is(err, ErrCodeBackend),
		errors.Is(err, ErrNotifierUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
