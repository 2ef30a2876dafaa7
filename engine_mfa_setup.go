package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aallard/CodeOps-Server-sub001/internal"
)

// SetupMFA begins enrollment of a second factor. The password is
// re-verified so a hijacked session cannot silently enroll an attacker's
// authenticator. Enrollment is pending until [Engine.VerifyAndEnable]
// proves the factor works; logins are unaffected until then.
//
// The returned material is shown exactly once. Only encrypted forms are
// persisted, so it cannot be retrieved again later.
func (e *Engine) SetupMFA(ctx context.Context, userID string, req SetupMFARequest) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if req.Method != MFATOTP && req.Method != MFAEmail {
		return nil, fmt.Errorf("unsupported mfa method %q", req.Method)
	}

	cred, err := e.loadVerified(ctx, userID, req.Password)
	if err != nil {
		return nil, err
	}
	if cred.MFAEnabled {
		return nil, ErrConflict
	}

	setup := &MFASetup{Method: req.Method}

	var sealedSecret []byte
	if req.Method == MFATOTP {
		secret, secretBase32, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate totp secret: %w", err)
		}
		sealedSecret, err = e.secrets.Seal(secret)
		if err != nil {
			return nil, fmt.Errorf("seal totp secret: %w", err)
		}
		setup.SecretBase32 = secretBase32
		setup.ProvisioningURI = e.totp.ProvisionURI(secretBase32, cred.Email)
	}

	codes, blob, err := e.mintRecoveryCodes()
	if err != nil {
		return nil, err
	}
	setup.RecoveryCodes = codes

	cred.MFAMethod = req.Method
	cred.MFAEnabled = false
	cred.MFASecret = sealedSecret
	cred.RecoveryCodes = blob
	cred.UpdatedAt = e.clock.Now()

	if err := e.creds.Save(ctx, cred); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	if req.Method == MFAEmail {
		if err := e.sendEnrollCode(ctx, cred); err != nil {
			return nil, err
		}
	}

	e.emitAudit(ctx, auditEventMFASetupStarted, true, cred.ID, "", nil, func() map[string]string {
		return map[string]string{"method": req.Method.String()}
	})

	return setup, nil
}

// VerifyAndEnable proves a pending factor works before it starts gating
// logins: a TOTP code from the enrolled authenticator, or the code mailed
// during setup. Without a pending enrollment it fails with
// [ErrNotConfigured]; with MFA already on it fails with [ErrConflict].
func (e *Engine) VerifyAndEnable(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	cred, err := e.creds.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	if cred.MFAEnabled {
		return ErrConflict
	}
	if cred.MFAMethod == MFANone {
		return ErrNotConfigured
	}

	switch cred.MFAMethod {
	case MFATOTP:
		secret, err := e.secrets.Open(cred.MFASecret)
		if err != nil {
			return ErrSecretCorrupt
		}
		ok, _, err := e.totp.VerifyCode(secret, code, e.clock.Now())
		if err != nil {
			return fmt.Errorf("verify totp: %w", err)
		}
		if !ok {
			return ErrInvalidCode
		}
	case MFAEmail:
		err := e.emailCodes.Consume(ctx, emailCodeID(emailCodePurposeEnroll, cred.ID), internal.HashCode(strings.TrimSpace(code)), e.config.EmailCode.MaxAttempts)
		if err != nil {
			switch {
			case errors.Is(err, errEmailCodeAttemptsExceeded):
				return ErrCodeAttemptsExceeded
			case errors.Is(err, errEmailCodeStoreUnavailable):
				return fmt.Errorf("%w: %v", ErrCodeBackend, err)
			default:
				return ErrInvalidCode
			}
		}
	}

	cred.MFAEnabled = true
	cred.UpdatedAt = e.clock.Now()
	if err := e.creds.Save(ctx, cred); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, cred.ID, "", nil, func() map[string]string {
		return map[string]string{"method": cred.MFAMethod.String()}
	})
	return nil
}

// DisableMFA turns the second factor off after re-verifying the password.
// Method, encrypted secret, and recovery codes are cleared together; no
// orphaned material survives. Disabling an account without MFA fails with
// [ErrConflict].
func (e *Engine) DisableMFA(ctx context.Context, userID string, req DisableMFARequest) error {
	if e == nil {
		return ErrEngineNotReady
	}

	cred, err := e.loadVerified(ctx, userID, req.Password)
	if err != nil {
		return err
	}
	if !cred.MFAEnabled {
		return ErrConflict
	}

	cred.MFAMethod = MFANone
	cred.MFAEnabled = false
	cred.MFASecret = nil
	cred.RecoveryCodes = nil
	cred.TOTPLastCounter = 0
	cred.UpdatedAt = e.clock.Now()

	if err := e.creds.Save(ctx, cred); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, cred.ID, "", nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the whole recovery set. Unused codes
// from the previous set stop working immediately. Like DisableMFA it
// conflicts with an account that has no enabled factor; there is nothing
// to recover from.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID string, req RegenerateRecoveryCodesRequest) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	cred, err := e.loadVerified(ctx, userID, req.Password)
	if err != nil {
		return nil, err
	}
	if !cred.MFAEnabled {
		return nil, ErrConflict
	}

	codes, blob, err := e.mintRecoveryCodes()
	if err != nil {
		return nil, err
	}

	cred.RecoveryCodes = blob
	cred.UpdatedAt = e.clock.Now()
	if err := e.creds.Save(ctx, cred); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	e.metricInc(MetricRecoveryCodesRotated)
	e.emitAudit(ctx, auditEventRecoveryCodesRotated, true, cred.ID, "", nil, nil)
	return codes, nil
}

// loadVerified loads a credential and re-verifies the account password,
// the shared precondition of every MFA management operation.
func (e *Engine) loadVerified(ctx context.Context, userID, pass string) (*Credential, error) {
	cred, err := e.creds.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	ok, err := e.passwords.Verify(pass, cred.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !cred.Active {
		return nil, ErrInvalidCredentials
	}
	return cred, nil
}

// sendEnrollCode mails the ownership-proof code for a pending email
// enrollment.
func (e *Engine) sendEnrollCode(ctx context.Context, cred *Credential) error {
	if e.notifier == nil {
		return ErrNotifierUnavailable
	}

	code, err := internal.NumericCode(e.config.EmailCode.Digits)
	if err != nil {
		return fmt.Errorf("mint email code: %w", err)
	}
	if err := e.emailCodes.Set(ctx, emailCodeID(emailCodePurposeEnroll, cred.ID), internal.HashCode(code), e.config.EmailCode.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	if err := e.notifier.SendCode(ctx, cred.Email, code); err != nil {
		return fmt.Errorf("%w: %v", ErrNotifierUnavailable, err)
	}

	e.metricInc(MetricEmailCodeSent)
	return nil
}
