package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aallard/CodeOps-Server-sub001/internal"
	"github.com/aallard/CodeOps-Server-sub001/token"
)

// CompleteMFALogin finishes a two-phase login. The challenge token proves
// the password already checked out; the code proves possession of the
// second factor. The code may be a TOTP code, an emailed code, or one of
// the account's recovery codes. A successful completion consumes the
// challenge, so replaying it fails with [ErrInvalidToken].
func (e *Engine) CompleteMFALogin(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(challengeToken, token.KindChallenge)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		return nil, ErrInvalidToken
	}

	if e.isRevoked(ctx, claims.ID) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, claims.Subject, claims.ID, ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	cred, err := e.creds.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricMFAFailure)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	if !cred.Active {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, cred.ID, claims.ID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	// A challenge can outlive an MFA disable. Without an enabled factor
	// there is nothing left to prove, so the token is dead.
	if !cred.MFAEnabled {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, cred.ID, claims.ID, ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	usedRecovery, err := e.verifySecondFactor(ctx, cred, code)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		if errors.Is(err, ErrCodeAttemptsExceeded) {
			e.metricInc(MetricMFAAttemptsExceeded)
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, cred.ID, claims.ID, err, nil)
		return nil, err
	}

	// Challenge tokens are single use. A registry write failure leaves the
	// challenge replayable until its short TTL runs out; tolerated for the
	// same availability reason the read side fails open.
	if err := e.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		e.metricInc(MetricRevocationFailOpen)
	}

	access, refresh, err := e.issuePair(ctx, cred.ID)
	if err != nil {
		return nil, err
	}

	e.stampLastLogin(ctx, cred)
	e.metricInc(MetricMFASuccess)
	if usedRecovery {
		e.metricInc(MetricRecoveryCodeUsed)
		e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, cred.ID, claims.ID, nil, func() map[string]string {
			remaining, _ := e.openRecoveryCodes(cred.RecoveryCodes)
			return map[string]string{"remaining": fmt.Sprintf("%d", len(remaining))}
		})
	}
	e.emitAudit(ctx, auditEventMFASuccess, true, cred.ID, claims.ID, nil, nil)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// verifySecondFactor tries the account's configured factor first and falls
// back to the recovery set. The caller cannot tell from the error which
// path rejected the code.
func (e *Engine) verifySecondFactor(ctx context.Context, cred *Credential, code string) (usedRecovery bool, err error) {
	switch cred.MFAMethod {
	case MFATOTP:
		secret, err := e.secrets.Open(cred.MFASecret)
		if err != nil {
			return false, ErrSecretCorrupt
		}
		ok, counter, err := e.totp.VerifyCode(secret, code, e.clock.Now())
		if err != nil {
			return false, fmt.Errorf("verify totp: %w", err)
		}
		if ok {
			if counter <= cred.TOTPLastCounter {
				return false, ErrInvalidCode
			}
			// Persisted by the caller's last-login stamp.
			cred.TOTPLastCounter = counter
			return false, nil
		}
	case MFAEmail:
		err := e.emailCodes.Consume(ctx, emailCodeID(emailCodePurposeLogin, cred.ID), internal.HashCode(strings.TrimSpace(code)), e.config.EmailCode.MaxAttempts)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, errEmailCodeAttemptsExceeded) {
			return false, ErrCodeAttemptsExceeded
		}
		if errors.Is(err, errEmailCodeStoreUnavailable) {
			return false, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
		// Mismatch or expired: fall through to the recovery set.
	default:
		return false, ErrInvalidToken
	}

	ok, err := e.consumeRecoveryCode(ctx, cred, code)
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricRecoveryCodeFailed)
		return false, ErrInvalidCode
	}
	return true, nil
}

// ResendEmailCode regenerates the emailed login code for a pending
// challenge, invalidating the previous one. Only accounts whose factor is
// email delivery can resend; for TOTP accounts there is nothing to send.
func (e *Engine) ResendEmailCode(ctx context.Context, challengeToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(challengeToken, token.KindChallenge)
	if err != nil {
		return ErrInvalidToken
	}
	if e.isRevoked(ctx, claims.ID) {
		return ErrInvalidToken
	}

	cred, err := e.creds.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	if !cred.Active {
		return ErrInvalidCredentials
	}
	if !cred.MFAEnabled || cred.MFAMethod != MFAEmail {
		return ErrConflict
	}

	if err := e.sendLoginCode(ctx, cred); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventMFACodeResent, true, cred.ID, claims.ID, nil, nil)
	return nil
}

// sendLoginCode mints a fresh emailed code and stores only its hash. A new
// code always replaces the pending one.
func (e *Engine) sendLoginCode(ctx context.Context, cred *Credential) error {
	if e.notifier == nil {
		return ErrNotifierUnavailable
	}

	code, err := internal.NumericCode(e.config.EmailCode.Digits)
	if err != nil {
		return fmt.Errorf("mint email code: %w", err)
	}

	if err := e.emailCodes.Set(ctx, emailCodeID(emailCodePurposeLogin, cred.ID), internal.HashCode(code), e.config.EmailCode.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}

	if err := e.notifier.SendCode(ctx, cred.Email, code); err != nil {
		return fmt.Errorf("%w: %v", ErrNotifierUnavailable, err)
	}

	e.metricInc(MetricEmailCodeSent)
	return nil
}
