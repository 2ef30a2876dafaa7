package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aallard/CodeOps-Server-sub001/password"
	"github.com/aallard/CodeOps-Server-sub001/revocation"
	"github.com/aallard/CodeOps-Server-sub001/secretbox"
	"github.com/aallard/CodeOps-Server-sub001/token"
)

// Engine is the authentication core. It owns no transport: callers hand it
// typed requests and bearer strings, it hands back tokens, results, and
// sentinel errors. Construct through [Builder.Build]; the zero value is not
// usable.
//
// All methods are safe for concurrent use.
type Engine struct {
	config Config

	creds    CredentialStore
	roles    RoleProvider
	notifier Notifier
	clock    Clock

	tokens     *token.Manager
	secrets    *secretbox.Box
	passwords  *password.Argon2
	totp       *totpManager
	emailCodes emailCodeStore
	revoked    revocation.Registry

	revokedCloser func()
	audit         *auditDispatcher
	metrics       *Metrics

	// phantomHash absorbs a password verification when the email matches no
	// account, so unknown-user and wrong-password failures cost the same.
	phantomHash string
}

const (
	emailCodePurposeLogin  = "login"
	emailCodePurposeEnroll = "enroll"
)

func emailCodeID(purpose, userID string) string {
	return purpose + ":" + userID
}

// Login verifies a password and either issues a token pair directly or,
// when the account has MFA enabled, returns a challenge that must be
// completed through [Engine.CompleteMFALogin]. Unknown email, wrong
// password, and inactive account all fail with [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	cred, err := e.creds.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			// Burn a verification anyway so the miss is not observable
			// through response timing.
			_, _ = e.passwords.Verify(pass, e.phantomHash)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	ok, err := e.passwords.Verify(pass, cred.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, cred.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !cred.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, cred.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "inactive"}
		})
		return nil, ErrInvalidCredentials
	}

	e.maybeUpgradeHash(ctx, cred, pass)

	if cred.MFAEnabled {
		challenge, err := e.tokens.IssueChallenge(cred.ID)
		if err != nil {
			return nil, fmt.Errorf("issue challenge: %w", err)
		}

		if cred.MFAMethod == MFAEmail {
			if err := e.sendLoginCode(ctx, cred); err != nil {
				return nil, err
			}
		}

		e.metricInc(MetricLoginChallengeIssued)
		e.emitAudit(ctx, auditEventLoginChallenge, true, cred.ID, "", nil, func() map[string]string {
			return map[string]string{"method": cred.MFAMethod.String()}
		})
		return &LoginResult{
			MFARequired:    true,
			MFAMethod:      cred.MFAMethod,
			ChallengeToken: challenge,
		}, nil
	}

	access, refresh, err := e.issuePair(ctx, cred.ID)
	if err != nil {
		return nil, err
	}

	e.stampLastLogin(ctx, cred)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, cred.ID, "", nil, nil)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked for its
// remaining lifetime and a new pair is issued with roles re-derived from
// the RoleProvider, so role changes take effect at the next refresh
// rather than at refresh-token expiry.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken, token.KindRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	if e.isRevoked(ctx, claims.ID) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.ID, ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	cred, err := e.creds.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	if !cred.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, cred.ID, claims.ID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	// Single use: the old refresh token dies with this exchange. A registry
	// write failure is tolerated; the old token then remains live until its
	// natural expiry, which the access TTL bounds.
	if err := e.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		e.metricInc(MetricRevocationFailOpen)
	}

	access, refresh, err := e.issuePair(ctx, cred.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, cred.ID, claims.ID, nil, nil)

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccess checks an access token's signature, expiry, kind, and
// revocation status, and returns the identity it carries. Refresh and
// challenge tokens are rejected here regardless of their validity.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	claims, err := e.tokens.Parse(accessToken, token.KindAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if e.isRevoked(ctx, claims.ID) {
		e.metricInc(MetricValidateRevoked)
		return nil, ErrInvalidToken
	}

	e.metricInc(MetricValidateSuccess)
	e.metricObserve(MetricValidateLatency, time.Since(start))

	return &AuthResult{
		UserID:    claims.Subject,
		Roles:     claims.Roles,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the presented access token for the remainder of its
// lifetime. Revocation is the whole point here, so registry failures are
// surfaced rather than swallowed.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(accessToken, token.KindAccess)
	if err != nil {
		return ErrInvalidToken
	}

	if err := e.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, nil, nil)
	return nil
}

// ChangePassword re-verifies the current password before accepting a new
// one. The new password must satisfy the length policy and differ from the
// current one. Existing tokens stay valid; session invalidation on
// password change is the caller's policy decision.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
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

	ok, err := e.passwords.Verify(currentPassword, cred.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if len(newPassword) < e.config.Password.MinLength {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}
	if newPassword == currentPassword {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	cred.PasswordHash = hash
	cred.UpdatedAt = e.clock.Now()
	if err := e.creds.Save(ctx, cred); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)
	return nil
}

// MetricsSnapshot returns a copy of the engine counters for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes the audit dispatcher and stops any background workers the
// engine owns. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	if e.revokedCloser != nil {
		e.revokedCloser()
	}
}

func (e *Engine) issuePair(ctx context.Context, userID string) (string, string, error) {
	roles, err := e.rolesFor(ctx, userID)
	if err != nil {
		return "", "", err
	}

	access, err := e.tokens.IssueAccess(userID, roles)
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.tokens.IssueRefresh(userID)
	if err != nil {
		return "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return access, refresh, nil
}

func (e *Engine) rolesFor(ctx context.Context, userID string) ([]string, error) {
	if e.roles == nil {
		return nil, nil
	}
	roles, err := e.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}
	return roles, nil
}

// isRevoked treats registry read failures as "not revoked". Tokens are
// short-lived; a registry outage must not take authentication down with it.
func (e *Engine) isRevoked(ctx context.Context, jti string) bool {
	revoked, err := e.revoked.IsRevoked(ctx, jti)
	if err != nil {
		e.metricInc(MetricRevocationFailOpen)
		return false
	}
	return revoked
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, cred *Credential, pass string) {
	if e.config.Password.DisableUpgradeOnLogin {
		return
	}
	needs, err := e.passwords.NeedsUpgrade(cred.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwords.Hash(pass)
	if err != nil {
		return
	}
	cred.PasswordHash = hash
	cred.UpdatedAt = e.clock.Now()
	// Best effort. A lost upgrade is retried on the next login.
	if err := e.creds.Save(ctx, cred); err == nil {
		e.metricInc(MetricPasswordUpgraded)
	}
}

func (e *Engine) stampLastLogin(ctx context.Context, cred *Credential) {
	cred.LastLoginAt = e.clock.Now()
	// Best effort; losing the timestamp must not fail the login.
	_ = e.creds.Save(ctx, cred)
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	e.metrics.Observe(id, d)
}
