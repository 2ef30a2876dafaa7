package authcore

import "errors"

var (
	// ErrInvalidCredentials covers bad email, bad password, and inactive
	// accounts. The causes are deliberately merged to prevent account
	// enumeration; the distinction survives only in audit events.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode covers failed TOTP, email, and recovery code checks.
	// Merged across code types for the same enumeration reason.
	ErrInvalidCode = errors.New("invalid code")
	// ErrInvalidToken covers malformed, expired, wrong-kind, and revoked
	// tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConflict is returned when the operation requires the opposite MFA
	// state (setup while enabled, disable while off) or the email is taken.
	ErrConflict = errors.New("conflicting state")
	// ErrNotConfigured is returned by VerifyAndEnable when no pending MFA
	// material exists for the account.
	ErrNotConfigured = errors.New("mfa not configured")

	// ErrPasswordPolicy is returned when a new password fails the configured
	// minimum-length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned by ChangePassword when the new password
	// equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrCodeAttemptsExceeded is returned once a pending email code has
	// absorbed its attempt budget; the code is invalidated.
	ErrCodeAttemptsExceeded = errors.New("code attempts exceeded")

	// ErrEngineNotReady indicates the engine was not built through Builder.Build.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrCredentialBackend indicates the credential store failed. Fatal for
	// the request; detail stays server-side.
	ErrCredentialBackend = errors.New("credential backend unavailable")
	// ErrCodeBackend indicates the email-code store failed.
	ErrCodeBackend = errors.New("code backend unavailable")
	// ErrRevocationBackend indicates the revocation registry rejected a
	// write. Only Logout surfaces it; reads fail open instead.
	ErrRevocationBackend = errors.New("revocation backend unavailable")
	// ErrNotifierUnavailable indicates outbound code delivery failed.
	ErrNotifierUnavailable = errors.New("notifier unavailable")
	// ErrSecretCorrupt indicates stored MFA material failed authenticated
	// decryption. Never treated as an empty secret.
	ErrSecretCorrupt = errors.New("stored secret corrupt")
)

// Credential store sentinel errors. Implementations of [CredentialStore]
// must return these so the engine can map them onto the public taxonomy.
var (
	// ErrCredentialNotFound is returned by lookups that match no record.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrDuplicateEmail is returned by Create when the email is already
	// registered (case-insensitive).
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrVersionConflict is returned by Save when the record was modified
	// since it was loaded. The single-use recovery-code guarantee rests on
	// stores honoring this.
	ErrVersionConflict = errors.New("credential version conflict")
)
