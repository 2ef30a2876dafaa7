package authcore

import (
	"context"
	"time"
)

// MFAMethod identifies the second factor configured on an account.
type MFAMethod uint8

const (
	// MFANone means the account authenticates with password only.
	MFANone MFAMethod = iota
	// MFATOTP means the account holds an encrypted TOTP seed.
	MFATOTP
	// MFAEmail means login codes are delivered to the account email.
	MFAEmail
)

// String returns the wire name of the method ("none", "totp", "email").
func (m MFAMethod) String() string {
	switch m {
	case MFATOTP:
		return "totp"
	case MFAEmail:
		return "email"
	default:
		return "none"
	}
}

// Credential is the persisted user record the engine operates on.
//
// Invariants maintained by the engine: MFAEnabled implies RecoveryCodes is
// non-empty and, for MFATOTP, MFASecret is non-empty. DisableMFA clears
// method, secret, and recovery codes together — no orphaned secrets.
// MFASecret and RecoveryCodes are secretbox blobs; plaintext never touches
// the store.
type Credential struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool

	MFAMethod     MFAMethod
	MFAEnabled    bool
	MFASecret     []byte
	RecoveryCodes []byte

	// TOTPLastCounter is the time-step counter of the last TOTP code
	// accepted at login. Codes at or below it are rejected, so an observed
	// code cannot complete a second login within the skew window.
	TOTPLastCounter int64

	LastLoginAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Version implements optimistic concurrency. Save must reject a write
	// whose Version no longer matches the stored row with
	// [ErrVersionConflict]; the engine relies on this to make recovery-code
	// consumption single-use under concurrent requests.
	Version int64
}

// CredentialStore is the persistence interface the engine consumes.
// Email lookups are case-insensitive.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*Credential, error)
	GetByEmail(ctx context.Context, email string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	Save(ctx context.Context, cred *Credential) error
}

// RoleProvider resolves the role names a user carries across all teams.
// Consulted once per login and refresh; the result is stamped into the
// access token.
type RoleProvider interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
}

// Notifier delivers a one-time numeric code to an address. The engine only
// depends on acceptance; delivery retries are the implementation's concern.
type Notifier interface {
	SendCode(ctx context.Context, email, code string) error
}

// Clock abstracts time for deterministic expiry and TOTP-window tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// LoginResult is returned by [Engine.Login] and [Engine.CompleteMFALogin].
// Exactly one of the two shapes is populated: a token pair, or a challenge.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	MFARequired    bool
	MFAMethod      MFAMethod
	ChallengeToken string
}

// TokenPair is returned by [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is returned by [Engine.ValidateAccess]: the identity and role
// snapshot carried by a live, unrevoked access token.
type AuthResult struct {
	UserID    string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// RegisterResult is returned by [Engine.Register]. Registration implies no
// MFA yet, so a full token pair is issued directly.
type RegisterResult struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// SetupMFARequest is the input for [Engine.SetupMFA]. The password is
// re-verified before any material is generated.
type SetupMFARequest struct {
	Password string
	Method   MFAMethod
}

// DisableMFARequest is the input for [Engine.DisableMFA].
type DisableMFARequest struct {
	Password string
}

// RegenerateRecoveryCodesRequest is the input for
// [Engine.RegenerateRecoveryCodes].
type RegenerateRecoveryCodesRequest struct {
	Password string
}

// MFASetup carries the enrollment material returned exactly once by
// [Engine.SetupMFA]. The secret and codes cannot be retrieved again; only
// encrypted forms persist.
type MFASetup struct {
	Method MFAMethod

	// SecretBase32 and ProvisioningURI are set for MFATOTP only.
	SecretBase32    string
	ProvisioningURI string

	RecoveryCodes []string
}
