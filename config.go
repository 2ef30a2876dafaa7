package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable of the authentication core. Zero values are
// replaced by [defaultConfig] through [New]; Validate runs inside
// [Builder.Build].
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	TOTP          TOTPConfig
	EmailCode     EmailCodeConfig
	RecoveryCodes RecoveryCodeConfig
	Revocation    RevocationConfig
	Secrets       SecretsConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// JWTConfig configures the token service. The challenge TTL is deliberately
// the shortest of the three: a challenge token only proves "password was
// correct", not full authentication.
type JWTConfig struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration

	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig holds Argon2id parameters plus the account password policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength int

	// DisableUpgradeOnLogin keeps hashes as they are when parameters
	// strengthen. By default a successful login re-hashes under the
	// current parameters.
	DisableUpgradeOnLogin bool
}

// TOTPConfig configures the time-window verifier.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"

	// Skew is the number of adjacent periods accepted on either side of
	// now. Zero takes the default of one window, which tolerates ordinary
	// client clock drift; -1 accepts the current window only.
	Skew int
}

// EmailCodeConfig configures emailed login codes: numeric, short-lived,
// single use, bounded attempts. Resend regenerates and invalidates the
// prior code.
type EmailCodeConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

// RecoveryCodeConfig sizes the single-use fallback set minted with MFA
// enablement.
type RecoveryCodeConfig struct {
	Count  int
	Digits int
}

// RevocationConfig configures the jti registry. SweepInterval only applies
// to the in-memory backend; Redis evicts through key TTLs.
type RevocationConfig struct {
	RedisPrefix   string
	SweepInterval time.Duration
}

// SecretsConfig configures the secretbox key. The symmetric key is derived
// from the passphrase by one-way hash; rotating the passphrase invalidates
// every stored secret.
type SecretsConfig struct {
	Passphrase string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// BlockIfFull makes Emit wait for buffer space instead of dropping
	// the event and counting the drop.
	BlockIfFull bool
}

// MetricsConfig controls the atomic counter set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			ChallengeTTL:  5 * time.Minute,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		TOTP: TOTPConfig{
			Issuer:    "codeops",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		EmailCode: EmailCodeConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "aec",
		},
		RecoveryCodes: RecoveryCodeConfig{
			Count:  8,
			Digits: 8,
		},
		Revocation: RevocationConfig{
			RedisPrefix:   "arj",
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations that would weaken the protocol: a
// challenge outliving the access token, out-of-range code sizes, or a
// missing secretbox passphrase.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.ChallengeTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.JWT.ChallengeTTL > c.JWT.AccessTTL {
		return errors.New("challenge TTL must not exceed access TTL")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("refresh TTL must not be shorter than access TTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("invalid leeway configuration")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp period must be between 15 and 120 seconds")
	}
	if c.TOTP.Skew < -1 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be between -1 and 2 windows")
	}
	if c.EmailCode.Digits < 6 || c.EmailCode.Digits > 10 {
		return errors.New("email code digits must be between 6 and 10")
	}
	if c.EmailCode.TTL <= 0 || c.EmailCode.TTL > time.Hour {
		return errors.New("email code TTL must be positive and at most an hour")
	}
	if c.EmailCode.MaxAttempts < 1 {
		return errors.New("email code max attempts must be at least 1")
	}
	if c.RecoveryCodes.Count < 1 || c.RecoveryCodes.Count > 32 {
		return errors.New("recovery code count must be between 1 and 32")
	}
	if c.RecoveryCodes.Digits < 8 || c.RecoveryCodes.Digits > 10 {
		return errors.New("recovery code digits must be between 8 and 10")
	}
	if c.Revocation.SweepInterval <= 0 {
		return errors.New("revocation sweep interval must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length must be at least 8")
	}
	if c.Secrets.Passphrase == "" {
		return errors.New("secretbox passphrase required")
	}
	return nil
}
