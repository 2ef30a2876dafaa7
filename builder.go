package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aallard/CodeOps-Server-sub001/password"
	"github.com/aallard/CodeOps-Server-sub001/revocation"
	"github.com/aallard/CodeOps-Server-sub001/secretbox"
	"github.com/aallard/CodeOps-Server-sub001/token"
)

// Builder assembles an [Engine]. Only the credential store and the
// secretbox passphrase are mandatory; everything else has a working
// default. Without a redis client the revocation registry and email-code
// store run in process, which is fine for one node and wrong for a fleet.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	creds    CredentialStore
	roles    RoleProvider
	notifier Notifier
	clock    Clock
	sink     AuditSink
	registry revocation.Registry
}

func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig overlays cfg onto the defaults. Zero-valued fields keep their
// default; the config is copied, so later mutation of cfg has no effect.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = mergeConfig(defaultConfig(), cloneConfig(cfg))
	return b
}

// WithRedis makes revocation and pending email codes shared across nodes.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

func (b *Builder) WithRoleProvider(provider RoleProvider) *Builder {
	b.roles = provider
	return b
}

func (b *Builder) WithNotifier(notifier Notifier) *Builder {
	b.notifier = notifier
	return b
}

// WithClock overrides the time source. Tests use this to walk tokens and
// TOTP windows across expiry deterministically.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithRevocationRegistry overrides the registry chosen by Build.
func (b *Builder) WithRevocationRegistry(registry revocation.Registry) *Builder {
	b.registry = registry
	return b
}

func (b *Builder) WithMetricsEnabled(latencyHistograms bool) *Builder {
	b.config.Metrics.Enabled = true
	b.config.Metrics.EnableLatencyHistograms = latencyHistograms
	return b
}

// Build validates the configuration, wires the backends, and returns a
// ready engine. The caller owns the engine and must Close it.
func (b *Builder) Build() (*Engine, error) {
	if b.creds == nil {
		return nil, errors.New("credential store is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     b.config.JWT.AccessTTL,
		RefreshTTL:    b.config.JWT.RefreshTTL,
		ChallengeTTL:  b.config.JWT.ChallengeTTL,
		SigningMethod: token.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Audience:      b.config.JWT.Audience,
		Leeway:        b.config.JWT.Leeway,
		TimeFunc:      timeFunc(b.clock),
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	secrets, err := secretbox.New(b.config.Secrets.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}

	passwords, err := password.NewArgon2(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	phantom, err := phantomHash(passwords)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:      b.config,
		creds:       b.creds,
		roles:       b.roles,
		notifier:    b.notifier,
		clock:       b.clockOrSystem(),
		tokens:      tokens,
		secrets:     secrets,
		passwords:   passwords,
		totp:        newTOTPManager(b.config.TOTP),
		metrics:     NewMetrics(b.config.Metrics),
		audit:       newAuditDispatcher(b.config.Audit, b.sink),
		phantomHash: phantom,
	}

	switch {
	case b.registry != nil:
		e.revoked = b.registry
	case b.redis != nil:
		e.revoked = revocation.NewRedisRegistry(b.redis, b.config.Revocation.RedisPrefix)
	default:
		mem := revocation.NewMemoryRegistry(b.config.Revocation.SweepInterval, timeFunc(b.clock))
		e.revoked = mem
		e.revokedCloser = mem.Close
	}

	if b.redis != nil {
		e.emailCodes = newRedisEmailCodeStore(b.redis, b.config.EmailCode.RedisPrefix)
	} else {
		e.emailCodes = newMemoryEmailCodeStore(timeFunc(b.clock))
	}

	return e, nil
}

func (b *Builder) clockOrSystem() Clock {
	if b.clock != nil {
		return b.clock
	}
	return systemClock{}
}

// timeFunc adapts an optional Clock to the token manager's time source.
// Nil keeps the manager on the system clock.
func timeFunc(clock Clock) func() time.Time {
	if clock == nil {
		return nil
	}
	return clock.Now
}

// phantomHash produces a throwaway hash for timing-equalized rejections of
// unknown emails.
func phantomHash(hasher *password.Argon2) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	hash, err := hasher.Hash(hex.EncodeToString(raw))
	if err != nil {
		return "", fmt.Errorf("phantom hash: %w", err)
	}
	return hash, nil
}

// mergeConfig fills zero-valued fields of overlay from base.
func mergeConfig(base, overlay Config) Config {
	out := overlay

	if out.JWT.AccessTTL == 0 {
		out.JWT.AccessTTL = base.JWT.AccessTTL
	}
	if out.JWT.RefreshTTL == 0 {
		out.JWT.RefreshTTL = base.JWT.RefreshTTL
	}
	if out.JWT.ChallengeTTL == 0 {
		out.JWT.ChallengeTTL = base.JWT.ChallengeTTL
	}
	if out.JWT.SigningMethod == "" {
		out.JWT.SigningMethod = base.JWT.SigningMethod
	}

	if out.Password.Memory == 0 {
		out.Password.Memory = base.Password.Memory
	}
	if out.Password.Time == 0 {
		out.Password.Time = base.Password.Time
	}
	if out.Password.Parallelism == 0 {
		out.Password.Parallelism = base.Password.Parallelism
	}
	if out.Password.SaltLength == 0 {
		out.Password.SaltLength = base.Password.SaltLength
	}
	if out.Password.KeyLength == 0 {
		out.Password.KeyLength = base.Password.KeyLength
	}
	if out.Password.MinLength == 0 {
		out.Password.MinLength = base.Password.MinLength
	}

	if out.TOTP.Issuer == "" {
		out.TOTP.Issuer = base.TOTP.Issuer
	}
	if out.TOTP.Digits == 0 {
		out.TOTP.Digits = base.TOTP.Digits
	}
	if out.TOTP.Period == 0 {
		out.TOTP.Period = base.TOTP.Period
	}
	if out.TOTP.Algorithm == "" {
		out.TOTP.Algorithm = base.TOTP.Algorithm
	}
	// Skew -1 is the explicit "current window only"; zero means unset.
	if out.TOTP.Skew == 0 {
		out.TOTP.Skew = base.TOTP.Skew
	}

	if out.EmailCode.Digits == 0 {
		out.EmailCode.Digits = base.EmailCode.Digits
	}
	if out.EmailCode.TTL == 0 {
		out.EmailCode.TTL = base.EmailCode.TTL
	}
	if out.EmailCode.MaxAttempts == 0 {
		out.EmailCode.MaxAttempts = base.EmailCode.MaxAttempts
	}
	if out.EmailCode.RedisPrefix == "" {
		out.EmailCode.RedisPrefix = base.EmailCode.RedisPrefix
	}

	if out.RecoveryCodes.Count == 0 {
		out.RecoveryCodes.Count = base.RecoveryCodes.Count
	}
	if out.RecoveryCodes.Digits == 0 {
		out.RecoveryCodes.Digits = base.RecoveryCodes.Digits
	}

	if out.Revocation.RedisPrefix == "" {
		out.Revocation.RedisPrefix = base.Revocation.RedisPrefix
	}
	if out.Revocation.SweepInterval == 0 {
		out.Revocation.SweepInterval = base.Revocation.SweepInterval
	}

	if out.Audit.BufferSize == 0 {
		out.Audit.BufferSize = base.Audit.BufferSize
	}

	return out
}
