package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates the three token flavors the core issues. The kind is a
// signed claim, so confusing one kind for another is rejected by Parse
// before any caller logic runs.
type Kind string

const (
	// KindAccess is a bearer credential for protected resources. Carries a
	// role snapshot taken at issuance.
	KindAccess Kind = "access"
	// KindRefresh is redeemable only at the refresh endpoint for a new pair.
	KindRefresh Kind = "refresh"
	// KindChallenge proves "password verified" during a pending MFA login.
	// It grants no resource access.
	KindChallenge Kind = "mfa_challenge"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrInvalid is returned for any malformed, unsigned, expired, or
	// structurally deficient token.
	ErrInvalid = errors.New("invalid token")
	// ErrWrongKind is returned when a well-formed token of one kind is
	// presented where another kind is required.
	ErrWrongKind = errors.New("wrong token kind")
)

// Config defines the token service parameters. Instances are immutable
// after NewManager.
type Config struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration

	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	// TimeFunc overrides the clock for issuance and validation. Nil means
	// time.Now.
	TimeFunc func() time.Time
}

// Claims is the signed claims bundle. Subject is the user id, ID is the
// jti used as the revocation key, Kind is the type discriminator, and Roles
// is populated on access tokens only.
type Claims struct {
	Kind  Kind     `json:"tkn"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and validates the three token kinds. Purely functional
// aside from reading the signing key; safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the configuration and key material up front so
// signing failures cannot first surface mid-login.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ChallengeTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		} else {
			return nil, errors.New("ed25519 requires public key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess mints an access token for subject with the given role
// snapshot. Roles are not re-derived until refresh or re-login.
func (m *Manager) IssueAccess(subject string, roles []string) (string, error) {
	return m.issue(KindAccess, subject, roles, m.config.AccessTTL)
}

// IssueRefresh mints a refresh token for subject.
func (m *Manager) IssueRefresh(subject string) (string, error) {
	return m.issue(KindRefresh, subject, nil, m.config.RefreshTTL)
}

// IssueChallenge mints a short-lived MFA challenge token for subject.
func (m *Manager) IssueChallenge(subject string) (string, error) {
	return m.issue(KindChallenge, subject, nil, m.config.ChallengeTTL)
}

func (m *Manager) issue(kind Kind, subject string, roles []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty token subject")
	}

	now := m.config.TimeFunc()
	claims := Claims{
		Kind:  kind,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}

	return jwt.NewWithClaims(m.method(), claims).SignedString(signKey)
}

// Parse validates signature, expiry, and structure, then enforces the
// expected kind. A challenge token presented where an access token is
// required fails with ErrWrongKind — type confusion is rejected here, not
// by caller convention.
func (m *Manager) Parse(tokenStr string, expect Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.TimeFunc),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalid
	}
	switch claims.Kind {
	case KindAccess, KindRefresh, KindChallenge:
	default:
		return nil, ErrInvalid
	}
	if claims.Kind != expect {
		return nil, ErrWrongKind
	}

	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
