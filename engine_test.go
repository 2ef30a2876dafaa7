package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"strings"
	"sync"
	"testing"
	"time"
)

// memCredentialStore is an in-memory CredentialStore with real version
// checks, so concurrency guarantees can be tested without a database.
type memCredentialStore struct {
	mu      sync.Mutex
	byID    map[string]*Credential
	byEmail map[string]string
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{
		byID:    make(map[string]*Credential),
		byEmail: make(map[string]string),
	}
}

func cloneCredential(c *Credential) *Credential {
	out := *c
	out.MFASecret = cloneBytes(c.MFASecret)
	out.RecoveryCodes = cloneBytes(c.RecoveryCodes)
	return &out
}

func (s *memCredentialStore) GetByID(_ context.Context, id string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(cred), nil
}

func (s *memCredentialStore) GetByEmail(_ context.Context, email string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(s.byID[id]), nil
}

func (s *memCredentialStore) Create(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(cred.Email)
	if _, exists := s.byEmail[key]; exists {
		return ErrDuplicateEmail
	}
	cred.Version = 0
	s.byID[cred.ID] = cloneCredential(cred)
	s.byEmail[key] = cred.ID
	return nil
}

func (s *memCredentialStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[cred.ID]
	if !ok {
		return ErrCredentialNotFound
	}
	if stored.Version != cred.Version {
		return ErrVersionConflict
	}
	cred.Version++
	s.byID[cred.ID] = cloneCredential(cred)
	return nil
}

// fakeClock is a settable time source shared by engine, tokens, and TOTP.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records sent codes instead of mailing them.
type captureNotifier struct {
	mu    sync.Mutex
	codes []string
	mails []string
	fail  bool
}

func (n *captureNotifier) SendCode(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return ErrNotifierUnavailable
	}
	n.mails = append(n.mails, email)
	n.codes = append(n.codes, code)
	return nil
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		t.Fatal("expected a code to have been sent")
	}
	return n.codes[len(n.codes)-1]
}

type staticRoles struct {
	roles map[string][]string
}

func (r *staticRoles) RolesForUser(_ context.Context, userID string) ([]string, error) {
	return r.roles[userID], nil
}

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := defaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Issuer = "authcore-test"
	// Cheap hashing keeps the suite fast; floors still hold.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Secrets.Passphrase = "test-passphrase"
	return cfg
}

type testEnv struct {
	engine   *Engine
	store    *memCredentialStore
	clock    *fakeClock
	notifier *captureNotifier
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMemCredentialStore()
	clock := newFakeClock()
	notifier := &captureNotifier{}

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(store).
		WithNotifier(notifier).
		WithClock(clock).
		WithRoleProvider(&staticRoles{roles: map[string][]string{}}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, clock: clock, notifier: notifier}
}

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
)

func registerUser(t *testing.T, env *testEnv) string {
	t.Helper()

	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:       testEmail,
		Password:    testPassword,
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res.UserID
}

// totpCodeAt computes the code the account's authenticator would show.
func totpCodeAt(t *testing.T, secretBase32 string, cfg TOTPConfig, at time.Time) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	code, err := hotpCode(secret, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotp code: %v", err)
	}
	return code
}

// enableTOTP walks a user through the full enrollment flow.
func enableTOTP(t *testing.T, env *testEnv, userID string) *MFASetup {
	t.Helper()

	setup, err := env.engine.SetupMFA(context.Background(), userID, SetupMFARequest{
		Password: testPassword,
		Method:   MFATOTP,
	})
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	code := totpCodeAt(t, setup.SecretBase32, env.engine.config.TOTP, env.clock.Now())
	if err := env.engine.VerifyAndEnable(context.Background(), userID, code); err != nil {
		t.Fatalf("VerifyAndEnable failed: %v", err)
	}
	return setup
}
