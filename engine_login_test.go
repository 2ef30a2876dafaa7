package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginIssuesTokenPair(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)

	result, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("expected no MFA challenge for a plain account")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	auth, err := env.engine.ValidateAccess(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if auth.UserID != userID {
		t.Fatalf("expected subject %q, got %q", userID, auth.UserID)
	}
	if auth.TokenID == "" {
		t.Fatal("expected a token id")
	}
}

func TestLoginEmailIsCaseInsensitive(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	if _, err := env.engine.Login(context.Background(), "ALICE@Example.COM", testPassword); err != nil {
		t.Fatalf("Login with differently cased email failed: %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)

	cases := []struct {
		name     string
		email    string
		password string
		prepare  func()
	}{
		{name: "unknown email", email: "nobody@example.com", password: testPassword},
		{name: "wrong password", email: testEmail, password: "wrong-password-123"},
		{name: "inactive account", email: testEmail, password: testPassword, prepare: func() {
			cred, err := env.store.GetByID(context.Background(), userID)
			if err != nil {
				t.Fatalf("load credential: %v", err)
			}
			cred.Active = false
			if err := env.store.Save(context.Background(), cred); err != nil {
				t.Fatalf("save credential: %v", err)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare()
			}
			_, err := env.engine.Login(context.Background(), tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLoginStampsRolesIntoAccessToken(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)
	env.engine.roles = &staticRoles{roles: map[string][]string{
		userID: {"admin", "auditor"},
	}}

	result, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	auth, err := env.engine.ValidateAccess(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if len(auth.Roles) != 2 || auth.Roles[0] != "admin" || auth.Roles[1] != "auditor" {
		t.Fatalf("expected role snapshot, got %v", auth.Roles)
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)

	before, err := env.store.GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}

	stronger := newTestEngine(t, func(cfg *Config) {
		cfg.Password.Memory = 16384
	})
	stronger.engine.creds = env.store

	if _, err := stronger.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	after, err := env.store.GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if after.PasswordHash == before.PasswordHash {
		t.Fatal("expected password hash to be upgraded on login")
	}

	needs, err := stronger.engine.passwords.NeedsUpgrade(after.PasswordHash)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if needs {
		t.Fatal("expected upgraded hash to match current parameters")
	}
}

func TestValidateRejectsExpiredAccessToken(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	result, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(env.engine.config.JWT.AccessTTL + time.Minute)

	if _, err := env.engine.ValidateAccess(context.Background(), result.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:    "Alice@Example.com",
		Password: "another-password-456",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}
}

func TestRegisterEnforcesPasswordPolicy(t *testing.T) {
	env := newTestEngine(t, nil)

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "short",
	})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}
