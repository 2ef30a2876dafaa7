package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshRotatesTokenPair(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	pair, err := env.engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatal("expected a fresh refresh token")
	}

	// The consumed refresh token must not be usable a second time.
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for replayed refresh token, got %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token failed: %v", err)
	}
}

func TestRefreshRederivesRoles(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)

	roles := &staticRoles{roles: map[string][]string{userID: {"member"}}}
	env.engine.roles = roles

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	roles.roles[userID] = []string{"member", "admin"}

	pair, err := env.engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	auth, err := env.engine.ValidateAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if len(auth.Roles) != 2 || auth.Roles[1] != "admin" {
		t.Fatalf("expected refreshed role snapshot, got %v", auth.Roles)
	}
}

func TestRefreshRejectsOtherTokenKinds(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), login.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for access token, got %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestRefreshRejectsInactiveAccount(t *testing.T) {
	env := newTestEngine(t, nil)
	userID := registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	cred, err := env.store.GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	cred.Active = false
	if err := env.store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(env.engine.config.JWT.RefreshTTL + time.Minute)

	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired refresh token, got %v", err)
	}
}
