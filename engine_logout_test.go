package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingRegistry simulates an unreachable revocation backend.
type failingRegistry struct {
	revokeErr error
	checkErr  error
}

func (f *failingRegistry) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return f.revokeErr
}

func (f *failingRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return false, f.checkErr
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.ValidateAccess(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("ValidateAccess before logout failed: %v", err)
	}

	if err := env.engine.Logout(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := env.engine.ValidateAccess(context.Background(), login.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}

	// Logging out an already revoked token is a no-op.
	if err := env.engine.Logout(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("repeated Logout failed: %v", err)
	}
}

func TestLogoutRejectsNonAccessTokens(t *testing.T) {
	env := newTestEngine(t, nil)
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.Logout(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for refresh token, got %v", err)
	}
	if err := env.engine.Logout(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestLogoutSurfacesRegistryWriteFailure(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	env.engine.revoked = &failingRegistry{revokeErr: errors.New("backend down")}
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.Logout(context.Background(), login.AccessToken); !errors.Is(err, ErrRevocationBackend) {
		t.Fatalf("expected ErrRevocationBackend, got %v", err)
	}
}

func TestValidateFailsOpenWhenRegistryUnavailable(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	registerUser(t, env)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.engine.revoked = &failingRegistry{checkErr: errors.New("backend down")}

	if _, err := env.engine.ValidateAccess(context.Background(), login.AccessToken); err != nil {
		t.Fatalf("expected fail-open validation, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRevocationFailOpen] == 0 {
		t.Fatal("expected fail-open metric to be recorded")
	}
}
