package revocation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*MemoryRegistry, *time.Time) {
	t.Helper()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryRegistry(time.Hour, func() time.Time { return now })
	t.Cleanup(r.Close)
	return r, &now
}

func TestMemoryRevokeAndCheck(t *testing.T) {
	r, now := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Revoke(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected jti-1 to be revoked")
	}

	revoked, err = r.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected jti-2 to be unknown")
	}
}

func TestMemoryExpiredEntryNoLongerCounts(t *testing.T) {
	r, now := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Revoke(ctx, "jti-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	*now = now.Add(2 * time.Minute)

	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expired entry must not count as revoked")
	}
}

func TestMemoryRevokeIgnoresDeadEntries(t *testing.T) {
	r, now := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Revoke(ctx, "", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := r.Revoke(ctx, "jti-past", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("expected no stored entries, got %d", got)
	}
}

func TestMemorySweepReclaimsExpired(t *testing.T) {
	r, now := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := r.Revoke(ctx, fmt.Sprintf("short-%d", i), now.Add(time.Minute)); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
	}
	if err := r.Revoke(ctx, "long", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got := r.Len(); got != 51 {
		t.Fatalf("expected 51 entries, got %d", got)
	}

	*now = now.Add(2 * time.Minute)
	r.sweep()

	if got := r.Len(); got != 1 {
		t.Fatalf("expected only the live entry to survive, got %d", got)
	}
	revoked, err := r.IsRevoked(ctx, "long")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("live entry must survive the sweep")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	r, now := newTestRegistry(t)
	ctx := context.Background()
	expiresAt := now.Add(time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				jti := fmt.Sprintf("g%d-%d", g, i)
				if err := r.Revoke(ctx, jti, expiresAt); err != nil {
					t.Errorf("Revoke failed: %v", err)
					return
				}
				revoked, err := r.IsRevoked(ctx, jti)
				if err != nil || !revoked {
					t.Errorf("IsRevoked(%s) = %v, %v", jti, revoked, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if got := r.Len(); got != 800 {
		t.Fatalf("expected 800 entries, got %d", got)
	}
}

func TestMemoryCloseIsIdempotent(t *testing.T) {
	r := NewMemoryRegistry(time.Hour, nil)
	r.Close()
	r.Close()
}
