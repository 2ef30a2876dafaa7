package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Argon2 {
	t.Helper()

	a, err := NewArgon2(Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return a
}

func TestHashAndVerify(t *testing.T) {
	a := testHasher(t)

	hash, err := a.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=") {
		t.Fatalf("unexpected hash encoding %q", hash)
	}

	ok, err := a.Verify("correct-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = a.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	a := testHasher(t)

	first, err := a.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := a.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for repeated input")
	}
}

func TestVerifyUsesEmbeddedParameters(t *testing.T) {
	weak := testHasher(t)
	hash, err := weak.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	strong, err := NewArgon2(Config{
		Memory:      16384,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	ok, err := strong.Verify("correct-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected old hash to verify under new config, ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := testHasher(t)
	hash, err := weak.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	needs, err := weak.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if needs {
		t.Fatal("hash produced with current parameters must not need upgrade")
	}

	strong, err := NewArgon2(Config{
		Memory:      16384,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	needs, err = strong.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if !needs {
		t.Fatal("expected weaker hash to need upgrade")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	a := testHasher(t)

	cases := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
		"$argon2id$m=8192,t=1,p=1$c2FsdA$aGFzaA",
	}
	for _, hash := range cases {
		if _, err := a.Verify("password", hash); err == nil {
			t.Fatalf("expected malformed hash %q to be rejected", hash)
		}
	}
}

func TestNewArgon2EnforcesFloors(t *testing.T) {
	base := Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"memory below floor", func(c *Config) { c.Memory = 4096 }},
		{"time below floor", func(c *Config) { c.Time = 0 }},
		{"parallelism below floor", func(c *Config) { c.Parallelism = 0 }},
		{"salt below floor", func(c *Config) { c.SaltLength = 8 }},
		{"key below floor", func(c *Config) { c.KeyLength = 8 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if _, err := NewArgon2(cfg); err == nil {
				t.Fatal("expected configuration to be rejected")
			}
		})
	}
}
