package secretbox

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New("test-passphrase")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for _, plaintext := range [][]byte{
		[]byte("totp seed material"),
		[]byte(""),
		{0x00, 0xff, 0x10, 0x80},
	} {
		blob, err := box.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if bytes.Contains(blob, plaintext) && len(plaintext) > 0 {
			t.Fatal("blob leaks plaintext")
		}

		opened, err := box.Open(blob)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("round trip mismatch: %q != %q", opened, plaintext)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	box, err := New("test-passphrase")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a, err := box.Seal([]byte("same input"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := box.Seal([]byte("same input"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertexts for repeated input")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	box, err := New("test-passphrase")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	blob, err := box.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := box.Open(flipped); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for flipped tag byte, got %v", err)
	}

	if _, err := box.Open(blob[:5]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for truncated blob, got %v", err)
	}
	if _, err := box.Open(nil); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for empty blob, got %v", err)
	}
}

func TestOpenRejectsWrongPassphrase(t *testing.T) {
	sealer, err := New("passphrase-one")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	opener, err := New("passphrase-two")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	blob, err := sealer.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := opener.Open(blob); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt under a different key, got %v", err)
	}
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected empty passphrase to be rejected")
	}
}
