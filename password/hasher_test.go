package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestMultiHasherWritesArgon2(t *testing.T) {
	h, err := NewMultiHasher(fastConfig(), true)
	if err != nil {
		t.Fatalf("NewMultiHasher error: %v", err)
	}

	hash, err := h.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %s", hash)
	}
	if ok, err := h.Verify("Str0ng!Pass", hash); err != nil || !ok {
		t.Fatalf("Verify returned %v, %v", ok, err)
	}
	if up, err := h.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("fresh argon2 hash should not need upgrade: %v, %v", up, err)
	}
}

func TestMultiHasherVerifiesLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy-Passw0rd!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	h, _ := NewMultiHasher(fastConfig(), true)
	if ok, err := h.Verify("Legacy-Passw0rd!", string(legacy)); err != nil || !ok {
		t.Fatalf("expected bcrypt hash to verify, got %v, %v", ok, err)
	}
	if ok, _ := h.Verify("wrong", string(legacy)); ok {
		t.Fatal("wrong password verified against bcrypt hash")
	}
	if up, err := h.NeedsUpgrade(string(legacy)); err != nil || !up {
		t.Fatalf("bcrypt hashes must be upgraded, got %v, %v", up, err)
	}
}

func TestMultiHasherWithoutLegacyRejectsBcrypt(t *testing.T) {
	legacy, _ := bcrypt.GenerateFromPassword([]byte("Legacy-Passw0rd!"), bcrypt.MinCost)

	h, _ := NewMultiHasher(fastConfig(), false)
	if _, err := h.Verify("Legacy-Passw0rd!", string(legacy)); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}
