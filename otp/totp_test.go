package otp

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	pqotp "github.com/pquerna/otp"
)

// RFC 6238 appendix B SHA1 vectors, truncated to six digits.
func TestCodeMatchesRFC6238Vectors(t *testing.T) {
	e := New(Config{})
	secret := base64.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	cases := []struct {
		ts   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tc := range cases {
		got, err := e.Code(secret, time.Unix(tc.ts, 0))
		if err != nil {
			t.Fatalf("Code at t=%d failed: %v", tc.ts, err)
		}
		if got != tc.code {
			t.Fatalf("Code at t=%d = %s, want %s", tc.ts, got, tc.code)
		}
	}
}

func TestVerifyAcceptsOneStepOfSkew(t *testing.T) {
	e := New(Config{})
	secret, err := e.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Unix(1_750_000_000, 0)

	for _, offset := range []time.Duration{0, -30 * time.Second, 30 * time.Second} {
		code, err := e.Code(secret, now.Add(offset))
		if err != nil {
			t.Fatalf("Code failed: %v", err)
		}
		if !e.VerifyAt(secret, code, now) {
			t.Fatalf("expected code from offset %v to verify", offset)
		}
	}

	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		code, _ := e.Code(secret, now.Add(offset))
		if e.VerifyAt(secret, code, now) {
			t.Fatalf("code from offset %v must not verify", offset)
		}
	}
}

func TestVerifyRejectsOtherSecretAndGarbage(t *testing.T) {
	e := New(Config{})
	now := time.Unix(1_750_000_000, 0)
	a, _ := e.GenerateSecret()
	b, _ := e.GenerateSecret()

	code, _ := e.Code(a, now)
	if e.VerifyAt(b, code, now) {
		t.Fatal("code for one secret verified against another")
	}
	if e.VerifyAt("%%%not-base64", code, now) {
		t.Fatal("malformed secret must fail verification")
	}
	if e.VerifyAt("", code, now) {
		t.Fatal("empty secret must fail verification")
	}
	for _, bad := range []string{"", "12345", "1234567", "12a456"} {
		if e.VerifyAt(a, bad, now) {
			t.Fatalf("malformed code %q verified", bad)
		}
	}
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	e := New(Config{Now: func() time.Time { return now }})
	secret, _ := e.GenerateSecret()

	code, _ := e.Code(secret, now)
	if !e.Verify(secret, code) {
		t.Fatal("expected current code to verify")
	}
}

func TestGenerateSecretIsSixteenBytes(t *testing.T) {
	secret, err := New(Config{}).GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		t.Fatalf("secret is not base64: %v", err)
	}
	if len(raw) != SecretBytes {
		t.Fatalf("expected %d raw bytes, got %d", SecretBytes, len(raw))
	}
}

func TestEnrollmentURI(t *testing.T) {
	uri := EnrollmentURI("alice@example.com", "AbC+/1==", "GMP Suite")

	if !strings.HasPrefix(uri, "otpauth://totp/GMP%20Suite:alice@example.com?") {
		t.Fatalf("unexpected label in %s", uri)
	}
	if !strings.HasSuffix(uri, "&algorithm=SHA1&digits=6&period=30") {
		t.Fatalf("missing fixed parameters in %s", uri)
	}
	if !strings.Contains(uri, "secret=AbC%2B%2F1%3D%3D&issuer=GMP+Suite") {
		t.Fatalf("secret/issuer not escaped in %s", uri)
	}

	key, err := pqotp.NewKeyFromURL(uri)
	if err != nil {
		t.Fatalf("uri does not parse as otpauth key: %v", err)
	}
	if key.Type() != "totp" || key.Issuer() != "GMP Suite" {
		t.Fatalf("unexpected key type=%s issuer=%s", key.Type(), key.Issuer())
	}
}

func TestMatchReportsStep(t *testing.T) {
	e := New(Config{})
	secret, err := e.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Unix(1_800_000_015, 0)
	current := now.Unix() / 30

	for _, offset := range []int64{-1, 0, 1} {
		code, err := e.Code(secret, now.Add(time.Duration(offset)*Period))
		if err != nil {
			t.Fatalf("Code failed: %v", err)
		}
		step, ok := e.Match(secret, code, now)
		if !ok || step != current+offset {
			t.Fatalf("offset %d: Match = %d, %v; want %d", offset, step, ok, current+offset)
		}
	}
	if _, ok := e.Match(secret, "12345", now); ok {
		t.Fatal("short code must not match")
	}
}
