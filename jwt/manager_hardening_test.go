package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func accessClaimsAt(iss, aud string, iat, exp time.Time) Claims {
	c := Claims{UID: "u1", TokenUse: UseAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    iss,
		ExpiresAt: gjwt.NewNumericDate(exp),
		IssuedAt:  gjwt.NewNumericDate(iat),
	}}
	if aud != "" {
		c.Audience = gjwt.ClaimStrings{aud}
	}
	return c
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, _ := newEdKeys(t)
	cases := []Config{
		{RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256", PrivateKey: []byte("x")},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("x"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := accessClaimsAt("", "", time.Now(), time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Parse(token, UseAccess); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "gmpauth",
		Audience:      "mes",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess("u1", "alice", []string{"OPERATOR"}, []string{"BATCH_READ"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.Parse(access, UseAccess)
	if err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}
	if claims.UID != "u1" || claims.Subject != "alice" || len(claims.Roles) != 1 || claims.Permissions[0] != "BATCH_READ" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	now := time.Now()
	sign := func(c Claims) string {
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	if _, err := m.Parse(sign(accessClaimsAt("other", "mes", now, now.Add(time.Minute))), UseAccess); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.Parse(sign(accessClaimsAt("gmpauth", "other", now, now.Add(time.Minute))), UseAccess); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.Parse(sign(accessClaimsAt("gmpauth", "mes", now.Add(-time.Minute), now.Add(-15*time.Second))), UseAccess); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.Parse(sign(accessClaimsAt("gmpauth", "mes", now.Add(-3*time.Minute), now.Add(-2*time.Minute))), UseAccess); err == nil {
		t.Fatal("expected expired token to fail")
	}
	if _, err := m.Parse(sign(accessClaimsAt("gmpauth", "mes", now.Add(time.Hour), now.Add(2*time.Hour))), UseAccess); err == nil {
		t.Fatal("expected far-future iat to fail")
	}
}

func TestParseEnforcesTokenUse(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	refresh, exp, err := m.CreateRefresh("u1", "alice")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	if d := time.Until(exp); d < 59*time.Minute {
		t.Fatalf("refresh expiry too short: %v", d)
	}
	if _, err := m.Parse(refresh, UseAccess); err == nil {
		t.Fatal("refresh token must not parse as access")
	}
	claims, err := m.Parse(refresh, UseRefresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if len(claims.Roles) != 0 || claims.TokenUse != UseRefresh {
		t.Fatalf("refresh token carries authorities: %+v", claims)
	}
}

func TestParseIgnoringExpiryStillChecksSignature(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	clock := func() time.Time { return now }
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef"), Now: clock})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.CreateAccess("u1", "alice", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = time.Now()

	if _, err := m.Parse(token, UseAccess); err == nil {
		t.Fatal("expected expired token to fail full parse")
	}
	if _, err := m.ParseIgnoringExpiry(token); err != nil {
		t.Fatalf("expected expired token to pass signature-only parse: %v", err)
	}

	other, _ := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("another-secret-another-secret-00")})
	if _, err := other.ParseIgnoringExpiry(token); err == nil {
		t.Fatal("expected foreign signature to fail")
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys: map[string][]byte{
			"k1": pub1,
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := accessClaimsAt("", "", time.Now(), time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token, UseAccess); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.Parse(good, UseAccess); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if _, err := m2.Parse(good, UseAccess); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}
