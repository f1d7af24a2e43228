package jwt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var hsKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, clock *testClock, deny Denylist) *Service {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    hsKey,
		Issuer:        "gmpauth",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if deny == nil {
		deny = NewMemoryDenylist(clock.Now)
	}
	svc, err := NewService(m, deny, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIssueValidateRevokeRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, Subject{UserID: "u-alice", Username: "alice"}, []string{"QA"}, []string{"DOC_APPROVE"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !svc.Validate(ctx, pair.AccessToken) {
		t.Fatal("fresh access token should validate")
	}
	claims, err := svc.Parse(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u-alice" || claims.Username != "alice" || claims.TokenID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != time.Hour {
		t.Fatalf("access lifetime = %v", got)
	}
	if svc.Validate(ctx, pair.RefreshToken) {
		t.Fatal("refresh token must not validate as access")
	}

	if err := svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if svc.Validate(ctx, pair.AccessToken) {
		t.Fatal("revoked token should not validate")
	}
	if _, err := svc.Parse(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("second revoke should be idempotent: %v", err)
	}
}

func TestValidateRejectsExpiredAndGarbage(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, Subject{UserID: "u1", Username: "bob"}, nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, bad := range []string{"", "abc", "a.b.c", pair.AccessToken + "x"} {
		if svc.Validate(ctx, bad) {
			t.Fatalf("token %q should be invalid", bad)
		}
	}
	clock.Advance(time.Hour + time.Second)
	if svc.Validate(ctx, pair.AccessToken) {
		t.Fatal("expired token should be invalid")
	}
}

func TestRevokeExpiredTokenSucceeds(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, Subject{UserID: "u1", Username: "bob"}, nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if err := svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("revoking an expired token should succeed: %v", err)
	}
	revoked, err := svc.IsRevoked(ctx, pair.AccessToken)
	if err != nil || !revoked {
		t.Fatalf("expected expired token on denylist for at least one second, revoked=%v err=%v", revoked, err)
	}
	clock.Advance(time.Second)
	if revoked, _ := svc.IsRevoked(ctx, pair.AccessToken); revoked {
		t.Fatal("minimum revocation entry should lapse after one second")
	}
}

func TestRevokeRejectsForeignToken(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)

	foreign, err := NewManager(Config{AccessTTL: time.Hour, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("ffffffffffffffffffffffffffffffff")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := foreign.CreateAccess("u1", "mallory", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Revoke(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshEmbedsFreshAuthorities(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, Subject{UserID: "u1", Username: "alice"}, []string{"OPERATOR"}, []string{"BATCH_READ"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(2 * time.Hour)

	access, exp, err := svc.Refresh(ctx, pair.RefreshToken, []string{"QA"}, []string{"DOC_APPROVE", "DOC_READ"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !exp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := svc.Parse(ctx, access)
	if err != nil {
		t.Fatalf("parse refreshed: %v", err)
	}
	if claims.Roles[0] != "QA" || len(claims.Permissions) != 2 {
		t.Fatalf("refreshed token kept stale authorities: %+v", claims)
	}

	if _, _, err := svc.Refresh(ctx, pair.AccessToken, nil, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}
	if err := svc.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("revoke refresh: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken, nil, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked refresh token must not refresh, got %v", err)
	}
}

func TestFingerprintIgnoresSignature(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, nil)

	pair, err := svc.Issue(context.Background(), Subject{UserID: "u1", Username: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	fp1, err := Fingerprint(pair.AccessToken)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	cut := pair.AccessToken[:strings.LastIndexByte(pair.AccessToken, '.')+1]
	fp2, err := Fingerprint(cut + "tampered")
	if err != nil {
		t.Fatalf("fingerprint tampered: %v", err)
	}
	if fp1 != fp2 {
		t.Fatal("fingerprint must not depend on the signature segment")
	}
	if strings.ContainsAny(fp1, "+/=") {
		t.Fatalf("fingerprint is not unpadded base64url: %q", fp1)
	}
	if _, err := Fingerprint("no-dots"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

type failingDenylist struct{}

func (failingDenylist) Add(context.Context, string, time.Duration) error {
	return errors.New("backend down")
}

func (failingDenylist) Contains(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestValidateFailsClosedWhenDenylistUnavailable(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, failingDenylist{})

	pair, err := svc.Issue(context.Background(), Subject{UserID: "u1", Username: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if svc.Validate(context.Background(), pair.AccessToken) {
		t.Fatal("token must be rejected when revocation state is unknown")
	}
}

func TestRedisDenylist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{now: time.Now()}
	svc := newTestService(t, clock, NewRedisDenylist(rdb, ""))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, Subject{UserID: "u1", Username: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	fp, _ := Fingerprint(pair.AccessToken)
	ttl := mr.TTL("grev:" + fp)
	if ttl <= 59*time.Minute || ttl > time.Hour {
		t.Fatalf("denylist ttl = %v, want remaining lifetime", ttl)
	}
	if svc.Validate(ctx, pair.AccessToken) {
		t.Fatal("revoked token should not validate")
	}
	mr.FastForward(time.Hour)
	if revoked, _ := svc.IsRevoked(ctx, pair.AccessToken); revoked {
		t.Fatal("denylist entry should expire with the token")
	}
}
