package gmpAuth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// enrollMfa turns MFA on for userID and returns the secret and recovery
// codes.
func enrollMfa(t *testing.T, env *testEnv, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.EnrollMfa(ctx, userID)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !strings.HasPrefix(enrollment.URI, "otpauth://totp/") {
		t.Fatalf("unexpected URI %q", enrollment.URI)
	}
	if env.users.snapshot(userID).MfaEnabled {
		t.Fatal("MFA must stay off until confirmed")
	}

	codes, err := env.engine.ConfirmMfa(ctx, userID, env.totp(t, enrollment.Secret))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d recovery codes", len(codes))
	}
	// The confirming code's step is spent.
	env.clock.Advance(30 * time.Second)
	return enrollment.Secret, codes
}

func TestMfaLoginRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	if _, _, err := env.engine.Login(ctx, "alice", testPassword); !errors.Is(err, ErrMfaRequired) {
		t.Fatalf("two-value login: expected ErrMfaRequired, got %v", err)
	}

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.State != LoginMfaPending || !res.MFARequired || res.MFASession == "" || res.AccessToken != "" {
		t.Fatalf("unexpected pending result %+v", res)
	}

	code := env.totp(t, secret)
	if _, err := env.engine.VerifyMfa(ctx, res.MFASession, wrongCode(code)); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("wrong code: got %v", err)
	}

	done, err := env.engine.VerifyMfa(ctx, res.MFASession, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.State != LoginAuthenticated || done.AccessToken == "" || done.RefreshToken == "" {
		t.Fatalf("unexpected verified result %+v", done)
	}
	if !env.engine.ValidateToken(ctx, done.AccessToken) {
		t.Fatal("token from MFA login should validate")
	}

	if _, err := env.engine.VerifyMfa(ctx, res.MFASession, code); !errors.Is(err, ErrMfaSessionNotFound) {
		t.Fatalf("session must be single use, got %v", err)
	}
}

func TestMfaSessionLocksAfterFiveBadCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	code := env.totp(t, secret)

	for i := 1; i <= 5; i++ {
		if _, err := env.engine.VerifyMfa(ctx, res.MFASession, wrongCode(code)); !errors.Is(err, ErrInvalidMfaCode) {
			t.Fatalf("attempt %d: expected ErrInvalidMfaCode, got %v", i, err)
		}
	}
	env.waitAudit(t, auditEventMfaAttemptsExceeded)

	_, err = env.engine.VerifyMfa(ctx, res.MFASession, code)
	if !errors.Is(err, ErrMfaSessionLocked) || !errors.Is(err, ErrInvalidMfaSession) {
		t.Fatalf("locked session: got %v", err)
	}
}

func TestMfaSessionExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(10*time.Minute + time.Second)

	_, err = env.engine.VerifyMfa(ctx, res.MFASession, env.totp(t, secret))
	if !errors.Is(err, ErrInvalidMfaSession) {
		t.Fatalf("expected an invalid session error, got %v", err)
	}
	if _, err := env.engine.VerifyMfa(ctx, "", "123456"); !errors.Is(err, ErrMfaSessionNotFound) {
		t.Fatalf("empty session id: got %v", err)
	}
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	_, codes := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	done, err := env.engine.VerifyMfaRecoveryCode(ctx, res.MFASession, codes[3])
	if err != nil {
		t.Fatalf("recovery code: %v", err)
	}
	if done.AccessToken == "" {
		t.Fatal("expected tokens")
	}
	if n := len(env.users.snapshot("u-alice").RecoveryCodeHashes); n != 9 {
		t.Fatalf("%d recovery codes left, want 9", n)
	}

	res, err = env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := env.engine.VerifyMfaRecoveryCode(ctx, res.MFASession, codes[3]); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("reused recovery code: got %v", err)
	}
}

func TestEnrollmentRules(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	ctx := context.Background()

	if _, err := env.engine.ConfirmMfa(ctx, "u-alice", "123456"); !errors.Is(err, ErrMfaNotEnrolled) {
		t.Fatalf("confirm before enroll: got %v", err)
	}
	enrollment, err := env.engine.EnrollMfa(ctx, "u-alice")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := env.engine.ConfirmMfa(ctx, "u-alice", wrongCode(env.totp(t, enrollment.Secret))); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("confirm with bad code: got %v", err)
	}
	if _, err := env.engine.ConfirmMfa(ctx, "u-alice", env.totp(t, enrollment.Secret)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.engine.EnrollMfa(ctx, "u-alice"); !errors.Is(err, ErrMfaAlreadyEnabled) {
		t.Fatalf("enroll twice: got %v", err)
	}
	if _, err := env.engine.EnrollMfa(ctx, "u-nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: got %v", err)
	}
}

func TestRegenerateAndDisableMfa(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, old := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	if _, err := env.engine.RegenerateRecoveryCodes(ctx, "u-alice", wrongCode(env.totp(t, secret))); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("regenerate with bad code: got %v", err)
	}
	fresh, err := env.engine.RegenerateRecoveryCodes(ctx, "u-alice", env.totp(t, secret))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("got %d codes", len(fresh))
	}

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.VerifyMfaRecoveryCode(ctx, res.MFASession, old[0]); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("replaced code must not work: got %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if err := env.engine.DisableMfa(ctx, "u-alice", env.totp(t, secret)); err != nil {
		t.Fatalf("disable: %v", err)
	}
	u := env.users.snapshot("u-alice")
	if u.MfaEnabled || u.MfaSecret != "" || len(u.RecoveryCodeHashes) != 0 {
		t.Fatalf("MFA state not cleared: %+v", u)
	}
	if _, _, err := env.engine.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("login without MFA: %v", err)
	}
	if err := env.engine.DisableMfa(ctx, "u-alice", "123456"); !errors.Is(err, ErrMfaNotEnrolled) {
		t.Fatalf("disable twice: got %v", err)
	}
}

func TestConcurrentVerifyMfaIssuesTokensOnce(t *testing.T) {
	// Without step claims the session consume is the only gate.
	env := newTestEnv(t, func(cfg *Config) { cfg.TOTP.EnforceReplayProtection = false })
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	code := env.totp(t, secret)

	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		other []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := env.engine.VerifyMfa(ctx, res.MFASession, code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && out.AccessToken != "":
				wins++
			case errors.Is(err, ErrInvalidMfaSession):
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one verifier to get tokens, got %d", wins)
	}
	if len(other) != 0 {
		t.Fatalf("unexpected errors %v", other)
	}
	if n := env.engine.MetricsSnapshot().Counters[MetricMfaSuccess]; n != 1 {
		t.Fatalf("mfa success counted %d times", n)
	}
}

func TestReplayedTotpCodeRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()
	code := env.totp(t, secret)

	first, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.VerifyMfa(ctx, first.MFASession, code); err != nil {
		t.Fatalf("first use: %v", err)
	}

	second, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := env.engine.VerifyMfa(ctx, second.MFASession, code); !errors.Is(err, ErrInvalidMfaCode) {
		t.Fatalf("replayed code: got %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.engine.VerifyMfa(ctx, second.MFASession, env.totp(t, secret)); err != nil {
		t.Fatalf("next step: %v", err)
	}
}

func TestReplayProtectionCanBeDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.TOTP.EnforceReplayProtection = false })
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()
	code := env.totp(t, secret)

	for i := 0; i < 2; i++ {
		res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		if _, err := env.engine.VerifyMfa(ctx, res.MFASession, code); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if step := env.users.snapshot("u-alice").TotpLastStep; step != 0 {
		t.Fatalf("no step should be recorded, got %d", step)
	}
}

func TestMfaManagementIsRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u-alice", "alice")
	secret, _ := enrollMfa(t, env, "u-alice")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := env.engine.DisableMfa(ctx, "u-alice", wrongCode(env.totp(t, secret))); !errors.Is(err, ErrInvalidMfaCode) {
			t.Fatalf("attempt %d: expected ErrInvalidMfaCode, got %v", i, err)
		}
	}

	err := env.engine.DisableMfa(ctx, "u-alice", env.totp(t, secret))
	if !errors.Is(err, ErrMfaRateLimited) || ErrorCodeOf(err) != CodeRateLimited {
		t.Fatalf("correct code over budget: got %v", err)
	}
	if _, err := env.engine.RegenerateRecoveryCodes(ctx, "u-alice", env.totp(t, secret)); !errors.Is(err, ErrMfaRateLimited) {
		t.Fatalf("regenerate over budget: got %v", err)
	}
	if !env.users.snapshot("u-alice").MfaEnabled {
		t.Fatal("MFA must stay on")
	}
	env.waitAudit(t, auditEventMfaAttemptsExceeded)

	// The budget is per user, so a fresh login session does not reset it.
	res, err := env.engine.LoginWithResult(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.VerifyMfa(ctx, res.MFASession, env.totp(t, secret)); !errors.Is(err, ErrMfaRateLimited) {
		t.Fatalf("login over budget: got %v", err)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	if err := env.engine.DisableMfa(ctx, "u-alice", env.totp(t, secret)); err != nil {
		t.Fatalf("after window: %v", err)
	}
}
