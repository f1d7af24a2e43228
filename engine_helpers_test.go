package gmpAuth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/gmpAuth/permission"
)

const testPassword = "Batch-Release-42"

var testHSKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memUserStore is a UserStore kept in a map.
type memUserStore struct {
	mu      sync.Mutex
	users   map[string]*UserRecord
	history map[string][]string

	failGet error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:   make(map[string]*UserRecord),
		history: make(map[string][]string),
	}
}

func (s *memUserStore) put(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.UserID] = &cp
}

func (s *memUserStore) snapshot(userID string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *s.users[userID]
	u.RecoveryCodeHashes = append([]string(nil), u.RecoveryCodeHashes...)
	return u
}

func (s *memUserStore) GetUserByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Username, identifier) || (u.Email != "" && strings.EqualFold(u.Email, identifier)) {
			cp := *u
			cp.RecoveryCodeHashes = append([]string(nil), u.RecoveryCodeHashes...)
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) GetUserByID(_ context.Context, userID string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	cp.RecoveryCodeHashes = append([]string(nil), u.RecoveryCodeHashes...)
	return &cp, nil
}

func (s *memUserStore) with(userID string, fn func(u *UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (s *memUserStore) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	var n int
	err := s.with(userID, func(u *UserRecord) {
		u.FailedAttempts++
		n = u.FailedAttempts
	})
	return n, err
}

func (s *memUserStore) LockUser(_ context.Context, userID string, until time.Time) error {
	return s.with(userID, func(u *UserRecord) { u.LockedUntil = until })
}

func (s *memUserStore) ResetLoginFailures(_ context.Context, userID string) error {
	return s.with(userID, func(u *UserRecord) {
		u.FailedAttempts = 0
		u.LockedUntil = time.Time{}
	})
}

func (s *memUserStore) RecordLogin(_ context.Context, userID string, at time.Time, ip string) error {
	return s.with(userID, func(u *UserRecord) {
		u.LastLoginAt = at
		u.LastLoginIP = ip
	})
}

func (s *memUserStore) UpdatePassword(_ context.Context, up PasswordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[up.UserID]
	if !ok {
		return ErrUserNotFound
	}
	if u.PasswordHash != up.PreviousHash {
		return ErrPasswordChangeConflict
	}
	u.PasswordHash = up.NewHash
	u.PasswordChangedAt = up.ChangedAt
	u.PasswordExpiresAt = up.ExpiresAt
	if up.HistoryLimit > 0 {
		h := append([]string{up.PreviousHash}, s.history[up.UserID]...)
		if len(h) > up.HistoryLimit {
			h = h[:up.HistoryLimit]
		}
		s.history[up.UserID] = h
	}
	return nil
}

func (s *memUserStore) PasswordHistory(_ context.Context, userID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[userID]
	if len(h) > limit {
		h = h[:limit]
	}
	return append([]string(nil), h...), nil
}

func (s *memUserStore) SetMfa(_ context.Context, userID string, enabled bool, secret string) error {
	return s.with(userID, func(u *UserRecord) {
		u.MfaEnabled = enabled
		u.MfaSecret = secret
	})
}

func (s *memUserStore) ClaimTotpStep(_ context.Context, userID string, step int64) (bool, error) {
	claimed := false
	err := s.with(userID, func(u *UserRecord) {
		if step > u.TotpLastStep {
			u.TotpLastStep = step
			claimed = true
		}
	})
	return claimed, err
}

func (s *memUserStore) SetRecoveryCodes(_ context.Context, userID string, hashes []string) error {
	return s.with(userID, func(u *UserRecord) {
		u.RecoveryCodeHashes = append([]string(nil), hashes...)
	})
}

func (s *memUserStore) ConsumeRecoveryCode(_ context.Context, userID, hash string) (bool, error) {
	found := false
	err := s.with(userID, func(u *UserRecord) {
		for i, h := range u.RecoveryCodeHashes {
			if h == hash {
				u.RecoveryCodeHashes = append(u.RecoveryCodeHashes[:i], u.RecoveryCodeHashes[i+1:]...)
				found = true
				return
			}
		}
	})
	return found, err
}

func (s *memUserStore) SetAccountStatus(_ context.Context, userID string, status AccountStatus) error {
	return s.with(userID, func(u *UserRecord) { u.Status = status })
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testHSKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableIPThrottle = false
	cfg.Audit.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	users  *memUserStore
	authz  *permission.MemoryStore
	clock  *testClock
	audit  *ChannelSink
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		users: newMemUserStore(),
		authz: permission.NewMemoryStore(),
		clock: &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		audit: NewChannelSink(256),
	}

	env.authz.PutRole(permission.Role{ID: "r-qm", Code: "QUALITY_MANAGER"}, "DOC_APPROVE", "DOC_READ", "CAPA_WRITE")
	env.authz.PutRole(permission.Role{ID: "r-op", Code: "PRODUCTION_OPERATOR"}, "BATCH_READ", "BATCH_EXECUTE")
	env.authz.PutOrganization(permission.Organization{ID: "org-plant1", Code: "PLANT1", Active: true})
	env.authz.PutOrganization(permission.Organization{ID: "org-plant2", Code: "PLANT2", Active: true})
	for _, code := range []string{"EDMS", "LIMS", "QMS", "MES", "PROFILE", "EQUIPMENT"} {
		env.authz.PutSubsystem(permission.Subsystem{Code: code, Enabled: true})
	}

	engine, err := New().
		WithConfig(cfg).
		WithUserStore(env.users).
		WithAuthorizationStore(env.authz).
		WithAuditSink(env.audit).
		WithClock(env.clock.Now).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// addUser stores a user whose password is testPassword.
func (env *testEnv) addUser(t *testing.T, id, username string) {
	t.Helper()
	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := env.clock.Now()
	env.users.put(UserRecord{
		UserID:            id,
		Username:          username,
		Email:             username + "@plant.example",
		PasswordHash:      hash,
		Status:            AccountActive,
		PasswordChangedAt: now,
		PasswordExpiresAt: now.AddDate(0, 0, 90),
	})
}

func (env *testEnv) totp(t *testing.T, secret string) string {
	t.Helper()
	code, err := env.engine.otp.Code(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

// waitAudit reads audit events until one of eventType arrives.
func (env *testEnv) waitAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.audit.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q audit event", eventType)
			return AuditEvent{}
		}
	}
}
