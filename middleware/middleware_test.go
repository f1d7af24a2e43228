package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gmpAuth "github.com/MrEthical07/gmpAuth"
	"github.com/MrEthical07/gmpAuth/password"
	"github.com/MrEthical07/gmpAuth/permission"
	"github.com/go-chi/chi/v5"
)

const userPassword = "Batch-Release-42"

// oneUserStore serves a single active user. Methods the tests never reach
// are left to the embedded nil interface.
type oneUserStore struct {
	gmpAuth.UserStore
	user gmpAuth.UserRecord
}

func (s *oneUserStore) GetUserByIdentifier(_ context.Context, id string) (*gmpAuth.UserRecord, error) {
	if id != s.user.Username {
		return nil, gmpAuth.ErrUserNotFound
	}
	u := s.user
	return &u, nil
}

func (s *oneUserStore) GetUserByID(_ context.Context, id string) (*gmpAuth.UserRecord, error) {
	if id != s.user.UserID {
		return nil, gmpAuth.ErrUserNotFound
	}
	u := s.user
	return &u, nil
}

func (s *oneUserStore) IncrementFailedLogins(context.Context, string) (int, error) { return 1, nil }
func (s *oneUserStore) LockUser(context.Context, string, time.Time) error          { return nil }
func (s *oneUserStore) ResetLoginFailures(context.Context, string) error           { return nil }
func (s *oneUserStore) RecordLogin(context.Context, string, time.Time, string) error {
	return nil
}

func newEngine(t *testing.T) (*gmpAuth.Engine, *permission.MemoryStore, string) {
	t.Helper()
	cfg := gmpAuth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableIPThrottle = false

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(userPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := &oneUserStore{user: gmpAuth.UserRecord{
		UserID:       "u-alice",
		Username:     "alice",
		PasswordHash: hash,
		Status:       gmpAuth.AccountActive,
	}}

	authz := permission.NewMemoryStore()
	authz.PutRole(permission.Role{ID: "r-qm", Code: "QUALITY_MANAGER"}, "DOC_APPROVE", "DOC_READ")
	authz.PutOrganization(permission.Organization{ID: "org-plant1", Code: "PLANT1", Active: true})
	for _, code := range []string{"EDMS", "LIMS", "PROFILE"} {
		authz.PutSubsystem(permission.Subsystem{Code: code, Enabled: true})
	}

	engine, err := gmpAuth.New().
		WithConfig(cfg).
		WithUserStore(users).
		WithAuthorizationStore(authz).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	access, _, err := engine.Login(context.Background(), "alice", userPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return engine, authz, access
}

func call(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "no claims", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(claims.UserID))
})

func TestGuard(t *testing.T) {
	engine, _, access := newEngine(t)
	h := Guard(engine)(okHandler)

	if rec := call(h, http.MethodGet, "/", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}
	if rec := call(h, http.MethodGet, "/", "forged.token.value"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: %d", rec.Code)
	}
	rec := call(h, http.MethodGet, "/", access)
	if rec.Code != http.StatusOK || rec.Body.String() != "u-alice" {
		t.Fatalf("valid token: %d %q", rec.Code, rec.Body.String())
	}

	if err := engine.Logout(context.Background(), access); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if rec := call(h, http.MethodGet, "/", access); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: %d", rec.Code)
	}
	if rec := call(Guard(nil)(okHandler), http.MethodGet, "/", access); rec.Code != http.StatusUnauthorized {
		t.Fatalf("nil engine: %d", rec.Code)
	}
}

func TestRequirePermissionUsesLiveGrants(t *testing.T) {
	engine, _, access := newEngine(t)
	h := Guard(engine)(RequirePermission(engine, "DOC_APPROVE")(okHandler))

	if rec := call(h, http.MethodPost, "/approve", access); rec.Code != http.StatusForbidden {
		t.Fatalf("before grant: %d", rec.Code)
	}
	if err := engine.AssignRole(context.Background(), "u-alice", "QUALITY_MANAGER", "admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if rec := call(h, http.MethodPost, "/approve", access); rec.Code != http.StatusOK {
		t.Fatalf("after grant: %d", rec.Code)
	}
	if rec := call(RequireRole(engine, "QUALITY_MANAGER")(okHandler), http.MethodGet, "/", access); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without Guard: %d", rec.Code)
	}
}

func TestRequireSubsystem(t *testing.T) {
	engine, _, access := newEngine(t)
	if err := engine.AssignRole(context.Background(), "u-alice", "QUALITY_MANAGER", "admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	write := Guard(engine)(RequireSubsystem(engine, "EDMS", permission.LevelWrite)(okHandler))
	if rec := call(write, http.MethodPut, "/", access); rec.Code != http.StatusOK {
		t.Fatalf("EDMS write: %d", rec.Code)
	}
	admin := Guard(engine)(RequireSubsystem(engine, "EDMS", permission.LevelAdmin)(okHandler))
	if rec := call(admin, http.MethodPut, "/", access); rec.Code != http.StatusForbidden {
		t.Fatalf("EDMS admin: %d", rec.Code)
	}
}

func TestRequirePermissionInOrganizationRoute(t *testing.T) {
	engine, _, access := newEngine(t)
	_, err := engine.RequestAssignment(context.Background(), gmpAuth.AssignmentRequest{
		UserID:         "u-alice",
		OrganizationID: "org-plant1",
		RoleCode:       "QUALITY_MANAGER",
		AssignedBy:     "admin",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	r := chi.NewRouter()
	r.Use(Guard(engine))
	r.With(RequirePermissionInOrganization(engine, URLParamOrganization("orgID"), "DOC_APPROVE")).
		Post("/orgs/{orgID}/documents/approve", okHandler)

	if rec := call(r, http.MethodPost, "/orgs/org-plant1/documents/approve", access); rec.Code != http.StatusOK {
		t.Fatalf("plant1: %d", rec.Code)
	}
	if rec := call(r, http.MethodPost, "/orgs/org-plant2/documents/approve", access); rec.Code != http.StatusForbidden {
		t.Fatalf("plant2: %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Bearer ":    false,
		"Basic abc":  false,
		"":           false,
		"Bearer   ":  false,
	}
	for header, want := range cases {
		if _, ok := bearerToken(header); ok != want {
			t.Fatalf("bearerToken(%q) = %v, want %v", header, ok, want)
		}
	}
}
