package gmpAuth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/audit"
	"github.com/MrEthical07/gmpAuth/internal/limiters"
	"github.com/MrEthical07/gmpAuth/internal/stores"
	"github.com/MrEthical07/gmpAuth/jwt"
	"github.com/MrEthical07/gmpAuth/otp"
	"github.com/MrEthical07/gmpAuth/password"
	"github.com/MrEthical07/gmpAuth/permission"
	"github.com/MrEthical07/gmpAuth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once during startup; Build may
// only be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users      UserStore
	authzStore permission.Store
	grants     *permission.SubsystemGrants

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs token revocation and MFA sessions with Redis. Without it
// both live in process memory, which only suits a single instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithAuthorizationStore sets the role, permission and assignment store.
func (b *Builder) WithAuthorizationStore(store permission.Store) *Builder {
	b.authzStore = store
	return b
}

// WithSubsystemGrants overrides both the built-in grants and
// Authorization.SubsystemGrantsFile.
func (b *Builder) WithSubsystemGrants(g *permission.SubsystemGrants) *Builder {
	b.grants = g
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now everywhere in the engine. Tests use it to
// step through lockout windows and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.authzStore == nil {
		return nil, errors.New("authorization store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewMultiHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	}, cfg.Password.VerifyLegacyBcrypt)
	if err != nil {
		return nil, err
	}
	policy, err := password.NewPolicyEngine(password.Policy{
		MinLength:        cfg.Password.MinLength,
		DisplayMinLength: cfg.Password.DisplayMinLength,
		RequireDigit:     cfg.Password.RequireDigit,
		RequireLower:     cfg.Password.RequireLower,
		RequireUpper:     cfg.Password.RequireUpper,
		RequireSpecial:   cfg.Password.RequireSpecial,
		HistoryCount:     cfg.Password.HistoryCount,
		ExpiryDays:       cfg.Password.ExpiryDays,
		ExpiryWarning:    cfg.Password.ExpiryWarning,
	}, hasher, b.users)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	// In-process caches are swept by the engine until Close.
	var janitors []*stores.MemoryKV
	var denylist jwt.Denylist
	if b.redis != nil {
		denylist = jwt.NewRedisDenylist(b.redis, cfg.Cache.RevocationPrefix)
	} else {
		kv := stores.NewMemoryKV(now)
		janitors = append(janitors, kv)
		denylist = jwt.NewKVDenylist(kv)
	}
	tokens, err := jwt.NewService(jm, denylist, logger.Named("jwt"))
	if err != nil {
		return nil, err
	}

	// -------- MFA SESSIONS --------
	sessCfg := session.Config{
		TTL:         cfg.MFA.SessionTTL,
		MaxFailures: cfg.MFA.MaxFailures,
		Now:         now,
	}
	var mfa *session.Store
	if b.redis != nil {
		mfa = session.NewRedisStore(b.redis, cfg.Cache.MfaSessionPrefix, sessCfg)
	} else {
		kv := stores.NewMemoryKV(now)
		janitors = append(janitors, kv)
		mfa = session.NewStore(kv, sessCfg)
	}

	// Wrong-code budget per user, shared by login and enrollment.
	var attemptKV stores.KV
	if b.redis != nil {
		attemptKV = stores.NewRedisKV(b.redis, cfg.Cache.MfaAttemptPrefix)
	} else {
		kv := stores.NewMemoryKV(now)
		janitors = append(janitors, kv)
		attemptKV = kv
	}
	totpLimiter := limiters.NewTotpLimiter(attemptKV, limiters.TotpConfig{
		MaxAttempts: cfg.TOTP.MaxAttempts,
		Window:      cfg.TOTP.AttemptWindow,
		Now:         now,
	})

	// -------- AUTHORIZATION --------
	grants := b.grants
	if grants == nil && cfg.Authorization.SubsystemGrantsFile != "" {
		grants, err = permission.LoadSubsystemGrantsFile(cfg.Authorization.SubsystemGrantsFile)
		if err != nil {
			return nil, err
		}
	}
	authz, err := permission.NewResolver(b.authzStore, permission.Config{
		Grants: grants,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger,
		now:       now,
		users:     b.users,
		hasher:    hasher,
		passwords: policy,
		otp: otp.New(otp.Config{
			Issuer:            cfg.TOTP.Issuer,
			RecoveryCodeCount: cfg.TOTP.RecoveryCodeCount,
			RecoveryCodeLen:   cfg.TOTP.RecoveryCodeLength,
			Now:               now,
		}),
		tokens: tokens,
		mfa:    mfa,
		authz:  authz,
		loginLimiter: limiters.NewLoginLimiter(limiters.LoginConfig{
			Enabled:   cfg.Security.EnableIPThrottle,
			PerMinute: cfg.Security.LoginRatePerMinute,
			Burst:     cfg.Security.LoginRateBurst,
			Now:       now,
		}),
		totpLimiter: totpLimiter,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Retain:     cfg.Audit.Retain,
		}, b.auditSink, logger.Named("audit")),
		metrics: NewMetrics(cfg.Metrics),
	}
	engine.initFlowDeps()

	ctx, cancel := context.WithCancel(context.Background())
	engine.stop = cancel
	if engine.loginLimiter != nil {
		go engine.loginLimiter.Run(ctx, time.Minute)
	}
	for _, kv := range janitors {
		go kv.RunJanitor(ctx, time.Minute)
	}

	b.built = true

	return engine, nil
}
