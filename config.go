package gmpAuth

import (
	"errors"
	"time"
)

// Config is the complete engine configuration. Build it from DefaultConfig
// or LoadConfigFromEnv and treat it as immutable once passed to the Builder.
type Config struct {
	JWT           JWTConfig           `envPrefix:"JWT_"`
	Password      PasswordConfig      `envPrefix:"PASSWORD_"`
	TOTP          TOTPConfig          `envPrefix:"TOTP_"`
	MFA           MFAConfig           `envPrefix:"MFA_"`
	Security      SecurityConfig      `envPrefix:"SECURITY_"`
	Audit         AuditConfig         `envPrefix:"AUDIT_"`
	Metrics       MetricsConfig       `envPrefix:"METRICS_"`
	Cache         CacheConfig         `envPrefix:"CACHE_"`
	Authorization AuthorizationConfig `envPrefix:"AUTHZ_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects signing keys and token lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
	KeyID         string        `env:"KEY_ID"`

	// Read by LoadConfigFromEnv into PrivateKey and PublicKey.
	PrivateKeyFile string `env:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string `env:"PUBLIC_KEY_FILE"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the password policy.
type PasswordConfig struct {
	Memory             uint32 `env:"MEMORY"` // in KB
	Time               uint32 `env:"TIME"`
	Parallelism        uint8  `env:"PARALLELISM"`
	SaltLength         uint32 `env:"SALT_LENGTH"`
	KeyLength          uint32 `env:"KEY_LENGTH"`
	UpgradeOnLogin     bool   `env:"UPGRADE_ON_LOGIN"`
	VerifyLegacyBcrypt bool   `env:"VERIFY_LEGACY_BCRYPT"`

	MinLength        int           `env:"MIN_LENGTH"`
	DisplayMinLength int           `env:"DISPLAY_MIN_LENGTH"`
	RequireDigit     bool          `env:"REQUIRE_DIGIT"`
	RequireLower     bool          `env:"REQUIRE_LOWER"`
	RequireUpper     bool          `env:"REQUIRE_UPPER"`
	RequireSpecial   bool          `env:"REQUIRE_SPECIAL"`
	HistoryCount     int           `env:"HISTORY_COUNT"`
	ExpiryDays       int           `env:"EXPIRY_DAYS"`
	ExpiryWarning    time.Duration `env:"EXPIRY_WARNING"`
}

/*
====================================
TOTP / MFA CONFIG
====================================
*/

// TOTPConfig controls enrollment, recovery codes and code checking.
type TOTPConfig struct {
	Issuer             string `env:"ISSUER"`
	RecoveryCodeCount  int    `env:"RECOVERY_CODE_COUNT"`
	RecoveryCodeLength int    `env:"RECOVERY_CODE_LENGTH"`

	// EnforceReplayProtection refuses a code whose time step is not newer
	// than the last one the user presented.
	EnforceReplayProtection bool `env:"ENFORCE_REPLAY_PROTECTION"`
	// MaxAttempts wrong codes per user within AttemptWindow, across MFA
	// logins and the MFA management calls.
	MaxAttempts   int           `env:"MAX_ATTEMPTS"`
	AttemptWindow time.Duration `env:"ATTEMPT_WINDOW"`
}

// MFAConfig controls the pending second-factor sessions.
type MFAConfig struct {
	SessionTTL  time.Duration `env:"SESSION_TTL"`
	MaxFailures int           `env:"MAX_FAILURES"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls account lockout and login throttling.
type SecurityConfig struct {
	MaxLoginAttempts      int           `env:"MAX_LOGIN_ATTEMPTS"`
	LoginCooldownDuration time.Duration `env:"LOGIN_COOLDOWN"`
	EnableIPThrottle      bool          `env:"ENABLE_IP_THROTTLE"`
	LoginRatePerMinute    int           `env:"LOGIN_RATE_PER_MINUTE"`
	LoginRateBurst        int           `env:"LOGIN_RATE_BURST"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
	// Retain names event types that are never dropped for a full buffer.
	Retain []string `env:"RETAIN" envSeparator:","`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig names the key prefixes used in the shared key/value cache.
type CacheConfig struct {
	RevocationPrefix string `env:"REVOCATION_PREFIX"`
	MfaSessionPrefix string `env:"MFA_SESSION_PREFIX"`
	MfaAttemptPrefix string `env:"MFA_ATTEMPT_PREFIX"`
}

/*
====================================
AUTHORIZATION CONFIG
====================================
*/

// AuthorizationConfig controls subsystem grants and assignment upkeep.
type AuthorizationConfig struct {
	// SubsystemGrantsFile replaces the built-in grants when set.
	SubsystemGrantsFile string `env:"SUBSYSTEM_GRANTS_FILE"`
	// ExpirySweepInterval is how often hosts should call
	// RefreshExpiredAssignments.
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the GMP defaults. JWT keys are not set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "gmpauth",
		},
		Password: PasswordConfig{
			Memory:             65536,
			Time:               3,
			Parallelism:        2,
			SaltLength:         16,
			KeyLength:          32,
			UpgradeOnLogin:     true,
			VerifyLegacyBcrypt: true,
			MinLength:          10,
			DisplayMinLength:   8,
			RequireDigit:       true,
			RequireLower:       true,
			RequireUpper:       true,
			RequireSpecial:     true,
			HistoryCount:       5,
			ExpiryDays:         90,
			ExpiryWarning:      7 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:             "GMP",
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 8,

			EnforceReplayProtection: true,
			MaxAttempts:             5,
			AttemptWindow:           15 * time.Minute,
		},
		MFA: MFAConfig{
			SessionTTL:  10 * time.Minute,
			MaxFailures: 5,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			EnableIPThrottle:      true,
			LoginRatePerMinute:    30,
			LoginRateBurst:        10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
			Retain: []string{
				auditEventAccountLocked,
				auditEventAccountStatusChange,
				auditEventPasswordReset,
				auditEventAssignmentApproved,
				auditEventAssignmentRevoked,
				auditEventRoleAssigned,
				auditEventRoleRemoved,
			},
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Cache: CacheConfig{
			RevocationPrefix: "grev",
			MfaSessionPrefix: "gmfa",
			MfaAttemptPrefix: "gmfaatt",
		},
		Authorization: AuthorizationConfig{
			ExpirySweepInterval: time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.HistoryCount < 0 {
		return errors.New("Password HistoryCount must be >= 0")
	}
	if c.Password.ExpiryDays < 0 {
		return errors.New("Password ExpiryDays must be >= 0")
	}
	if c.Password.ExpiryWarning < 0 {
		return errors.New("Password ExpiryWarning must be >= 0")
	}

	// TOTP / MFA
	if c.TOTP.RecoveryCodeCount < 1 || c.TOTP.RecoveryCodeCount > 50 {
		return errors.New("TOTP RecoveryCodeCount must be between 1 and 50")
	}
	if c.TOTP.RecoveryCodeLength < 6 || c.TOTP.RecoveryCodeLength > 16 {
		return errors.New("TOTP RecoveryCodeLength must be between 6 and 16")
	}
	if c.TOTP.MaxAttempts <= 0 {
		return errors.New("TOTP MaxAttempts must be > 0")
	}
	if c.TOTP.AttemptWindow <= 0 {
		return errors.New("TOTP AttemptWindow must be > 0")
	}
	if c.MFA.SessionTTL <= 0 {
		return errors.New("MFA SessionTTL must be > 0")
	}
	if c.MFA.MaxFailures <= 0 {
		return errors.New("MFA MaxFailures must be > 0")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("LoginCooldownDuration must be > 0")
	}
	if c.Security.EnableIPThrottle {
		if c.Security.LoginRatePerMinute <= 0 {
			return errors.New("LoginRatePerMinute must be > 0 when IP throttle is enabled")
		}
		if c.Security.LoginRateBurst <= 0 {
			return errors.New("LoginRateBurst must be > 0 when IP throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Cache
	if c.Cache.RevocationPrefix == "" || c.Cache.MfaSessionPrefix == "" || c.Cache.MfaAttemptPrefix == "" {
		return errors.New("Cache prefixes must not be empty")
	}
	if c.Cache.RevocationPrefix == c.Cache.MfaSessionPrefix ||
		c.Cache.RevocationPrefix == c.Cache.MfaAttemptPrefix ||
		c.Cache.MfaSessionPrefix == c.Cache.MfaAttemptPrefix {
		return errors.New("Cache prefixes must differ")
	}

	// Authorization
	if c.Authorization.ExpirySweepInterval < 0 {
		return errors.New("Authorization ExpirySweepInterval must be >= 0")
	}
	return nil
}
