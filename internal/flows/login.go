package flows

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// LoginState is the position of a login attempt in the orchestrator state
// machine.
type LoginState string

const (
	StateStart           LoginState = "START"
	StateCredentialCheck LoginState = "CREDENTIAL_CHECK"
	StateLocked          LoginState = "LOCKED"
	StateMfaPending      LoginState = "MFA_PENDING"
	StateMfaVerify       LoginState = "MFA_VERIFY"
	StateAuthenticated   LoginState = "AUTHENTICATED"
	StateFailed          LoginState = "FAILED"
)

// LoginUser is the flow-local view of a user record.
type LoginUser struct {
	UserID             string
	Username           string
	PasswordHash       string
	Status             uint8
	FailedAttempts     int
	LockedUntil        time.Time
	PasswordChangedAt  time.Time
	PasswordExpiresAt  time.Time
	MfaEnabled         bool
	MfaSecret          string
	TotpLastStep       int64
	RecoveryCodeHashes []string
}

// Tokens is a freshly minted token pair.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	State                LoginState
	UserID               string
	Tokens               Tokens
	MFARequired          bool
	MFASession           string
	PasswordExpiresAt    time.Time
	PasswordExpiringSoon bool
}

// LoginMetrics carries metric IDs needed by login/mfa flows.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	AccountLocked    int
	MfaRequired      int
	MfaSuccess       int
	MfaFailure       int
	MfaSessionLocked int
	RecoveryCodeUsed int
	RecoveryCodeFail int
}

// LoginEvents carries audit event names used by login/mfa flows.
type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	LoginRateLimited    string
	AccountLocked       string
	MfaRequired         string
	MfaSuccess          string
	MfaFailure          string
	MfaAttemptsExceeded string
	RecoveryCodeUsed    string
}

// LoginErrors carries host-level sentinel errors used by login/mfa flows.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
	AccountLocked      error
	InvalidMfaCode     error
	MfaSessionNotFound error
	MfaSessionLocked   error
	MfaRateLimited     error
	UserNotFound       error
	Unavailable        error
}

// LoginDeps captures login+mfa dependencies.
type LoginDeps struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	AccountStatusError  func(status uint8) error

	AllowLogin func(ctx context.Context, ip string) error

	GetUserByIdentifier   func(ctx context.Context, identifier string) (*LoginUser, error)
	GetUserByID           func(ctx context.Context, userID string) (*LoginUser, error)
	IncrementFailedLogins func(ctx context.Context, userID string) (int, error)
	LockUser              func(ctx context.Context, userID string, until time.Time) error
	ResetLoginFailures    func(ctx context.Context, userID string) error
	RecordLogin           func(ctx context.Context, userID string, at time.Time, ip string) error

	VerifyPassword       func(password, encodedHash string) (bool, error)
	UpgradePasswordHash  func(ctx context.Context, user *LoginUser, password string)
	PasswordExpiringSoon func(expiry, now time.Time) bool

	CreateMfaSession     func(ctx context.Context, userID string) (string, error)
	GetMfaSession        func(ctx context.Context, sessionID string) (string, error)
	RecordMfaFailure     func(ctx context.Context, sessionID string) (locked bool, err error)
	InvalidateMfaSession func(ctx context.Context, sessionID string) error
	ConsumeMfaSession    func(ctx context.Context, sessionID string) error
	VerifyTotp           func(secret, code string, at time.Time) (step int64, ok bool)
	ConsumeRecoveryCode  func(ctx context.Context, user *LoginUser, code string) (bool, error)

	// ClaimTotpStep is nil when replay protection is off.
	ClaimTotpStep func(ctx context.Context, userID string, step int64) (bool, error)

	// Per-user second factor limiter shared with enrollment; optional.
	CheckMfaAttempts        func(ctx context.Context, userID string) error
	RecordMfaAttemptFailure func(ctx context.Context, userID string) error
	ResetMfaAttempts        func(ctx context.Context, userID string) error

	IssueTokens func(ctx context.Context, user *LoginUser) (Tokens, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)
	Warn      func(msg string, err error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func (deps *LoginDeps) applyDefaults() {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxFailedAttempts <= 0 {
		deps.MaxFailedAttempts = 5
	}
	if deps.LockoutDuration <= 0 {
		deps.LockoutDuration = 15 * time.Minute
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.PasswordExpiringSoon == nil {
		deps.PasswordExpiringSoon = func(time.Time, time.Time) bool { return false }
	}
}

func (deps *LoginDeps) ready() bool {
	return deps.AccountStatusError != nil &&
		deps.GetUserByIdentifier != nil &&
		deps.GetUserByID != nil &&
		deps.IncrementFailedLogins != nil &&
		deps.LockUser != nil &&
		deps.ResetLoginFailures != nil &&
		deps.VerifyPassword != nil &&
		deps.CreateMfaSession != nil &&
		deps.IssueTokens != nil
}

// RunLoginWithResult executes the credential check and either issues tokens
// or opens an MFA session.
func RunLoginWithResult(ctx context.Context, identifier, password string, deps LoginDeps) (*LoginResult, error) {
	deps.applyDefaults()
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if deps.AllowLogin != nil {
		if err := deps.AllowLogin(ctx, ip); err != nil {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", deps.Errors.LoginRateLimited, nil)
			return &LoginResult{State: StateFailed}, deps.Errors.LoginRateLimited
		}
	}

	user, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, deps.Errors.UserNotFound) {
		deps.Warn("user lookup", err)
		return &LoginResult{State: StateFailed}, deps.Errors.Unavailable
	}
	if err != nil || user == nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "unknown_user"}
		})
		return &LoginResult{State: StateFailed}, deps.Errors.InvalidCredentials
	}

	now := deps.Now()
	if !user.LockedUntil.IsZero() {
		if now.Before(user.LockedUntil) {
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, deps.Errors.AccountLocked, func() map[string]string {
				return map[string]string{"reason": "locked"}
			})
			return &LoginResult{State: StateLocked, UserID: user.UserID}, deps.Errors.AccountLocked
		}
		if err := deps.ResetLoginFailures(ctx, user.UserID); err != nil {
			deps.Warn("clear elapsed lock failed", err)
			return &LoginResult{State: StateFailed}, deps.Errors.Unavailable
		}
		user.FailedAttempts = 0
		user.LockedUntil = time.Time{}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		deps.Warn("password hash unreadable", err)
	}
	if err != nil || !ok {
		return failedCredentials(ctx, user, now, &deps)
	}

	if statusErr := deps.AccountStatusError(user.Status); statusErr != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return &LoginResult{State: StateFailed, UserID: user.UserID}, statusErr
	}

	if user.FailedAttempts > 0 {
		if err := deps.ResetLoginFailures(ctx, user.UserID); err != nil {
			deps.Warn("reset failed logins", err)
		}
	}
	if deps.UpgradePasswordHash != nil {
		deps.UpgradePasswordHash(ctx, user, password)
	}

	if user.MfaEnabled && user.MfaSecret != "" {
		sessionID, err := deps.CreateMfaSession(ctx, user.UserID)
		if err != nil {
			deps.Warn("create mfa session", err)
			return &LoginResult{State: StateFailed, UserID: user.UserID}, deps.Errors.Unavailable
		}
		deps.MetricInc(deps.Metrics.MfaRequired)
		deps.EmitAudit(ctx, deps.Events.MfaRequired, true, user.UserID, nil, nil)
		return &LoginResult{
			State:       StateMfaPending,
			UserID:      user.UserID,
			MFARequired: true,
			MFASession:  sessionID,
		}, nil
	}

	return authenticate(ctx, user, ip, now, &deps)
}

func failedCredentials(ctx context.Context, user *LoginUser, now time.Time, deps *LoginDeps) (*LoginResult, error) {
	deps.MetricInc(deps.Metrics.LoginFailure)

	count, err := deps.IncrementFailedLogins(ctx, user.UserID)
	if err != nil {
		deps.Warn("increment failed logins", err)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, deps.Errors.InvalidCredentials, nil)
		return &LoginResult{State: StateFailed, UserID: user.UserID}, deps.Errors.InvalidCredentials
	}

	if count >= deps.MaxFailedAttempts {
		until := now.Add(deps.LockoutDuration)
		if err := deps.LockUser(ctx, user.UserID, until); err != nil {
			deps.Warn("lock user", err)
		}
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.EmitAudit(ctx, deps.Events.AccountLocked, false, user.UserID, deps.Errors.AccountLocked, func() map[string]string {
			return map[string]string{
				"failed_attempts": strconv.Itoa(count),
				"locked_until":    until.UTC().Format(time.RFC3339),
			}
		})
		return &LoginResult{State: StateLocked, UserID: user.UserID}, deps.Errors.AccountLocked
	}

	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{"failed_attempts": strconv.Itoa(count)}
	})
	return &LoginResult{State: StateFailed, UserID: user.UserID}, deps.Errors.InvalidCredentials
}

func authenticate(ctx context.Context, user *LoginUser, ip string, now time.Time, deps *LoginDeps) (*LoginResult, error) {
	tokens, err := deps.IssueTokens(ctx, user)
	if err != nil {
		deps.Warn("issue tokens", err)
		return &LoginResult{State: StateFailed, UserID: user.UserID}, deps.Errors.Unavailable
	}
	if deps.RecordLogin != nil {
		if err := deps.RecordLogin(ctx, user.UserID, now, ip); err != nil {
			deps.Warn("record login", err)
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, nil, nil)

	return &LoginResult{
		State:                StateAuthenticated,
		UserID:               user.UserID,
		Tokens:               tokens,
		PasswordExpiresAt:    user.PasswordExpiresAt,
		PasswordExpiringSoon: deps.PasswordExpiringSoon(user.PasswordExpiresAt, now),
	}, nil
}
