package gmpAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/audit"
	"github.com/MrEthical07/gmpAuth/internal/flows"
	"github.com/MrEthical07/gmpAuth/internal/limiters"
	"github.com/MrEthical07/gmpAuth/jwt"
	"github.com/MrEthical07/gmpAuth/otp"
	"github.com/MrEthical07/gmpAuth/password"
	"github.com/MrEthical07/gmpAuth/permission"
	"github.com/MrEthical07/gmpAuth/session"
	"go.uber.org/zap"
)

// Engine is the shared authentication and authorization core. Build one
// with New().…Build(); all methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	users     UserStore
	hasher    password.Hasher
	passwords *password.PolicyEngine
	otp       *otp.Engine
	tokens    *jwt.Service
	mfa       *session.Store
	authz     *permission.Resolver

	loginLimiter *limiters.LoginLimiter
	totpLimiter  *limiters.TotpLimiter
	stop         context.CancelFunc
	audit        *audit.Dispatcher
	metrics      *Metrics

	flows flows.Deps
}

// Close stops the audit dispatcher after draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stop != nil {
		e.stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByEvent breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByEvent() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByEvent()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.tokens != nil && e.authz != nil && e.mfa != nil
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates username and password and returns an access and a
// refresh token. Users with MFA enabled get ErrMfaRequired; use
// LoginWithResult to obtain the MFA session.
func (e *Engine) Login(ctx context.Context, username, password string) (string, string, error) {
	res, err := e.LoginWithResult(ctx, username, password)
	if err != nil {
		return "", "", err
	}
	if res.MFARequired {
		return "", "", ErrMfaRequired
	}
	return res.AccessToken, res.RefreshToken, nil
}

// LoginWithResult runs the credential check. On success it either returns
// tokens or, for MFA users, the session id to pass to VerifyMfa.
func (e *Engine) LoginWithResult(ctx context.Context, username, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunLoginWithResult(ctx, username, password, e.flows.Login)
	return toLoginResult(res), err
}

// VerifyMfa completes an MFA login with a TOTP code.
func (e *Engine) VerifyMfa(ctx context.Context, sessionID, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunVerifyMfa(ctx, sessionID, code, flows.MfaTotp, e.flows.Login)
	return toLoginResult(res), err
}

// VerifyMfaRecoveryCode completes an MFA login with a single-use recovery
// code.
func (e *Engine) VerifyMfaRecoveryCode(ctx context.Context, sessionID, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunVerifyMfa(ctx, sessionID, code, flows.MfaRecoveryCode, e.flows.Login)
	return toLoginResult(res), err
}

func toLoginResult(res *flows.LoginResult) *LoginResult {
	if res == nil {
		return nil
	}
	return &LoginResult{
		State:                res.State,
		UserID:               res.UserID,
		AccessToken:          res.Tokens.AccessToken,
		AccessExpiresAt:      res.Tokens.AccessExpiresAt,
		RefreshToken:         res.Tokens.RefreshToken,
		RefreshExpiresAt:     res.Tokens.RefreshExpiresAt,
		MFARequired:          res.MFARequired,
		MFASession:           res.MFASession,
		PasswordExpiresAt:    res.PasswordExpiresAt,
		PasswordExpiringSoon: res.PasswordExpiringSoon,
	}
}

/*
====================================
TOKENS
====================================
*/

// Logout revokes every token passed, typically the access and refresh
// token of one login. Revoking an already revoked or expired token
// succeeds as long as its signature verifies. Empty strings are skipped.
func (e *Engine) Logout(ctx context.Context, tokens ...string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	userID := e.subjectOf(tokens)
	res := flows.RunLogout(ctx, tokens, e.flows.Logout)
	if res.Err != nil {
		if !errors.Is(res.Err, ErrInvalidToken) {
			e.logger.Warn("token revocation failed", zap.Error(res.Err))
			res.Err = fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		e.emitAudit(ctx, auditEventLogout, false, userID, res.Err, nil)
		return res.Err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
	})
	return nil
}

// RefreshToken exchanges a refresh token for a new access token carrying
// the owner's current roles and permissions.
func (e *Engine) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)

	var err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, nil, nil)
		return res.AccessToken, nil
	case flows.RefreshFailureToken:
		err = ErrInvalidToken
	case flows.RefreshFailureUser:
		err = ErrInvalidToken
		if res.Err != nil {
			e.logger.Warn("refresh user lookup failed", zap.Error(res.Err))
			err = fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
	case flows.RefreshFailureAccountStatus:
		err = res.Err
	case flows.RefreshFailureLocked:
		err = ErrAccountLocked
	default:
		e.logger.Warn("refresh issue failed", zap.Error(res.Err))
		err = fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, err, nil)
	return "", err
}

// ValidateToken reports whether token is a live, unrevoked access token.
func (e *Engine) ValidateToken(ctx context.Context, token string) bool {
	_, err := e.ParseToken(ctx, token)
	return err == nil
}

// ParseToken validates an access token and returns its claims.
func (e *Engine) ParseToken(ctx context.Context, token string) (*AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	claims, err := e.tokens.Parse(ctx, token)
	if !start.IsZero() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return nil, err
	}
	return claims, nil
}

func (e *Engine) subjectOf(tokens []string) string {
	for _, tok := range tokens {
		if sub, err := e.tokens.Owner(tok); err == nil {
			return sub.UserID
		}
	}
	return ""
}

/*
====================================
FLOW WIRING
====================================
*/

func (e *Engine) initFlowDeps() {
	e.flows = flows.Deps{
		Login: flows.LoginDeps{
			MaxFailedAttempts:   e.config.Security.MaxLoginAttempts,
			LockoutDuration:     e.config.Security.LoginCooldownDuration,
			Now:                 e.now,
			ClientIPFromContext: clientIPFromContext,
			AccountStatusError:  accountStatusError,

			AllowLogin: func(ctx context.Context, ip string) error {
				return e.loginLimiter.Allow(ctx, ip)
			},

			GetUserByIdentifier:   e.loginUserByIdentifier,
			GetUserByID:           e.loginUserByID,
			IncrementFailedLogins: e.users.IncrementFailedLogins,
			LockUser:              e.users.LockUser,
			ResetLoginFailures:    e.users.ResetLoginFailures,
			RecordLogin:           e.users.RecordLogin,

			VerifyPassword:       e.hasher.Verify,
			UpgradePasswordHash:  e.upgradePasswordHash,
			PasswordExpiringSoon: e.passwords.IsExpiringSoon,

			CreateMfaSession:     e.mfa.Create,
			GetMfaSession:        e.getMfaSession,
			RecordMfaFailure:     e.recordMfaFailure,
			InvalidateMfaSession: e.mfa.Invalidate,
			ConsumeMfaSession: func(ctx context.Context, id string) error {
				return mapSessionError(e.mfa.Consume(ctx, id))
			},
			VerifyTotp:          e.otp.Match,
			ConsumeRecoveryCode: e.consumeRecoveryCode,
			ClaimTotpStep:       e.claimTotpStep,

			CheckMfaAttempts:        e.checkMfaAttempts,
			RecordMfaAttemptFailure: e.recordMfaAttempt,
			ResetMfaAttempts:        e.resetMfaAttempts,

			IssueTokens: e.issueTokens,

			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit: e.emitAudit,
			Warn: func(msg string, err error) {
				e.logger.Warn(msg, zap.Error(err))
			},

			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				AccountLocked:    int(MetricAccountLocked),
				MfaRequired:      int(MetricMfaRequired),
				MfaSuccess:       int(MetricMfaSuccess),
				MfaFailure:       int(MetricMfaFailure),
				MfaSessionLocked: int(MetricMfaSessionLocked),
				RecoveryCodeUsed: int(MetricRecoveryCodeUsed),
				RecoveryCodeFail: int(MetricRecoveryCodeFailed),
			},
			Events: flows.LoginEvents{
				LoginSuccess:        auditEventLoginSuccess,
				LoginFailure:        auditEventLoginFailure,
				LoginRateLimited:    auditEventLoginRateLimited,
				AccountLocked:       auditEventAccountLocked,
				MfaRequired:         auditEventMfaRequired,
				MfaSuccess:          auditEventMfaSuccess,
				MfaFailure:          auditEventMfaFailure,
				MfaAttemptsExceeded: auditEventMfaAttemptsExceeded,
				RecoveryCodeUsed:    auditEventRecoveryCodeUsed,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				LoginRateLimited:   ErrLoginRateLimited,
				AccountLocked:      ErrAccountLocked,
				InvalidMfaCode:     ErrInvalidMfaCode,
				MfaSessionNotFound: ErrMfaSessionNotFound,
				MfaSessionLocked:   ErrMfaSessionLocked,
				MfaRateLimited:     ErrMfaRateLimited,
				UserNotFound:       ErrUserNotFound,
				Unavailable:        ErrUnavailable,
			},
		},
		Refresh: flows.RefreshDeps{
			Now: e.now,
			ParseRefresh: func(ctx context.Context, token string) (string, error) {
				sub, err := e.tokens.ParseRefresh(ctx, token)
				return sub.UserID, err
			},
			GetUserByID:        e.loginUserByID,
			AccountStatusError: accountStatusError,
			MintAccess:         e.mintAccess,
			UserNotFound:       ErrUserNotFound,
		},
		Logout: flows.LogoutDeps{
			Revoke: e.tokens.Revoke,
		},
	}
	if e.loginLimiter == nil {
		e.flows.Login.AllowLogin = nil
	}
	if !e.config.TOTP.EnforceReplayProtection {
		e.flows.Login.ClaimTotpStep = nil
	}
}

func accountStatusError(status uint8) error {
	switch AccountStatus(status) {
	case AccountActive:
		return nil
	case AccountExpired:
		return ErrAccountExpired
	default:
		return ErrAccountDisabled
	}
}

func toLoginUser(u *UserRecord) *flows.LoginUser {
	return &flows.LoginUser{
		UserID:             u.UserID,
		Username:           u.Username,
		PasswordHash:       u.PasswordHash,
		Status:             uint8(u.Status),
		FailedAttempts:     u.FailedAttempts,
		LockedUntil:        u.LockedUntil,
		PasswordChangedAt:  u.PasswordChangedAt,
		PasswordExpiresAt:  u.PasswordExpiresAt,
		MfaEnabled:         u.MfaEnabled,
		MfaSecret:          u.MfaSecret,
		TotpLastStep:       u.TotpLastStep,
		RecoveryCodeHashes: u.RecoveryCodeHashes,
	}
}

func (e *Engine) loginUserByIdentifier(ctx context.Context, identifier string) (*flows.LoginUser, error) {
	u, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return toLoginUser(u), nil
}

func (e *Engine) loginUserByID(ctx context.Context, userID string) (*flows.LoginUser, error) {
	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toLoginUser(u), nil
}

// upgradePasswordHash rewrites legacy or under-cost hashes after a
// successful password check. Failures only cost the upgrade.
func (e *Engine) upgradePasswordHash(ctx context.Context, user *flows.LoginUser, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.Error(err))
		return
	}
	err = e.users.UpdatePassword(ctx, PasswordUpdate{
		UserID:       user.UserID,
		PreviousHash: user.PasswordHash,
		NewHash:      newHash,
		ChangedAt:    user.PasswordChangedAt,
		ExpiresAt:    user.PasswordExpiresAt,
	})
	if err != nil {
		e.logger.Warn("password rehash not stored", zap.String("user_id", user.UserID), zap.Error(err))
	}
}

func (e *Engine) getMfaSession(ctx context.Context, id string) (string, error) {
	s, err := e.mfa.Get(ctx, id)
	if err != nil {
		return "", mapSessionError(err)
	}
	return s.UserID, nil
}

func (e *Engine) recordMfaFailure(ctx context.Context, id string) (bool, error) {
	_, err := e.mfa.RecordFailure(ctx, id)
	if errors.Is(err, session.ErrSessionLocked) {
		return true, nil
	}
	return false, mapSessionError(err)
}

func (e *Engine) claimTotpStep(ctx context.Context, userID string, step int64) (bool, error) {
	return e.users.ClaimTotpStep(ctx, userID, step)
}

func (e *Engine) checkMfaAttempts(ctx context.Context, userID string) error {
	if e.totpLimiter == nil {
		return nil
	}
	return mapLimiterError(e.totpLimiter.Check(ctx, userID))
}

func (e *Engine) recordMfaAttempt(ctx context.Context, userID string) error {
	if e.totpLimiter == nil {
		return nil
	}
	return mapLimiterError(e.totpLimiter.RecordFailure(ctx, userID))
}

func (e *Engine) resetMfaAttempts(ctx context.Context, userID string) error {
	if e.totpLimiter == nil {
		return nil
	}
	return mapLimiterError(e.totpLimiter.Reset(ctx, userID))
}

func (e *Engine) consumeRecoveryCode(ctx context.Context, user *flows.LoginUser, code string) (bool, error) {
	idx := otp.MatchRecoveryCode(user.UserID, code, user.RecoveryCodeHashes)
	if idx < 0 {
		return false, nil
	}
	return e.users.ConsumeRecoveryCode(ctx, user.UserID, user.RecoveryCodeHashes[idx])
}

func (e *Engine) issueTokens(ctx context.Context, user *flows.LoginUser) (flows.Tokens, error) {
	auth, err := e.authz.Resolve(ctx, user.UserID)
	if err != nil {
		return flows.Tokens{}, err
	}
	pair, err := e.tokens.Issue(ctx, jwt.Subject{UserID: user.UserID, Username: user.Username}, auth.Roles, auth.Permissions)
	if err != nil {
		return flows.Tokens{}, err
	}
	return flows.Tokens{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

func (e *Engine) mintAccess(ctx context.Context, refreshToken string, user *flows.LoginUser) (string, time.Time, error) {
	auth, err := e.authz.Resolve(ctx, user.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	return e.tokens.Refresh(ctx, refreshToken, auth.Roles, auth.Permissions)
}
