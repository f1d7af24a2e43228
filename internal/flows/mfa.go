package flows

import (
	"context"
	"errors"
)

// MfaMethod selects the second factor presented to RunVerifyMfa.
type MfaMethod int

const (
	MfaTotp MfaMethod = iota
	MfaRecoveryCode
)

func (m MfaMethod) String() string {
	if m == MfaRecoveryCode {
		return "recovery_code"
	}
	return "totp"
}

// RunVerifyMfa completes a login parked in MFA_PENDING. The session is
// consumed on success and tokens are issued only to the caller whose
// consume removed it; a wrong code counts against both the session and the
// user.
func RunVerifyMfa(ctx context.Context, sessionID, code string, method MfaMethod, deps LoginDeps) (*LoginResult, error) {
	deps.applyDefaults()
	if !deps.ready() || deps.GetMfaSession == nil || deps.RecordMfaFailure == nil ||
		deps.InvalidateMfaSession == nil || deps.ConsumeMfaSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if method == MfaTotp && deps.VerifyTotp == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if method == MfaRecoveryCode && deps.ConsumeRecoveryCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if sessionID == "" {
		return &LoginResult{State: StateFailed}, deps.Errors.MfaSessionNotFound
	}

	userID, err := deps.GetMfaSession(ctx, sessionID)
	if err != nil {
		deps.MetricInc(deps.Metrics.MfaFailure)
		deps.EmitAudit(ctx, deps.Events.MfaFailure, false, "", err, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": "session"}
		})
		return &LoginResult{State: StateFailed}, err
	}

	user, err := deps.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		if err != nil && !errors.Is(err, deps.Errors.UserNotFound) {
			deps.Warn("mfa user lookup", err)
			return &LoginResult{State: StateFailed}, deps.Errors.Unavailable
		}
		_ = deps.InvalidateMfaSession(ctx, sessionID)
		return &LoginResult{State: StateFailed}, deps.Errors.MfaSessionNotFound
	}

	now := deps.Now()
	if statusErr := deps.AccountStatusError(user.Status); statusErr != nil {
		_ = deps.InvalidateMfaSession(ctx, sessionID)
		deps.EmitAudit(ctx, deps.Events.MfaFailure, false, user.UserID, statusErr, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": "account_status"}
		})
		return &LoginResult{State: StateFailed, UserID: user.UserID}, statusErr
	}
	if !user.LockedUntil.IsZero() && now.Before(user.LockedUntil) {
		_ = deps.InvalidateMfaSession(ctx, sessionID)
		return &LoginResult{State: StateLocked, UserID: user.UserID}, deps.Errors.AccountLocked
	}

	if deps.CheckMfaAttempts != nil {
		if err := deps.CheckMfaAttempts(ctx, user.UserID); err != nil {
			if !errors.Is(err, deps.Errors.MfaRateLimited) {
				deps.Warn("mfa attempt check", err)
				return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.Unavailable
			}
			deps.MetricInc(deps.Metrics.MfaFailure)
			deps.EmitAudit(ctx, deps.Events.MfaAttemptsExceeded, false, user.UserID, err, func() map[string]string {
				return map[string]string{"method": method.String(), "reason": "user_limit"}
			})
			return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.MfaRateLimited
		}
	}

	var ok bool
	switch method {
	case MfaRecoveryCode:
		ok, err = deps.ConsumeRecoveryCode(ctx, user, code)
		if err != nil {
			deps.Warn("consume recovery code", err)
			return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.Unavailable
		}
	default:
		var step int64
		if user.MfaSecret != "" {
			step, ok = deps.VerifyTotp(user.MfaSecret, code, now)
		}
		if ok && deps.ClaimTotpStep != nil {
			ok, err = deps.ClaimTotpStep(ctx, user.UserID, step)
			if err != nil {
				deps.Warn("claim totp step", err)
				return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.Unavailable
			}
		}
	}

	if !ok {
		return failedMfa(ctx, sessionID, user, method, &deps)
	}

	// Consume is the single-use gate: of concurrent callers presenting the
	// same session only the one whose consume removed it gets tokens.
	if err := deps.ConsumeMfaSession(ctx, sessionID); err != nil {
		if errors.Is(err, deps.Errors.Unavailable) {
			deps.Warn("consume mfa session", err)
			return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.Unavailable
		}
		deps.MetricInc(deps.Metrics.MfaFailure)
		deps.EmitAudit(ctx, deps.Events.MfaFailure, false, user.UserID, err, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": "session"}
		})
		return &LoginResult{State: StateFailed, UserID: user.UserID}, err
	}
	if deps.ResetMfaAttempts != nil {
		if err := deps.ResetMfaAttempts(ctx, user.UserID); err != nil {
			deps.Warn("reset mfa attempts", err)
		}
	}

	if method == MfaRecoveryCode {
		deps.MetricInc(deps.Metrics.RecoveryCodeUsed)
		deps.EmitAudit(ctx, deps.Events.RecoveryCodeUsed, true, user.UserID, nil, nil)
	}
	deps.MetricInc(deps.Metrics.MfaSuccess)
	deps.EmitAudit(ctx, deps.Events.MfaSuccess, true, user.UserID, nil, func() map[string]string {
		return map[string]string{"method": method.String()}
	})

	return authenticate(ctx, user, deps.ClientIPFromContext(ctx), now, &deps)
}

func failedMfa(ctx context.Context, sessionID string, user *LoginUser, method MfaMethod, deps *LoginDeps) (*LoginResult, error) {
	deps.MetricInc(deps.Metrics.MfaFailure)
	if method == MfaRecoveryCode {
		deps.MetricInc(deps.Metrics.RecoveryCodeFail)
	}
	if deps.RecordMfaAttemptFailure != nil {
		if err := deps.RecordMfaAttemptFailure(ctx, user.UserID); err != nil && !errors.Is(err, deps.Errors.MfaRateLimited) {
			deps.Warn("record mfa attempt", err)
		}
	}

	locked, err := deps.RecordMfaFailure(ctx, sessionID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.MfaFailure, false, user.UserID, err, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": "session"}
		})
		return &LoginResult{State: StateFailed, UserID: user.UserID}, err
	}

	deps.EmitAudit(ctx, deps.Events.MfaFailure, false, user.UserID, deps.Errors.InvalidMfaCode, func() map[string]string {
		return map[string]string{"method": method.String(), "reason": "code"}
	})
	if locked {
		deps.MetricInc(deps.Metrics.MfaSessionLocked)
		deps.EmitAudit(ctx, deps.Events.MfaAttemptsExceeded, false, user.UserID, deps.Errors.MfaSessionLocked, nil)
		return &LoginResult{State: StateFailed, UserID: user.UserID}, deps.Errors.InvalidMfaCode
	}
	return &LoginResult{State: StateMfaVerify, UserID: user.UserID}, deps.Errors.InvalidMfaCode
}
