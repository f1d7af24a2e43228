package gmpAuth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PasswordRequirements is the rule text to show next to password fields.
func (e *Engine) PasswordRequirements() string {
	if e == nil || e.passwords == nil {
		return ""
	}
	return e.passwords.RequirementsText()
}

// ValidatePasswordComplexity checks pw against the complexity rules only.
func (e *Engine) ValidatePasswordComplexity(pw string) error {
	if e == nil || e.passwords == nil {
		return ErrEngineNotReady
	}
	return e.passwords.ValidateComplexity(pw)
}

// ChangePassword replaces the password of userID after verifying the old
// one. The new password must satisfy the complexity rules and must not
// match the current or any remembered password. A wrong old password counts
// as a failed login and can lock the account.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, err, func() map[string]string {
			return map[string]string{"reason": "user_lookup"}
		})
		return err
	}
	if statusErr := accountStatusError(uint8(user.Status)); statusErr != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return statusErr
	}

	if !user.LockedUntil.IsZero() && e.now().Before(user.LockedUntil) {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, ErrAccountLocked, func() map[string]string {
			return map[string]string{"reason": "locked"}
		})
		return ErrAccountLocked
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "invalid_old_password"}
		})
		return e.countFailedOldPassword(ctx, userID)
	}

	if err := e.storeNewPassword(ctx, user, newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, err, nil)
		return err
	}
	if user.FailedAttempts > 0 {
		if err := e.users.ResetLoginFailures(ctx, userID); err != nil {
			e.logger.Warn("login failure reset after password change", zap.String("user_id", userID), zap.Error(err))
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, nil, nil)
	return nil
}

// countFailedOldPassword feeds the login lockout counter. Store failures
// still report ErrInvalidCredentials.
func (e *Engine) countFailedOldPassword(ctx context.Context, userID string) error {
	n, err := e.users.IncrementFailedLogins(ctx, userID)
	if err != nil {
		e.logger.Warn("failed login count not stored", zap.String("user_id", userID), zap.Error(err))
		return ErrInvalidCredentials
	}
	if n < e.config.Security.MaxLoginAttempts {
		return ErrInvalidCredentials
	}

	until := e.now().Add(e.config.Security.LoginCooldownDuration)
	if err := e.users.LockUser(ctx, userID, until); err != nil {
		e.logger.Warn("account lock not stored", zap.String("user_id", userID), zap.Error(err))
		return ErrInvalidCredentials
	}
	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditEventAccountLocked, false, userID, ErrAccountLocked, func() map[string]string {
		return map[string]string{"attempts": fmt.Sprint(n), "source": "password_change"}
	})
	return ErrAccountLocked
}

// ResetPassword sets a new password on behalf of an administrator. The old
// password is not required, but complexity and reuse rules still apply. A
// successful reset also clears failed attempts and any lock.
func (e *Engine) ResetPassword(ctx context.Context, userID, newPassword, actorID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, userID)
	if err == nil {
		err = e.storeNewPassword(ctx, user, newPassword)
	}
	if err != nil {
		e.emitAuditRecord(ctx, auditRecord{
			eventType: auditEventPasswordReset,
			userID:    userID,
			actorID:   actorID,
			err:       err,
		})
		return err
	}

	if err := e.users.ResetLoginFailures(ctx, userID); err != nil {
		e.logger.Warn("login failure reset after password reset", zap.String("user_id", userID), zap.Error(err))
	}

	e.metricInc(MetricPasswordReset)
	e.emitAuditRecord(ctx, auditRecord{
		eventType: auditEventPasswordReset,
		success:   true,
		userID:    userID,
		actorID:   actorID,
	})
	return nil
}

func (e *Engine) storeNewPassword(ctx context.Context, user *UserRecord, newPassword string) error {
	if err := e.passwords.ValidateComplexity(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		return err
	}
	if err := e.passwords.CheckReuse(ctx, user.UserID, newPassword, user.PasswordHash); err != nil {
		if errors.Is(err, ErrPasswordReuse) {
			e.metricInc(MetricPasswordChangeRejected)
			return err
		}
		e.logger.Warn("password history lookup failed", zap.String("user_id", user.UserID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	now := e.now()
	err = e.users.UpdatePassword(ctx, PasswordUpdate{
		UserID:       user.UserID,
		PreviousHash: user.PasswordHash,
		NewHash:      newHash,
		ChangedAt:    now,
		ExpiresAt:    e.passwords.ComputeExpiry(now),
		HistoryLimit: e.config.Password.HistoryCount,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPasswordChangeConflict):
		return ErrPasswordChangeConflict
	default:
		e.logger.Warn("password update failed", zap.String("user_id", user.UserID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// lookupUser maps store errors: unknown users to ErrUserNotFound, anything
// else to ErrUnavailable.
func (e *Engine) lookupUser(ctx context.Context, userID string) (*UserRecord, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := e.users.GetUserByID(ctx, userID)
	switch {
	case err == nil && user != nil:
		return user, nil
	case err == nil || errors.Is(err, ErrUserNotFound):
		return nil, ErrUserNotFound
	default:
		e.logger.Warn("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
