package gmpAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/gmpAuth/otp"
	"go.uber.org/zap"
)

// EnrollMfa starts TOTP enrollment: a fresh secret is stored as pending and
// returned with its otpauth URI. MFA stays off until ConfirmMfa succeeds,
// and calling EnrollMfa again replaces the pending secret.
func (e *Engine) EnrollMfa(ctx context.Context, userID string) (*MfaEnrollment, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MfaEnabled {
		return nil, ErrMfaAlreadyEnabled
	}

	secret, err := e.otp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.users.SetMfa(ctx, userID, false, secret); err != nil {
		return nil, e.storeError("store pending mfa secret", userID, err)
	}

	e.emitAudit(ctx, auditEventMfaEnrollStarted, true, userID, nil, nil)
	return &MfaEnrollment{
		Secret: secret,
		URI:    e.otp.EnrollmentURI(user.Username, secret),
	}, nil
}

// ConfirmMfa turns MFA on once code proves the authenticator holds the
// pending secret. It returns the recovery codes in clear text; only their
// hashes are stored.
func (e *Engine) ConfirmMfa(ctx context.Context, userID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MfaEnabled {
		return nil, ErrMfaAlreadyEnabled
	}
	if user.MfaSecret == "" {
		return nil, ErrMfaNotEnrolled
	}
	if err := e.checkTotp(ctx, user, code, "enroll"); err != nil {
		return nil, err
	}

	codes, err := e.issueRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.users.SetMfa(ctx, userID, true, user.MfaSecret); err != nil {
		return nil, e.storeError("enable mfa", userID, err)
	}

	e.metricInc(MetricMfaEnrolled)
	e.emitAudit(ctx, auditEventMfaEnabled, true, userID, nil, nil)
	return codes, nil
}

// DisableMfa turns MFA off after checking a current TOTP code, and discards
// the secret and all recovery codes.
func (e *Engine) DisableMfa(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	user, err := e.requireMfaCode(ctx, userID, code)
	if err != nil {
		return err
	}

	if err := e.users.SetMfa(ctx, user.UserID, false, ""); err != nil {
		return e.storeError("disable mfa", userID, err)
	}
	if err := e.users.SetRecoveryCodes(ctx, user.UserID, nil); err != nil {
		return e.storeError("clear recovery codes", userID, err)
	}

	e.metricInc(MetricMfaDisabled)
	e.emitAudit(ctx, auditEventMfaDisabled, true, userID, nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code of userID. A
// current TOTP code is required.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if _, err := e.requireMfaCode(ctx, userID, code); err != nil {
		return nil, err
	}
	return e.issueRecoveryCodes(ctx, userID)
}

func (e *Engine) requireMfaCode(ctx context.Context, userID, code string) (*UserRecord, error) {
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MfaEnabled || user.MfaSecret == "" {
		return nil, ErrMfaNotEnrolled
	}
	if err := e.checkTotp(ctx, user, code, "manage"); err != nil {
		return nil, err
	}
	return user, nil
}

// checkTotp verifies code against the user's secret under the per-user
// attempt budget. With replay protection on, a time step is accepted once.
func (e *Engine) checkTotp(ctx context.Context, user *UserRecord, code, stage string) error {
	meta := func() map[string]string { return map[string]string{"stage": stage} }

	if err := e.checkMfaAttempts(ctx, user.UserID); err != nil {
		if errors.Is(err, ErrMfaRateLimited) {
			e.metricInc(MetricMfaFailure)
			e.emitAudit(ctx, auditEventMfaAttemptsExceeded, false, user.UserID, err, meta)
			return ErrMfaRateLimited
		}
		return e.storeError("check mfa attempts", user.UserID, err)
	}

	step, ok := e.otp.Match(user.MfaSecret, code, e.now())
	if ok && e.config.TOTP.EnforceReplayProtection {
		claimed, err := e.claimTotpStep(ctx, user.UserID, step)
		if err != nil {
			return e.storeError("claim totp step", user.UserID, err)
		}
		ok = claimed
	}
	if !ok {
		e.metricInc(MetricMfaFailure)
		e.emitAudit(ctx, auditEventMfaFailure, false, user.UserID, ErrInvalidMfaCode, meta)
		if err := e.recordMfaAttempt(ctx, user.UserID); err != nil && !errors.Is(err, ErrMfaRateLimited) {
			e.logger.Warn("record mfa attempt failed", zap.String("user_id", user.UserID), zap.Error(err))
		}
		return ErrInvalidMfaCode
	}

	if err := e.resetMfaAttempts(ctx, user.UserID); err != nil {
		e.logger.Warn("reset mfa attempts failed", zap.String("user_id", user.UserID), zap.Error(err))
	}
	return nil
}

func (e *Engine) issueRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := e.otp.GenerateRecoveryCodes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.users.SetRecoveryCodes(ctx, userID, otp.HashRecoveryCodes(userID, codes)); err != nil {
		return nil, e.storeError("store recovery codes", userID, err)
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesIssued, true, userID, nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(len(codes))}
	})
	return codes, nil
}

func (e *Engine) storeError(op, userID string, err error) error {
	e.logger.Warn(op+" failed", zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
