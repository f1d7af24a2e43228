package gmpAuth

import (
	"context"
)

// UnlockAccount clears the failed-attempt counter and any lock before the
// cool-down has elapsed.
func (e *Engine) UnlockAccount(ctx context.Context, userID, actorID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.lookupUser(ctx, userID); err != nil {
		return err
	}

	err := e.users.ResetLoginFailures(ctx, userID)
	if err != nil {
		err = e.storeError("unlock account", userID, err)
	} else {
		e.metricInc(MetricAccountUnlocked)
	}
	e.emitAuditRecord(ctx, auditRecord{
		eventType: auditEventAccountUnlocked,
		success:   err == nil,
		userID:    userID,
		actorID:   actorID,
		err:       err,
	})
	return err
}

// SetAccountStatus enables, disables or expires an account. Accounts are
// never deleted. Tokens already issued stay valid until they expire, but
// refresh is refused for non-active accounts.
func (e *Engine) SetAccountStatus(ctx context.Context, userID string, status AccountStatus, actorID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	switch status {
	case AccountActive, AccountDisabled, AccountExpired:
	default:
		return ErrInvalidRequest
	}

	current, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}

	err = e.users.SetAccountStatus(ctx, userID, status)
	if err != nil {
		err = e.storeError("set account status", userID, err)
	} else {
		e.metricInc(MetricAccountStatusChanged)
	}
	e.emitAuditRecord(ctx, auditRecord{
		eventType: auditEventAccountStatusChange,
		success:   err == nil,
		userID:    userID,
		actorID:   actorID,
		err:       err,
		metadata: func() map[string]string {
			return map[string]string{
				"from": current.Status.String(),
				"to":   status.String(),
			}
		},
	})
	return err
}
