package gmpAuth

import (
	"context"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAccountLocked         = "account_locked"
	auditEventAccountUnlocked       = "account_unlocked"
	auditEventAccountStatusChange   = "account_status_change"
	auditEventMfaRequired           = "mfa_required"
	auditEventMfaSuccess            = "mfa_success"
	auditEventMfaFailure            = "mfa_failure"
	auditEventMfaAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventMfaEnrollStarted      = "mfa_enroll_started"
	auditEventMfaEnabled            = "mfa_enabled"
	auditEventMfaDisabled           = "mfa_disabled"
	auditEventRecoveryCodeUsed      = "recovery_code_used"
	auditEventRecoveryCodesIssued   = "recovery_codes_generated"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordReset         = "password_reset"
	auditEventAssignmentRequested   = "assignment_requested"
	auditEventAssignmentApproved    = "assignment_approved"
	auditEventAssignmentRejected    = "assignment_rejected"
	auditEventAssignmentRevoked     = "assignment_revoked"
	auditEventAssignmentExpired     = "assignment_expired"
	auditEventRoleAssigned          = "role_assigned"
	auditEventRoleRemoved           = "role_removed"
)

// auditRecord is the part of an event the caller supplies; the engine adds
// time, IP and organization from ctx.
type auditRecord struct {
	eventType string
	success   bool
	userID    string
	actorID   string
	orgID     string
	err       error
	metadata  func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID string, err error, metadataBuilder func() map[string]string) {
	e.emitAuditRecord(ctx, auditRecord{
		eventType: eventType,
		success:   success,
		userID:    userID,
		err:       err,
		metadata:  metadataBuilder,
	})
}

func (e *Engine) emitAuditRecord(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}
	if rec.orgID == "" {
		rec.orgID = organizationIDFromContext(ctx)
	}

	var metadata map[string]string
	if rec.metadata != nil {
		metadata = rec.metadata()
	}

	event := AuditEvent{
		Timestamp:      e.now().UTC(),
		EventType:      rec.eventType,
		UserID:         rec.userID,
		ActorID:        rec.actorID,
		OrganizationID: rec.orgID,
		IP:             clientIPFromContext(ctx),
		Success:        rec.success,
		Metadata:       metadata,
	}
	if code := ErrorCodeOf(rec.err); code != CodeOK {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}
