package internaldefs

import (
	gmpAuth "github.com/MrEthical07/gmpAuth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   gmpAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   gmpAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: gmpAuth.MetricLoginSuccess, Name: "gmpauth_login_success_total", Help: "Successful logins."},
	{ID: gmpAuth.MetricLoginFailure, Name: "gmpauth_login_failure_total", Help: "Failed logins."},
	{ID: gmpAuth.MetricLoginRateLimited, Name: "gmpauth_login_rate_limited_total", Help: "Logins refused by the per-address rate limit."},
	{ID: gmpAuth.MetricAccountLocked, Name: "gmpauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: gmpAuth.MetricAccountUnlocked, Name: "gmpauth_account_unlocked_total", Help: "Accounts unlocked by an administrator."},
	{ID: gmpAuth.MetricAccountStatusChanged, Name: "gmpauth_account_status_changed_total", Help: "Account status changes."},
	{ID: gmpAuth.MetricMfaRequired, Name: "gmpauth_mfa_required_total", Help: "Logins that opened an MFA session."},
	{ID: gmpAuth.MetricMfaSuccess, Name: "gmpauth_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: gmpAuth.MetricMfaFailure, Name: "gmpauth_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: gmpAuth.MetricMfaSessionLocked, Name: "gmpauth_mfa_session_locked_total", Help: "MFA sessions locked after too many failures."},
	{ID: gmpAuth.MetricMfaEnrolled, Name: "gmpauth_mfa_enrolled_total", Help: "Confirmed MFA enrollments."},
	{ID: gmpAuth.MetricMfaDisabled, Name: "gmpauth_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: gmpAuth.MetricRecoveryCodeUsed, Name: "gmpauth_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: gmpAuth.MetricRecoveryCodeFailed, Name: "gmpauth_recovery_code_failed_total", Help: "Rejected recovery codes."},
	{ID: gmpAuth.MetricRecoveryCodesRegenerated, Name: "gmpauth_recovery_codes_regenerated_total", Help: "Recovery code set regenerations."},
	{ID: gmpAuth.MetricRefreshSuccess, Name: "gmpauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: gmpAuth.MetricRefreshFailure, Name: "gmpauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: gmpAuth.MetricLogout, Name: "gmpauth_logout_total", Help: "Logout operations."},
	{ID: gmpAuth.MetricTokenRejected, Name: "gmpauth_token_rejected_total", Help: "Access tokens that failed validation."},
	{ID: gmpAuth.MetricPasswordChangeSuccess, Name: "gmpauth_password_change_success_total", Help: "Successful password changes."},
	{ID: gmpAuth.MetricPasswordChangeInvalidOld, Name: "gmpauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: gmpAuth.MetricPasswordChangeRejected, Name: "gmpauth_password_change_rejected_total", Help: "Password changes rejected by policy or history."},
	{ID: gmpAuth.MetricPasswordReset, Name: "gmpauth_password_reset_total", Help: "Administrative password resets."},
	{ID: gmpAuth.MetricAssignmentRequested, Name: "gmpauth_assignment_requested_total", Help: "Role assignments requested."},
	{ID: gmpAuth.MetricAssignmentApproved, Name: "gmpauth_assignment_approved_total", Help: "Role assignments approved."},
	{ID: gmpAuth.MetricAssignmentRejected, Name: "gmpauth_assignment_rejected_total", Help: "Role assignments rejected."},
	{ID: gmpAuth.MetricAssignmentRevoked, Name: "gmpauth_assignment_revoked_total", Help: "Role assignments revoked."},
	{ID: gmpAuth.MetricAssignmentExpired, Name: "gmpauth_assignment_expired_total", Help: "Role assignments moved to expired."},
	{ID: gmpAuth.MetricRoleAssigned, Name: "gmpauth_role_assigned_total", Help: "Global roles granted."},
	{ID: gmpAuth.MetricRoleRemoved, Name: "gmpauth_role_removed_total", Help: "Global roles removed."},
	{ID: gmpAuth.MetricAuthorizationDenied, Name: "gmpauth_authorization_denied_total", Help: "Authorization checks denied because the store failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: gmpAuth.MetricValidateLatency, Name: "gmpauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// UpperBounds are the finite bucket limits in seconds. The engine keeps one
// more bucket for everything above the last bound.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "gmpauth_audit_dropped_total"

// AuditDroppedByEventName is AuditDroppedName split by the event_type label.
const AuditDroppedByEventName = "gmpauth_audit_dropped_by_event_total"

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
