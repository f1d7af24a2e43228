package gmpAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/flows"
	"github.com/MrEthical07/gmpAuth/jwt"
	"github.com/MrEthical07/gmpAuth/permission"
)

// AccountStatus represents the lifecycle state of a user account. Accounts
// are never deleted, only disabled or expired.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountExpired
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// UserRecord is the full account record returned by [UserStore].
type UserRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	Status       AccountStatus

	FailedAttempts int
	LockedUntil    time.Time

	PasswordChangedAt time.Time
	PasswordExpiresAt time.Time

	MfaEnabled bool
	// MfaSecret is the base64 TOTP secret. It is set while enrollment is
	// pending even though MfaEnabled is still false.
	MfaSecret          string
	RecoveryCodeHashes []string
	// TotpLastStep is the newest TOTP time step the user has presented.
	TotpLastStep int64

	LastLoginAt time.Time
	LastLoginIP string
}

// PasswordUpdate is a compare-and-swap password write. The store applies it
// only while the current hash still equals PreviousHash, appends
// PreviousHash to the history and keeps at most HistoryLimit entries. A
// zero HistoryLimit leaves the history untouched, which is how rehash on
// login is written.
type PasswordUpdate struct {
	UserID       string
	PreviousHash string
	NewHash      string
	ChangedAt    time.Time
	ExpiresAt    time.Time
	HistoryLimit int
}

// UserStore is the account persistence the engine needs. Single-record
// lookups return an error wrapping [ErrUserNotFound] for unknown users.
type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (*UserRecord, error)

	// IncrementFailedLogins atomically adds one to the failure counter and
	// returns the new value.
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	LockUser(ctx context.Context, userID string, until time.Time) error
	// ResetLoginFailures zeroes the counter and clears any lock.
	ResetLoginFailures(ctx context.Context, userID string) error
	RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error

	// UpdatePassword returns ErrPasswordChangeConflict when the stored hash
	// no longer equals u.PreviousHash.
	UpdatePassword(ctx context.Context, u PasswordUpdate) error
	// PasswordHistory returns previous hashes, newest first.
	PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error)

	SetMfa(ctx context.Context, userID string, enabled bool, secret string) error
	// ClaimTotpStep stores step as the last used TOTP step if it is newer
	// than the stored one, in one atomic compare-and-set, and reports
	// whether it was.
	ClaimTotpStep(ctx context.Context, userID string, step int64) (bool, error)
	SetRecoveryCodes(ctx context.Context, userID string, hashes []string) error
	// ConsumeRecoveryCode removes hash from the user's codes and reports
	// whether it was present.
	ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error)

	SetAccountStatus(ctx context.Context, userID string, status AccountStatus) error
}

// LoginState is reported in LoginResult.State.
type LoginState = flows.LoginState

const (
	LoginStart           = flows.StateStart
	LoginCredentialCheck = flows.StateCredentialCheck
	LoginLocked          = flows.StateLocked
	LoginMfaPending      = flows.StateMfaPending
	LoginMfaVerify       = flows.StateMfaVerify
	LoginAuthenticated   = flows.StateAuthenticated
	LoginFailed          = flows.StateFailed
)

// LoginResult is returned by [Engine.LoginWithResult], [Engine.VerifyMfa]
// and [Engine.VerifyMfaRecoveryCode]. It carries tokens when
// authentication completed, or the MFA session id when a second factor is
// required.
type LoginResult struct {
	State  LoginState
	UserID string

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	MFARequired bool
	MFASession  string

	// Expiry is reported, never enforced at login.
	PasswordExpiresAt    time.Time
	PasswordExpiringSoon bool
}

// MfaEnrollment is returned by [Engine.EnrollMfa].
type MfaEnrollment struct {
	Secret string
	URI    string
}

// AccessClaims is the validated view of an access token.
type AccessClaims = jwt.AccessClaims

// Assignment aliases, so hosts can administer roles without importing the
// permission package.
type (
	Assignment        = permission.Assignment
	AssignmentRequest = permission.AssignmentRequest
	AssignmentOutcome = permission.AssignmentOutcome
	AccessLevel       = permission.AccessLevel
	UserRole          = permission.UserRole
)
