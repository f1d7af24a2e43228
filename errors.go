package gmpAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/gmpAuth/internal/limiters"
	"github.com/MrEthical07/gmpAuth/jwt"
	"github.com/MrEthical07/gmpAuth/password"
	"github.com/MrEthical07/gmpAuth/permission"
	"github.com/MrEthical07/gmpAuth/session"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountUnavailable is the parent of every account-state refusal.
	ErrAccountUnavailable = errors.New("account unavailable")
	// ErrAccountLocked is returned while LockedUntil is in the future.
	ErrAccountLocked = fmt.Errorf("%w: account locked", ErrAccountUnavailable)
	// ErrAccountDisabled is returned for administratively disabled accounts.
	ErrAccountDisabled = fmt.Errorf("%w: account disabled", ErrAccountUnavailable)
	// ErrAccountExpired is returned for accounts past their validity.
	ErrAccountExpired = fmt.Errorf("%w: account expired", ErrAccountUnavailable)

	// ErrMfaRequired is only returned by the two-value Login.
	ErrMfaRequired = errors.New("mfa required")

	// ErrInvalidMfaSession is the parent of the MFA session failures.
	ErrInvalidMfaSession = errors.New("invalid mfa session")
	// ErrMfaSessionNotFound marks an unknown or consumed session.
	ErrMfaSessionNotFound = fmt.Errorf("%w: not found", ErrInvalidMfaSession)
	// ErrMfaSessionExpired marks a session that outlived its TTL.
	ErrMfaSessionExpired = fmt.Errorf("%w: expired", ErrInvalidMfaSession)
	// ErrMfaSessionLocked marks a session with too many bad codes.
	ErrMfaSessionLocked = fmt.Errorf("%w: locked", ErrInvalidMfaSession)

	// ErrInvalidMfaCode is returned for a wrong TOTP or recovery code.
	ErrInvalidMfaCode = errors.New("invalid mfa code")
	// ErrMfaNotEnrolled is returned when an operation needs a TOTP secret the
	// user does not have.
	ErrMfaNotEnrolled = errors.New("mfa not enrolled")
	// ErrMfaAlreadyEnabled is returned by EnrollMfa for users with MFA on.
	ErrMfaAlreadyEnabled = errors.New("mfa already enabled")

	ErrInvalidToken = jwt.ErrInvalidToken

	ErrPasswordPolicy = password.ErrPolicyViolation
	ErrPasswordReuse  = password.ErrReused
	// ErrPasswordChangeConflict is returned when the stored hash changed
	// between read and update.
	ErrPasswordChangeConflict = errors.New("password change conflict")

	ErrAssignmentConflict = permission.ErrAssignmentConflict
	ErrInvalidTransition  = permission.ErrInvalidTransition
	ErrInvalidRequest     = permission.ErrInvalidRequest
	ErrNotFound           = permission.ErrNotFound
	// ErrUserNotFound is what UserStore implementations return for unknown
	// identifiers or ids.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)

	// ErrLoginRateLimited is returned before any user lookup when the client
	// address is over its login budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrMfaRateLimited is returned while a user is over the wrong-code
	// budget, before the code is even checked.
	ErrMfaRateLimited = limiters.ErrTotpRateLimited

	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("backend unavailable")
)

// ErrorCode is the stable taxonomy code of an engine error, suitable for
// API responses and audit records.
type ErrorCode string

const (
	CodeOK                 ErrorCode = ""
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeAccountUnavailable ErrorCode = "account_unavailable"
	CodeMfaRequired        ErrorCode = "mfa_required"
	CodeInvalidMfaSession  ErrorCode = "invalid_mfa_session"
	CodeInvalidMfaCode     ErrorCode = "invalid_mfa_code"
	CodeInvalidToken       ErrorCode = "invalid_token"
	CodePolicyViolation    ErrorCode = "policy_violation"
	CodeAssignmentConflict ErrorCode = "assignment_conflict"
	CodeNotFound           ErrorCode = "not_found"
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeConflict           ErrorCode = "conflict"
	CodeUnavailable        ErrorCode = "unavailable"
	CodeInternal           ErrorCode = "internal_error"
)

// ErrorCodeOf maps err to its taxonomy code. nil maps to CodeOK.
func ErrorCodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrAccountUnavailable):
		return CodeAccountUnavailable
	case errors.Is(err, ErrMfaRequired):
		return CodeMfaRequired
	case errors.Is(err, ErrInvalidMfaSession):
		return CodeInvalidMfaSession
	case errors.Is(err, ErrInvalidMfaCode):
		return CodeInvalidMfaCode
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrPasswordPolicy):
		return CodePolicyViolation
	case errors.Is(err, ErrAssignmentConflict):
		return CodeAssignmentConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrMfaNotEnrolled),
		errors.Is(err, ErrMfaAlreadyEnabled):
		return CodeInvalidRequest
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrMfaRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrPasswordChangeConflict):
		return CodeConflict
	case errors.Is(err, ErrEngineNotReady),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// mapLimiterError keeps ErrMfaRateLimited and folds backend failures into
// ErrUnavailable.
func mapLimiterError(err error) error {
	if err == nil || errors.Is(err, ErrMfaRateLimited) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrMfaSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return ErrMfaSessionExpired
	case errors.Is(err, session.ErrSessionLocked):
		return ErrMfaSessionLocked
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
