package flows

import (
	"context"
	"errors"
	"time"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureToken
	RefreshFailureUser
	RefreshFailureAccountStatus
	RefreshFailureLocked
	RefreshFailureIssue
)

// RefreshResult carries either the new access token or failure metadata.
type RefreshResult struct {
	Failure         RefreshFailureKind
	Err             error
	UserID          string
	AccessToken     string
	AccessExpiresAt time.Time
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now                func() time.Time
	ParseRefresh       func(ctx context.Context, token string) (userID string, err error)
	GetUserByID        func(ctx context.Context, userID string) (*LoginUser, error)
	AccountStatusError func(status uint8) error

	// MintAccess resolves current authorities for user and signs a new
	// access token off the presented refresh token.
	MintAccess func(ctx context.Context, refreshToken string, user *LoginUser) (string, time.Time, error)

	UserNotFound error
}

// RunRefresh exchanges a live refresh token for an access token carrying
// the owner's current roles and permissions. Disabled or locked owners are
// refused even while the refresh token itself is still valid.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	userID, err := deps.ParseRefresh(ctx, refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureToken, Err: err}
	}

	user, err := deps.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		if err == nil || errors.Is(err, deps.UserNotFound) {
			return RefreshResult{Failure: RefreshFailureUser, UserID: userID}
		}
		return RefreshResult{Failure: RefreshFailureUser, UserID: userID, Err: err}
	}
	if statusErr := deps.AccountStatusError(user.Status); statusErr != nil {
		return RefreshResult{Failure: RefreshFailureAccountStatus, UserID: userID, Err: statusErr}
	}
	if !user.LockedUntil.IsZero() && deps.Now().Before(user.LockedUntil) {
		return RefreshResult{Failure: RefreshFailureLocked, UserID: userID}
	}

	access, expiresAt, err := deps.MintAccess(ctx, refreshToken, user)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, UserID: userID, Err: err}
	}
	return RefreshResult{UserID: userID, AccessToken: access, AccessExpiresAt: expiresAt}
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Revoke func(ctx context.Context, token string) error
}

// LogoutResult reports how many tokens were denylisted and the first
// failure, if any.
type LogoutResult struct {
	Revoked int
	Err     error
}

// RunLogout revokes every non-empty token. Revoking a token twice is not an
// error. A failure on one token does not stop the others.
func RunLogout(ctx context.Context, tokens []string, deps LogoutDeps) LogoutResult {
	var res LogoutResult
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if err := deps.Revoke(ctx, tok); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			continue
		}
		res.Revoked++
	}
	return res
}
