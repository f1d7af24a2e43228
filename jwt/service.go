package jwt

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidToken is returned for any token that fails signature, expiry,
// issuer, use or denylist checks. The specific cause is only logged.
var ErrInvalidToken = errors.New("invalid token")

const minRevocationTTL = time.Second

// Subject identifies whom a token pair is minted for.
type Subject struct {
	UserID   string
	Username string
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AccessClaims is the validated view of an access token.
type AccessClaims struct {
	TokenID     string
	UserID      string
	Username    string
	Roles       []string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Service issues, validates, refreshes and revokes tokens.
type Service struct {
	manager  *Manager
	denylist Denylist
	logger   *zap.Logger
}

// NewService wires a Manager to a denylist. A nil logger is replaced with a
// no-op logger.
func NewService(manager *Manager, denylist Denylist, logger *zap.Logger) (*Service, error) {
	if manager == nil {
		return nil, errors.New("token service requires a manager")
	}
	if denylist == nil {
		return nil, errors.New("token service requires a denylist")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{manager: manager, denylist: denylist, logger: logger}, nil
}

// Issue mints an access token carrying roles and permissions, and a refresh
// token carrying identity only.
func (s *Service) Issue(ctx context.Context, sub Subject, roles, permissions []string) (TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}
	if sub.UserID == "" {
		return TokenPair{}, errors.New("token subject requires a user id")
	}

	access, accessExp, err := s.manager.CreateAccess(sub.UserID, sub.Username, roles, permissions)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.manager.CreateRefresh(sub.UserID, sub.Username)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Validate reports whether token is a live, unrevoked access token.
func (s *Service) Validate(ctx context.Context, token string) bool {
	_, err := s.Parse(ctx, token)
	return err == nil
}

// Parse validates an access token and returns its claims.
func (s *Service) Parse(ctx context.Context, token string) (*AccessClaims, error) {
	claims, err := s.parseLive(ctx, token, UseAccess)
	if err != nil {
		return nil, err
	}
	return toAccessClaims(claims), nil
}

// ParseRefresh validates a refresh token and returns the subject it names.
func (s *Service) ParseRefresh(ctx context.Context, token string) (Subject, error) {
	claims, err := s.parseLive(ctx, token, UseRefresh)
	if err != nil {
		return Subject{}, err
	}
	return Subject{UserID: claims.UID, Username: claims.Subject}, nil
}

// Refresh mints a new access token for the owner of refreshToken with the
// supplied, freshly resolved, roles and permissions.
func (s *Service) Refresh(ctx context.Context, refreshToken string, roles, permissions []string) (string, time.Time, error) {
	sub, err := s.ParseRefresh(ctx, refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.manager.CreateAccess(sub.UserID, sub.Username, roles, permissions)
}

// Revoke denylists token until its natural expiry. Expired tokens are still
// accepted as long as their signature verifies.
func (s *Service) Revoke(ctx context.Context, token string) error {
	claims, err := s.manager.ParseIgnoringExpiry(token)
	if err != nil {
		s.logger.Debug("revoke rejected token", zap.Error(err))
		return ErrInvalidToken
	}
	fp, err := Fingerprint(token)
	if err != nil {
		return ErrInvalidToken
	}

	ttl := minRevocationTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.manager.Now()); remaining > ttl {
			ttl = remaining
		}
	}
	return s.denylist.Add(ctx, fp, ttl)
}

// Owner returns the subject of a correctly signed token, ignoring expiry
// and revocation. It is meant for attributing logouts, never for access.
func (s *Service) Owner(token string) (Subject, error) {
	claims, err := s.manager.ParseIgnoringExpiry(token)
	if err != nil {
		return Subject{}, ErrInvalidToken
	}
	return Subject{UserID: claims.UID, Username: claims.Subject}, nil
}

// IsRevoked reports whether token's fingerprint is on the denylist.
func (s *Service) IsRevoked(ctx context.Context, token string) (bool, error) {
	fp, err := Fingerprint(token)
	if err != nil {
		return false, ErrInvalidToken
	}
	return s.denylist.Contains(ctx, fp)
}

// Fingerprint is base64url(SHA-256(header.payload)). The signature segment
// does not participate.
func Fingerprint(token string) (string, error) {
	i := strings.IndexByte(token, '.')
	if i < 0 {
		return "", ErrInvalidToken
	}
	j := strings.IndexByte(token[i+1:], '.')
	if j < 0 {
		return "", ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(token[:i+1+j]))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func (s *Service) parseLive(ctx context.Context, token, use string) (*Claims, error) {
	claims, err := s.manager.Parse(token, use)
	if err != nil {
		s.logger.Debug("token rejected", zap.String("use", use), zap.Error(err))
		return nil, ErrInvalidToken
	}
	revoked, err := s.IsRevoked(ctx, token)
	if err != nil {
		s.logger.Warn("denylist lookup failed", zap.Error(err))
		return nil, ErrInvalidToken
	}
	if revoked {
		s.logger.Debug("token revoked", zap.String("jti", claims.ID))
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func toAccessClaims(c *Claims) *AccessClaims {
	out := &AccessClaims{
		TokenID:     c.ID,
		UserID:      c.UID,
		Username:    c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
