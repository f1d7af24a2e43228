package password

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrPolicyViolation is the root of every complexity or history failure.
	ErrPolicyViolation = errors.New("password policy violation")
	// ErrReused is returned when a candidate matches a recent password.
	ErrReused = fmt.Errorf("%w: password was used recently", ErrPolicyViolation)
)

// Policy is the password governance configuration.
type Policy struct {
	// MinLength is enforced. DisplayMinLength is only rendered in
	// RequirementsText; the two are allowed to differ.
	MinLength        int
	DisplayMinLength int
	RequireDigit     bool
	RequireLower     bool
	RequireUpper     bool
	RequireSpecial   bool
	HistoryCount     int
	ExpiryDays       int
	ExpiryWarning    time.Duration
}

// DefaultPolicy returns the GMP defaults: 10 characters enforced, all four
// character classes, 5 remembered passwords, 90 day expiry, 7 day warning.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:        10,
		DisplayMinLength: 8,
		RequireDigit:     true,
		RequireLower:     true,
		RequireUpper:     true,
		RequireSpecial:   true,
		HistoryCount:     5,
		ExpiryDays:       90,
		ExpiryWarning:    7 * 24 * time.Hour,
	}
}

// Validate checks that p is internally consistent.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("password MinLength must be >= 1")
	}
	if p.DisplayMinLength < 0 {
		return errors.New("password DisplayMinLength must be >= 0")
	}
	if p.HistoryCount < 0 {
		return errors.New("password HistoryCount must be >= 0")
	}
	if p.ExpiryDays < 0 {
		return errors.New("password ExpiryDays must be >= 0")
	}
	if p.ExpiryWarning < 0 {
		return errors.New("password ExpiryWarning must be >= 0")
	}
	return nil
}

// HistorySource returns the most recent password hashes of a user, newest
// first, at most limit entries.
type HistorySource interface {
	PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error)
}

// PolicyEngine applies a Policy using the same Hasher as login.
type PolicyEngine struct {
	policy  Policy
	hasher  Hasher
	history HistorySource
}

// NewPolicyEngine returns an engine for p. history may be nil, in which
// case only the current hash is checked for reuse.
func NewPolicyEngine(p Policy, hasher Hasher, history HistorySource) (*PolicyEngine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if hasher == nil {
		return nil, errors.New("password policy requires a hasher")
	}
	return &PolicyEngine{policy: p, hasher: hasher, history: history}, nil
}

// Policy returns a copy of the active policy.
func (e *PolicyEngine) Policy() Policy {
	return e.policy
}

// ValidateComplexity returns nil or an error wrapping ErrPolicyViolation
// that names the first failed rule.
func (e *PolicyEngine) ValidateComplexity(password string) error {
	if utf8.RuneCountInString(password) < e.policy.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicyViolation, e.policy.MinLength)
	}

	var digit, lower, upper, special bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLetter(r), unicode.IsSpace(r):
		default:
			special = true
		}
	}

	switch {
	case e.policy.RequireDigit && !digit:
		return fmt.Errorf("%w: must contain a digit", ErrPolicyViolation)
	case e.policy.RequireLower && !lower:
		return fmt.Errorf("%w: must contain a lowercase letter", ErrPolicyViolation)
	case e.policy.RequireUpper && !upper:
		return fmt.Errorf("%w: must contain an uppercase letter", ErrPolicyViolation)
	case e.policy.RequireSpecial && !special:
		return fmt.Errorf("%w: must contain a special character", ErrPolicyViolation)
	}
	return nil
}

// IsReused reports whether candidate matches any of the last HistoryCount
// hashes on file for userID.
func (e *PolicyEngine) IsReused(ctx context.Context, userID, candidate string) (bool, error) {
	if e.history == nil || e.policy.HistoryCount == 0 {
		return false, nil
	}
	hashes, err := e.history.PasswordHistory(ctx, userID, e.policy.HistoryCount)
	if err != nil {
		return false, err
	}
	if len(hashes) > e.policy.HistoryCount {
		hashes = hashes[:e.policy.HistoryCount]
	}
	return e.matchesAny(candidate, hashes), nil
}

// CheckReuse returns ErrReused when candidate equals the current password
// or one of the remembered ones.
func (e *PolicyEngine) CheckReuse(ctx context.Context, userID, candidate, currentHash string) error {
	if currentHash != "" && e.matchesAny(candidate, []string{currentHash}) {
		return ErrReused
	}
	reused, err := e.IsReused(ctx, userID, candidate)
	if err != nil {
		return err
	}
	if reused {
		return ErrReused
	}
	return nil
}

func (e *PolicyEngine) matchesAny(candidate string, hashes []string) bool {
	for _, h := range hashes {
		// Unreadable history entries cannot match and are skipped.
		if ok, err := e.hasher.Verify(candidate, h); err == nil && ok {
			return true
		}
	}
	return false
}

// ComputeExpiry returns now + ExpiryDays, or the zero time when expiry is
// disabled.
func (e *PolicyEngine) ComputeExpiry(now time.Time) time.Time {
	if e.policy.ExpiryDays == 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, e.policy.ExpiryDays)
}

// IsExpiringSoon reports now < expiry <= now + ExpiryWarning.
func (e *PolicyEngine) IsExpiringSoon(expiry, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return now.Before(expiry) && !expiry.After(now.Add(e.policy.ExpiryWarning))
}

// IsExpired reports whether expiry has been reached.
func (e *PolicyEngine) IsExpired(expiry, now time.Time) bool {
	return !expiry.IsZero() && !now.Before(expiry)
}

// RequirementsText is the rule description shown to users.
func (e *PolicyEngine) RequirementsText() string {
	var parts []string
	if e.policy.RequireUpper {
		parts = append(parts, "an uppercase letter")
	}
	if e.policy.RequireLower {
		parts = append(parts, "a lowercase letter")
	}
	if e.policy.RequireDigit {
		parts = append(parts, "a digit")
	}
	if e.policy.RequireSpecial {
		parts = append(parts, "a special character")
	}

	text := fmt.Sprintf("Password must be at least %d characters long", e.policy.DisplayMinLength)
	if len(parts) > 0 {
		text += " and contain " + joinList(parts)
	}
	return text + "."
}

func joinList(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
