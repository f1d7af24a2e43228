package session

import "time"

// MfaSession is a login that passed the password check and awaits a second
// factor.
type MfaSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Failures  uint16
	Locked    bool
}

// Expired reports whether the session lifetime has elapsed at now.
func (s *MfaSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
