package permission

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AccessLevel is the ordinal access a principal holds on a subsystem.
type AccessLevel uint8

const (
	LevelNone AccessLevel = iota
	LevelRead
	LevelWrite
	LevelAdmin
)

var levelNames = [...]string{"none", "read", "write", "admin"}

func (l AccessLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// Valid reports whether l is one of the four defined levels.
func (l AccessLevel) Valid() bool {
	return l <= LevelAdmin
}

// ParseAccessLevel accepts a level name or its ordinal.
func ParseAccessLevel(s string) (AccessLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if s == name {
			return AccessLevel(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > int(LevelAdmin) {
		return 0, fmt.Errorf("unknown access level %q", s)
	}
	return AccessLevel(n), nil
}

// UnmarshalYAML accepts both "write" and 2.
func (l *AccessLevel) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: access level must be a scalar", node.Line)
	}
	parsed, err := ParseAccessLevel(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = parsed
	return nil
}

// MarshalYAML writes the level name.
func (l AccessLevel) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string
	Code        string
	Description string
}

// UserRole is a global, organization-independent role grant.
type UserRole struct {
	UserID     string
	RoleID     string
	RoleCode   string
	AssignedBy string
	AssignedAt time.Time
}

// Organization is a tenant or business unit.
type Organization struct {
	ID     string
	Code   string
	Name   string
	Active bool
}

// Subsystem is a protected application area.
type Subsystem struct {
	Code        string
	Name        string
	Enabled     bool
	GMPCritical bool
}

// SubsystemPermission grants Level on a subsystem to holders of a
// permission code.
type SubsystemPermission struct {
	SubsystemCode  string
	PermissionCode string
	Level          AccessLevel
}

// AssignmentStatus is the lifecycle state of an organization-scoped role
// assignment.
type AssignmentStatus string

const (
	StatusPending  AssignmentStatus = "PENDING"
	StatusApproved AssignmentStatus = "APPROVED"
	StatusRejected AssignmentStatus = "REJECTED"
	StatusActive   AssignmentStatus = "ACTIVE"
	StatusExpired  AssignmentStatus = "EXPIRED"
	StatusRevoked  AssignmentStatus = "REVOKED"
)

// IsActive reports whether the status grants the role. It says nothing about
// the effective window.
func (s AssignmentStatus) IsActive() bool {
	return s == StatusActive || s == StatusApproved
}

// CanTransition reports whether the state machine allows s -> next.
func (s AssignmentStatus) CanTransition(next AssignmentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusActive, StatusApproved:
		return next == StatusExpired || next == StatusRevoked
	default:
		return false
	}
}

// Assignment is the scoped grant of a role to a user within one
// organization. Rows are never deleted, only transitioned.
type Assignment struct {
	ID             string
	UserID         string
	OrganizationID string
	RoleID         string
	RoleCode       string
	AssignedBy     string
	Reason         string
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
	Status         AssignmentStatus
	ApprovedBy     string
	ApprovedAt     *time.Time
	ApprovalNote   string
	RevokedBy      string
	RevokedAt      *time.Time
	RevokeReason   string
	ExpiryNotified bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActiveAt reports whether a grants its role at now: active status, the
// window has opened and has not closed.
func (a *Assignment) ActiveAt(now time.Time) bool {
	if !a.Status.IsActive() {
		return false
	}
	if !a.EffectiveFrom.IsZero() && now.Before(a.EffectiveFrom) {
		return false
	}
	if a.EffectiveUntil != nil && !a.EffectiveUntil.After(now) {
		return false
	}
	return true
}
