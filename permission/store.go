package permission

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound marks an unknown role, organization, subsystem or
	// assignment reference.
	ErrNotFound = errors.New("not found")
	// ErrAssignmentConflict is returned when an active assignment already
	// exists for the same user, organization and role.
	ErrAssignmentConflict = errors.New("assignment conflict")
	// ErrInvalidTransition is returned when an assignment is not in a state
	// that allows the requested change.
	ErrInvalidTransition = errors.New("invalid assignment transition")
	// ErrInvalidRequest is returned for malformed administrative input.
	ErrInvalidRequest = errors.New("invalid assignment request")
)

// Store is the persistence the resolver reads and writes. Lookups that
// match nothing return empty slices, never ErrNotFound; single-record
// lookups return ErrNotFound.
type Store interface {
	RoleByCode(ctx context.Context, code string) (*Role, error)
	OrganizationByID(ctx context.Context, id string) (*Organization, error)

	// UserRoles returns the global role grants of userID.
	UserRoles(ctx context.Context, userID string) ([]UserRole, error)
	// PermissionsForRoles flattens RolePermission for the given role ids.
	PermissionsForRoles(ctx context.Context, roleIDs []string) ([]string, error)
	AddUserRole(ctx context.Context, ur UserRole) error
	// RemoveUserRole reports whether a grant was removed.
	RemoveUserRole(ctx context.Context, userID, roleID string) (bool, error)

	// Assignments returns every assignment row of userID in orgID,
	// regardless of status.
	Assignments(ctx context.Context, userID, orgID string) ([]Assignment, error)
	Assignment(ctx context.Context, id string) (*Assignment, error)
	// HasActiveAssignment reports whether an ACTIVE or APPROVED row exists
	// for the triple.
	HasActiveAssignment(ctx context.Context, userID, orgID, roleID string) (bool, error)
	// CreateAssignment inserts a. It returns ErrAssignmentConflict when a
	// is active and would duplicate an active triple.
	CreateAssignment(ctx context.Context, a *Assignment) error
	// TransitionAssignment persists a only if the stored row is still in
	// status from; otherwise it returns ErrInvalidTransition.
	TransitionAssignment(ctx context.Context, a *Assignment, from AssignmentStatus) error
	// ExpireAssignments moves every active, unnotified row whose
	// EffectiveUntil is before now to EXPIRED, marks it notified and
	// returns the rows it changed.
	ExpireAssignments(ctx context.Context, now time.Time) ([]Assignment, error)

	Subsystems(ctx context.Context) ([]Subsystem, error)
	SubsystemPermissions(ctx context.Context, permissionCodes []string) ([]SubsystemPermission, error)
}
