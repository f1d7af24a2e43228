package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/ids"
)

// AssignmentRequest asks for a role to be granted to a user within one
// organization.
type AssignmentRequest struct {
	UserID         string
	OrganizationID string
	RoleCode       string
	AssignedBy     string
	Reason         string

	// EffectiveFrom defaults to now.
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time

	// RequireApproval creates the row as PENDING instead of ACTIVE.
	RequireApproval bool
}

// OutcomeCode classifies the result of one item in a batch.
type OutcomeCode string

const (
	OutcomeOK          OutcomeCode = "ok"
	OutcomeNotFound    OutcomeCode = "not_found"
	OutcomeConflict    OutcomeCode = "assignment_conflict"
	OutcomeInvalid     OutcomeCode = "invalid_request"
	OutcomeUnavailable OutcomeCode = "unavailable"
)

// AssignmentOutcome is the per-item result of RequestAssignments.
type AssignmentOutcome struct {
	Request    AssignmentRequest
	Assignment *Assignment
	Code       OutcomeCode
	Err        error
}

// CodeOf maps err to its OutcomeCode.
func CodeOf(err error) OutcomeCode {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrAssignmentConflict):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidTransition):
		return OutcomeInvalid
	default:
		return OutcomeUnavailable
	}
}

// RequestAssignment validates req and creates the assignment row.
func (r *Resolver) RequestAssignment(ctx context.Context, req AssignmentRequest) (*Assignment, error) {
	now := r.now()
	if err := validateRequest(&req, now); err != nil {
		return nil, err
	}

	role, err := r.store.RoleByCode(ctx, req.RoleCode)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", req.RoleCode, err)
	}
	org, err := r.store.OrganizationByID(ctx, req.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", req.OrganizationID, err)
	}
	if !org.Active {
		return nil, fmt.Errorf("%w: organization %s is inactive", ErrInvalidRequest, org.ID)
	}

	exists, err := r.store.HasActiveAssignment(ctx, req.UserID, org.ID, role.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s already holds %s in %s", ErrAssignmentConflict, req.UserID, role.Code, org.ID)
	}

	status := StatusActive
	if req.RequireApproval {
		status = StatusPending
	}
	a := &Assignment{
		ID:             ids.NewAt(now),
		UserID:         req.UserID,
		OrganizationID: org.ID,
		RoleID:         role.ID,
		RoleCode:       role.Code,
		AssignedBy:     req.AssignedBy,
		Reason:         req.Reason,
		EffectiveFrom:  req.EffectiveFrom,
		EffectiveUntil: req.EffectiveUntil,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RequestAssignments processes every request independently. A failing item
// never aborts the batch.
func (r *Resolver) RequestAssignments(ctx context.Context, reqs []AssignmentRequest) []AssignmentOutcome {
	out := make([]AssignmentOutcome, len(reqs))
	for i, req := range reqs {
		a, err := r.RequestAssignment(ctx, req)
		out[i] = AssignmentOutcome{Request: req, Assignment: a, Code: CodeOf(err), Err: err}
	}
	return out
}

// ApproveAssignment moves a PENDING assignment to APPROVED or REJECTED.
// Rejected rows are kept.
func (r *Resolver) ApproveAssignment(ctx context.Context, id string, approved bool, approverID, note string) (*Assignment, error) {
	if strings.TrimSpace(approverID) == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrInvalidRequest)
	}
	a, err := r.store.Assignment(ctx, id)
	if err != nil {
		return nil, err
	}

	next := StatusRejected
	if approved {
		next = StatusApproved
	}
	if !a.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	if approved {
		exists, err := r.store.HasActiveAssignment(ctx, a.UserID, a.OrganizationID, a.RoleID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s already holds %s in %s", ErrAssignmentConflict, a.UserID, a.RoleCode, a.OrganizationID)
		}
	}

	now := r.now()
	from := a.Status
	a.Status = next
	a.ApprovedBy = approverID
	a.ApprovedAt = &now
	a.ApprovalNote = note
	a.UpdatedAt = now
	if err := r.store.TransitionAssignment(ctx, a, from); err != nil {
		return nil, err
	}
	return a, nil
}

// RevokeAssignment ends an active assignment before its window closes.
func (r *Resolver) RevokeAssignment(ctx context.Context, id, actorID, reason string) (*Assignment, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	a, err := r.store.Assignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransition(StatusRevoked) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusRevoked)
	}

	now := r.now()
	from := a.Status
	a.Status = StatusRevoked
	a.RevokedBy = actorID
	a.RevokedAt = &now
	a.RevokeReason = reason
	a.UpdatedAt = now
	if err := r.store.TransitionAssignment(ctx, a, from); err != nil {
		return nil, err
	}
	return a, nil
}

// RefreshExpiredAssignments expires every active assignment whose window
// closed before now and has not been processed yet. Running it twice
// changes nothing the second time.
func (r *Resolver) RefreshExpiredAssignments(ctx context.Context) ([]Assignment, error) {
	return r.store.ExpireAssignments(ctx, r.now())
}

// AssignRole grants roleCode globally.
func (r *Resolver) AssignRole(ctx context.Context, userID, roleCode, actorID string) (*UserRole, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	role, err := r.store.RoleByCode(ctx, roleCode)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", roleCode, err)
	}
	ur := UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		RoleCode:   role.Code,
		AssignedBy: actorID,
		AssignedAt: r.now(),
	}
	if err := r.store.AddUserRole(ctx, ur); err != nil {
		return nil, err
	}
	return &ur, nil
}

// RemoveRole withdraws a global role grant.
func (r *Resolver) RemoveRole(ctx context.Context, userID, roleCode string) error {
	role, err := r.store.RoleByCode(ctx, roleCode)
	if err != nil {
		return fmt.Errorf("role %s: %w", roleCode, err)
	}
	removed, err := r.store.RemoveUserRole(ctx, userID, role.ID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s does not hold %s", ErrNotFound, userID, roleCode)
	}
	return nil
}

func validateRequest(req *AssignmentRequest, now time.Time) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.RoleCode = strings.TrimSpace(req.RoleCode)

	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	case req.OrganizationID == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidRequest)
	case req.RoleCode == "":
		return fmt.Errorf("%w: role is required", ErrInvalidRequest)
	case strings.TrimSpace(req.AssignedBy) == "":
		return fmt.Errorf("%w: assigning actor is required", ErrInvalidRequest)
	}
	if req.EffectiveFrom.IsZero() {
		req.EffectiveFrom = now
	}
	if req.EffectiveUntil != nil && !req.EffectiveUntil.After(req.EffectiveFrom) {
		return fmt.Errorf("%w: effective window is empty", ErrInvalidRequest)
	}
	return nil
}
