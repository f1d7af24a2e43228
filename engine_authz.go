package gmpAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/gmpAuth/permission"
	"go.uber.org/zap"
)

/*
====================================
PREDICATES
====================================
*/

// The predicates answer false when the authorization store fails. The
// failure is logged and counted as a denial.

func (e *Engine) HasPermission(ctx context.Context, userID, code string) bool {
	return e.allow("has_permission", userID, "", func() (bool, error) {
		return e.authz.HasPermission(ctx, userID, code)
	})
}

func (e *Engine) HasPermissionInOrganization(ctx context.Context, userID, orgID, code string) bool {
	return e.allow("has_permission", userID, orgID, func() (bool, error) {
		return e.authz.HasPermissionInOrganization(ctx, userID, orgID, code)
	})
}

// HasAnyPermission is false for an empty code list.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, codes ...string) bool {
	return e.allow("has_any_permission", userID, "", func() (bool, error) {
		return e.authz.HasAnyPermission(ctx, userID, codes...)
	})
}

func (e *Engine) HasAnyPermissionInOrganization(ctx context.Context, userID, orgID string, codes ...string) bool {
	return e.allow("has_any_permission", userID, orgID, func() (bool, error) {
		return e.authz.HasAnyPermissionInOrganization(ctx, userID, orgID, codes...)
	})
}

// HasAllPermissions is true for an empty code list.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, codes ...string) bool {
	return e.allow("has_all_permissions", userID, "", func() (bool, error) {
		return e.authz.HasAllPermissions(ctx, userID, codes...)
	})
}

func (e *Engine) HasAllPermissionsInOrganization(ctx context.Context, userID, orgID string, codes ...string) bool {
	return e.allow("has_all_permissions", userID, orgID, func() (bool, error) {
		return e.authz.HasAllPermissionsInOrganization(ctx, userID, orgID, codes...)
	})
}

func (e *Engine) HasRole(ctx context.Context, userID, roleCode string) bool {
	return e.allow("has_role", userID, "", func() (bool, error) {
		return e.authz.HasRole(ctx, userID, roleCode)
	})
}

func (e *Engine) HasRoleInOrganization(ctx context.Context, userID, orgID, roleCode string) bool {
	return e.allow("has_role", userID, orgID, func() (bool, error) {
		return e.authz.HasRoleInOrganization(ctx, userID, orgID, roleCode)
	})
}

func (e *Engine) allow(check, userID, orgID string, fn func() (bool, error)) bool {
	if e == nil || e.authz == nil {
		return false
	}
	ok, err := fn()
	if err != nil {
		e.logger.Warn("authorization check failed",
			zap.String("check", check),
			zap.String("user_id", userID),
			zap.String("organization_id", orgID),
			zap.Error(err))
		ok = false
	}
	if !ok {
		e.metricInc(MetricAuthorizationDenied)
	}
	return ok
}

/*
====================================
QUERIES
====================================
*/

// GetUserRoles returns the global role codes of userID, sorted.
func (e *Engine) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	roles, err := e.authz.RolesOf(ctx, userID)
	return roles, e.authzError(err)
}

// GetUserPermissions returns the global permission codes of userID, sorted.
func (e *Engine) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	perms, err := e.authz.PermissionsOf(ctx, userID)
	return perms, e.authzError(err)
}

// GetUserRolesInOrganization returns role codes granted by assignments
// active right now in orgID.
func (e *Engine) GetUserRolesInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	roles, err := e.authz.RolesInOrganization(ctx, userID, orgID)
	return roles, e.authzError(err)
}

// GetUserPermissionsInOrganization returns the permission codes of the
// roles active for userID in orgID. A user without assignments there gets
// an empty slice and no error.
func (e *Engine) GetUserPermissionsInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	perms, err := e.authz.PermissionsInOrganization(ctx, userID, orgID)
	return perms, e.authzError(err)
}

func (e *Engine) AccessibleSubsystems(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	subs, err := e.authz.AccessibleSubsystems(ctx, userID)
	return subs, e.authzError(err)
}

func (e *Engine) AccessibleSubsystemsInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	subs, err := e.authz.AccessibleSubsystemsInOrganization(ctx, userID, orgID)
	return subs, e.authzError(err)
}

// SubsystemAccessLevels maps subsystem code to the highest level any of the
// user's global roles or permissions grants.
func (e *Engine) SubsystemAccessLevels(ctx context.Context, userID string) (map[string]AccessLevel, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	levels, err := e.authz.SubsystemAccessLevels(ctx, userID)
	return levels, e.authzError(err)
}

func (e *Engine) SubsystemAccessLevelsInOrganization(ctx context.Context, userID, orgID string) (map[string]AccessLevel, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	levels, err := e.authz.SubsystemAccessLevelsInOrganization(ctx, userID, orgID)
	return levels, e.authzError(err)
}

/*
====================================
ASSIGNMENTS
====================================
*/

// RequestAssignment creates an organization-scoped role assignment, ACTIVE
// right away or PENDING when req.RequireApproval is set.
func (e *Engine) RequestAssignment(ctx context.Context, req AssignmentRequest) (*Assignment, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	a, err := e.authz.RequestAssignment(ctx, req)
	err = e.authzError(err)
	e.auditAssignment(ctx, auditEventAssignmentRequested, req.AssignedBy, assignmentOrRequest(a, req), err)
	if err == nil {
		e.metricInc(MetricAssignmentRequested)
	}
	return a, err
}

// RequestAssignments handles each request on its own. Failures are reported
// per item and never stop the batch.
func (e *Engine) RequestAssignments(ctx context.Context, reqs []AssignmentRequest) []AssignmentOutcome {
	out := make([]AssignmentOutcome, len(reqs))
	for i, req := range reqs {
		a, err := e.RequestAssignment(ctx, req)
		out[i] = AssignmentOutcome{Request: req, Assignment: a, Code: permission.CodeOf(err), Err: err}
	}
	return out
}

// ApproveAssignment decides a PENDING assignment.
func (e *Engine) ApproveAssignment(ctx context.Context, id string, approved bool, approverID, note string) (*Assignment, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	a, err := e.authz.ApproveAssignment(ctx, id, approved, approverID, note)
	err = e.authzError(err)

	event, metric := auditEventAssignmentApproved, MetricAssignmentApproved
	if !approved {
		event, metric = auditEventAssignmentRejected, MetricAssignmentRejected
	}
	e.auditAssignment(ctx, event, approverID, assignmentOrID(a, id), err)
	if err == nil {
		e.metricInc(metric)
	}
	return a, err
}

// RevokeAssignment ends an active assignment before its window closes.
func (e *Engine) RevokeAssignment(ctx context.Context, id, actorID, reason string) (*Assignment, error) {
	if e == nil || e.authz == nil {
		return nil, ErrEngineNotReady
	}
	a, err := e.authz.RevokeAssignment(ctx, id, actorID, reason)
	err = e.authzError(err)
	e.auditAssignment(ctx, auditEventAssignmentRevoked, actorID, assignmentOrID(a, id), err)
	if err == nil {
		e.metricInc(MetricAssignmentRevoked)
	}
	return a, err
}

// RefreshExpiredAssignments marks every active assignment whose window has
// closed as EXPIRED and returns how many were changed. Each expiry is
// audited once.
func (e *Engine) RefreshExpiredAssignments(ctx context.Context) (int, error) {
	if e == nil || e.authz == nil {
		return 0, ErrEngineNotReady
	}
	expired, err := e.authz.RefreshExpiredAssignments(ctx)
	if err != nil {
		return 0, e.authzError(err)
	}
	for i := range expired {
		e.metricInc(MetricAssignmentExpired)
		e.auditAssignment(ctx, auditEventAssignmentExpired, "", &expired[i], nil)
	}
	return len(expired), nil
}

// AssignRole grants roleCode to userID outside any organization.
func (e *Engine) AssignRole(ctx context.Context, userID, roleCode, actorID string) error {
	if e == nil || e.authz == nil {
		return ErrEngineNotReady
	}
	_, err := e.authz.AssignRole(ctx, userID, roleCode, actorID)
	err = e.authzError(err)
	e.auditRole(ctx, auditEventRoleAssigned, userID, roleCode, actorID, err)
	if err == nil {
		e.metricInc(MetricRoleAssigned)
	}
	return err
}

// RemoveRole withdraws a global role. Removing a role the user does not
// hold returns ErrNotFound.
func (e *Engine) RemoveRole(ctx context.Context, userID, roleCode, actorID string) error {
	if e == nil || e.authz == nil {
		return ErrEngineNotReady
	}
	err := e.authzError(e.authz.RemoveRole(ctx, userID, roleCode))
	e.auditRole(ctx, auditEventRoleRemoved, userID, roleCode, actorID, err)
	if err == nil {
		e.metricInc(MetricRoleRemoved)
	}
	return err
}

// authzError passes domain errors through and wraps backend failures in
// ErrUnavailable.
func (e *Engine) authzError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, permission.ErrNotFound),
		errors.Is(err, permission.ErrAssignmentConflict),
		errors.Is(err, permission.ErrInvalidRequest),
		errors.Is(err, permission.ErrInvalidTransition),
		errors.Is(err, ErrUnavailable):
		return err
	default:
		e.logger.Warn("authorization store failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (e *Engine) auditAssignment(ctx context.Context, event, actorID string, a *Assignment, err error) {
	e.emitAuditRecord(ctx, auditRecord{
		eventType: event,
		success:   err == nil,
		userID:    a.UserID,
		actorID:   actorID,
		orgID:     a.OrganizationID,
		err:       err,
		metadata: func() map[string]string {
			md := map[string]string{}
			if a.ID != "" {
				md["assignment_id"] = a.ID
			}
			if a.RoleCode != "" {
				md["role"] = a.RoleCode
			}
			if a.Status != "" {
				md["status"] = string(a.Status)
			}
			return md
		},
	})
}

func (e *Engine) auditRole(ctx context.Context, event, userID, roleCode, actorID string, err error) {
	e.emitAuditRecord(ctx, auditRecord{
		eventType: event,
		success:   err == nil,
		userID:    userID,
		actorID:   actorID,
		err:       err,
		metadata: func() map[string]string {
			return map[string]string{"role": roleCode}
		},
	})
}

func assignmentOrRequest(a *Assignment, req AssignmentRequest) *Assignment {
	if a != nil {
		return a
	}
	return &Assignment{UserID: req.UserID, OrganizationID: req.OrganizationID, RoleCode: req.RoleCode}
}

func assignmentOrID(a *Assignment, id string) *Assignment {
	if a != nil {
		return a
	}
	return &Assignment{ID: id}
}
