package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gmpAuth/permission"
)

var _ permission.Store = (*Store)(nil)

func (s *Store) RoleByCode(ctx context.Context, code string) (*permission.Role, error) {
	var r permission.Role
	err := s.db.QueryRowContext(ctx, `select id, code, description from roles where code = $1`, code).
		Scan(&r.ID, &r.Code, &r.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: role by code: %w", err)
	}
	return &r, nil
}

func (s *Store) OrganizationByID(ctx context.Context, id string) (*permission.Organization, error) {
	var o permission.Organization
	err := s.db.QueryRowContext(ctx, `select id, code, name, active from organizations where id = $1`, id).
		Scan(&o.ID, &o.Code, &o.Name, &o.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: organization by id: %w", err)
	}
	return &o, nil
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]permission.UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select ur.user_id, ur.role_id, r.code, ur.assigned_by, ur.assigned_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.code
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: user roles: %w", err)
	}
	defer rows.Close()

	var out []permission.UserRole
	for rows.Next() {
		var ur permission.UserRole
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.RoleCode, &ur.AssignedBy, &ur.AssignedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan user role: %w", err)
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *Store) PermissionsForRoles(ctx context.Context, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct permission_code from role_permissions
		where role_id in (`+placeholders(1, len(roleIDs))+`)
		order by permission_code
	`, stringArgs(roleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: permissions for roles: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// AddUserRole grants a global role. A repeated grant returns
// permission.ErrAssignmentConflict and an unknown role permission.ErrNotFound.
func (s *Store) AddUserRole(ctx context.Context, ur permission.UserRole) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by, assigned_at)
		values ($1, $2, $3, $4)
	`, ur.UserID, ur.RoleID, ur.AssignedBy, ur.AssignedAt.UTC())
	if err != nil {
		return authzError("add user role", err)
	}
	return nil
}

func (s *Store) RemoveUserRole(ctx context.Context, userID, roleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("pgstore: remove user role: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const assignmentColumns = `a.id, a.user_id, a.organization_id, a.role_id, r.code, a.assigned_by, a.reason,
	a.effective_from, a.effective_until, a.status, a.approved_by, a.approved_at, a.approval_note,
	a.revoked_by, a.revoked_at, a.revoke_reason, a.expiry_notified, a.created_at, a.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (*permission.Assignment, error) {
	var (
		a                            permission.Assignment
		status                       string
		until, approvedAt, revokedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UserID, &a.OrganizationID, &a.RoleID, &a.RoleCode, &a.AssignedBy, &a.Reason,
		&a.EffectiveFrom, &until, &status, &a.ApprovedBy, &approvedAt, &a.ApprovalNote,
		&a.RevokedBy, &revokedAt, &a.RevokeReason, &a.ExpiryNotified, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = permission.AssignmentStatus(status)
	a.EffectiveUntil = timePtr(until)
	a.ApprovedAt = timePtr(approvedAt)
	a.RevokedAt = timePtr(revokedAt)
	return &a, nil
}

func (s *Store) Assignments(ctx context.Context, userID, orgID string) ([]permission.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+assignmentColumns+`
		from role_assignments a
		join roles r on r.id = a.role_id
		where a.user_id = $1 and a.organization_id = $2
		order by a.id
	`, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: assignments: %w", err)
	}
	defer rows.Close()

	var out []permission.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Assignment(ctx context.Context, id string) (*permission.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from role_assignments a
		join roles r on r.id = a.role_id
		where a.id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: assignment: %w", err)
	}
	return a, nil
}

func (s *Store) HasActiveAssignment(ctx context.Context, userID, orgID, roleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from role_assignments
			where user_id = $1 and organization_id = $2 and role_id = $3
			and status in ('ACTIVE', 'APPROVED')
		)
	`, userID, orgID, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: has active assignment: %w", err)
	}
	return exists, nil
}

// CreateAssignment relies on the partial unique index over active rows to
// reject a duplicate grant.
func (s *Store) CreateAssignment(ctx context.Context, a *permission.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (
			id, user_id, organization_id, role_id, assigned_by, reason,
			effective_from, effective_until, status, approved_by, approved_at, approval_note,
			revoked_by, revoked_at, revoke_reason, expiry_notified, created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, a.ID, a.UserID, a.OrganizationID, a.RoleID, a.AssignedBy, a.Reason,
		a.EffectiveFrom.UTC(), nullTimePtr(a.EffectiveUntil), string(a.Status), a.ApprovedBy,
		nullTimePtr(a.ApprovedAt), a.ApprovalNote, a.RevokedBy, nullTimePtr(a.RevokedAt), a.RevokeReason,
		a.ExpiryNotified, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return authzError("create assignment", err)
	}
	return nil
}

// TransitionAssignment is a compare-and-set on status.
func (s *Store) TransitionAssignment(ctx context.Context, a *permission.Assignment, from permission.AssignmentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments set
			status = $2, approved_by = $3, approved_at = $4, approval_note = $5,
			revoked_by = $6, revoked_at = $7, revoke_reason = $8,
			expiry_notified = $9, updated_at = $10
		where id = $1 and status = $11
	`, a.ID, string(a.Status), a.ApprovedBy, nullTimePtr(a.ApprovedAt), a.ApprovalNote,
		a.RevokedBy, nullTimePtr(a.RevokedAt), a.RevokeReason, a.ExpiryNotified, a.UpdatedAt.UTC(), string(from))
	if err != nil {
		return authzError("transition assignment", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Assignment(ctx, a.ID); err != nil {
		return err
	}
	return permission.ErrInvalidTransition
}

// ExpireAssignments flips every lapsed active row in one statement.
func (s *Store) ExpireAssignments(ctx context.Context, now time.Time) ([]permission.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		with expired as (
			update role_assignments
			set status = 'EXPIRED', expiry_notified = true, updated_at = $1
			where status in ('ACTIVE', 'APPROVED')
			and not expiry_notified
			and effective_until is not null
			and effective_until < $1
			returning *
		)
		select `+assignmentColumns+`
		from expired a
		join roles r on r.id = a.role_id
		order by a.id
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("pgstore: expire assignments: %w", err)
	}
	defer rows.Close()

	var out []permission.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan expired assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Subsystems(ctx context.Context) ([]permission.Subsystem, error) {
	rows, err := s.db.QueryContext(ctx, `select code, name, enabled, gmp_critical from subsystems order by code`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: subsystems: %w", err)
	}
	defer rows.Close()

	var out []permission.Subsystem
	for rows.Next() {
		var sub permission.Subsystem
		if err := rows.Scan(&sub.Code, &sub.Name, &sub.Enabled, &sub.GMPCritical); err != nil {
			return nil, fmt.Errorf("pgstore: scan subsystem: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SubsystemPermissions(ctx context.Context, permissionCodes []string) ([]permission.SubsystemPermission, error) {
	if len(permissionCodes) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select subsystem_code, permission_code, level
		from subsystem_permissions
		where permission_code in (`+placeholders(1, len(permissionCodes))+`)
		order by subsystem_code, permission_code
	`, stringArgs(permissionCodes)...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: subsystem permissions: %w", err)
	}
	defer rows.Close()

	var out []permission.SubsystemPermission
	for rows.Next() {
		var (
			sp    permission.SubsystemPermission
			level int16
		)
		if err := rows.Scan(&sp.SubsystemCode, &sp.PermissionCode, &level); err != nil {
			return nil, fmt.Errorf("pgstore: scan subsystem permission: %w", err)
		}
		sp.Level = permission.AccessLevel(level)
		out = append(out, sp)
	}
	return out, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
