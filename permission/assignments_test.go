package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAssignmentValidatesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := AssignmentRequest{UserID: "alice", OrganizationID: "org-plant1", RoleCode: "QUALITY_MANAGER", AssignedBy: "admin"}

	a, err := f.resolver.RequestAssignment(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)
	assert.Len(t, a.ID, 26)
	assert.Equal(t, f.now, a.EffectiveFrom)

	unknownRole := base
	unknownRole.RoleCode = "NOPE"
	_, err = f.resolver.RequestAssignment(ctx, unknownRole)
	assert.ErrorIs(t, err, ErrNotFound)

	unknownOrg := base
	unknownOrg.OrganizationID = "org-missing"
	_, err = f.resolver.RequestAssignment(ctx, unknownOrg)
	assert.ErrorIs(t, err, ErrNotFound)

	inactive := base
	inactive.OrganizationID = "org-closed"
	_, err = f.resolver.RequestAssignment(ctx, inactive)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.resolver.RequestAssignment(ctx, base)
	assert.ErrorIs(t, err, ErrAssignmentConflict)

	until := f.now.Add(-time.Hour)
	empty := base
	empty.RoleCode = "GMP_AUDITOR"
	empty.EffectiveUntil = &until
	_, err = f.resolver.RequestAssignment(ctx, empty)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRequestAssignmentsReportsPerItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcomes := f.resolver.RequestAssignments(ctx, []AssignmentRequest{
		{UserID: "alice", OrganizationID: "org-plant1", RoleCode: "QUALITY_MANAGER", AssignedBy: "admin"},
		{UserID: "alice", OrganizationID: "org-plant1", RoleCode: "QUALITY_MANAGER", AssignedBy: "admin"},
		{UserID: "alice", OrganizationID: "org-plant1", RoleCode: "UNKNOWN", AssignedBy: "admin"},
		{UserID: "", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin"},
		{UserID: "alice", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin"},
	})
	require.Len(t, outcomes, 5)

	codes := make([]OutcomeCode, len(outcomes))
	for i, o := range outcomes {
		codes[i] = o.Code
	}
	assert.Equal(t, []OutcomeCode{OutcomeOK, OutcomeConflict, OutcomeNotFound, OutcomeInvalid, OutcomeOK}, codes)
	assert.NotNil(t, outcomes[4].Assignment)
	assert.Nil(t, outcomes[1].Assignment)
}

func TestApprovalStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := AssignmentRequest{UserID: "gina", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin", RequireApproval: true}

	pending, err := f.resolver.RequestAssignment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)

	roles, _ := f.resolver.RolesInOrganization(ctx, "gina", "org-plant1")
	assert.Empty(t, roles, "pending rows grant nothing")

	approved, err := f.resolver.ApproveAssignment(ctx, pending.ID, true, "qa-lead", "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "qa-lead", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	roles, _ = f.resolver.RolesInOrganization(ctx, "gina", "org-plant1")
	assert.Equal(t, []string{"GMP_AUDITOR"}, roles)

	_, err = f.resolver.ApproveAssignment(ctx, pending.ID, false, "qa-lead", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	second, err := f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "hank", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin", RequireApproval: true})
	require.NoError(t, err)
	rejected, err := f.resolver.ApproveAssignment(ctx, second.ID, false, "qa-lead", "not trained")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	kept, err := f.store.Assignment(ctx, second.ID)
	require.NoError(t, err, "rejected rows are kept")
	assert.Equal(t, "not trained", kept.ApprovalNote)

	_, err = f.resolver.ApproveAssignment(ctx, "missing", true, "qa-lead", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveRechecksActiveTriple(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "ivy", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin", RequireApproval: true})
	require.NoError(t, err)
	_, err = f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "ivy", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin"})
	require.NoError(t, err)

	_, err = f.resolver.ApproveAssignment(ctx, pending.ID, true, "qa-lead", "")
	assert.ErrorIs(t, err, ErrAssignmentConflict)
}

func TestRevokeAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "jack", OrganizationID: "org-plant1", RoleCode: "PRODUCTION_OPERATOR", AssignedBy: "admin"})
	require.NoError(t, err)

	revoked, err := f.resolver.RevokeAssignment(ctx, a.ID, "admin", "left the line")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)
	assert.Equal(t, "left the line", revoked.RevokeReason)

	perms, err := f.resolver.PermissionsInOrganization(ctx, "jack", "org-plant1")
	require.NoError(t, err)
	assert.Empty(t, perms)

	_, err = f.resolver.RevokeAssignment(ctx, a.ID, "admin", "twice")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	again, err := f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "jack", OrganizationID: "org-plant1", RoleCode: "PRODUCTION_OPERATOR", AssignedBy: "admin"})
	require.NoError(t, err, "a revoked row does not block a new grant")
	assert.NotEqual(t, a.ID, again.ID)
}

func TestRefreshExpiredAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := f.now.Add(-24 * time.Hour)
	stale := &Assignment{
		ID: "01STALE", UserID: "kate", OrganizationID: "org-plant1", RoleID: "r-qm", RoleCode: "QUALITY_MANAGER",
		AssignedBy: "admin", EffectiveFrom: f.now.Add(-30 * 24 * time.Hour), EffectiveUntil: &yesterday, Status: StatusActive,
	}
	require.NoError(t, f.store.CreateAssignment(ctx, stale))

	later := f.now.Add(24 * time.Hour)
	_, err := f.resolver.RequestAssignment(ctx, AssignmentRequest{UserID: "kate", OrganizationID: "org-plant1", RoleCode: "GMP_AUDITOR", AssignedBy: "admin", EffectiveUntil: &later})
	require.NoError(t, err)

	expired, err := f.resolver.RefreshExpiredAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "01STALE", expired[0].ID)

	got, err := f.store.Assignment(ctx, "01STALE")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.True(t, got.ExpiryNotified)

	perms, err := f.resolver.PermissionsInOrganization(ctx, "kate", "org-plant1")
	require.NoError(t, err)
	assert.NotContains(t, perms, "DOC_APPROVE")
	assert.Contains(t, perms, "AUDIT_READ")

	again, err := f.resolver.RefreshExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAssignAndRemoveGlobalRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ur, err := f.resolver.AssignRole(ctx, "lena", "GMP_AUDITOR", "admin")
	require.NoError(t, err)
	assert.Equal(t, "r-aud", ur.RoleID)

	_, err = f.resolver.AssignRole(ctx, "lena", "GMP_AUDITOR", "admin")
	assert.ErrorIs(t, err, ErrAssignmentConflict)

	_, err = f.resolver.AssignRole(ctx, "lena", "MISSING", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.resolver.RemoveRole(ctx, "lena", "GMP_AUDITOR"))
	assert.ErrorIs(t, f.resolver.RemoveRole(ctx, "lena", "GMP_AUDITOR"), ErrNotFound)

	roles, err := f.resolver.RolesOf(ctx, "lena")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusApproved))
	assert.True(t, StatusPending.CanTransition(StatusRejected))
	assert.False(t, StatusPending.CanTransition(StatusRevoked))
	assert.True(t, StatusActive.CanTransition(StatusExpired))
	assert.True(t, StatusApproved.CanTransition(StatusRevoked))
	assert.False(t, StatusRejected.CanTransition(StatusApproved))
	assert.False(t, StatusExpired.CanTransition(StatusActive))
}
