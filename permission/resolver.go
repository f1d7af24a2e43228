package permission

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Config configures a Resolver.
type Config struct {
	// Grants maps role codes to subsystem access. Nil means
	// DefaultSubsystemGrants.
	Grants *SubsystemGrants
	Now    func() time.Time
}

// Resolver computes roles, permissions and subsystem access, globally and
// per organization, and administers role assignments.
type Resolver struct {
	store  Store
	grants *SubsystemGrants
	now    func() time.Time
}

// Authorities is the resolved role and permission set of one principal in
// one scope, both sorted.
type Authorities struct {
	Roles       []string
	Permissions []string
}

// NewResolver returns a Resolver over store.
func NewResolver(store Store, cfg Config) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("permission resolver requires a store")
	}
	if cfg.Grants == nil {
		cfg.Grants = DefaultSubsystemGrants()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{store: store, grants: cfg.Grants, now: cfg.Now}, nil
}

// Grants returns the subsystem grant map in use.
func (r *Resolver) Grants() *SubsystemGrants { return r.grants }

// Resolve returns the global roles and permissions of userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Authorities, error) {
	grants, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		return Authorities{}, err
	}
	codes := make([]string, 0, len(grants))
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		codes = append(codes, g.RoleCode)
		ids = append(ids, g.RoleID)
	}
	return r.flatten(ctx, codes, ids)
}

// ResolveInOrganization returns the roles and permissions userID holds in
// orgID through assignments active right now.
func (r *Resolver) ResolveInOrganization(ctx context.Context, userID, orgID string) (Authorities, error) {
	rows, err := r.store.Assignments(ctx, userID, orgID)
	if err != nil {
		return Authorities{}, err
	}
	now := r.now()
	codes := make([]string, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for i := range rows {
		if !rows[i].ActiveAt(now) {
			continue
		}
		codes = append(codes, rows[i].RoleCode)
		ids = append(ids, rows[i].RoleID)
	}
	return r.flatten(ctx, codes, ids)
}

func (r *Resolver) flatten(ctx context.Context, roleCodes, roleIDs []string) (Authorities, error) {
	out := Authorities{Roles: uniqueSorted(roleCodes), Permissions: []string{}}
	if len(roleIDs) == 0 {
		return out, nil
	}
	perms, err := r.store.PermissionsForRoles(ctx, uniqueSorted(roleIDs))
	if err != nil {
		return Authorities{}, err
	}
	out.Permissions = uniqueSorted(perms)
	return out, nil
}

// RolesOf returns the global role codes of userID.
func (r *Resolver) RolesOf(ctx context.Context, userID string) ([]string, error) {
	a, err := r.Resolve(ctx, userID)
	return a.Roles, err
}

// PermissionsOf returns the global permission codes of userID.
func (r *Resolver) PermissionsOf(ctx context.Context, userID string) ([]string, error) {
	a, err := r.Resolve(ctx, userID)
	return a.Permissions, err
}

// RolesInOrganization returns the role codes userID actively holds in orgID.
func (r *Resolver) RolesInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	a, err := r.ResolveInOrganization(ctx, userID, orgID)
	return a.Roles, err
}

// PermissionsInOrganization returns the permission codes userID actively
// holds in orgID. No assignments yields an empty set.
func (r *Resolver) PermissionsInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	a, err := r.ResolveInOrganization(ctx, userID, orgID)
	return a.Permissions, err
}

func (r *Resolver) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	perms, err := r.PermissionsOf(ctx, userID)
	return contains(perms, code), err
}

func (r *Resolver) HasPermissionInOrganization(ctx context.Context, userID, orgID, code string) (bool, error) {
	perms, err := r.PermissionsInOrganization(ctx, userID, orgID)
	return contains(perms, code), err
}

// HasAnyPermission is false for an empty request.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID string, codes ...string) (bool, error) {
	if len(codes) == 0 {
		return false, nil
	}
	perms, err := r.PermissionsOf(ctx, userID)
	return containsAny(perms, codes), err
}

func (r *Resolver) HasAnyPermissionInOrganization(ctx context.Context, userID, orgID string, codes ...string) (bool, error) {
	if len(codes) == 0 {
		return false, nil
	}
	perms, err := r.PermissionsInOrganization(ctx, userID, orgID)
	return containsAny(perms, codes), err
}

// HasAllPermissions is trivially true for an empty request.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID string, codes ...string) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	perms, err := r.PermissionsOf(ctx, userID)
	return containsAll(perms, codes), err
}

func (r *Resolver) HasAllPermissionsInOrganization(ctx context.Context, userID, orgID string, codes ...string) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	perms, err := r.PermissionsInOrganization(ctx, userID, orgID)
	return containsAll(perms, codes), err
}

func (r *Resolver) HasRole(ctx context.Context, userID, roleCode string) (bool, error) {
	roles, err := r.RolesOf(ctx, userID)
	return contains(roles, roleCode), err
}

func (r *Resolver) HasRoleInOrganization(ctx context.Context, userID, orgID, roleCode string) (bool, error) {
	roles, err := r.RolesInOrganization(ctx, userID, orgID)
	return contains(roles, roleCode), err
}

// SubsystemAccessLevels returns the highest level userID holds on each
// enabled subsystem through global roles.
func (r *Resolver) SubsystemAccessLevels(ctx context.Context, userID string) (map[string]AccessLevel, error) {
	a, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.LevelsFor(ctx, a)
}

// SubsystemAccessLevelsInOrganization is SubsystemAccessLevels restricted to
// the assignments active in orgID.
func (r *Resolver) SubsystemAccessLevelsInOrganization(ctx context.Context, userID, orgID string) (map[string]AccessLevel, error) {
	a, err := r.ResolveInOrganization(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return r.LevelsFor(ctx, a)
}

// AccessibleSubsystems returns the sorted subsystem codes userID can reach.
func (r *Resolver) AccessibleSubsystems(ctx context.Context, userID string) ([]string, error) {
	levels, err := r.SubsystemAccessLevels(ctx, userID)
	if err != nil {
		return nil, err
	}
	return levelKeys(levels), nil
}

func (r *Resolver) AccessibleSubsystemsInOrganization(ctx context.Context, userID, orgID string) ([]string, error) {
	levels, err := r.SubsystemAccessLevelsInOrganization(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return levelKeys(levels), nil
}

// LevelsFor unions the declarative role grants with SubsystemPermission rows
// for the resolved permissions. Highest level wins and disabled subsystems
// are dropped.
func (r *Resolver) LevelsFor(ctx context.Context, a Authorities) (map[string]AccessLevel, error) {
	levels := make(map[string]AccessLevel)
	if len(a.Roles) == 0 {
		return levels, nil
	}

	raise := func(code string, level AccessLevel) {
		if level > levels[code] {
			levels[code] = level
		}
	}

	raise(BaselineSubsystem, LevelRead)
	for _, role := range a.Roles {
		for _, g := range r.grants.For(role) {
			raise(g.Subsystem, g.Level)
		}
	}
	if len(a.Permissions) > 0 {
		rows, err := r.store.SubsystemPermissions(ctx, a.Permissions)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Level.Valid() {
				raise(row.SubsystemCode, row.Level)
			}
		}
	}

	catalog, err := r.store.Subsystems(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range catalog {
		if !s.Enabled {
			delete(levels, s.Code)
		}
	}
	for code, level := range levels {
		if level == LevelNone {
			delete(levels, code)
		}
	}
	return levels, nil
}

func levelKeys(levels map[string]AccessLevel) []string {
	out := make([]string, 0, len(levels))
	for code := range levels {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func contains(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}

func containsAny(sorted, want []string) bool {
	for _, w := range want {
		if contains(sorted, w) {
			return true
		}
	}
	return false
}

func containsAll(sorted, want []string) bool {
	for _, w := range want {
		if !contains(sorted, w) {
			return false
		}
	}
	return true
}
