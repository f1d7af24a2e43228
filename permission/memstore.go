package permission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is safe for concurrent use and
// suits tests and single-node tools.
type MemoryStore struct {
	mu sync.RWMutex

	roles           map[string]Role // by id
	rolePermissions map[string][]string
	orgs            map[string]Organization
	userRoles       map[string][]UserRole
	assignments     map[string]*Assignment
	subsystems      map[string]Subsystem
	subsystemPerms  []SubsystemPermission
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:           make(map[string]Role),
		rolePermissions: make(map[string][]string),
		orgs:            make(map[string]Organization),
		userRoles:       make(map[string][]UserRole),
		assignments:     make(map[string]*Assignment),
		subsystems:      make(map[string]Subsystem),
	}
}

// PutRole creates or replaces role and its permission codes.
func (s *MemoryStore) PutRole(role Role, permissionCodes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ID] = role
	s.rolePermissions[role.ID] = append([]string(nil), permissionCodes...)
}

func (s *MemoryStore) PutOrganization(org Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
}

func (s *MemoryStore) PutSubsystem(sub Subsystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsystems[sub.Code] = sub
}

func (s *MemoryStore) PutSubsystemPermission(sp SubsystemPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsystemPerms = append(s.subsystemPerms, sp)
}

func (s *MemoryStore) RoleByCode(_ context.Context, code string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Code == code {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) OrganizationByID(_ context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

func (s *MemoryStore) UserRoles(_ context.Context, userID string) ([]UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]UserRole(nil), s.userRoles[userID]...), nil
}

func (s *MemoryStore) PermissionsForRoles(_ context.Context, roleIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range roleIDs {
		out = append(out, s.rolePermissions[id]...)
	}
	return out, nil
}

func (s *MemoryStore) AddUserRole(_ context.Context, ur UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[ur.RoleID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.userRoles[ur.UserID] {
		if existing.RoleID == ur.RoleID {
			return ErrAssignmentConflict
		}
	}
	s.userRoles[ur.UserID] = append(s.userRoles[ur.UserID], ur)
	return nil
}

func (s *MemoryStore) RemoveUserRole(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.userRoles[userID]
	for i, ur := range grants {
		if ur.RoleID == roleID {
			s.userRoles[userID] = append(grants[:i:i], grants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Assignments(_ context.Context, userID, orgID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.assignments {
		if a.UserID == userID && a.OrganizationID == orgID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Assignment(_ context.Context, id string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) HasActiveAssignment(_ context.Context, userID, orgID, roleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasActiveLocked(userID, orgID, roleID, ""), nil
}

func (s *MemoryStore) hasActiveLocked(userID, orgID, roleID, exceptID string) bool {
	for _, a := range s.assignments {
		if a.ID != exceptID && a.Status.IsActive() &&
			a.UserID == userID && a.OrganizationID == orgID && a.RoleID == roleID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateAssignment(_ context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[a.OrganizationID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[a.RoleID]; !ok {
		return ErrNotFound
	}
	if _, dup := s.assignments[a.ID]; dup {
		return ErrAssignmentConflict
	}
	if a.Status.IsActive() && s.hasActiveLocked(a.UserID, a.OrganizationID, a.RoleID, "") {
		return ErrAssignmentConflict
	}
	stored := *a
	s.assignments[a.ID] = &stored
	return nil
}

func (s *MemoryStore) TransitionAssignment(_ context.Context, a *Assignment, from AssignmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.assignments[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrInvalidTransition
	}
	if a.Status.IsActive() && !from.IsActive() && s.hasActiveLocked(a.UserID, a.OrganizationID, a.RoleID, a.ID) {
		return ErrAssignmentConflict
	}
	stored := *a
	s.assignments[a.ID] = &stored
	return nil
}

func (s *MemoryStore) ExpireAssignments(_ context.Context, now time.Time) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Assignment
	for _, a := range s.assignments {
		if !a.Status.IsActive() || a.ExpiryNotified || a.EffectiveUntil == nil || !a.EffectiveUntil.Before(now) {
			continue
		}
		a.Status = StatusExpired
		a.ExpiryNotified = true
		a.UpdatedAt = now
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Subsystems(context.Context) ([]Subsystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subsystem, 0, len(s.subsystems))
	for _, sub := range s.subsystems {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) SubsystemPermissions(_ context.Context, permissionCodes []string) ([]SubsystemPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(permissionCodes))
	for _, c := range permissionCodes {
		want[c] = struct{}{}
	}
	var out []SubsystemPermission
	for _, sp := range s.subsystemPerms {
		if _, ok := want[sp.PermissionCode]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
