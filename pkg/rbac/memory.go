package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
)

type assignmentKey struct {
	userID   string
	tenantID string
}

// MemoryStore is an in-process TemplateStore and AssignmentStore. One mutex
// guards both collections so the referenced-rank check and the user ceiling
// check are atomic with their writes.
type MemoryStore struct {
	mu          sync.RWMutex
	templates   map[string]*Template
	assignments map[assignmentKey]*RoleAssignment
	nextID      int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:   make(map[string]*Template),
		assignments: make(map[assignmentKey]*RoleAssignment),
	}
}

func (s *MemoryStore) GetTemplate(_ context.Context, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", name, access.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTemplates(_ context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		list = append(list, t.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Rank > list[j].Rank })
	return list, nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, t *Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.Name]; exists {
		return false, nil
	}
	for _, other := range s.templates {
		if other.Rank == t.Rank {
			return false, access.Conflict("template", "rank %d is already held by %s", t.Rank, other.Name)
		}
	}
	s.templates[t.Name] = t.Clone()
	return true, nil
}

func (s *MemoryStore) UpdateTemplate(_ context.Context, t *Template, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.templates[t.Name]
	if !ok {
		return fmt.Errorf("template %s: %w", t.Name, access.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return access.Conflict("template", "template %s is at version %d, not %d", t.Name, current.Version, expectedVersion)
	}
	if t.Rank < current.Rank && s.referencedLocked(t.Name) {
		return access.Conflict("template", "rank of %s cannot decrease while it has active assignments", t.Name)
	}
	for _, other := range s.templates {
		if other.Name != t.Name && other.Rank == t.Rank {
			return access.Conflict("template", "rank %d is already held by %s", t.Rank, other.Name)
		}
	}
	s.templates[t.Name] = t.Clone()
	return nil
}

func (s *MemoryStore) referencedLocked(name string) bool {
	for _, a := range s.assignments {
		if a.Active && a.TemplateName == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpsertAssignment(_ context.Context, a *RoleAssignment, maxUsers int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey{a.UserID, a.TenantID}
	existing, ok := s.assignments[key]
	reassignment := ok && existing.Active

	if !reassignment && maxUsers >= 0 && s.activeUsersLocked(a.TenantID) >= maxUsers {
		return ErrUserCeilingReached
	}

	stored := a.clone()
	if ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		stored.ID = s.nextID
	}
	stored.RevokedAt = nil
	stored.RevokedBy = ""
	s.assignments[key] = stored

	a.ID = stored.ID
	a.CreatedAt = stored.CreatedAt
	return nil
}

func (s *MemoryStore) activeUsersLocked(tenantID string) int64 {
	var n int64
	for k, a := range s.assignments {
		if k.tenantID == tenantID && a.Active {
			n++
		}
	}
	return n
}

func (s *MemoryStore) GetActiveAssignment(_ context.Context, userID, tenantID string) (*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[assignmentKey{userID, tenantID}]
	if !ok || !a.Active {
		return nil, fmt.Errorf("assignment %s/%s: %w", tenantID, userID, access.ErrNotFound)
	}
	return a.clone(), nil
}

func (s *MemoryStore) DeactivateAssignment(_ context.Context, userID, tenantID, actorID string, at time.Time) (*RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentKey{userID, tenantID}]
	if !ok || !a.Active {
		return nil, fmt.Errorf("assignment %s/%s: %w", tenantID, userID, access.ErrNotFound)
	}
	a.Active = false
	a.RevokedAt = &at
	a.RevokedBy = actorID
	a.UpdatedAt = at
	return a.clone(), nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, tenantID string) ([]*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*RoleAssignment
	for k, a := range s.assignments {
		if k.tenantID == tenantID && a.Active {
			list = append(list, a.clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list, nil
}

func (s *MemoryStore) CountActiveUsers(_ context.Context, tenantIDs []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64, len(tenantIDs))
	for _, id := range tenantIDs {
		counts[id] = s.activeUsersLocked(id)
	}
	return counts, nil
}
