package tenants

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

func (s *MemoryStore) Create(_ context.Context, tenant *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return access.Conflict("tenant", "tenant %s already exists", tenant.ID)
	}
	s.tenants[tenant.ID] = clone(tenant)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, access.ErrNotFound)
	}
	return clone(tenant), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		list = append(list, clone(t))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status, at time.Time) error {
	return s.update(id, at, func(t *Tenant) { t.Status = status })
}

func (s *MemoryStore) UpdateCeilings(_ context.Context, id string, ceilings Ceilings, at time.Time) error {
	return s.update(id, at, func(t *Tenant) { t.Ceilings = ceilings })
}

func (s *MemoryStore) SetFeatures(_ context.Context, id string, features []string, at time.Time) error {
	return s.update(id, at, func(t *Tenant) { t.Features = append([]string(nil), features...) })
}

func (s *MemoryStore) update(id string, at time.Time, fn func(*Tenant)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, access.ErrNotFound)
	}
	fn(tenant)
	tenant.UpdatedAt = at
	return nil
}

func clone(t *Tenant) *Tenant {
	c := *t
	c.Features = append([]string(nil), t.Features...)
	return &c
}
