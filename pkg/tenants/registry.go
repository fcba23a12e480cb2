package tenants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/access"
)

// Registry manages tenant records
type Registry struct {
	store Store
	users UserCounter
	now   func() time.Time
}

// NewRegistry creates a registry. users may be nil, in which case
// ActiveUserCount is always zero.
func NewRegistry(store Store, users UserCounter) *Registry {
	return &Registry{
		store: store,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetUserCounter wires the assignment store after construction.
func (r *Registry) SetUserCounter(users UserCounter) {
	r.users = users
}

// Create validates and stores a new active tenant
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, access.Invalid("name", "tenant name is required")
	}

	kind := req.Kind
	if kind == "" {
		kind = KindIndividual
	}
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	ceilings := DefaultCeilings()
	if req.Ceilings != nil {
		ceilings = *req.Ceilings
	}
	if err := ceilings.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := r.now()
	tenant := &Tenant{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Status:    StatusActive,
		Ceilings:  ceilings,
		Features:  normalizeFeatures(req.Features),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, tenant); err != nil {
		return nil, access.Unavailable("create tenant", err)
	}
	return tenant, nil
}

// EnsureSystemTenant creates the platform tenant with unlimited ceilings if it
// does not exist yet.
func (r *Registry) EnsureSystemTenant(ctx context.Context, id string) (*Tenant, error) {
	tenant, err := r.store.Get(ctx, id)
	if err == nil {
		return tenant, nil
	}
	if !access.IsNotFound(err) {
		return nil, access.Unavailable("get system tenant", err)
	}

	ceilings := UnlimitedCeilings()
	tenant, err = r.Create(ctx, CreateRequest{ID: id, Name: "System", Kind: KindEnterprise, Ceilings: &ceilings})
	if access.IsConflict(err) {
		return r.store.Get(ctx, id)
	}
	return tenant, err
}

// Get returns a tenant with its derived active user count
func (r *Registry) Get(ctx context.Context, id string) (*Tenant, error) {
	tenant, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, access.Unavailable("get tenant", err)
	}
	if err := r.attachCounts(ctx, []*Tenant{tenant}); err != nil {
		return nil, err
	}
	return tenant, nil
}

// Lookup returns a tenant without computing the active user count. It is the
// hot-path read used by permission and quota checks.
func (r *Registry) Lookup(ctx context.Context, id string) (*Tenant, error) {
	tenant, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, access.Unavailable("get tenant", err)
	}
	return tenant, nil
}

// List returns every tenant with derived active user counts
func (r *Registry) List(ctx context.Context) ([]*Tenant, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, access.Unavailable("list tenants", err)
	}
	if err := r.attachCounts(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetStatus moves a tenant to a new lifecycle state
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (*Tenant, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.SetStatus(ctx, id, status, r.now()); err != nil {
		return nil, access.Unavailable("set tenant status", err)
	}
	return r.Get(ctx, id)
}

// UpdateCeilings replaces the tenant ceilings
func (r *Registry) UpdateCeilings(ctx context.Context, id string, ceilings Ceilings) (*Tenant, error) {
	if err := ceilings.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.UpdateCeilings(ctx, id, ceilings, r.now()); err != nil {
		return nil, access.Unavailable("update tenant ceilings", err)
	}
	return r.Get(ctx, id)
}

// SetFeatures replaces the enabled feature set
func (r *Registry) SetFeatures(ctx context.Context, id string, features []string) (*Tenant, error) {
	if err := r.store.SetFeatures(ctx, id, normalizeFeatures(features), r.now()); err != nil {
		return nil, access.Unavailable("set tenant features", err)
	}
	return r.Get(ctx, id)
}

func (r *Registry) attachCounts(ctx context.Context, list []*Tenant) error {
	if r.users == nil || len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	counts, err := r.users.CountActiveUsers(ctx, ids)
	if err != nil {
		return access.Unavailable("count active users", fmt.Errorf("failed to count active users: %w", err))
	}
	for _, t := range list {
		t.ActiveUserCount = counts[t.ID]
	}
	return nil
}

func normalizeFeatures(features []string) []string {
	seen := make(map[string]bool, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
