package quota

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenants"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type enforcerFixture struct {
	registry *tenants.Registry
	resolver *rbac.Resolver
	store    CounterStore
}

func newEnforcerFixture(t *testing.T, store CounterStore) *enforcerFixture {
	t.Helper()
	ctx := context.Background()

	rbacStore := rbac.NewMemoryStore()
	catalog := rbac.NewCatalog(rbacStore, rbac.DefaultCatalogConfig())
	_, err := catalog.UpsertBaseline(ctx)
	require.NoError(t, err)

	registry := tenants.NewRegistry(tenants.NewMemoryStore(), rbacStore)
	_, err = registry.EnsureSystemTenant(ctx, "system")
	require.NoError(t, err)

	resolver := rbac.NewResolver(catalog, registry, rbacStore, "system")
	_, err = resolver.BootstrapAdmin(ctx, "root")
	require.NoError(t, err)

	return &enforcerFixture{registry: registry, resolver: resolver, store: store}
}

func (f *enforcerFixture) tenant(t *testing.T, apiCallsDaily int64) *tenants.Tenant {
	t.Helper()
	ceilings := tenants.DefaultCeilings()
	ceilings.MaxAPICallsDaily = apiCallsDaily
	tenant, err := f.registry.Create(context.Background(), tenants.CreateRequest{Name: "Acme", Ceilings: &ceilings})
	require.NoError(t, err)
	return tenant
}

func (f *enforcerFixture) enforcer(t *testing.T, policy CountPolicy) *Enforcer {
	t.Helper()
	config := DefaultConfig()
	config.Policy = policy
	e, err := NewEnforcer(f.store, f.registry, f.resolver, config)
	require.NoError(t, err)
	e.now = func() time.Time { return fixedNow }
	return e
}

func consume(t *testing.T, e *Enforcer, tenantID string) Outcome {
	t.Helper()
	out, err := e.CheckAndConsume(context.Background(), Request{TenantID: tenantID, Feature: FeatureAPICalls, Amount: 1})
	require.NoError(t, err)
	return out
}

func TestCheckAndConsumeCountsAttempts(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 2)
	e := f.enforcer(t, CountAttempts)

	assert.True(t, consume(t, e, tenant.ID).Decision.Allowed)
	assert.True(t, consume(t, e, tenant.ID).Decision.Allowed)

	out := consume(t, e, tenant.ID)
	assert.Equal(t, access.Deny(access.ReasonQuotaExceeded), out.Decision)
	assert.Equal(t, int64(3), out.Count)
	assert.Equal(t, int64(2), out.Ceiling)

	v, err := f.store.Get(context.Background(), Key{TenantID: tenant.ID, Feature: FeatureAPICalls, WindowStart: Daily.Start(fixedNow, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestCheckAndConsumeCountsSuccesses(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 2)
	e := f.enforcer(t, CountSuccesses)

	consume(t, e, tenant.ID)
	consume(t, e, tenant.ID)
	out := consume(t, e, tenant.ID)
	assert.Equal(t, access.Deny(access.ReasonQuotaExceeded), out.Decision)
	assert.Equal(t, int64(2), out.Count)
}

func TestCheckAndConsumeConcurrent(t *testing.T) {
	const attempts, ceiling = 64, 10

	backends := map[string]func(t *testing.T) CounterStore{
		"memory": func(t *testing.T) CounterStore { return NewMemoryStore() },
		"redis": func(t *testing.T) CounterStore {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, backend := range backends {
		for _, policy := range []CountPolicy{CountAttempts, CountSuccesses} {
			t.Run(name+"/"+string(policy), func(t *testing.T) {
				f := newEnforcerFixture(t, backend(t))
				tenant := f.tenant(t, ceiling)
				e := f.enforcer(t, policy)

				var allowed int64
				var wg sync.WaitGroup
				for i := 0; i < attempts; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						out, err := e.CheckAndConsume(context.Background(), Request{TenantID: tenant.ID, Feature: FeatureAPICalls})
						if err == nil && out.Decision.Allowed {
							atomic.AddInt64(&allowed, 1)
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, int64(ceiling), allowed)

				snap, err := e.Snapshot(context.Background(), tenant.ID, fixedNow)
				require.NoError(t, err)
				want := int64(attempts)
				if policy == CountSuccesses {
					want = ceiling
				}
				for _, s := range snap {
					if s.Feature == FeatureAPICalls {
						assert.Equal(t, want, s.Count)
					}
				}
			})
		}
	}
}

func TestCheckAndConsumeZeroCeiling(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 0)

	for _, policy := range []CountPolicy{CountAttempts, CountSuccesses} {
		out := consume(t, f.enforcer(t, policy), tenant.ID)
		assert.Equal(t, access.Deny(access.ReasonQuotaExceeded), out.Decision, string(policy))
	}
}

func TestCheckAndConsumeUnlimited(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, tenants.Unlimited)
	e := f.enforcer(t, CountSuccesses)

	var out Outcome
	for i := 0; i < 5; i++ {
		out = consume(t, e, tenant.ID)
		assert.True(t, out.Decision.Allowed)
	}
	assert.Equal(t, int64(5), out.Count)
	assert.Equal(t, tenants.Unlimited, out.Ceiling)
}

func TestCheckAndConsumeOversizedAmount(t *testing.T) {
	ctx := context.Background()

	for _, policy := range []CountPolicy{CountAttempts, CountSuccesses} {
		t.Run(string(policy), func(t *testing.T) {
			f := newEnforcerFixture(t, NewMemoryStore())
			tenant := f.tenant(t, 2)
			e := f.enforcer(t, policy)

			assert.True(t, consume(t, e, tenant.ID).Decision.Allowed)

			out, err := e.CheckAndConsume(ctx, Request{TenantID: tenant.ID, Feature: FeatureAPICalls, Amount: math.MaxInt64})
			require.NoError(t, err)
			assert.Equal(t, access.Deny(access.ReasonQuotaExceeded), out.Decision)

			v, err := f.store.Get(ctx, Key{TenantID: tenant.ID, Feature: FeatureAPICalls, WindowStart: Daily.Start(fixedNow, time.UTC)})
			require.NoError(t, err)
			assert.Equal(t, int64(1), v, "an amount that cannot fit is not counted")

			var allowed int
			for i := 0; i < 10; i++ {
				if consume(t, e, tenant.ID).Decision.Allowed {
					allowed++
				}
			}
			assert.Equal(t, 1, allowed)
		})
	}
}

func TestCheckAndConsumeUnlimitedOverflow(t *testing.T) {
	ctx := context.Background()
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, tenants.Unlimited)
	e := f.enforcer(t, CountAttempts)

	consume(t, e, tenant.ID)
	_, err := e.CheckAndConsume(ctx, Request{TenantID: tenant.ID, Feature: FeatureAPICalls, Amount: math.MaxInt64})
	require.Error(t, err)
	assert.True(t, access.IsValidation(err))

	out := consume(t, e, tenant.ID)
	assert.True(t, out.Decision.Allowed)
	assert.Equal(t, int64(2), out.Count)
}

func TestCheckAndConsumeSuspendedTenant(t *testing.T) {
	ctx := context.Background()
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 10)
	e := f.enforcer(t, CountAttempts)

	consume(t, e, tenant.ID)
	_, err := f.registry.SetStatus(ctx, tenant.ID, tenants.StatusSuspended)
	require.NoError(t, err)

	out := consume(t, e, tenant.ID)
	assert.Equal(t, access.Deny(access.ReasonTenantSuspended), out.Decision)

	_, err = f.registry.SetStatus(ctx, tenant.ID, tenants.StatusInactive)
	require.NoError(t, err)
	out = consume(t, e, tenant.ID)
	assert.Equal(t, access.Deny(access.ReasonTenantInactive), out.Decision)

	// denied by status before any counter is touched
	v, err := f.store.Get(ctx, Key{TenantID: tenant.ID, Feature: FeatureAPICalls, WindowStart: Daily.Start(fixedNow, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCheckAndConsumeRoleLimit(t *testing.T) {
	ctx := context.Background()
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, tenants.Unlimited)
	e := f.enforcer(t, CountAttempts)

	_, err := f.resolver.Assign(ctx, rbac.AssignRequest{
		UserID:       "alice",
		TenantID:     tenant.ID,
		TemplateName: rbac.TemplateUser,
		Overrides:    rbac.Overrides{FeatureLimits: map[string]int64{rbac.LimitAPICallsDaily: 1}},
		ActorID:      "root",
	})
	require.NoError(t, err)

	req := Request{TenantID: tenant.ID, UserID: "alice", Feature: FeatureAPICalls}
	out, err := e.CheckAndConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Decision.Allowed)
	assert.Equal(t, int64(1), out.Ceiling)

	out, err = e.CheckAndConsume(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, access.Deny(access.ReasonQuotaExceeded), out.Decision)

	req.UserID = "mallory"
	out, err = e.CheckAndConsume(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, access.Deny(access.ReasonNoAssignment), out.Decision)
}

func TestCheckAndConsumeValidation(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 10)
	e := f.enforcer(t, CountAttempts)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing tenant id", Request{Feature: FeatureAPICalls}},
		{"unknown feature", Request{TenantID: tenant.ID, Feature: "teleports"}},
		{"negative amount", Request{TenantID: tenant.ID, Feature: FeatureAPICalls, Amount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CheckAndConsume(context.Background(), tt.req)
			assert.True(t, access.IsValidation(err), "got %v", err)
		})
	}

	_, err := e.CheckAndConsume(context.Background(), Request{TenantID: "nope", Feature: FeatureAPICalls})
	assert.True(t, access.IsNotFound(err), "got %v", err)
}

func TestCheckAndConsumeWindowRollover(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 1)
	e := f.enforcer(t, CountAttempts)

	consume(t, e, tenant.ID)
	assert.False(t, consume(t, e, tenant.ID).Decision.Allowed)

	e.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	out := consume(t, e, tenant.ID)
	assert.True(t, out.Decision.Allowed)
	assert.Equal(t, int64(1), out.Count)
}

func TestSnapshotDoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	f := newEnforcerFixture(t, NewMemoryStore())
	tenant := f.tenant(t, 5)
	e := f.enforcer(t, CountAttempts)
	consume(t, e, tenant.ID)

	for i := 0; i < 2; i++ {
		snap, err := e.Snapshot(ctx, tenant.ID, fixedNow)
		require.NoError(t, err)
		require.Len(t, snap, 3)
		assert.Equal(t, FeatureAPICalls, snap[0].Feature)
		assert.Equal(t, int64(1), snap[0].Count)
		assert.Equal(t, int64(5), snap[0].Ceiling)
		assert.Equal(t, Monthly, snap[1].Window)
	}
}

func TestPruneHorizon(t *testing.T) {
	f := newEnforcerFixture(t, NewMemoryStore())
	e := f.enforcer(t, CountAttempts)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), e.PruneHorizon(fixedNow))
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), e.PruneHorizon(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)))
}

func TestNewEnforcerRejectsBadConfig(t *testing.T) {
	_, err := NewEnforcer(NewMemoryStore(), nil, nil, Config{Policy: "sometimes"})
	assert.Error(t, err)

	dup := DefaultFeatures()
	dup = append(dup, dup[0])
	_, err = NewEnforcer(NewMemoryStore(), nil, nil, Config{Features: dup})
	assert.Error(t, err)
}
