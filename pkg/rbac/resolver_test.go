package rbac

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/tenants"
)

const rootUser = "root"

type fixture struct {
	store    *MemoryStore
	catalog  *Catalog
	registry *tenants.Registry
	resolver *Resolver
	tenant   *tenants.Tenant
}

func newFixture(t *testing.T, maxUsers int64) *fixture {
	t.Helper()
	ctx := context.Background()

	store := NewMemoryStore()
	catalog, _ := newTestCatalog(t, store, nil)
	_, err := catalog.UpsertBaseline(ctx)
	require.NoError(t, err)

	registry := tenants.NewRegistry(tenants.NewMemoryStore(), store)
	_, err = registry.EnsureSystemTenant(ctx, "system")
	require.NoError(t, err)

	resolver := NewResolver(catalog, registry, store, "system")
	_, err = resolver.BootstrapAdmin(ctx, rootUser)
	require.NoError(t, err)

	ceilings := tenants.DefaultCeilings()
	ceilings.MaxUsers = maxUsers
	tenant, err := registry.Create(ctx, tenants.CreateRequest{Name: "Acme", Kind: tenants.KindBusiness, Ceilings: &ceilings})
	require.NoError(t, err)

	return &fixture{store: store, catalog: catalog, registry: registry, resolver: resolver, tenant: tenant}
}

func (f *fixture) assign(t *testing.T, user, template, actor string, overrides Overrides) *RoleAssignment {
	t.Helper()
	a, err := f.resolver.Assign(context.Background(), AssignRequest{
		UserID: user, TenantID: f.tenant.ID, TemplateName: template, Overrides: overrides, ActorID: actor,
	})
	require.NoError(t, err)
	return a
}

func TestViewerWithCapabilityOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	f.assign(t, "u", TemplateViewer, rootUser, Overrides{Capabilities: map[string]bool{"report_access": true}})

	d, err := f.resolver.HasCapability(ctx, "u", f.tenant.ID, "report_access")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.resolver.HasCapability(ctx, "u", f.tenant.ID, "marketplace_management")
	require.NoError(t, err)
	assert.Equal(t, access.Deny(access.ReasonCapabilityMissing), d)
}

func TestUnknownCapabilityFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "admin", TemplateSuperAdmin, rootUser, Overrides{})

	d, err := f.resolver.HasCapability(ctx, "admin", f.tenant.ID, "nonexistent_key")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonCapabilityMissing, d.Reason)
}

func TestPrivilegeEscalationRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "tech", TemplateTechnical, rootUser, Overrides{})

	_, err := f.resolver.Assign(ctx, AssignRequest{
		UserID: "victim", TenantID: f.tenant.ID, TemplateName: TemplateSuperAdmin, ActorID: "tech",
	})
	require.Error(t, err)
	assert.True(t, access.IsValidation(err))
	assert.True(t, IsEscalation(err))

	_, err = f.store.GetActiveAssignment(ctx, "victim", f.tenant.ID)
	assert.True(t, access.IsNotFound(err), "no assignment may be written")

	a, err := f.resolver.Assign(ctx, AssignRequest{
		UserID: "victim", TenantID: f.tenant.ID, TemplateName: TemplateTechnical, ActorID: "tech",
	})
	require.NoError(t, err, "equal rank is allowed")
	assert.Equal(t, "tech", a.AssignedBy)
}

func TestOverridesCannotExceedActorPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "vic", TemplateViewer, rootUser, Overrides{})
	f.assign(t, "manager", TemplateAdmin, rootUser, Overrides{})

	everything := MarketplaceAccess{"all"}
	amazon := MarketplaceAccess{"amazon"}
	trendyol := MarketplaceAccess{"trendyol"}

	refused := []struct {
		name      string
		overrides Overrides
	}{
		{"capability", Overrides{Capabilities: map[string]bool{"system_admin": true, "user_management": true}}},
		{"wildcard marketplaces", Overrides{Marketplaces: &everything}},
		{"marketplace outside allow-list", Overrides{Marketplaces: &amazon}},
		{"unlimited feature", Overrides{FeatureLimits: map[string]int64{LimitAPICallsDaily: UnlimitedFeature}}},
		{"raised feature", Overrides{FeatureLimits: map[string]int64{LimitAPICallsDaily: 101}}},
		{"unheld feature", Overrides{FeatureLimits: map[string]int64{LimitOrdersDaily: 1}}},
	}
	for _, tt := range refused {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Assign(ctx, AssignRequest{
				UserID: "vic", TenantID: f.tenant.ID, TemplateName: TemplateViewer, Overrides: tt.overrides, ActorID: "vic",
			})
			require.Error(t, err)
			assert.True(t, IsEscalation(err))
		})
	}

	res, err := f.resolver.Resolve(ctx, "vic", f.tenant.ID)
	require.NoError(t, err)
	assert.False(t, res.Permissions.Has("system_admin"))
	assert.False(t, res.Permissions.CanAccessMarketplace("amazon"))
	limit, _ := res.Permissions.Limit(LimitAPICallsDaily)
	assert.Equal(t, int64(100), limit)

	f.assign(t, "vic", TemplateViewer, "vic", Overrides{
		Capabilities:  map[string]bool{"view_logs": false},
		Marketplaces:  &trendyol,
		FeatureLimits: map[string]int64{LimitAPICallsDaily: 50},
	})
	f.assign(t, "u", TemplateUser, "manager", Overrides{
		Capabilities:  map[string]bool{"finance_reports": true},
		Marketplaces:  &everything,
		FeatureLimits: map[string]int64{LimitProducts: 1000},
	})

	_, err = f.resolver.Assign(ctx, AssignRequest{
		UserID: "u", TenantID: f.tenant.ID, TemplateName: TemplateUser, ActorID: "manager",
		Overrides: Overrides{Capabilities: map[string]bool{"system_admin": true}},
	})
	assert.True(t, IsEscalation(err))
}

func TestActorCannotModifyHigherRankedAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "owner", TemplateSuperAdmin, rootUser, Overrides{})
	f.assign(t, "manager", TemplateAdmin, rootUser, Overrides{})

	_, err := f.resolver.Assign(ctx, AssignRequest{
		UserID: "owner", TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: "manager",
	})
	assert.True(t, access.IsValidation(err))

	_, err = f.resolver.Revoke(ctx, "owner", f.tenant.ID, "manager")
	assert.True(t, IsEscalation(err))

	res, err := f.resolver.Resolve(ctx, "owner", f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, TemplateSuperAdmin, res.Permissions.TemplateName)
}

func TestAssignValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	tests := []struct {
		name string
		req  AssignRequest
	}{
		{"unknown template", AssignRequest{UserID: "u", TenantID: f.tenant.ID, TemplateName: "owner", ActorID: rootUser}},
		{"missing user", AssignRequest{TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: rootUser}},
		{"missing actor", AssignRequest{UserID: "u", TenantID: f.tenant.ID, TemplateName: TemplateViewer}},
		{"unknown tenant", AssignRequest{UserID: "u", TenantID: "nope", TemplateName: TemplateViewer, ActorID: rootUser}},
		{"bad limit override", AssignRequest{UserID: "u", TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: rootUser,
			Overrides: Overrides{FeatureLimits: map[string]int64{LimitAPICallsDaily: -3}}}},
		{"actor without rank", AssignRequest{UserID: "u", TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: "stranger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Assign(ctx, tt.req)
			assert.True(t, access.IsValidation(err), "got %v", err)
		})
	}

	list, err := f.resolver.ListAssignments(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUserCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	f.assign(t, "u1", TemplateUser, rootUser, Overrides{})
	f.assign(t, "u2", TemplateUser, rootUser, Overrides{})

	_, err := f.resolver.Assign(ctx, AssignRequest{UserID: "u3", TenantID: f.tenant.ID, TemplateName: TemplateUser, ActorID: rootUser})
	require.Error(t, err)
	assert.Equal(t, access.ReasonQuotaExceeded, access.ReasonOf(err))

	a := f.assign(t, "u1", TemplateViewer, rootUser, Overrides{})
	assert.Equal(t, TemplateViewer, a.TemplateName, "re-assignment bypasses the ceiling")

	_, err = f.resolver.Revoke(ctx, "u2", f.tenant.ID, rootUser)
	require.NoError(t, err)
	f.assign(t, "u3", TemplateUser, rootUser, Overrides{})

	tenant, err := f.registry.Get(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tenant.ActiveUserCount)
}

func TestZeroUserCeilingDeniesEveryNewUser(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.resolver.Assign(context.Background(), AssignRequest{UserID: "u", TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: rootUser})
	assert.True(t, access.IsDenied(err))
}

func TestSuspendedTenantShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "u", TemplateAdmin, rootUser, Overrides{})

	_, err := f.registry.SetStatus(ctx, f.tenant.ID, tenants.StatusSuspended)
	require.NoError(t, err)

	res, err := f.resolver.Resolve(ctx, "u", f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, access.Deny(access.ReasonTenantSuspended), res.Decision)
	assert.Nil(t, res.Permissions)

	d, err := f.resolver.HasMarketplaceAccess(ctx, "u", f.tenant.ID, "trendyol")
	require.NoError(t, err)
	assert.Equal(t, access.ReasonTenantSuspended, d.Reason)

	_, err = f.resolver.Assign(ctx, AssignRequest{UserID: "v", TenantID: f.tenant.ID, TemplateName: TemplateViewer, ActorID: rootUser})
	assert.Equal(t, access.ReasonTenantSuspended, access.ReasonOf(err))

	_, err = f.registry.SetStatus(ctx, f.tenant.ID, tenants.StatusActive)
	require.NoError(t, err)
	res, err = f.resolver.Resolve(ctx, "u", f.tenant.ID)
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed, "assignment survives suspension")
}

func TestResolveWithoutAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	res, err := f.resolver.Resolve(ctx, "nobody", f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, access.Deny(access.ReasonNoAssignment), res.Decision)

	res, err = f.resolver.Resolve(ctx, "nobody", "missing-tenant")
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed)
}

func TestMarketplaceResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	everything := MarketplaceAccess{"*"}
	nothing := MarketplaceAccess{}
	f.assign(t, "tech", TemplateTechnical, rootUser, Overrides{})
	f.assign(t, "wide", TemplateUser, rootUser, Overrides{Marketplaces: &everything})
	f.assign(t, "narrow", TemplateViewer, rootUser, Overrides{Marketplaces: &nothing})
	f.assign(t, "admin", TemplateAdmin, rootUser, Overrides{})

	tests := []struct {
		user        string
		marketplace string
		allowed     bool
	}{
		{"tech", "amazon", true},
		{"tech", "etsy", false},
		{"wide", "etsy", true},
		{"narrow", "trendyol", false},
		{"admin", "hepsiburada", true},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.marketplace, func(t *testing.T) {
			d, err := f.resolver.HasMarketplaceAccess(ctx, tt.user, f.tenant.ID, tt.marketplace)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, access.ReasonMarketplaceNotAllowed, d.Reason)
			}
		})
	}
}

func TestMergeLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}

	for i := 0; i < 200; i++ {
		tmpl := &Template{Name: "t", Rank: 10, Capabilities: map[string]bool{}, FeatureLimits: map[string]int64{}}
		override := Overrides{Capabilities: map[string]bool{}, FeatureLimits: map[string]int64{}}
		for _, k := range keys {
			if rng.Intn(2) == 0 {
				tmpl.Capabilities[k] = rng.Intn(2) == 0
				tmpl.FeatureLimits[k] = int64(rng.Intn(100))
			}
			if rng.Intn(3) == 0 {
				override.Capabilities[k] = rng.Intn(2) == 0
				override.FeatureLimits[k] = int64(rng.Intn(100) - 1)
			}
		}

		eff := Merge(tmpl, &RoleAssignment{Overrides: override}, time.Now())
		for _, k := range keys {
			if v, ok := override.Capabilities[k]; ok {
				assert.Equal(t, v, eff.Capabilities[k], "override wins for %s", k)
			} else {
				assert.Equal(t, tmpl.Capabilities[k], eff.Capabilities[k], "template value inherited for %s", k)
			}
			if v, ok := override.FeatureLimits[k]; ok {
				assert.Equal(t, v, eff.FeatureLimits[k])
			} else {
				got, set := eff.Limit(k)
				want, wantSet := tmpl.FeatureLimits[k]
				assert.Equal(t, wantSet, set)
				assert.Equal(t, want, got)
			}
		}
	}
}

func TestMergeDoesNotAliasTemplate(t *testing.T) {
	tmpl := &Template{Capabilities: map[string]bool{"x": false}, Marketplaces: MarketplaceAccess{"n11"}}
	eff := Merge(tmpl, &RoleAssignment{Overrides: Overrides{Capabilities: map[string]bool{"x": true}}}, time.Now())
	eff.Marketplaces[0] = "amazon"
	assert.False(t, tmpl.Capabilities["x"])
	assert.Equal(t, "n11", tmpl.Marketplaces[0])
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.assign(t, "u", TemplateUser, rootUser, Overrides{})

	_, err := f.resolver.Revoke(ctx, "u", f.tenant.ID, "stranger")
	assert.Equal(t, access.ReasonInsufficientRank, access.ReasonOf(err))

	revoked, err := f.resolver.Revoke(ctx, "u", f.tenant.ID, rootUser)
	require.NoError(t, err)
	assert.False(t, revoked.Active)
	assert.Equal(t, rootUser, revoked.RevokedBy)
	require.NotNil(t, revoked.RevokedAt)

	res, err := f.resolver.Resolve(ctx, "u", f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, access.ReasonNoAssignment, res.Decision.Reason)

	_, err = f.resolver.Revoke(ctx, "u", f.tenant.ID, rootUser)
	assert.True(t, access.IsNotFound(err))

	again := f.assign(t, "u", TemplateViewer, rootUser, Overrides{})
	assert.Equal(t, revoked.ID, again.ID, "the (user, tenant) row is reused")
	assert.Nil(t, again.RevokedAt)
}

func TestConcurrentAssignSerializes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	templates := []string{TemplateViewer, TemplateUser, TemplateTechnical}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.resolver.Assign(ctx, AssignRequest{
				UserID: "u", TenantID: f.tenant.ID, TemplateName: templates[i%len(templates)], ActorID: rootUser,
				Overrides: Overrides{Capabilities: map[string]bool{fmt.Sprintf("k%d", i): true}},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	counts, err := f.store.CountActiveUsers(ctx, []string{f.tenant.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[f.tenant.ID])

	res, err := f.resolver.Resolve(ctx, "u", f.tenant.ID)
	require.NoError(t, err)
	require.True(t, res.Decision.Allowed)
	assert.Contains(t, templates, res.Permissions.TemplateName)
}

func TestSystemTenantRankAppliesEverywhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	rank, err := f.resolver.ActorRank(ctx, rootUser, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, RankSuperAdmin, rank)

	f.assign(t, "local", TemplateAdmin, rootUser, Overrides{})
	rank, err = f.resolver.ActorRank(ctx, "local", f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, RankAdmin, rank)

	rank, err = f.resolver.ActorRank(ctx, "local", "system")
	require.NoError(t, err)
	assert.Equal(t, RankNone, rank)
}
