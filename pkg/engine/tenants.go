package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// requireTop refuses platform administration to actors that do not hold
// the top rank in the system tenant. A refusal is audited once.
func (e *Engine) requireTop(ctx context.Context, operation, actorID, tenantID string) error {
	if strings.TrimSpace(actorID) == "" {
		return access.Invalid("actor", "actor id is required")
	}
	rank, err := e.resolver.ActorRank(ctx, actorID, e.resolver.SystemTenant())
	if err != nil {
		return err
	}
	if rank.IsTop() {
		return nil
	}
	e.recordDenial(ctx, audit.EventTenantAdminDenied, actorID, tenantID, access.ReasonInsufficientRank, map[string]interface{}{
		"operation": operation,
		"rank":      int(rank),
	})
	return access.Denied(access.ReasonInsufficientRank)
}

// CreateTenant onboards a tenant
func (e *Engine) CreateTenant(ctx context.Context, actorID string, req tenants.CreateRequest) (t *tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "create_tenant", attribute.String("warden.actor_id", actorID))
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "create_tenant", actorID, ""); err != nil {
		return nil, err
	}
	t, err = e.tenants.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventTenantCreated,
		ActorID:     actorID,
		TenantID:    audit.Tenant(t.ID),
		Description: "tenant " + t.Name + " created",
		Metadata: map[string]interface{}{
			"kind":     string(t.Kind),
			"ceilings": t.Ceilings,
		},
	})
	e.logger.WithFields(map[string]interface{}{
		"tenant_id": t.ID,
		"actor_id":  actorID,
	}).Info("tenant created")
	return t, nil
}

// GetTenant returns a tenant with its active user count
func (e *Engine) GetTenant(ctx context.Context, actorID, tenantID string) (t *tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "get_tenant", attribute.String("warden.tenant_id", tenantID))
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "get_tenant", actorID, tenantID); err != nil {
		return nil, err
	}
	return e.tenants.Get(ctx, tenantID)
}

// ListTenants returns every tenant
func (e *Engine) ListTenants(ctx context.Context, actorID string) (list []*tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "list_tenants")
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "list_tenants", actorID, ""); err != nil {
		return nil, err
	}
	return e.tenants.List(ctx)
}

// SetTenantStatus moves a tenant through its lifecycle. Suspending a tenant
// denies every later check for it.
func (e *Engine) SetTenantStatus(ctx context.Context, actorID, tenantID string, status tenants.Status) (t *tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "set_tenant_status",
		attribute.String("warden.tenant_id", tenantID),
		attribute.String("warden.status", string(status)),
	)
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "set_tenant_status", actorID, tenantID); err != nil {
		return nil, err
	}
	before, err := e.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	t, err = e.tenants.SetStatus(ctx, tenantID, status)
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventTenantStatusChanged,
		ActorID:     actorID,
		TenantID:    audit.Tenant(tenantID),
		Description: "tenant status " + string(before.Status) + " -> " + string(t.Status),
		Metadata: map[string]interface{}{
			"from": string(before.Status),
			"to":   string(t.Status),
		},
	})
	e.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"from":      string(before.Status),
		"to":        string(t.Status),
	}).Info("tenant status changed")
	return t, nil
}

// UpdateTenantCeilings replaces the tenant-wide ceilings
func (e *Engine) UpdateTenantCeilings(ctx context.Context, actorID, tenantID string, ceilings tenants.Ceilings) (t *tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "update_tenant_ceilings", attribute.String("warden.tenant_id", tenantID))
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "update_tenant_ceilings", actorID, tenantID); err != nil {
		return nil, err
	}
	before, err := e.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	t, err = e.tenants.UpdateCeilings(ctx, tenantID, ceilings)
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventTenantCeilingsUpdated,
		ActorID:     actorID,
		TenantID:    audit.Tenant(tenantID),
		Description: "tenant ceilings updated",
		Metadata: map[string]interface{}{
			"from": before.Ceilings,
			"to":   t.Ceilings,
		},
	})
	return t, nil
}

// SetTenantFeatures replaces the enabled feature set of a tenant
func (e *Engine) SetTenantFeatures(ctx context.Context, actorID, tenantID string, features []string) (t *tenants.Tenant, err error) {
	ctx, o := e.begin(ctx, "set_tenant_features", attribute.String("warden.tenant_id", tenantID))
	defer func() { o.end(nil, err) }()

	if err = e.requireTop(ctx, "set_tenant_features", actorID, tenantID); err != nil {
		return nil, err
	}
	t, err = e.tenants.SetFeatures(ctx, tenantID, features)
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventTenantFeaturesUpdated,
		ActorID:     actorID,
		TenantID:    audit.Tenant(tenantID),
		Description: "tenant features updated",
		Metadata: map[string]interface{}{
			"features": t.Features,
		},
	})
	return t, nil
}
