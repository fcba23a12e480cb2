package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Resolve returns the effective permissions of user in tenant
func (e *Engine) Resolve(ctx context.Context, userID, tenantID string) (res rbac.Resolution, err error) {
	ctx, o := e.begin(ctx, "resolve", subjectAttrs(userID, tenantID)...)
	defer func() { o.end(&res.Decision, err) }()

	if err = requireSubject(userID, tenantID); err != nil {
		return rbac.Resolution{}, err
	}
	res, err = e.resolver.Resolve(ctx, userID, tenantID)
	if err != nil {
		return rbac.Resolution{}, err
	}
	if !res.Decision.Allowed {
		e.recordDenial(ctx, audit.EventAccessDenied, actor(ctx, userID), tenantID, res.Decision.Reason, map[string]interface{}{
			"operation": "resolve",
			"user_id":   userID,
		})
	}
	return res, nil
}

// HasCapability decides whether user holds capability in tenant. Unknown
// capabilities deny.
func (e *Engine) HasCapability(ctx context.Context, userID, tenantID, capability string) (d access.Decision, err error) {
	attrs := append(subjectAttrs(userID, tenantID), attribute.String("warden.capability", capability))
	ctx, o := e.begin(ctx, "has_capability", attrs...)
	defer func() { o.end(&d, err) }()

	if err = requireSubject(userID, tenantID); err != nil {
		return access.Decision{}, err
	}
	if strings.TrimSpace(capability) == "" {
		return access.Decision{}, access.Invalid("capability", "must not be empty")
	}
	d, err = e.resolver.HasCapability(ctx, userID, tenantID, capability)
	if err != nil {
		return access.Decision{}, err
	}
	if !d.Allowed {
		e.recordDenial(ctx, audit.EventAccessDenied, actor(ctx, userID), tenantID, d.Reason, map[string]interface{}{
			"operation":  "has_capability",
			"user_id":    userID,
			"capability": capability,
		})
	}
	return d, nil
}

// HasMarketplaceAccess decides whether user may operate on marketplace in
// tenant
func (e *Engine) HasMarketplaceAccess(ctx context.Context, userID, tenantID, marketplace string) (d access.Decision, err error) {
	attrs := append(subjectAttrs(userID, tenantID), attribute.String("warden.marketplace", marketplace))
	ctx, o := e.begin(ctx, "has_marketplace_access", attrs...)
	defer func() { o.end(&d, err) }()

	if err = requireSubject(userID, tenantID); err != nil {
		return access.Decision{}, err
	}
	if strings.TrimSpace(marketplace) == "" {
		return access.Decision{}, access.Invalid("marketplace", "must not be empty")
	}
	d, err = e.resolver.HasMarketplaceAccess(ctx, userID, tenantID, marketplace)
	if err != nil {
		return access.Decision{}, err
	}
	if !d.Allowed {
		e.recordDenial(ctx, audit.EventAccessDenied, actor(ctx, userID), tenantID, d.Reason, map[string]interface{}{
			"operation":   "has_marketplace_access",
			"user_id":     userID,
			"marketplace": marketplace,
		})
	}
	return d, nil
}

func subjectAttrs(userID, tenantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("warden.user_id", userID),
		attribute.String("warden.tenant_id", tenantID),
	}
}

func requireSubject(userID, tenantID string) error {
	if strings.TrimSpace(userID) == "" {
		return access.Invalid("user_id", "must not be empty")
	}
	if strings.TrimSpace(tenantID) == "" {
		return access.Invalid("tenant_id", "must not be empty")
	}
	return nil
}
