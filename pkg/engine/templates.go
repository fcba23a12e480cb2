package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// ListTemplates returns the permission templates ordered by rank, highest
// first
func (e *Engine) ListTemplates(ctx context.Context) (list []*rbac.Template, err error) {
	ctx, o := e.begin(ctx, "list_templates")
	defer func() { o.end(nil, err) }()

	return e.catalog.List(ctx)
}

// GetTemplate returns one permission template
func (e *Engine) GetTemplate(ctx context.Context, name string) (t *rbac.Template, err error) {
	ctx, o := e.begin(ctx, "get_template", attribute.String("warden.template", name))
	defer func() { o.end(nil, err) }()

	if strings.TrimSpace(name) == "" {
		return nil, access.Invalid("template", "must not be empty")
	}
	return e.catalog.Get(ctx, name)
}

// UpdateTemplate replaces a template if it is still at expectedVersion.
// Sessions opened before the update keep their permissions.
func (e *Engine) UpdateTemplate(ctx context.Context, actorID string, t *rbac.Template, expectedVersion int64) (updated *rbac.Template, err error) {
	ctx, o := e.begin(ctx, "update_template", attribute.Int64("warden.expected_version", expectedVersion))
	defer func() { o.end(nil, err) }()

	if t == nil {
		return nil, access.Invalid("template", "must not be empty")
	}
	if err = e.requireTop(ctx, "update_template", actorID, ""); err != nil {
		return nil, err
	}
	updated, err = e.catalog.Update(ctx, t, expectedVersion)
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventTemplateUpdated,
		ActorID:     actorID,
		Description: "template " + updated.Name + " updated",
		Metadata: map[string]interface{}{
			"template": updated.Name,
			"rank":     int(updated.Rank),
			"version":  updated.Version,
		},
	})
	e.logger.WithFields(map[string]interface{}{
		"template": updated.Name,
		"version":  updated.Version,
		"actor_id": actorID,
	}).Info("template updated")
	return updated, nil
}

// Bootstrap seeds the baseline templates and the system tenant, and grants
// adminUserID the top template there when it is set. It is safe to run on
// every start.
func (e *Engine) Bootstrap(ctx context.Context, adminUserID string) (report *rbac.SeedReport, err error) {
	ctx, o := e.begin(ctx, "bootstrap")
	defer func() { o.end(nil, err) }()

	report, err = e.catalog.UpsertBaseline(ctx)
	if err != nil {
		return nil, err
	}
	if _, err = e.tenants.EnsureSystemTenant(ctx, e.resolver.SystemTenant()); err != nil {
		return nil, err
	}
	e.logger.WithFields(map[string]interface{}{
		"created":   len(report.Created),
		"refreshed": len(report.Refreshed),
		"skipped":   len(report.Skipped),
	}).Info("baseline templates seeded")

	if strings.TrimSpace(adminUserID) == "" {
		return report, nil
	}
	if _, err = e.resolver.BootstrapAdmin(ctx, adminUserID); err != nil {
		return nil, err
	}
	e.record(ctx, &audit.Entry{
		EventType:   audit.EventRoleAssigned,
		ActorID:     "system",
		TenantID:    audit.Tenant(e.resolver.SystemTenant()),
		Description: "bootstrap administrator " + adminUserID,
		Metadata: map[string]interface{}{
			"user_id":  adminUserID,
			"template": rbac.TemplateSuperAdmin,
		},
	})
	return report, nil
}
