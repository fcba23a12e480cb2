package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
)

// QueryAudit reads audit entries newest first. It is read-only.
func (e *Engine) QueryAudit(ctx context.Context, f audit.Filter) (entries []*audit.Entry, err error) {
	ctx, o := e.begin(ctx, "query_audit",
		attribute.String("warden.tenant_id", f.TenantID),
		attribute.String("warden.user_id", f.UserID),
	)
	defer func() { o.end(nil, err) }()

	if f.Limit < 0 || f.Offset < 0 {
		return nil, access.Invalid("limit", "limit and offset must not be negative")
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return nil, access.Invalid("end", "end is before start")
	}
	entries, err = e.audit.Query(ctx, f)
	if err != nil {
		return nil, access.Unavailable("audit.query", err)
	}
	return entries, nil
}
