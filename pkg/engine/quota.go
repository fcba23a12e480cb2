package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/quota"
)

// CheckAndConsume consumes units of a metered feature. A denied outcome means
// the caller must not perform the metered action.
func (e *Engine) CheckAndConsume(ctx context.Context, req quota.Request) (out quota.Outcome, err error) {
	ctx, o := e.begin(ctx, "check_and_consume",
		attribute.String("warden.tenant_id", req.TenantID),
		attribute.String("warden.user_id", req.UserID),
		attribute.String("warden.feature", req.Feature),
		attribute.Int64("warden.amount", req.Amount),
	)
	defer func() { o.end(&out.Decision, err) }()

	out, err = e.quota.CheckAndConsume(ctx, req)
	if err != nil {
		return quota.Outcome{}, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = 1
	}
	if out.Decision.Allowed {
		if e.metrics != nil {
			e.metrics.QuotaConsumedTotal.WithLabelValues(out.Feature).Add(float64(amount))
		}
		return out, nil
	}

	if e.metrics != nil {
		e.metrics.QuotaDeniedTotal.WithLabelValues(out.Feature, string(out.Decision.Reason)).Inc()
	}
	e.recordDenial(ctx, audit.EventQuotaDenied, actor(ctx, req.UserID), req.TenantID, out.Decision.Reason, map[string]interface{}{
		"feature":      out.Feature,
		"amount":       amount,
		"count":        out.Count,
		"ceiling":      out.Ceiling,
		"window_start": out.WindowStart,
		"user_id":      req.UserID,
		"policy":       string(e.quota.Policy()),
	})
	return out, nil
}

// QuotaSnapshot returns the current counters of a tenant. It never consumes.
func (e *Engine) QuotaSnapshot(ctx context.Context, tenantID string) (snap []quota.CounterSnapshot, err error) {
	ctx, o := e.begin(ctx, "quota_snapshot", attribute.String("warden.tenant_id", tenantID))
	defer func() { o.end(nil, err) }()

	if strings.TrimSpace(tenantID) == "" {
		return nil, access.Invalid("tenant_id", "must not be empty")
	}
	return e.quota.Snapshot(ctx, tenantID, e.now())
}
