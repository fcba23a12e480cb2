package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sessions"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// Components are the collaborators of an Engine. Metrics and Logger are
// optional.
type Components struct {
	Catalog  *rbac.Catalog
	Tenants  *tenants.Registry
	Resolver *rbac.Resolver
	Quota    *quota.Enforcer
	Sessions *sessions.Manager
	Audit    audit.Logger
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Engine implements the access-control and quota contract
type Engine struct {
	catalog  *rbac.Catalog
	tenants  *tenants.Registry
	resolver *rbac.Resolver
	quota    *quota.Enforcer
	sessions *sessions.Manager
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates an engine
func New(c Components) (*Engine, error) {
	switch {
	case c.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case c.Tenants == nil:
		return nil, errors.New("engine: tenant registry is required")
	case c.Resolver == nil:
		return nil, errors.New("engine: resolver is required")
	case c.Quota == nil:
		return nil, errors.New("engine: quota enforcer is required")
	case c.Sessions == nil:
		return nil, errors.New("engine: session manager is required")
	case c.Audit == nil:
		return nil, errors.New("engine: audit logger is required")
	}
	if c.Logger == nil {
		c.Logger = observability.NewNopLogger()
	}

	return &Engine{
		catalog:  c.Catalog,
		tenants:  c.Tenants,
		resolver: c.Resolver,
		quota:    c.Quota,
		sessions: c.Sessions,
		audit:    c.Audit,
		logger:   c.Logger,
		metrics:  c.Metrics,
		tracer:   observability.Tracer(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// SystemTenant returns the id of the platform tenant
func (e *Engine) SystemTenant() string {
	return e.resolver.SystemTenant()
}

// op tracks one engine operation from start to decision
type op struct {
	e     *Engine
	name  string
	span  trace.Span
	start time.Time
}

func (e *Engine) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *op) {
	ctx, span := e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
	return ctx, &op{e: e, name: name, span: span, start: time.Now()}
}

// end closes the span and records the outcome. d is nil for operations that
// do not produce a decision value.
func (o *op) end(d *access.Decision, err error) {
	defer o.span.End()

	outcome, reason := "allowed", access.ReasonNone
	switch {
	case err != nil && access.IsDenied(err):
		outcome, reason = "denied", access.ReasonOf(err)
	case err != nil:
		outcome = "error"
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	case d != nil && !d.Allowed:
		outcome, reason = "denied", d.Reason
	}
	o.span.SetAttributes(
		attribute.String("warden.outcome", outcome),
		attribute.String("warden.reason", string(reason)),
	)

	m := o.e.metrics
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(o.name, outcome, string(reason)).Inc()
	m.OperationDuration.WithLabelValues(o.name).Observe(time.Since(o.start).Seconds())
	if outcome == "error" {
		m.OperationErrors.WithLabelValues(o.name, errorClass(err)).Inc()
	}
}

func errorClass(err error) string {
	switch {
	case access.IsValidation(err):
		return "validation"
	case access.IsNotFound(err):
		return "not_found"
	case access.IsConflict(err):
		return "conflict"
	case access.IsUnavailable(err):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}

// actor returns the authenticated caller, falling back to subject
func actor(ctx context.Context, subject string) string {
	if id := contextkeys.GetActorID(ctx); id != "" {
		return id
	}
	return subject
}

// record appends an audit entry. Failures are logged and counted only.
func (e *Engine) record(ctx context.Context, entry *audit.Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	entry.Origin = audit.Origin{
		IPAddress: contextkeys.GetClientIP(ctx),
		UserAgent: contextkeys.GetUserAgent(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}

	if err := e.audit.Append(ctx, entry); err != nil {
		observability.WithTraceContext(ctx, e.logger).WithError(err).WithFields(map[string]interface{}{
			"event_type": string(entry.EventType),
			"actor_id":   entry.ActorID,
		}).Error("failed to append audit entry")
		if e.metrics != nil {
			e.metrics.AuditAppendFailuresTotal.Inc()
		}
	}
}

// recordDenial writes the single audit entry for a denied action
func (e *Engine) recordDenial(ctx context.Context, event audit.EventType, actorID, tenantID string, reason access.Reason, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["reason"] = string(reason)
	e.record(ctx, &audit.Entry{
		EventType:   event,
		ActorID:     actorID,
		TenantID:    audit.Tenant(tenantID),
		Description: fmt.Sprintf("%s denied: %s", describe(event), reason),
		Metadata:    metadata,
	})
	observability.WithTraceContext(ctx, e.logger).WithFields(map[string]interface{}{
		"event_type": string(event),
		"actor_id":   actorID,
		"tenant_id":  tenantID,
		"reason":     string(reason),
	}).Debug("denied")
}

func describe(event audit.EventType) string {
	switch event {
	case audit.EventQuotaDenied:
		return "quota consumption"
	case audit.EventSessionCreateDenied:
		return "session creation"
	case audit.EventRoleAssignDenied:
		return "role change"
	case audit.EventTenantAdminDenied:
		return "administration"
	}
	return "access"
}
