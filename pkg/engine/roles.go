package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sessions"
)

// AssignRole creates or replaces a user's role in a tenant. When ActorID is
// empty the authenticated caller from ctx acts.
func (e *Engine) AssignRole(ctx context.Context, req rbac.AssignRequest) (a *rbac.RoleAssignment, err error) {
	if req.ActorID == "" {
		req.ActorID = actor(ctx, "")
	}
	ctx, o := e.begin(ctx, "assign_role",
		attribute.String("warden.user_id", req.UserID),
		attribute.String("warden.tenant_id", req.TenantID),
		attribute.String("warden.template", req.TemplateName),
		attribute.String("warden.actor_id", req.ActorID),
	)
	defer func() { o.end(nil, err) }()

	a, err = e.resolver.Assign(ctx, req)
	if refused(err) {
		e.recordRoleRefusal(ctx, "assign", req.ActorID, req.UserID, req.TenantID, req.TemplateName, err)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventRoleAssigned,
		ActorID:     req.ActorID,
		TenantID:    audit.Tenant(req.TenantID),
		Description: "role " + a.TemplateName + " assigned to " + a.UserID,
		Metadata: map[string]interface{}{
			"user_id":   a.UserID,
			"template":  a.TemplateName,
			"overrides": !a.Overrides.IsZero(),
		},
	})
	e.logger.WithFields(map[string]interface{}{
		"user_id":   a.UserID,
		"tenant_id": a.TenantID,
		"template":  a.TemplateName,
		"actor_id":  req.ActorID,
	}).Info("role assigned")
	return a, nil
}

// RevokeRole deactivates a user's role in a tenant and terminates the
// user's active sessions there.
func (e *Engine) RevokeRole(ctx context.Context, userID, tenantID, actorID string) (a *rbac.RoleAssignment, err error) {
	if actorID == "" {
		actorID = actor(ctx, "")
	}
	ctx, o := e.begin(ctx, "revoke_role",
		attribute.String("warden.user_id", userID),
		attribute.String("warden.tenant_id", tenantID),
		attribute.String("warden.actor_id", actorID),
	)
	defer func() { o.end(nil, err) }()

	a, err = e.resolver.Revoke(ctx, userID, tenantID, actorID)
	if refused(err) {
		e.recordRoleRefusal(ctx, "revoke", actorID, userID, tenantID, "", err)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	terminated, err := e.sessions.TerminateForUser(ctx, userID, tenantID, sessions.ReasonRevoked)
	if err != nil {
		// the revoke is committed; remaining sessions end at their idle expiry
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":   userID,
			"tenant_id": tenantID,
		}).Error("failed to terminate sessions after revoke")
		err = nil
	}
	if e.metrics != nil && terminated > 0 {
		e.metrics.SessionsTerminatedTotal.WithLabelValues(sessions.ReasonRevoked).Add(float64(terminated))
	}

	e.record(ctx, &audit.Entry{
		EventType:   audit.EventRoleRevoked,
		ActorID:     actorID,
		TenantID:    audit.Tenant(tenantID),
		Description: "role " + a.TemplateName + " revoked from " + userID,
		Metadata: map[string]interface{}{
			"user_id":             userID,
			"template":            a.TemplateName,
			"sessions_terminated": terminated,
		},
	})
	return a, nil
}

// ListAssignments returns the active assignments of a tenant
func (e *Engine) ListAssignments(ctx context.Context, tenantID string) (list []*rbac.RoleAssignment, err error) {
	ctx, o := e.begin(ctx, "list_assignments", attribute.String("warden.tenant_id", tenantID))
	defer func() { o.end(nil, err) }()

	if strings.TrimSpace(tenantID) == "" {
		return nil, access.Invalid("tenant_id", "must not be empty")
	}
	return e.resolver.ListAssignments(ctx, tenantID)
}

// refused reports whether a role command was stopped by policy rather than
// by bad input or the store
func refused(err error) bool {
	return access.IsDenied(err) || rbac.IsEscalation(err)
}

func (e *Engine) recordRoleRefusal(ctx context.Context, action, actorID, userID, tenantID, template string, err error) {
	reason := access.ReasonOf(err)
	if reason == access.ReasonNone {
		reason = access.ReasonInsufficientRank
	}
	metadata := map[string]interface{}{
		"action":  action,
		"user_id": userID,
		"detail":  err.Error(),
	}
	if template != "" {
		metadata["template"] = template
	}
	e.recordDenial(ctx, audit.EventRoleAssignDenied, actorID, tenantID, reason, metadata)
}
