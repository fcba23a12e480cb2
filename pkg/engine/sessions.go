package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/sessions"
)

// CreateSession opens a session for a user who resolves in the tenant. The
// origin defaults to the client address and user agent of the request.
func (e *Engine) CreateSession(ctx context.Context, req sessions.CreateRequest) (s *sessions.Session, err error) {
	ctx, o := e.begin(ctx, "create_session", subjectAttrs(req.UserID, req.TenantID)...)
	defer func() { o.end(nil, err) }()

	if req.Origin.IPAddress == "" {
		req.Origin.IPAddress = contextkeys.GetClientIP(ctx)
	}
	if req.Origin.UserAgent == "" {
		req.Origin.UserAgent = contextkeys.GetUserAgent(ctx)
	}

	s, err = e.sessions.Create(ctx, req)
	if access.IsDenied(err) {
		e.recordDenial(ctx, audit.EventSessionCreateDenied, actor(ctx, req.UserID), req.TenantID, access.ReasonOf(err), map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SessionsCreatedTotal.Inc()
	}
	e.record(ctx, &audit.Entry{
		EventType:   audit.EventSessionCreated,
		ActorID:     s.UserID,
		TenantID:    audit.Tenant(s.TenantID),
		Description: "session created",
		Metadata: map[string]interface{}{
			"session": tokenPrefix(s.Token),
			"role":    s.Permissions.TemplateName,
		},
	})
	e.logger.WithFields(map[string]interface{}{
		"session":   tokenPrefix(s.Token),
		"user_id":   s.UserID,
		"tenant_id": s.TenantID,
	}).Info("session created")
	return s, nil
}

// TouchSession records activity on an active session. It reports false
// when the session is no longer active.
func (e *Engine) TouchSession(ctx context.Context, token string) (touched bool, err error) {
	ctx, o := e.begin(ctx, "touch_session", attribute.String("warden.session", tokenPrefix(token)))
	defer func() {
		d := access.Allow()
		if !touched {
			d = access.Deny(access.ReasonSessionInactive)
		}
		o.end(&d, err)
	}()

	if strings.TrimSpace(token) == "" {
		return false, access.Invalid("token", "must not be empty")
	}
	return e.sessions.Touch(ctx, token, e.now())
}

// TerminateSession ends a session. Ending a session that is already over is
// a no-op.
func (e *Engine) TerminateSession(ctx context.Context, token, reason string) (err error) {
	ctx, o := e.begin(ctx, "terminate_session", attribute.String("warden.session", tokenPrefix(token)))
	defer func() { o.end(nil, err) }()

	if strings.TrimSpace(token) == "" {
		return access.Invalid("token", "must not be empty")
	}
	if strings.TrimSpace(reason) == "" {
		reason = sessions.ReasonLogout
	}

	s, err := e.sessions.Get(ctx, token)
	if err != nil {
		return err
	}
	if s.State.Terminal() {
		return nil
	}
	changed, err := e.sessions.Terminate(ctx, token, reason)
	if err != nil || !changed {
		return err
	}

	if e.metrics != nil {
		e.metrics.SessionsTerminatedTotal.WithLabelValues(reason).Inc()
	}
	e.record(ctx, &audit.Entry{
		EventType:   audit.EventSessionTerminated,
		ActorID:     actor(ctx, s.UserID),
		TenantID:    audit.Tenant(s.TenantID),
		Description: "session terminated: " + reason,
		Metadata: map[string]interface{}{
			"session": tokenPrefix(token),
			"user_id": s.UserID,
			"reason":  reason,
		},
	})
	return nil
}

// AuthorizeSession touches a session and then checks capability against the
// permissions captured when the session was created. The tenant status is
// checked live.
func (e *Engine) AuthorizeSession(ctx context.Context, token, capability string) (d access.Decision, err error) {
	ctx, o := e.begin(ctx, "authorize_session",
		attribute.String("warden.session", tokenPrefix(token)),
		attribute.String("warden.capability", capability),
	)
	defer func() { o.end(&d, err) }()

	if strings.TrimSpace(token) == "" {
		return access.Decision{}, access.Invalid("token", "must not be empty")
	}
	if strings.TrimSpace(capability) == "" {
		return access.Decision{}, access.Invalid("capability", "must not be empty")
	}

	touched, err := e.sessions.Touch(ctx, token, e.now())
	if err != nil {
		return access.Decision{}, err
	}
	s, err := e.sessions.Get(ctx, token)
	if err != nil {
		return access.Decision{}, err
	}

	d, err = e.authorize(ctx, s, touched, capability)
	if err != nil {
		return access.Decision{}, err
	}
	if !d.Allowed {
		e.recordDenial(ctx, audit.EventAccessDenied, s.UserID, s.TenantID, d.Reason, map[string]interface{}{
			"operation":  "authorize_session",
			"session":    tokenPrefix(token),
			"capability": capability,
		})
	}
	return d, nil
}

func (e *Engine) authorize(ctx context.Context, s *sessions.Session, touched bool, capability string) (access.Decision, error) {
	if !touched {
		return access.Deny(access.ReasonSessionInactive), nil
	}
	tenant, err := e.tenants.Lookup(ctx, s.TenantID)
	if access.IsNotFound(err) {
		return access.Deny(access.ReasonNoAssignment), nil
	}
	if err != nil {
		return access.Decision{}, err
	}
	if td := tenant.Status.Decision(); !td.Allowed {
		return td, nil
	}
	if s.Permissions == nil {
		return access.Deny(access.ReasonNoAssignment), nil
	}
	if !s.Permissions.Has(capability) {
		return access.Deny(access.ReasonCapabilityMissing), nil
	}
	return access.Allow(), nil
}

// ListSessions returns the active sessions of a user across tenants
func (e *Engine) ListSessions(ctx context.Context, userID string) (list []*sessions.Session, err error) {
	ctx, o := e.begin(ctx, "list_sessions", attribute.String("warden.user_id", userID))
	defer func() { o.end(nil, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, access.Invalid("user_id", "must not be empty")
	}
	return e.sessions.ListActive(ctx, userID)
}

// tokenPrefix keeps session tokens out of logs and audit entries
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
