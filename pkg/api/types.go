package api

import (
	"time"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// DecisionResponse is the body of every decision
type DecisionResponse struct {
	Allowed bool          `json:"allowed"`
	Reason  access.Reason `json:"reason,omitempty"`
}

func decisionResponse(d access.Decision) DecisionResponse {
	return DecisionResponse{Allowed: d.Allowed, Reason: d.Reason}
}

// ResolveResponse carries the effective permissions when allowed
type ResolveResponse struct {
	DecisionResponse
	Permissions *rbac.EffectivePermissions `json:"permissions,omitempty"`
}

// ConsumeRequest is the body of a quota consumption
type ConsumeRequest struct {
	UserID string `json:"user_id,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

// ConsumeResponse reports a quota decision and the counter after it
type ConsumeResponse struct {
	DecisionResponse
	Feature     string    `json:"feature"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
	Ceiling     int64     `json:"ceiling"`
}

// AssignRoleRequest is the body of a role assignment
type AssignRoleRequest struct {
	Template  string         `json:"template"`
	Overrides rbac.Overrides `json:"overrides"`
}

// CreateSessionRequest is the body of a login
type CreateSessionRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Location string `json:"location,omitempty"`
}

// TouchResponse reports whether the session is still active
type TouchResponse struct {
	Touched bool `json:"touched"`
}

// AuthorizeRequest names the capability a session wants to exercise
type AuthorizeRequest struct {
	Capability string `json:"capability"`
}

// StatusRequest changes a tenant lifecycle status
type StatusRequest struct {
	Status tenants.Status `json:"status"`
}

// FeaturesRequest replaces a tenant feature set
type FeaturesRequest struct {
	Features []string `json:"features"`
}

// UpdateTemplateRequest replaces a template at an expected version
type UpdateTemplateRequest struct {
	ExpectedVersion int64          `json:"expected_version"`
	Template        *rbac.Template `json:"template"`
}
