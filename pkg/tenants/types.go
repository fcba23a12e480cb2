package tenants

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
)

// Kind classifies the customer behind a tenant
type Kind string

const (
	KindIndividual Kind = "individual"
	KindBusiness   Kind = "business"
	KindEnterprise Kind = "enterprise"
)

// Validate checks the kind is known
func (k Kind) Validate() error {
	switch k {
	case KindIndividual, KindBusiness, KindEnterprise:
		return nil
	}
	return access.Invalid("kind", "unknown tenant kind %q", k)
}

// Status is the tenant lifecycle state
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Validate checks the status is known
func (s Status) Validate() error {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return nil
	}
	return access.Invalid("status", "unknown tenant status %q", s)
}

// Decision returns the short-circuit decision for a tenant in this state.
func (s Status) Decision() access.Decision {
	switch s {
	case StatusActive:
		return access.Allow()
	case StatusSuspended:
		return access.Deny(access.ReasonTenantSuspended)
	default:
		return access.Deny(access.ReasonTenantInactive)
	}
}

// Unlimited marks a ceiling or limit that never denies.
const Unlimited int64 = -1

// Ceilings are the tenant-wide quota ceilings
type Ceilings struct {
	MaxUsers         int64 `json:"max_users"`
	MaxOrdersDaily   int64 `json:"max_orders_daily"`
	MaxOrdersMonthly int64 `json:"max_orders_monthly"`
	MaxAPICallsDaily int64 `json:"max_api_calls_daily"`
}

// DefaultCeilings returns the ceilings applied when none are supplied.
func DefaultCeilings() Ceilings {
	return Ceilings{
		MaxUsers:         5,
		MaxOrdersDaily:   Unlimited,
		MaxOrdersMonthly: 1000,
		MaxAPICallsDaily: Unlimited,
	}
}

// UnlimitedCeilings returns ceilings that never deny.
func UnlimitedCeilings() Ceilings {
	return Ceilings{
		MaxUsers:         Unlimited,
		MaxOrdersDaily:   Unlimited,
		MaxOrdersMonthly: Unlimited,
		MaxAPICallsDaily: Unlimited,
	}
}

// Validate rejects negative ceilings other than Unlimited.
func (c Ceilings) Validate() error {
	fields := []struct {
		name  string
		value int64
	}{
		{"max_users", c.MaxUsers},
		{"max_orders_daily", c.MaxOrdersDaily},
		{"max_orders_monthly", c.MaxOrdersMonthly},
		{"max_api_calls_daily", c.MaxAPICallsDaily},
	}
	for _, f := range fields {
		if f.value < Unlimited {
			return access.Invalid(f.name, "ceiling must be -1 (unlimited) or non-negative, got %d", f.value)
		}
	}
	return nil
}

// Tenant is an isolated customer boundary
type Tenant struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Kind            Kind      `json:"kind"`
	Status          Status    `json:"status"`
	Ceilings        Ceilings  `json:"ceilings"`
	Features        []string  `json:"features"`
	ActiveUserCount int64     `json:"active_user_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasFeature reports whether the tenant has the named feature enabled
func (t *Tenant) HasFeature(name string) bool {
	for _, f := range t.Features {
		if f == name {
			return true
		}
	}
	return false
}

// CreateRequest describes a new tenant. A nil Ceilings selects DefaultCeilings.
type CreateRequest struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Kind     Kind      `json:"kind"`
	Ceilings *Ceilings `json:"ceilings,omitempty"`
	Features []string  `json:"features,omitempty"`
}

// Store persists tenants
type Store interface {
	Create(ctx context.Context, tenant *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error
	UpdateCeilings(ctx context.Context, id string, ceilings Ceilings, at time.Time) error
	SetFeatures(ctx context.Context, id string, features []string, at time.Time) error
}

// UserCounter counts active role assignments per tenant
type UserCounter interface {
	CountActiveUsers(ctx context.Context, tenantIDs []string) (map[string]int64, error)
}
