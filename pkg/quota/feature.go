package quota

import (
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// Metered feature names
const (
	FeatureAPICalls    = "api_calls"
	FeatureOrders      = "orders"
	FeatureOrdersDaily = "orders_daily"
)

// Feature describes a metered action
type Feature struct {
	Name   string
	Window Window
	// TenantCeiling extracts the tenant-wide ceiling
	TenantCeiling func(tenants.Ceilings) int64
	// LimitKey names the effective feature limit that also bounds a user
	LimitKey string
}

// DefaultFeatures returns the built-in metered features
func DefaultFeatures() []Feature {
	return []Feature{
		{
			Name:          FeatureAPICalls,
			Window:        Daily,
			TenantCeiling: func(c tenants.Ceilings) int64 { return c.MaxAPICallsDaily },
			LimitKey:      rbac.LimitAPICallsDaily,
		},
		{
			Name:          FeatureOrders,
			Window:        Monthly,
			TenantCeiling: func(c tenants.Ceilings) int64 { return c.MaxOrdersMonthly },
			LimitKey:      rbac.LimitOrdersMonthly,
		},
		{
			Name:          FeatureOrdersDaily,
			Window:        Daily,
			TenantCeiling: func(c tenants.Ceilings) int64 { return c.MaxOrdersDaily },
			LimitKey:      rbac.LimitOrdersDaily,
		},
	}
}

// tighter returns the more restrictive of two ceilings
func tighter(a, b int64) int64 {
	switch {
	case a == tenants.Unlimited:
		return b
	case b == tenants.Unlimited:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
