// Package tenants provides the tenant registry: tenant identity, lifecycle
// status and tenant-wide quota ceilings.
//
// # Lifecycle
//
// Tenants are never deleted. Status moves between active, inactive and
// suspended; only active tenants admit any access. Components check the
// status first and deny before running permission or quota logic.
//
// # Ceilings
//
// Each tenant carries four ceilings:
//   - max_users: active role assignments
//   - max_orders_daily, max_orders_monthly: order quota windows
//   - max_api_calls_daily: API call quota window
//
// A ceiling of -1 is unlimited and 0 denies every consumption. Ceilings
// omitted at creation default to 5 users and 1000 orders per month, the
// rest unlimited.
//
// # Active user count
//
// ActiveUserCount is derived on every read from active role assignments via
// a UserCounter and is never stored.
package tenants
