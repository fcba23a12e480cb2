// Package quota enforces per-tenant usage quotas over fixed calendar windows.
//
// # Windows
//
// Daily windows start at 00:00 and monthly windows on the 1st at 00:00 in
// the configured location (UTC by default). A counter for a new window is
// zero until it is first incremented; nothing resets explicitly.
//
// # Ceilings
//
// The effective ceiling of a feature is the tighter of the tenant ceiling
// and the user's effective feature limit. -1 is unlimited and 0 denies
// every consumption.
//
// # Counting
//
// With CountAttempts (the default) the counter is incremented first and the
// post-increment value compared to the ceiling, so the counter records every
// attempt including denied ones:
//
//	ceiling 2: Allowed (1), Allowed (2), Denied (3)
//
// With CountSuccesses the increment is conditional and never passes the
// ceiling.
//
// # Backends
//
// CounterStore implementations:
//   - MemoryStore: lock-striped map for single-process deployments and tests
//   - RedisStore: MULTI/EXEC INCRBY+EXPIREAT, Lua script for conditional increments
//   - PostgresStore: INSERT ... ON CONFLICT DO UPDATE ... RETURNING count
package quota
