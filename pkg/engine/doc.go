// Package engine is the single entry point callers use to ask what an
// authenticated user may do inside a tenant and how much of a metered
// resource they may consume.
//
// An Engine composes the template catalog, tenant registry, role resolver,
// quota enforcer, session manager and audit log. Each operation runs inside
// an OpenTelemetry span and records a warden_decisions_total sample. Every
// denial of an authenticated action writes exactly one audit entry; a failed
// audit write is logged and counted but never changes the decision.
//
// Read paths return decisions as values:
//
//	d, err := eng.HasCapability(ctx, "u-1", "acme", "user_management")
//	if err != nil {
//		return err // validation, not found or unavailable
//	}
//	if !d.Allowed {
//		return d.Err()
//	}
//
// Commands refused by policy return *access.DeniedError.
package engine
