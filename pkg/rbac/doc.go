// Package rbac provides the permission template catalog and the role
// assignment resolver for multi-tenant access control.
//
// # Templates
//
// A Template is a named, ranked bundle of capability flags, a marketplace
// allow-list and default feature limits. Ranks form a strict total order:
//
//	super_admin  100
//	admin         80
//	technical     60
//	user          40
//	viewer        20
//
// The baseline set is defined in baseline.yaml and seeded with
// Catalog.UpsertBaseline. Re-seeding never overwrites a template that was
// modified after it was seeded, and a template's rank cannot decrease while
// an active assignment references it.
//
// # Assignments
//
// A RoleAssignment binds one user to one template within one tenant, plus
// optional overrides. The (user, tenant) pair is unique and written with an
// atomic upsert. Revocation flips the active flag and keeps the row.
//
// An actor may only assign or revoke templates whose rank does not exceed
// the actor's own rank. The actor's rank is the higher of its rank in the
// target tenant and its rank in the system tenant.
//
// # Resolution
//
// Resolve merges the template with the assignment overrides key by key:
//
//	perms := template.Capabilities
//	for k, v := range overrides.Capabilities {
//		perms[k] = v
//	}
//
// Unknown capability keys resolve to false. The marketplace wildcards "all"
// and "*" grant every marketplace.
package rbac
