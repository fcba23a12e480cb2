// Package api exposes the warden engine over HTTP.
//
// Routes are registered on a gorilla/mux router under /v1. The acting user
// is read from the X-Warden-User header; the client address and user agent
// of the request become the origin of any audit entry the call writes.
//
// Decisions are returned with status 200:
//
//	GET /v1/tenants/acme/users/u-1/capabilities/user_management
//	{"allowed": false, "reason": "capability_missing"}
//
// Errors use the mapping of httputil.WriteError.
package api
