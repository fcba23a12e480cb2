// Package app wires warden's components from a config.Config.
//
// New selects in-memory stores when no PostgreSQL URL is configured and the
// PostgreSQL stores otherwise, applying schema migrations on connect. Quota
// counters live in memory, Redis or PostgreSQL according to
// WARDEN_QUOTA_BACKEND.
//
// Maintenance schedules the background jobs: the session sweep, audit
// retention with optional S3 archiving, and quota counter pruning. The
// server runs it in-process when state is in memory; otherwise the
// warden-maintenance binary runs it.
package app
