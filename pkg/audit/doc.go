// Package audit records security-relevant events: role changes, denials,
// session lifecycle and tenant administration.
//
// The log is append-only. Append never rejects an entry for business
// reasons; the only error it returns is *access.UnavailableError when the
// backing store fails. Entries are removed only by the retention Pruner,
// which runs from the maintenance schedule and can archive entries to S3
// before deleting them.
//
// Query returns entries newest first:
//
//	entries, err := logger.Query(ctx, audit.Filter{
//		TenantID:   "acme",
//		EventTypes: []audit.EventType{audit.EventQuotaDenied},
//		Limit:      50,
//	})
package audit
