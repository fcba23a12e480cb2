// Package access defines the decision values and error classes shared by
// every warden component.
//
// # Decisions
//
// An authorization or quota refusal is a normal outcome, not a defect. Read
// side operations return a Decision:
//
//	d := access.Deny(access.ReasonQuotaExceeded)
//	if !d.Allowed {
//		// caller must not perform the metered action
//	}
//
// Commands that are refused (assigning a role, creating a session) return a
// *DeniedError carrying the same reason code.
//
// # Errors
//
//   - *ValidationError: malformed input, rejected before any state mutation
//   - *DeniedError: a refused command, always with a Reason
//   - *ConflictError: concurrent or versioned write conflict, retry with fresh state
//   - *UnavailableError: persistence failure, the only retryable class
//   - ErrNotFound: missing record
//
// Use the Is* helpers rather than type assertions so wrapped errors match.
package access
