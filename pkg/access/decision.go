package access

// Reason is a machine-readable code explaining a denial. Callers translate
// reasons into user-facing messages.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonTenantSuspended       Reason = "tenant_suspended"
	ReasonTenantInactive        Reason = "tenant_inactive"
	ReasonNoAssignment          Reason = "no_assignment"
	ReasonQuotaExceeded         Reason = "quota_exceeded"
	ReasonCapabilityMissing     Reason = "capability_missing"
	ReasonMarketplaceNotAllowed Reason = "marketplace_not_allowed"
	ReasonInsufficientRank      Reason = "insufficient_rank"
	ReasonSessionInactive       Reason = "session_inactive"
)

// Decision is the outcome of a permission or quota check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Err converts a denying decision into a *DeniedError. It returns nil for an
// allowing decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}
