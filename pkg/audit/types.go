package audit

import (
	"context"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventRoleAssigned          EventType = "role.assigned"
	EventRoleRevoked           EventType = "role.revoked"
	EventRoleAssignDenied      EventType = "role.assign_denied"
	EventAccessDenied          EventType = "access.denied"
	EventQuotaDenied           EventType = "quota.denied"
	EventSessionCreated        EventType = "session.created"
	EventSessionTerminated     EventType = "session.terminated"
	EventSessionCreateDenied   EventType = "session.create_denied"
	EventTenantCreated         EventType = "tenant.created"
	EventTenantStatusChanged   EventType = "tenant.status_changed"
	EventTenantCeilingsUpdated EventType = "tenant.ceilings_updated"
	EventTenantFeaturesUpdated EventType = "tenant.features_updated"
	EventTemplateUpdated       EventType = "template.updated"
	EventTenantAdminDenied     EventType = "tenant.admin_denied"
)

// Origin describes where the audited request came from
type Origin struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is a single audit record. TenantID is nil for platform-wide events.
type Entry struct {
	ID          int64                  `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	EventType   EventType              `json:"event_type"`
	ActorID     string                 `json:"actor_id"`
	TenantID    *string                `json:"tenant_id,omitempty"`
	Description string                 `json:"description"`
	Origin      Origin                 `json:"origin"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Tenant returns a pointer to id, or nil when id is empty
func Tenant(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	UserID     string
	TenantID   string
	EventTypes []EventType
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
}

// DefaultQueryLimit bounds queries that do not set a limit
const DefaultQueryLimit = 100

// Logger is an append-only audit sink
type Logger interface {
	// Append stores e and assigns its ID.
	Append(ctx context.Context, e *Entry) error
	// Query returns matching entries ordered newest first.
	Query(ctx context.Context, f Filter) ([]*Entry, error)
}

// Retention is the deletion surface used only by the Pruner
type Retention interface {
	// Before returns up to limit entries older than cutoff, oldest first.
	Before(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error)
	// DeleteUpTo removes entries older than cutoff with id <= maxID.
	DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int64, error)
}

func (f Filter) matches(e *Entry) bool {
	if f.UserID != "" && e.ActorID != f.UserID {
		return false
	}
	if f.TenantID != "" && (e.TenantID == nil || *e.TenantID != f.TenantID) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}
