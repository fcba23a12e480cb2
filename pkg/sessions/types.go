package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// State is the lifecycle state of a session
type State string

const (
	StateCreated    State = "created"
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateTerminated State = "terminated"
)

// transitions lists the states reachable from each state
var transitions = map[State][]State{
	StateCreated: {StateActive, StateTerminated},
	StateActive:  {StateExpired, StateTerminated},
}

// CanTransition reports whether s may move to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Common termination reasons
const (
	ReasonLogout      = "logout"
	ReasonRevoked     = "revoked"
	ReasonAdminForced = "admin-forced"
)

// Origin describes where a session was opened from
type Origin struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Session is an authenticated session. Permissions is the snapshot resolved
// at creation; later template edits do not change it.
type Session struct {
	Token             string                     `json:"token"`
	UserID            string                     `json:"user_id"`
	TenantID          string                     `json:"tenant_id"`
	Origin            Origin                     `json:"origin"`
	State             State                      `json:"state"`
	CreatedAt         time.Time                  `json:"created_at"`
	LastActivity      time.Time                  `json:"last_activity"`
	ExpiresAt         time.Time                  `json:"expires_at"`
	TerminatedAt      *time.Time                 `json:"terminated_at,omitempty"`
	TerminationReason string                     `json:"termination_reason,omitempty"`
	Permissions       *rbac.EffectivePermissions `json:"permissions,omitempty"`
}

// transition moves the session to next or fails
func (s *Session) transition(next State) error {
	if !s.State.CanTransition(next) {
		return fmt.Errorf("invalid session transition %s -> %s", s.State, next)
	}
	s.State = next
	return nil
}

// Store persists sessions. Conditional methods report whether a row changed.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	// Touch refreshes an active, unexpired session.
	Touch(ctx context.Context, token string, now, expiresAt time.Time) (bool, error)
	// Terminate moves a non-terminal session to terminated. It returns
	// access.ErrNotFound for unknown tokens and false for terminal ones.
	Terminate(ctx context.Context, token, reason string, at time.Time) (bool, error)
	// ListActive returns active sessions of user, in tenant when non-empty.
	ListActive(ctx context.Context, userID, tenantID string) ([]*Session, error)
	// ExpiryCandidates returns tokens of active sessions that expired before now.
	ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Expire moves one session to expired if it is still active and its
	// expiry is still before now.
	Expire(ctx context.Context, token string, now time.Time) (bool, error)
}
