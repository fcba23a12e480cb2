package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func cloneSession(s *Session) *Session {
	c := *s
	if s.TerminatedAt != nil {
		at := *s.TerminatedAt
		c.TerminatedAt = &at
	}
	c.Permissions = s.Permissions.Clone()
	return &c
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.Token]; exists {
		return access.Conflict("session", "token already exists")
	}
	m.sessions[s.Token] = cloneSession(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session: %w", access.ErrNotFound)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Touch(_ context.Context, token string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok || s.State != StateActive || s.ExpiresAt.Before(now) {
		return false, nil
	}
	s.LastActivity = now
	s.ExpiresAt = expiresAt
	return true, nil
}

func (m *MemoryStore) Terminate(_ context.Context, token, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return false, fmt.Errorf("session: %w", access.ErrNotFound)
	}
	if s.State.Terminal() {
		return false, nil
	}
	if err := s.transition(StateTerminated); err != nil {
		return false, err
	}
	s.TerminatedAt = &at
	s.TerminationReason = reason
	return true, nil
}

func (m *MemoryStore) ListActive(_ context.Context, userID, tenantID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []*Session
	for _, s := range m.sessions {
		if s.State != StateActive || s.UserID != userID {
			continue
		}
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		list = append(list, cloneSession(s))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastActivity.After(list[j].LastActivity) })
	return list, nil
}

func (m *MemoryStore) ExpiryCandidates(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tokens []string
	for token, s := range m.sessions {
		if s.State == StateActive && s.ExpiresAt.Before(now) {
			tokens = append(tokens, token)
			if len(tokens) == limit {
				break
			}
		}
	}
	return tokens, nil
}

func (m *MemoryStore) Expire(_ context.Context, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok || s.State != StateActive || !s.ExpiresAt.Before(now) {
		return false, nil
	}
	return true, s.transition(StateExpired)
}
