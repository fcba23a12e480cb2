package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// DefaultIdleTimeout is used when Config.IdleTimeout is unset
const DefaultIdleTimeout = 30 * time.Minute

// PermissionResolver resolves the effective permissions of a user
type PermissionResolver interface {
	Resolve(ctx context.Context, userID, tenantID string) (rbac.Resolution, error)
}

// Config configures a Manager
type Config struct {
	IdleTimeout time.Duration
	// SweepBatch bounds how many sessions one sweep expires
	SweepBatch int
}

// CreateRequest opens a session
type CreateRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Origin   Origin `json:"origin"`
}

// Manager owns the session state machine
type Manager struct {
	store    Store
	resolver PermissionResolver
	idle     time.Duration
	batch    int
	now      func() time.Time
}

// NewManager creates a session manager
func NewManager(store Store, resolver PermissionResolver, config Config) *Manager {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.SweepBatch <= 0 {
		config.SweepBatch = 500
	}
	return &Manager{
		store:    store,
		resolver: resolver,
		idle:     config.IdleTimeout,
		batch:    config.SweepBatch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IdleTimeout returns the configured idle timeout
func (m *Manager) IdleTimeout() time.Duration {
	return m.idle
}

// Create opens a session after resolving the user's permissions. A denied
// resolution returns a *access.DeniedError carrying its reason.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.UserID == "" {
		return nil, access.Invalid("user_id", "must not be empty")
	}
	if req.TenantID == "" {
		return nil, access.Invalid("tenant_id", "must not be empty")
	}

	res, err := m.resolver.Resolve(ctx, req.UserID, req.TenantID)
	if err != nil {
		return nil, access.Unavailable("session.resolve", err)
	}
	if err := res.Decision.Err(); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, access.Unavailable("session.token", err)
	}

	now := m.now()
	s := &Session{
		Token:        token,
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		Origin:       req.Origin,
		State:        StateCreated,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.idle),
		Permissions:  res.Permissions.Clone(),
	}
	if err := s.transition(StateActive); err != nil {
		return nil, err
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, access.Unavailable("session.create", err)
	}
	return s, nil
}

// Get returns a session by token
func (m *Manager) Get(ctx context.Context, token string) (*Session, error) {
	s, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, access.Unavailable("session.get", err)
	}
	return s, nil
}

// Touch records activity at now and pushes the expiry out by the idle
// timeout. It returns false without error when the session is not active or
// has already expired.
func (m *Manager) Touch(ctx context.Context, token string, now time.Time) (bool, error) {
	touched, err := m.store.Touch(ctx, token, now, now.Add(m.idle))
	if err != nil {
		return false, access.Unavailable("session.touch", err)
	}
	if touched {
		return true, nil
	}
	if _, err := m.store.Get(ctx, token); err != nil {
		return false, access.Unavailable("session.touch", err)
	}
	return false, nil
}

// Terminate ends a session and reports whether this call ended it.
// Terminating a session that is already expired or terminated is a no-op and
// keeps the original reason.
func (m *Manager) Terminate(ctx context.Context, token, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonLogout
	}
	changed, err := m.store.Terminate(ctx, token, reason, m.now())
	if err != nil {
		return false, access.Unavailable("session.terminate", err)
	}
	return changed, nil
}

// TerminateForUser terminates every active session of user in tenant and
// returns how many changed.
func (m *Manager) TerminateForUser(ctx context.Context, userID, tenantID, reason string) (int, error) {
	active, err := m.store.ListActive(ctx, userID, tenantID)
	if err != nil {
		return 0, access.Unavailable("session.list", err)
	}

	at := m.now()
	n := 0
	for _, s := range active {
		changed, err := m.store.Terminate(ctx, s.Token, reason, at)
		if err != nil && !access.IsNotFound(err) {
			return n, access.Unavailable("session.terminate", err)
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// ListActive returns the active sessions of a user across tenants
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	list, err := m.store.ListActive(ctx, userID, "")
	if err != nil {
		return nil, access.Unavailable("session.list", err)
	}
	return list, nil
}

// SweepExpired moves every active session whose expiry is before now to
// expired and returns how many moved. Each transition re-checks the expiry
// when it commits.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		tokens, err := m.store.ExpiryCandidates(ctx, now, m.batch)
		if err != nil {
			return expired, access.Unavailable("session.sweep", err)
		}

		moved := 0
		for _, token := range tokens {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			ok, err := m.store.Expire(ctx, token, now)
			if err != nil {
				return expired, access.Unavailable("session.sweep", err)
			}
			if ok {
				moved++
			}
		}
		expired += moved

		// a short page, or a page where every candidate was touched meanwhile,
		// means nothing is left to expire
		if len(tokens) < m.batch || moved == 0 {
			return expired, nil
		}
	}
}

// generateToken generates a random session token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
