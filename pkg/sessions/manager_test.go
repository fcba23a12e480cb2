package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stubResolver grants the user template to "alice" and nobody else
type stubResolver struct {
	err error
}

func (s stubResolver) Resolve(_ context.Context, userID, tenantID string) (rbac.Resolution, error) {
	if s.err != nil {
		return rbac.Resolution{}, s.err
	}
	if userID != "alice" {
		return rbac.Resolution{Decision: access.Deny(access.ReasonNoAssignment)}, nil
	}
	return rbac.Resolution{
		Decision: access.Allow(),
		Permissions: &rbac.EffectivePermissions{
			UserID:       userID,
			TenantID:     tenantID,
			TemplateName: rbac.TemplateUser,
			Rank:         rbac.RankUser,
			Capabilities: map[string]bool{"marketplace_management": true},
		},
	}, nil
}

func newTestManager(store Store) *Manager {
	m := NewManager(store, stubResolver{}, Config{IdleTimeout: 30 * time.Minute, SweepBatch: 2})
	m.now = func() time.Time { return base }
	return m
}

func createSession(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.Create(context.Background(), CreateRequest{UserID: "alice", TenantID: "t1", Origin: Origin{IPAddress: "10.0.0.1"}})
	require.NoError(t, err)
	return s
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateCreated.CanTransition(StateActive))
	assert.True(t, StateActive.CanTransition(StateExpired))
	assert.True(t, StateActive.CanTransition(StateTerminated))
	assert.False(t, StateActive.CanTransition(StateCreated))
	assert.False(t, StateExpired.CanTransition(StateActive))
	assert.False(t, StateTerminated.CanTransition(StateActive))
	assert.True(t, StateExpired.Terminal())
	assert.True(t, StateTerminated.Terminal())
	assert.False(t, StateActive.Terminal())
}

func TestCreate(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	s := createSession(t, m)

	assert.Len(t, s.Token, 64)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, base.Add(30*time.Minute), s.ExpiresAt)
	require.NotNil(t, s.Permissions)
	assert.True(t, s.Permissions.Has("marketplace_management"))

	other := createSession(t, m)
	assert.NotEqual(t, s.Token, other.Token)
}

func TestCreateDenied(t *testing.T) {
	m := newTestManager(NewMemoryStore())

	_, err := m.Create(context.Background(), CreateRequest{UserID: "mallory", TenantID: "t1"})
	assert.True(t, access.IsDenied(err))
	assert.Equal(t, access.ReasonNoAssignment, access.ReasonOf(err))

	_, err = m.Create(context.Background(), CreateRequest{TenantID: "t1"})
	assert.True(t, access.IsValidation(err))
}

func TestCreateResolverFailure(t *testing.T) {
	m := NewManager(NewMemoryStore(), stubResolver{err: errors.New("db down")}, Config{})
	_, err := m.Create(context.Background(), CreateRequest{UserID: "alice", TenantID: "t1"})
	assert.True(t, access.IsUnavailable(err))
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	s := createSession(t, m)

	ok, err := m.Touch(ctx, s.Token, base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, base.Add(50*time.Minute), got.ExpiresAt)
	assert.Equal(t, base.Add(20*time.Minute), got.LastActivity)

	// past expiry the session can no longer be refreshed
	ok, err = m.Touch(ctx, s.Token, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Touch(ctx, "missing", base)
	assert.True(t, access.IsNotFound(err))
}

func TestTerminateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	s := createSession(t, m)

	changed, err := m.Terminate(ctx, s.Token, ReasonAdminForced)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = m.Terminate(ctx, s.Token, ReasonLogout)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := m.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, got.State)
	assert.Equal(t, ReasonAdminForced, got.TerminationReason)
	require.NotNil(t, got.TerminatedAt)

	ok, err := m.Touch(ctx, s.Token, base)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Terminate(ctx, "missing", ReasonLogout)
	assert.True(t, access.IsNotFound(err))
}

func TestTerminateForUser(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	createSession(t, m)
	createSession(t, m)
	third := createSession(t, m)
	_, err := m.Terminate(ctx, third.Token, ReasonLogout)
	require.NoError(t, err)

	n, err := m.TerminateForUser(ctx, "alice", "t1", ReasonRevoked)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := m.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())
	for i := 0; i < 5; i++ {
		createSession(t, m)
	}
	fresh := createSession(t, m)
	_, err := m.Touch(ctx, fresh.Token, base.Add(25*time.Minute))
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx, base.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := m.Get(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	n, err = m.SweepExpired(ctx, base.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// touchingStore touches every candidate after the sweep listed it and
// before the sweep commits
type touchingStore struct {
	*MemoryStore
	touchAt time.Time
}

func (s *touchingStore) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	tokens, err := s.MemoryStore.ExpiryCandidates(ctx, now, limit)
	for _, token := range tokens {
		_, _ = s.MemoryStore.Touch(ctx, token, s.touchAt, s.touchAt.Add(30*time.Minute))
	}
	return tokens, err
}

func TestSweepSparesSessionTouchedMidSweep(t *testing.T) {
	ctx := context.Background()
	store := &touchingStore{MemoryStore: NewMemoryStore(), touchAt: base.Add(29 * time.Minute)}
	m := newTestManager(store)
	s := createSession(t, m)

	n, err := m.SweepExpired(ctx, base.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := m.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, base.Add(59*time.Minute), got.ExpiresAt)
}

func TestSweeperRunOnce(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	m.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	createSession(t, m)

	var reported int
	reportedErr := errors.New("not reported")
	sweeper, err := NewSweeper(m, "", observability.NewNopLogger(), func(n int, err error) { reported, reportedErr = n, err })
	require.NoError(t, err)

	n, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reported)
	assert.NoError(t, reportedErr)

	sweeper.Start()
	sweeper.Stop()
}

// brokenSweepStore fails to list expiry candidates
type brokenSweepStore struct {
	*MemoryStore
}

func (s *brokenSweepStore) ExpiryCandidates(context.Context, time.Time, int) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestSweeperReportsFailure(t *testing.T) {
	m := newTestManager(&brokenSweepStore{MemoryStore: NewMemoryStore()})

	var reportedErr error
	sweeper, err := NewSweeper(m, "", observability.NewNopLogger(), func(_ int, err error) { reportedErr = err })
	require.NoError(t, err)

	n, err := sweeper.RunOnce(context.Background())
	assert.Zero(t, n)
	assert.True(t, access.IsUnavailable(err))
	assert.Equal(t, err, reportedErr)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(newTestManager(NewMemoryStore()), "not a schedule", observability.NewNopLogger(), nil)
	assert.Error(t, err)
}
