package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/access"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresTouchChecksStateAndExpiry(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE sessions SET last_activity = \$2, expires_at = \$3\s+WHERE token = \$1 AND state = 'active' AND expires_at >= \$2`).
		WithArgs("tok", now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Touch(context.Background(), "tok", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExpireComparesAtCommit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE sessions SET state = 'expired' WHERE token = \$1 AND state = 'active' AND expires_at < \$2`).
		WithArgs("tok", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Expire(context.Background(), "tok", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresTerminateUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sessions SET state = 'terminated'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.Terminate(context.Background(), "tok", ReasonLogout, time.Now())
	assert.True(t, access.IsNotFound(err))
}

func TestPostgresTerminateAlreadyTerminal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sessions SET state = 'terminated'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	changed, err := store.Terminate(context.Background(), "tok", ReasonLogout, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPostgresGetScansPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	cols := []string{"token", "user_id", "tenant_id", "ip_address", "user_agent", "location", "state",
		"created_at", "last_activity", "expires_at", "terminated_at", "termination_reason", "permissions"}
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"tok", "alice", "t1", "10.0.0.1", "curl", "", "active",
			now, now, now.Add(time.Hour), nil, "",
			[]byte(`{"user_id":"alice","tenant_id":"t1","template":"user","rank":40,"capabilities":{"view_logs":true}}`)))

	s, err := store.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, "10.0.0.1", s.Origin.IPAddress)
	require.NotNil(t, s.Permissions)
	assert.True(t, s.Permissions.Has("view_logs"))
	assert.Nil(t, s.TerminatedAt)
}
