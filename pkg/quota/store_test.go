package quota

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{TenantID: "t1", Feature: FeatureAPICalls, WindowStart: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "warden:"), mr
}

// exerciseStore runs the behavior every backend shares
func exerciseStore(t *testing.T, store CounterStore) {
	ctx := context.Background()
	expireAt := time.Now().Add(time.Hour)

	v, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = store.Increment(ctx, testKey, 2, expireAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, applied, err := store.IncrementWithin(ctx, testKey, 1, 3, expireAt)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(3), v)

	v, applied, err = store.IncrementWithin(ctx, testKey, 1, 3, expireAt)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(3), v)

	v, err = store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStorePrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	old := testKey
	old.WindowStart = testKey.WindowStart.AddDate(0, -2, 0)

	_, err := store.Increment(ctx, old, 1, time.Time{})
	require.NoError(t, err)
	_, err = store.Increment(ctx, testKey, 1, time.Time{})
	require.NoError(t, err)

	removed, err := store.Prune(ctx, testKey.WindowStart.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	v, _ := store.Get(ctx, old)
	assert.Equal(t, int64(0), v)
	v, _ = store.Get(ctx, testKey)
	assert.Equal(t, int64(1), v)
}

func TestMemoryStoreConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Increment(ctx, testKey, 1, time.Time{})
		}()
	}
	wg.Wait()

	v, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	exerciseStore(t, store)
}

func TestRedisStoreSetsExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, testKey, 1, time.Now().Add(2*time.Hour))
	require.NoError(t, err)

	ttl := mr.TTL("warden:" + testKey.String())
	assert.True(t, ttl > time.Hour, "ttl %s", ttl)

	mr.FastForward(3 * time.Hour)
	v, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Increment(context.Background(), testKey, 1, time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestPostgresStoreIncrement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO quota_counters").
		WithArgs("t1", FeatureAPICalls, testKey.WindowStart, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	v, err := NewPostgresStore(db).Increment(context.Background(), testKey, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreIncrementWithinRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO quota_counters").
		WithArgs("t1", FeatureAPICalls, testKey.WindowStart, int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT count FROM quota_counters").
		WithArgs("t1", FeatureAPICalls, testKey.WindowStart).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	v, applied, err := NewPostgresStore(db).IncrementWithin(context.Background(), testKey, 1, 2, time.Time{})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(2), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreIncrementWithinApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT \$1::varchar, \$2::varchar, \$3::timestamptz, \$4::bigint, NOW\(\) WHERE \$4::bigint <= \$5::bigint`).
		WithArgs("t1", FeatureAPICalls, testKey.WindowStart, int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	v, applied, err := NewPostgresStore(db).IncrementWithin(context.Background(), testKey, 1, 2, time.Time{})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStoreRefusesOverflow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Increment(ctx, testKey, 1, time.Time{})
	require.NoError(t, err)

	v, err := store.Increment(ctx, testKey, math.MaxInt64, time.Time{})
	assert.ErrorIs(t, err, ErrCounterOverflow)
	assert.Equal(t, int64(1), v)

	v, applied, err := store.IncrementWithin(ctx, testKey, math.MaxInt64, math.MaxInt64, time.Time{})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(1), v)

	v, err = store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestPostgresStoreGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT count FROM quota_counters").WillReturnError(sql.ErrNoRows)

	v, err := NewPostgresStore(db).Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestPostgresStorePrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := testKey.WindowStart
	mock.ExpectExec("DELETE FROM quota_counters").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := NewPostgresStore(db).Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
}
