package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore keeps counters in the quota_counters table. Each increment is
// a single upsert so concurrent writers serialize on the row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key Key, amount int64, _ time.Time) (int64, error) {
	query := `
		INSERT INTO quota_counters (tenant_id, feature, window_start, count, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, feature, window_start)
		DO UPDATE SET count = quota_counters.count + EXCLUDED.count, updated_at = NOW()
		RETURNING count
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query, key.TenantID, key.Feature, key.WindowStart, amount).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

// IncrementWithin casts every parameter because the INSERT ... SELECT target
// list gives PostgreSQL no column types to infer them from
func (s *PostgresStore) IncrementWithin(ctx context.Context, key Key, amount, ceiling int64, _ time.Time) (int64, bool, error) {
	query := `
		INSERT INTO quota_counters (tenant_id, feature, window_start, count, updated_at)
		SELECT $1::varchar, $2::varchar, $3::timestamptz, $4::bigint, NOW() WHERE $4::bigint <= $5::bigint
		ON CONFLICT (tenant_id, feature, window_start)
		DO UPDATE SET count = quota_counters.count + EXCLUDED.count, updated_at = NOW()
		WHERE quota_counters.count + EXCLUDED.count <= $5::bigint
		RETURNING count
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query, key.TenantID, key.Feature, key.WindowStart, amount, ceiling).Scan(&count)
	if err == sql.ErrNoRows {
		current, err := s.Get(ctx, key)
		return current, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM quota_counters WHERE tenant_id = $1 AND feature = $2 AND window_start = $3`,
		key.TenantID, key.Feature, key.WindowStart).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quota_counters WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune counters: %w", err)
	}
	return res.RowsAffected()
}
