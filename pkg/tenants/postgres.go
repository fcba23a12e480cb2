package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/access"
)

const tenantColumns = `id, name, kind, status, max_users, max_orders_daily, max_orders_monthly,
	max_api_calls_daily, features, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a tenant. A duplicate id is reported as a conflict.
func (s *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Kind, t.Status,
		t.Ceilings.MaxUsers, t.Ceilings.MaxOrdersDaily, t.Ceilings.MaxOrdersMonthly, t.Ceilings.MaxAPICallsDaily,
		pq.Array(t.Features), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return access.Conflict("tenant", "tenant %s already exists", t.ID)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", id, access.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants ordered by creation time
func (s *PostgresStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var list []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SetStatus updates the lifecycle status
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	return s.exec(ctx, "set tenant status",
		`UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
}

// UpdateCeilings replaces the ceilings
func (s *PostgresStore) UpdateCeilings(ctx context.Context, id string, c Ceilings, at time.Time) error {
	return s.exec(ctx, "update tenant ceilings", `
		UPDATE tenants
		SET max_users = $2, max_orders_daily = $3, max_orders_monthly = $4, max_api_calls_daily = $5, updated_at = $6
		WHERE id = $1
	`, id, c.MaxUsers, c.MaxOrdersDaily, c.MaxOrdersMonthly, c.MaxAPICallsDaily, at)
}

// SetFeatures replaces the feature set
func (s *PostgresStore) SetFeatures(ctx context.Context, id string, features []string, at time.Time) error {
	return s.exec(ctx, "set tenant features",
		`UPDATE tenants SET features = $2, updated_at = $3 WHERE id = $1`, id, pq.Array(features), at)
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, id string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("tenant %s: %w", id, access.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scanner) (*Tenant, error) {
	t := &Tenant{}
	var features []string
	err := row.Scan(
		&t.ID, &t.Name, &t.Kind, &t.Status,
		&t.Ceilings.MaxUsers, &t.Ceilings.MaxOrdersDaily, &t.Ceilings.MaxOrdersMonthly, &t.Ceilings.MaxAPICallsDaily,
		pq.Array(&features), &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Features = features
	return t, nil
}
