package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const sessionColumns = `token, user_id, tenant_id, ip_address, user_agent, location, state,
	created_at, last_activity, expires_at, terminated_at, termination_reason, permissions`

// PostgresStore implements Store on the sessions table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	perms, err := json.Marshal(s.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = p.db.ExecContext(ctx, query,
		s.Token, s.UserID, s.TenantID, s.Origin.IPAddress, s.Origin.UserAgent, s.Origin.Location,
		s.State, s.CreatedAt, s.LastActivity, s.ExpiresAt, s.TerminatedAt, s.TerminationReason, perms)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return access.Conflict("session", "token already exists")
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, token string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", access.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Touch(ctx context.Context, token string, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sessions SET last_activity = $2, expires_at = $3
		WHERE token = $1 AND state = 'active' AND expires_at >= $2
	`
	return p.execChanged(ctx, "touch", query, token, now, expiresAt)
}

func (p *PostgresStore) Terminate(ctx context.Context, token, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE sessions SET state = 'terminated', terminated_at = $3, termination_reason = $2
		WHERE token = $1 AND state IN ('created', 'active')
	`
	changed, err := p.execChanged(ctx, "terminate", query, token, reason, at)
	if err != nil || changed {
		return changed, err
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE token = $1)`, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("session: %w", access.ErrNotFound)
	}
	return false, nil
}

func (p *PostgresStore) ListActive(ctx context.Context, userID, tenantID string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND state = 'active' AND ($2 = '' OR tenant_id = $2)
		ORDER BY last_activity DESC`
	rows, err := p.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var list []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (p *PostgresStore) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT token FROM sessions WHERE state = 'active' AND expires_at < $1 ORDER BY expires_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (p *PostgresStore) Expire(ctx context.Context, token string, now time.Time) (bool, error) {
	query := `UPDATE sessions SET state = 'expired' WHERE token = $1 AND state = 'active' AND expires_at < $2`
	return p.execChanged(ctx, "expire", query, token, now)
}

func (p *PostgresStore) execChanged(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s session: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s            Session
		terminatedAt sql.NullTime
		perms        []byte
	)
	err := row.Scan(&s.Token, &s.UserID, &s.TenantID, &s.Origin.IPAddress, &s.Origin.UserAgent, &s.Origin.Location,
		&s.State, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &terminatedAt, &s.TerminationReason, &perms)
	if err != nil {
		return nil, err
	}
	if terminatedAt.Valid {
		t := terminatedAt.Time
		s.TerminatedAt = &t
	}
	if len(perms) > 0 && string(perms) != "null" {
		var p rbac.EffectivePermissions
		if err := json.Unmarshal(perms, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		s.Permissions = &p
	}
	return &s, nil
}
