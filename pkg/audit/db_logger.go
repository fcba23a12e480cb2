package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/access"
)

const entryColumns = `id, timestamp, event_type, actor_id, tenant_id, description,
	ip_address, user_agent, request_id, metadata`

// DBLogger stores audit entries in the audit_log table
type DBLogger struct {
	db     *sql.DB
	reader func() *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// WithReader routes Query to the connection returned by reader, typically a
// read replica. Retention reads stay on the primary.
func (l *DBLogger) WithReader(reader func() *sql.DB) *DBLogger {
	l.reader = reader
	return l
}

func (l *DBLogger) readDB() *sql.DB {
	if l.reader != nil {
		if db := l.reader(); db != nil {
			return db
		}
	}
	return l.db
}

// Append inserts e and sets its ID
func (l *DBLogger) Append(ctx context.Context, e *Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			// metadata that cannot be encoded is dropped
			metadataJSON = nil
		}
	}

	query := `
		INSERT INTO audit_log (
			timestamp, event_type, actor_id, tenant_id, description,
			ip_address, user_agent, request_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := l.db.QueryRowContext(ctx, query,
		e.Timestamp, e.EventType, e.ActorID, e.TenantID, e.Description,
		e.Origin.IPAddress, e.Origin.UserAgent, e.Origin.RequestID, metadataJSON,
	).Scan(&e.ID)
	if err != nil {
		return access.Unavailable("audit.append", fmt.Errorf("failed to insert audit entry: %w", err))
	}
	return nil
}

// Query searches entries, newest first
func (l *DBLogger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_log WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if f.UserID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, f.UserID)
		argCount++
	}

	if f.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, f.TenantID)
		argCount++
	}

	if len(f.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		types := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			types[i] = string(et)
		}
		args = append(args, pq.Array(types))
		argCount++
	}

	if f.Start != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *f.Start)
		argCount++
	}

	if f.End != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *f.End)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", argCount)
	args = append(args, f.limit())
	argCount++

	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, f.Offset)
	}

	entries, err := l.query(ctx, l.readDB(), query, args...)
	if err != nil {
		return nil, access.Unavailable("audit.query", err)
	}
	return entries, nil
}

// Before returns up to limit entries older than cutoff, oldest first
func (l *DBLogger) Before(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_log WHERE timestamp < $1 ORDER BY id ASC LIMIT $2`
	return l.query(ctx, l.db, query, cutoff, limit)
}

// DeleteUpTo removes entries older than cutoff with id <= maxID
func (l *DBLogger) DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < $1 AND id <= $2`, cutoff, maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return result.RowsAffected()
}

func (l *DBLogger) query(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			e            Entry
			tenantID     sql.NullString
			metadataJSON []byte
		)
		err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.ActorID, &tenantID, &e.Description,
			&e.Origin.IPAddress, &e.Origin.UserAgent, &e.Origin.RequestID, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if tenantID.Valid {
			e.TenantID = &tenantID.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
