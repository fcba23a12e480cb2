package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/access"
)

const templateColumns = `name, display_name, description, rank, capabilities, marketplaces, feature_limits,
	version, seeded_at, created_at, modified_at`

const assignmentColumns = `id, user_id, tenant_id, template_name, overrides, active, assigned_by,
	created_at, updated_at, revoked_at, revoked_by`

// Store implements TemplateStore and AssignmentStore on PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetTemplate retrieves a template by name
func (s *Store) GetTemplate(ctx context.Context, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM permission_templates WHERE name = $1`, name)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", name, access.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListTemplates lists templates by rank descending
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM permission_templates ORDER BY rank DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var list []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// CreateTemplate inserts a template unless its name is taken
func (s *Store) CreateTemplate(ctx context.Context, t *Template) (bool, error) {
	caps, marketplaces, limits, err := marshalTemplate(t)
	if err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO NOTHING
	`, t.Name, t.DisplayName, t.Description, int(t.Rank), caps, marketplaces, limits,
		t.Version, t.SeededAt, t.CreatedAt, t.ModifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, access.Conflict("template", "rank %d is already in use", t.Rank)
		}
		return false, fmt.Errorf("failed to create template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create template: %w", err)
	}
	return affected == 1, nil
}

// UpdateTemplate replaces a template with a compare-and-swap on version. The
// rank may only decrease when no active assignment references the template;
// both conditions are evaluated by the UPDATE itself.
func (s *Store) UpdateTemplate(ctx context.Context, t *Template, expectedVersion int64) error {
	caps, marketplaces, limits, err := marshalTemplate(t)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_templates
		SET display_name = $2, description = $3, rank = $4, capabilities = $5, marketplaces = $6,
		    feature_limits = $7, version = $8, seeded_at = $9, modified_at = $10
		WHERE name = $1 AND version = $11
		  AND ($4 >= rank OR NOT EXISTS (
		      SELECT 1 FROM role_assignments WHERE template_name = $1 AND active
		  ))
	`, t.Name, t.DisplayName, t.Description, int(t.Rank), caps, marketplaces, limits,
		t.Version, t.SeededAt, t.ModifiedAt, expectedVersion)
	if err != nil {
		if isUniqueViolation(err) {
			return access.Conflict("template", "rank %d is already in use", t.Rank)
		}
		return fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var version int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM permission_templates WHERE name = $1`, t.Name).Scan(&version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("template %s: %w", t.Name, access.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if version != expectedVersion {
		return access.Conflict("template", "template %s is at version %d, not %d", t.Name, version, expectedVersion)
	}
	return access.Conflict("template", "rank of %s cannot decrease while it has active assignments", t.Name)
}

// UpsertAssignment writes the (user, tenant) row inside a transaction that
// locks the tenant row, so concurrent assignments to one tenant serialize
// and the user ceiling cannot be overshot.
func (s *Store) UpsertAssignment(ctx context.Context, a *RoleAssignment, maxUsers int64) error {
	overrides, err := json.Marshal(a.Overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM tenants WHERE id = $1 FOR UPDATE`, a.TenantID).Scan(&locked)
	if err == sql.ErrNoRows {
		return fmt.Errorf("tenant %s: %w", a.TenantID, access.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock tenant: %w", err)
	}

	if maxUsers >= 0 {
		var reassignment bool
		var active int64
		err = tx.QueryRowContext(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM role_assignments WHERE user_id = $1 AND tenant_id = $2 AND active),
				(SELECT COUNT(*) FROM role_assignments WHERE tenant_id = $2 AND active)
		`, a.UserID, a.TenantID).Scan(&reassignment, &active)
		if err != nil {
			return fmt.Errorf("failed to count active users: %w", err)
		}
		if !reassignment && active >= maxUsers {
			return ErrUserCeilingReached
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO role_assignments (user_id, tenant_id, template_name, overrides, active, assigned_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7)
		ON CONFLICT (user_id, tenant_id) DO UPDATE
		SET template_name = EXCLUDED.template_name,
		    overrides = EXCLUDED.overrides,
		    active = TRUE,
		    assigned_by = EXCLUDED.assigned_by,
		    updated_at = EXCLUDED.updated_at,
		    revoked_at = NULL,
		    revoked_by = NULL
		RETURNING id, created_at
	`, a.UserID, a.TenantID, a.TemplateName, overrides, a.AssignedBy, a.CreatedAt, a.UpdatedAt).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignment: %w", err)
	}
	return nil
}

// GetActiveAssignment returns the active assignment of user in tenant
func (s *Store) GetActiveAssignment(ctx context.Context, userID, tenantID string) (*RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignments
		WHERE user_id = $1 AND tenant_id = $2 AND active
	`, userID, tenantID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %s/%s: %w", tenantID, userID, access.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// DeactivateAssignment marks the active assignment revoked
func (s *Store) DeactivateAssignment(ctx context.Context, userID, tenantID, actorID string, at time.Time) (*RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE role_assignments
		SET active = FALSE, revoked_at = $3, revoked_by = $4, updated_at = $3
		WHERE user_id = $1 AND tenant_id = $2 AND active
		RETURNING `+assignmentColumns,
		userID, tenantID, at, actorID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %s/%s: %w", tenantID, userID, access.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return a, nil
}

// ListAssignments lists active assignments of a tenant
func (s *Store) ListAssignments(ctx context.Context, tenantID string) ([]*RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignments
		WHERE tenant_id = $1 AND active
		ORDER BY user_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var list []*RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CountActiveUsers counts active assignments per tenant
func (s *Store) CountActiveUsers(ctx context.Context, tenantIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tenantIDs))
	if len(tenantIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, COUNT(*) FROM role_assignments
		WHERE active AND tenant_id = ANY($1)
		GROUP BY tenant_id
	`, pq.Array(tenantIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row scanner) (*Template, error) {
	t := &Template{}
	var rank int
	var caps, marketplaces, limits []byte
	var seededAt sql.NullTime

	err := row.Scan(&t.Name, &t.DisplayName, &t.Description, &rank, &caps, &marketplaces, &limits,
		&t.Version, &seededAt, &t.CreatedAt, &t.ModifiedAt)
	if err != nil {
		return nil, err
	}
	t.Rank = Rank(rank)
	if seededAt.Valid {
		seeded := seededAt.Time
		t.SeededAt = &seeded
	}
	if err := json.Unmarshal(caps, &t.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal(marketplaces, &t.Marketplaces); err != nil {
		return nil, fmt.Errorf("failed to unmarshal marketplaces: %w", err)
	}
	if err := json.Unmarshal(limits, &t.FeatureLimits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature limits: %w", err)
	}
	return t, nil
}

func scanAssignment(row scanner) (*RoleAssignment, error) {
	a := &RoleAssignment{}
	var overrides []byte
	var revokedAt sql.NullTime
	var revokedBy sql.NullString

	err := row.Scan(&a.ID, &a.UserID, &a.TenantID, &a.TemplateName, &overrides, &a.Active, &a.AssignedBy,
		&a.CreatedAt, &a.UpdatedAt, &revokedAt, &revokedBy)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		revoked := revokedAt.Time
		a.RevokedAt = &revoked
	}
	a.RevokedBy = revokedBy.String
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &a.Overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	return a, nil
}

func marshalTemplate(t *Template) (caps, marketplaces, limits []byte, err error) {
	if caps, err = json.Marshal(t.Capabilities); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	m := t.Marketplaces
	if m == nil {
		m = MarketplaceAccess{}
	}
	if marketplaces, err = json.Marshal(m); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal marketplaces: %w", err)
	}
	if limits, err = json.Marshal(t.FeatureLimits); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal feature limits: %w", err)
	}
	return caps, marketplaces, limits, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
