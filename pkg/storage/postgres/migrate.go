package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single versioned schema change owned by a component.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (component, version)
	)
`

// Migrate applies every migration of component that has not been recorded in
// schema_migrations. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, component string, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE component = $1 AND version = $2)`,
			component, m.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s/%d: %w", component, m.Version, err)
		}
		if applied {
			continue
		}

		if err := apply(ctx, db, component, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, component string, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s/%d: %w", component, m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %s/%d (%s): %w", component, m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)`,
		component, m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %s/%d: %w", component, m.Version, err)
	}
	return tx.Commit()
}
