package rbac

import "github.com/platinummonkey/warden/pkg/storage/postgres"

// GetMigrations returns the RBAC schema migrations. They depend on the
// tenants table.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create permission_templates table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_templates (
					name VARCHAR(64) PRIMARY KEY,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					rank INT NOT NULL UNIQUE CHECK (rank BETWEEN 1 AND 1000),
					capabilities JSONB NOT NULL DEFAULT '{}',
					marketplaces JSONB NOT NULL DEFAULT '[]',
					feature_limits JSONB NOT NULL DEFAULT '{}',
					version BIGINT NOT NULL DEFAULT 1,
					seeded_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id),
					template_name VARCHAR(64) NOT NULL REFERENCES permission_templates(name),
					overrides JSONB NOT NULL DEFAULT '{}',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					assigned_by VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ,
					revoked_by VARCHAR(255),
					UNIQUE (user_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_assignments_tenant_active ON role_assignments(tenant_id) WHERE active;
				CREATE INDEX IF NOT EXISTS idx_role_assignments_template_active ON role_assignments(template_name) WHERE active;
			`,
		},
	}
}
