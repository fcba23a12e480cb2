package tenants

import "github.com/platinummonkey/warden/pkg/storage/postgres"

// GetMigrations returns the tenant schema migrations
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					kind VARCHAR(32) NOT NULL DEFAULT 'individual',
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					max_users BIGINT NOT NULL DEFAULT 5,
					max_orders_daily BIGINT NOT NULL DEFAULT -1,
					max_orders_monthly BIGINT NOT NULL DEFAULT 1000,
					max_api_calls_daily BIGINT NOT NULL DEFAULT -1,
					features TEXT[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (status IN ('active', 'inactive', 'suspended')),
					CHECK (kind IN ('individual', 'business', 'enterprise'))
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
			`,
		},
	}
}
