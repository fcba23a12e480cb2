package quota

import "github.com/platinummonkey/warden/pkg/storage/postgres"

// GetMigrations returns the quota counter schema migrations
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create quota_counters table",
			SQL: `
				CREATE TABLE IF NOT EXISTS quota_counters (
					tenant_id VARCHAR(64) NOT NULL,
					feature VARCHAR(64) NOT NULL,
					window_start TIMESTAMPTZ NOT NULL,
					count BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, feature, window_start)
				);

				CREATE INDEX IF NOT EXISTS idx_quota_counters_window ON quota_counters(window_start);
			`,
		},
	}
}
