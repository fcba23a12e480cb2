package audit

import "github.com/platinummonkey/warden/pkg/storage/postgres"

// GetMigrations returns the audit log schema migrations
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					actor_id VARCHAR(255) NOT NULL DEFAULT '',
					tenant_id VARCHAR(64),
					description TEXT NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					request_id VARCHAR(100) NOT NULL DEFAULT '',
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON audit_log(event_type);
			`,
		},
	}
}
