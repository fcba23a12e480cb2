package sessions

import "github.com/platinummonkey/warden/pkg/storage/postgres"

// GetMigrations returns the session schema migrations
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					token VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL,
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					location VARCHAR(255) NOT NULL DEFAULT '',
					state VARCHAR(16) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					last_activity TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					terminated_at TIMESTAMPTZ,
					termination_reason VARCHAR(64) NOT NULL DEFAULT '',
					permissions JSONB,
					CHECK (state IN ('created', 'active', 'expired', 'terminated'))
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, state);
				CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at) WHERE state = 'active';
			`,
		},
	}
}
