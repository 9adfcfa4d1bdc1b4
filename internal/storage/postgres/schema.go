package postgres

import (
	"context"
)

// Schema is applied on startup. CREATE IF NOT EXISTS keeps restarts
// idempotent; there is no migration framework at this scale.
const schema = `
CREATE TABLE IF NOT EXISTS publishers (
	id                        TEXT PRIMARY KEY,
	domain                    TEXT NOT NULL UNIQUE,
	email                     TEXT NOT NULL,
	status                    TEXT NOT NULL DEFAULT 'active',
	api_key_hash              TEXT NOT NULL UNIQUE,
	admin_api_key_ref         TEXT NOT NULL DEFAULT '',
	subscription_tier         TEXT NOT NULL DEFAULT 'free',
	config                    JSONB NOT NULL DEFAULT '{}',
	widget_config             JSONB NOT NULL DEFAULT '{}',
	total_blogs_processed     INTEGER NOT NULL DEFAULT 0,
	blog_slots_reserved       INTEGER NOT NULL DEFAULT 0,
	total_questions_generated INTEGER NOT NULL DEFAULT 0,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active_at            TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_publishers_domain ON publishers (domain);
CREATE INDEX IF NOT EXISTS idx_publishers_api_key_hash ON publishers (api_key_hash);
CREATE INDEX IF NOT EXISTS idx_publishers_status ON publishers (status);
`

func (p *PostgresDB) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}
