package jobs

import (
	"context"
	"fmt"
)

// Schema holds the DDL the stores expect. Applied on startup with
// EnsureSchema; a real migration tool can own this instead.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	keywords TEXT[] NOT NULL DEFAULT '{}',
	used_keywords TEXT[] NOT NULL DEFAULT '{}',
	target_results INT NOT NULL,
	status TEXT NOT NULL,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	keywords_dispatched INT NOT NULL DEFAULT 0,
	keywords_completed INT NOT NULL DEFAULT 0,
	creators_found INT NOT NULL DEFAULT 0,
	creators_enriched INT NOT NULL DEFAULT 0,
	expansion_round INT NOT NULL DEFAULT 0,
	stop_reason TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_aggregates (
	job_id TEXT PRIMARY KEY REFERENCES jobs(id)
);

CREATE TABLE IF NOT EXISTS job_creators (
	job_id TEXT NOT NULL REFERENCES jobs(id),
	platform TEXT NOT NULL,
	identity TEXT NOT NULL,
	payload JSONB NOT NULL,
	enriched BOOLEAN NOT NULL DEFAULT FALSE,
	saved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, platform, identity)
);

CREATE INDEX IF NOT EXISTS job_creators_job_enriched_idx ON job_creators (job_id, enriched);
`

// EnsureSchema applies the DDL idempotently.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
