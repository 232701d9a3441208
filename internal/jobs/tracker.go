// Package jobs provides the Postgres-backed coordination layer for
// distributed discovery jobs: the job tracker with atomic counter updates
// and row-verified completion, and the capped insert-if-absent creator store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// ErrJobNotFound is returned when a job id matches no row.
var ErrJobNotFound = errors.New("job not found")

// db is the slice of pgxpool.Pool the stores need; pgxmock satisfies it in
// tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// TrackerConfig controls the Postgres connection pool.
type TrackerConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Tracker is the authoritative state machine for a distributed job. Counter
// mutations are single atomic updates; completion is always verified against
// the persisted creator rows, never the counters.
type Tracker struct {
	pool   db
	clock  creator.Clock
	logger *zap.Logger
}

// NewTracker connects a Tracker to Postgres.
func NewTracker(ctx context.Context, cfg TrackerConfig, clock creator.Clock, logger *zap.Logger) (*Tracker, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewTrackerWithPool(pool, clock, logger), nil
}

// NewTrackerWithPool constructs a Tracker from an existing pool (primarily
// for testing).
func NewTrackerWithPool(pool db, clock creator.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{pool: pool, clock: clock, logger: logger}
}

// DB returns the underlying pool handle so sibling stores can share it.
func (t *Tracker) DB() db {
	return t.pool
}

// Close releases the underlying pool resources.
func (t *Tracker) Close() {
	if t == nil || t.pool == nil {
		return
	}
	t.pool.Close()
}

// CreateJob inserts the job row and its empty aggregate row in one
// transaction, so every later worker invocation has a row to lock.
func (t *Tracker) CreateJob(ctx context.Context, job creator.Job) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO jobs (
	id, user_id, platform, keywords, used_keywords, target_results,
	status, enrichment_status, expansion_round, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$9)`,
		job.ID,
		job.UserID,
		string(job.Platform),
		job.Keywords,
		job.UsedKeywords,
		job.TargetResults,
		string(job.Status),
		string(job.EnrichmentStatus),
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if _, err = tx.Exec(ctx, `INSERT INTO job_aggregates (job_id) VALUES ($1)`, job.ID); err != nil {
		return fmt.Errorf("insert job aggregate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

// GetJob loads a job with its counters.
func (t *Tracker) GetJob(ctx context.Context, jobID string) (creator.Job, error) {
	var (
		job        creator.Job
		platform   string
		status     string
		enrichment string
	)
	err := t.pool.QueryRow(ctx, `
SELECT id, user_id, platform, keywords, used_keywords, target_results,
	status, enrichment_status,
	keywords_dispatched, keywords_completed, creators_found, creators_enriched,
	expansion_round, stop_reason, error_text, created_at, updated_at
FROM jobs WHERE id = $1`, jobID).Scan(
		&job.ID,
		&job.UserID,
		&platform,
		&job.Keywords,
		&job.UsedKeywords,
		&job.TargetResults,
		&status,
		&enrichment,
		&job.Counters.KeywordsDispatched,
		&job.Counters.KeywordsCompleted,
		&job.Counters.CreatorsFound,
		&job.Counters.CreatorsEnriched,
		&job.ExpansionRound,
		&job.StopReason,
		&job.ErrorText,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return creator.Job{}, ErrJobNotFound
		}
		return creator.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Platform = creator.Platform(platform)
	job.Status = creator.JobStatus(status)
	job.EnrichmentStatus = creator.EnrichmentStatus(enrichment)
	return job, nil
}

// UpdateStatus transitions a job, refusing to move it out of a terminal
// state so completed/partial/error are each reached exactly once.
func (t *Tracker) UpdateStatus(ctx context.Context, jobID string, status creator.JobStatus) error {
	tag, err := t.pool.Exec(ctx, `
UPDATE jobs SET status = $2, updated_at = $3
WHERE id = $1 AND status NOT IN ('completed','partial','error')`,
		jobID, string(status), t.clock.Now())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		t.logger.Debug("status transition skipped",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
		)
	}
	return nil
}

// SetError marks a job terminally failed with a reason.
func (t *Tracker) SetError(ctx context.Context, jobID, errText string) error {
	_, err := t.pool.Exec(ctx, `
UPDATE jobs SET status = 'error', error_text = $2, updated_at = $3
WHERE id = $1 AND status NOT IN ('completed','partial','error')`,
		jobID, errText, t.clock.Now())
	if err != nil {
		return fmt.Errorf("set job error: %w", err)
	}
	return nil
}

// RecordShortfall stamps why keyword expansion stopped before the target was
// met. The first recorded reason wins; later workers observing a different
// stop condition do not overwrite it.
func (t *Tracker) RecordShortfall(ctx context.Context, jobID, reason string) error {
	_, err := t.pool.Exec(ctx, `
UPDATE jobs SET stop_reason = $2, updated_at = $3
WHERE id = $1 AND stop_reason = ''`,
		jobID, reason, t.clock.Now())
	if err != nil {
		return fmt.Errorf("record job shortfall: %w", err)
	}
	return nil
}

// SetKeywords persists the post-expansion keyword list and the cumulative
// used-keyword set.
func (t *Tracker) SetKeywords(ctx context.Context, jobID string, keywords, used []string) error {
	_, err := t.pool.Exec(ctx, `
UPDATE jobs SET keywords = $2, used_keywords = $3, updated_at = $4 WHERE id = $1`,
		jobID, keywords, used, t.clock.Now())
	if err != nil {
		return fmt.Errorf("set job keywords: %w", err)
	}
	return nil
}

// AppendKeywords grows the keyword list and used set with fresh keywords
// from a re-expansion round.
func (t *Tracker) AppendKeywords(ctx context.Context, jobID string, fresh []string) error {
	_, err := t.pool.Exec(ctx, `
UPDATE jobs SET keywords = keywords || $2, used_keywords = used_keywords || $2, updated_at = $3
WHERE id = $1`,
		jobID, fresh, t.clock.Now())
	if err != nil {
		return fmt.Errorf("append job keywords: %w", err)
	}
	return nil
}

// IncrementCounters applies counter deltas as a single atomic update. Many
// independent worker invocations call this concurrently, so it must never
// read-then-write.
func (t *Tracker) IncrementCounters(ctx context.Context, jobID string, delta creator.JobCounters) error {
	_, err := t.pool.Exec(ctx, `
UPDATE jobs SET
	keywords_dispatched = keywords_dispatched + $2,
	keywords_completed = keywords_completed + $3,
	creators_found = creators_found + $4,
	creators_enriched = creators_enriched + $5,
	updated_at = $6
WHERE id = $1`,
		jobID,
		delta.KeywordsDispatched,
		delta.KeywordsCompleted,
		delta.CreatorsFound,
		delta.CreatorsEnriched,
		t.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("increment job counters: %w", err)
	}
	return nil
}

// IncrementExpansionRound bumps the round counter atomically and returns the
// new value, so concurrent final-keyword workers cannot both start a round.
func (t *Tracker) IncrementExpansionRound(ctx context.Context, jobID string) (int, error) {
	var round int
	err := t.pool.QueryRow(ctx, `
UPDATE jobs SET expansion_round = expansion_round + 1, updated_at = $2
WHERE id = $1
RETURNING expansion_round`, jobID, t.clock.Now()).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("increment expansion round: %w", err)
	}
	return round, nil
}
