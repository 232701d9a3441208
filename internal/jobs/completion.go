package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// staleResolveThreshold is the enriched fraction at or above which a stale
// job is resolved as completed rather than partial.
const staleResolveThreshold = 0.8

// CheckAndComplete verifies completion against the persisted creator rows.
// Counters can drift under concurrent partial failures, so the decision
// reads COUNT(*) directly from job_creators and resolves the job only when
// every row is enriched and at least one row exists. Jobs that enriched
// everything they found but fell short of the target resolve as partial,
// not completed; the comparison against target_results happens in the same
// update so the row is the single source of truth. The returned status is
// empty when the job was not resolved by this call.
func (t *Tracker) CheckAndComplete(ctx context.Context, jobID string) (creator.JobStatus, creator.CreatorCounts, error) {
	counts, err := t.countCreatorRows(ctx, jobID)
	if err != nil {
		return "", creator.CreatorCounts{}, err
	}
	if counts.Total == 0 || counts.Enriched < counts.Total {
		return "", counts, nil
	}

	var status string
	err = t.pool.QueryRow(ctx, `
UPDATE jobs SET
	status = CASE WHEN $2 >= target_results THEN 'completed' ELSE 'partial' END,
	enrichment_status = 'done',
	updated_at = $3
WHERE id = $1 AND status NOT IN ('completed','partial','error')
RETURNING status`,
		jobID, counts.Total, t.clock.Now()).Scan(&status)
	if err != nil {
		// No row updated means another worker resolved the job first.
		if errors.Is(err, pgx.ErrNoRows) {
			return "", counts, nil
		}
		return "", counts, fmt.Errorf("complete job: %w", err)
	}
	t.logger.Info("job resolved",
		zap.String("job_id", jobID),
		zap.String("status", status),
		zap.Int("creators", counts.Total),
	)
	return creator.JobStatus(status), counts, nil
}

// CheckStaleAndComplete force-resolves jobs with no progress inside the
// stale window: completed at or above the enrichment threshold, otherwise
// partial with the observed percentage recorded. It returns the resolved
// job ids.
func (t *Tracker) CheckStaleAndComplete(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := t.clock.Now().Add(-staleAfter)
	rows, err := t.pool.Query(ctx, `
SELECT id FROM jobs
WHERE status NOT IN ('pending','completed','partial','error') AND updated_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stale jobs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale job id: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}

	var resolved []string
	for _, id := range stale {
		if err := t.resolveStale(ctx, id); err != nil {
			t.logger.Warn("stale job resolution failed",
				zap.String("job_id", id),
				zap.Error(err),
			)
			continue
		}
		resolved = append(resolved, id)
	}
	return resolved, nil
}

func (t *Tracker) resolveStale(ctx context.Context, jobID string) error {
	counts, err := t.countCreatorRows(ctx, jobID)
	if err != nil {
		return err
	}
	fraction := counts.Fraction()
	status := creator.JobStatusPartial
	if counts.Total > 0 && fraction >= staleResolveThreshold {
		status = creator.JobStatusCompleted
	}
	note := fmt.Sprintf("stale sweep: %d/%d enriched (%.0f%%)", counts.Enriched, counts.Total, fraction*100)
	_, err = t.pool.Exec(ctx, `
UPDATE jobs SET status = $2, error_text = $3, updated_at = $4
WHERE id = $1 AND status NOT IN ('completed','partial','error')`,
		jobID, string(status), note, t.clock.Now())
	if err != nil {
		return fmt.Errorf("resolve stale job: %w", err)
	}
	t.logger.Info("stale job resolved",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.String("note", note),
	)
	return nil
}

func (t *Tracker) countCreatorRows(ctx context.Context, jobID string) (creator.CreatorCounts, error) {
	var counts creator.CreatorCounts
	err := t.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE enriched) FROM job_creators WHERE job_id = $1`,
		jobID).Scan(&counts.Total, &counts.Enriched)
	if err != nil {
		return creator.CreatorCounts{}, fmt.Errorf("count creator rows: %w", err)
	}
	return counts, nil
}
