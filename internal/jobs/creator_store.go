package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// overflowAllowance bounds how far concurrent search workers can
// collectively overshoot the target between the count check and the insert.
const overflowAllowance = 5

// CreatorStore persists accepted creator rows with insert-if-absent
// semantics keyed by (job, platform, identity).
type CreatorStore struct {
	pool   db
	clock  creator.Clock
	logger *zap.Logger
}

// NewCreatorStore constructs a store over an existing pool.
func NewCreatorStore(pool db, clock creator.Clock, logger *zap.Logger) *CreatorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreatorStore{pool: pool, clock: clock, logger: logger}
}

// SaveCreators inserts candidates with conflict-ignoring semantics, capped
// near the target. The single INSERT ... ON CONFLICT DO NOTHING is the
// entire deduplication mechanism for the distributed path; no read-then-
// write race window exists. Only the identities actually inserted are
// returned, and only those are forwarded to enrichment.
func (s *CreatorStore) SaveCreators(ctx context.Context, jobID string, target int, candidates []creator.NormalizedCreator) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var current int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_creators WHERE job_id = $1`, jobID).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("count existing creators: %w", err)
	}
	allowed := target - current + overflowAllowance
	if allowed <= 0 {
		return nil, nil
	}
	if len(candidates) > allowed {
		candidates = candidates[:allowed]
	}

	now := s.clock.Now()
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO job_creators (job_id, platform, identity, payload, enriched, saved_at) VALUES `)
	for i, c := range candidates {
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal creator payload: %w", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, jobID, string(c.Platform), c.MergeKey, payload, c.BioEnriched, now)
	}
	sb.WriteString(` ON CONFLICT (job_id, platform, identity) DO NOTHING RETURNING identity`)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("insert creators: %w", err)
	}
	defer rows.Close()

	var inserted []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan inserted identity: %w", err)
		}
		inserted = append(inserted, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inserted identities: %w", err)
	}
	s.logger.Debug("creators saved",
		zap.String("job_id", jobID),
		zap.Int("submitted", len(candidates)),
		zap.Int("inserted", len(inserted)),
	)
	return inserted, nil
}

// MarkEnriched replaces the payload and flags the row enriched.
func (s *CreatorStore) MarkEnriched(ctx context.Context, jobID, identity string, payload creator.NormalizedCreator) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal enriched payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE job_creators SET payload = $3, enriched = TRUE WHERE job_id = $1 AND identity = $2`,
		jobID, identity, data)
	if err != nil {
		return fmt.Errorf("mark creator enriched: %w", err)
	}
	return nil
}

// GetCreators loads specific rows by identity.
func (s *CreatorStore) GetCreators(ctx context.Context, jobID string, identities []string) ([]creator.JobCreator, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, platform, identity, payload, enriched, saved_at
FROM job_creators WHERE job_id = $1 AND identity = ANY($2)`,
		jobID, identities)
	if err != nil {
		return nil, fmt.Errorf("select creators: %w", err)
	}
	defer rows.Close()
	return scanCreators(rows)
}

// ListCreators pages through a job's rows in insertion order.
func (s *CreatorStore) ListCreators(ctx context.Context, jobID string, limit, offset int) ([]creator.JobCreator, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT job_id, platform, identity, payload, enriched, saved_at
FROM job_creators WHERE job_id = $1 ORDER BY saved_at, identity LIMIT $2 OFFSET $3`,
		jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list creators: %w", err)
	}
	defer rows.Close()
	return scanCreators(rows)
}

// CountCreators reports the row-verified totals for a job.
func (s *CreatorStore) CountCreators(ctx context.Context, jobID string) (creator.CreatorCounts, error) {
	var counts creator.CreatorCounts
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE enriched) FROM job_creators WHERE job_id = $1`,
		jobID).Scan(&counts.Total, &counts.Enriched)
	if err != nil {
		return creator.CreatorCounts{}, fmt.Errorf("count creators: %w", err)
	}
	return counts, nil
}

func scanCreators(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]creator.JobCreator, error) {
	var out []creator.JobCreator
	for rows.Next() {
		var (
			row      creator.JobCreator
			platform string
			payload  []byte
		)
		if err := rows.Scan(&row.JobID, &platform, &row.Identity, &payload, &row.Enriched, &row.SavedAt); err != nil {
			return nil, fmt.Errorf("scan creator row: %w", err)
		}
		row.Platform = creator.Platform(platform)
		if err := json.Unmarshal(payload, &row.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal creator payload: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate creator rows: %w", err)
	}
	return out, nil
}
