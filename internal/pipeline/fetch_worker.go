package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

const defaultMaxEmptyPages = 3

// runStats aggregates counters shared by every worker in one pipeline run.
type runStats struct {
	apiCalls        atomic.Int64
	accepted        atomic.Int64
	enrichAttempts  atomic.Int64
	enrichSuccesses atomic.Int64
}

// fetchWorker drives a single keyword through paginated adapter calls,
// filtering, deduplicating and claiming slots before handing accepted
// creators to the enrichment queue.
type fetchWorker struct {
	adapter creator.Adapter
	cfg     creator.SearchConfig
	queue   *Queue[creator.NormalizedCreator]
	counter *SlotCounter
	seen    *SeenSet
	stats   *runStats
	logger  *zap.Logger
}

// run paginates until the adapter errors, reports no more pages, the target
// is reached, or too many consecutive pages yield nothing new. It never
// retries; exhaustion is the caller's signal to consider re-expansion.
func (w *fetchWorker) run(ctx context.Context, keyword string) error {
	maxEmpty := w.cfg.MaxEmptyPages
	if maxEmpty <= 0 {
		maxEmpty = defaultMaxEmptyPages
	}

	cursor := ""
	emptyPages := 0
	for page := 0; w.cfg.MaxContinuations <= 0 || page <= w.cfg.MaxContinuations; page++ {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch keyword %q: %w", keyword, ctx.Err())
		}
		if w.counter.IsComplete() {
			return nil
		}

		result, err := w.adapter.Fetch(ctx, keyword, cursor, w.cfg)
		w.stats.apiCalls.Add(1)
		if err != nil {
			// Upstream failure is exhaustion for this keyword, not a job error.
			w.logger.Warn("fetch failed, abandoning keyword",
				zap.String("keyword", keyword),
				zap.String("platform", string(w.adapter.Platform())),
				zap.Error(err),
			)
			return nil
		}

		newlyAccepted, err := w.processPage(ctx, result.Items)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		if newlyAccepted == 0 {
			emptyPages++
			if emptyPages >= maxEmpty {
				w.logger.Debug("keyword exhausted after consecutive empty pages",
					zap.String("keyword", keyword),
					zap.Int("empty_pages", emptyPages),
				)
				return nil
			}
		} else {
			emptyPages = 0
		}

		if !result.HasMore || result.NextCursor == "" {
			return nil
		}
		cursor = result.NextCursor
	}
	return nil
}

// processPage normalizes, filters, dedupes and claims slots for one page of
// raw items. The engagement filter runs before the seen-set so that a
// low-engagement first sighting never blocks a later, better item for the
// same identity.
func (w *fetchWorker) processPage(ctx context.Context, items []creator.RawItem) (int, error) {
	accepted := 0
	for _, raw := range items {
		c := w.adapter.Normalize(raw)
		if c == nil {
			continue
		}
		if c.Content.ViewCount < w.cfg.MinEngagement {
			continue
		}
		key := w.adapter.DedupeKey(c)
		if key == "" || !w.seen.Add(key) {
			continue
		}
		if !w.counter.TryIncrement() {
			return accepted, nil
		}
		c.MergeKey = key
		if err := w.queue.Push(ctx, *c); err != nil {
			return accepted, err
		}
		accepted++
		w.stats.accepted.Add(1)
	}
	return accepted, nil
}
