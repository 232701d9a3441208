package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// enrichWorker drains the shared queue, enriching records that are missing
// biography data, and emits every drained item to the sink exactly once.
type enrichWorker struct {
	adapter creator.Adapter
	cfg     creator.SearchConfig
	queue   *Queue[creator.NormalizedCreator]
	sink    creator.Sink
	clock   creator.Clock
	stats   *runStats
	logger  *zap.Logger
}

func (w *enrichWorker) run(ctx context.Context) error {
	for {
		item, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		out := w.enrichOne(ctx, item)
		if err := w.sink.Emit(ctx, out); err != nil {
			w.logger.Error("sink emit failed",
				zap.String("merge_key", out.MergeKey),
				zap.Error(err),
			)
		}
	}
}

// enrichOne attempts bio enrichment when the record needs it and the adapter
// supports it. A failed call keeps the original record, stamped with the
// attempt and its error, so it is never retried indefinitely.
func (w *enrichWorker) enrichOne(ctx context.Context, item creator.NormalizedCreator) creator.NormalizedCreator {
	if !w.cfg.EnrichEnabled || !item.NeedsEnrichment() || !w.adapter.SupportsEnrichment() {
		return item
	}

	w.stats.enrichAttempts.Add(1)
	start := w.clock.Now()
	enriched, err := w.adapter.Enrich(ctx, &item, w.cfg)
	now := w.clock.Now()
	attempt := creator.EnrichmentAttempt{
		AttemptedAt: now,
		DurationMs:  now.Sub(start).Milliseconds(),
	}
	if err != nil {
		attempt.Error = err.Error()
		item.BioEnriched = true
		item.BioEnrichedAt = &now
		item.Enrichment = &attempt
		w.logger.Warn("enrichment failed, keeping original record",
			zap.String("merge_key", item.MergeKey),
			zap.Error(err),
		)
		return item
	}

	w.stats.enrichSuccesses.Add(1)
	enriched.BioEnriched = true
	enriched.BioEnrichedAt = &now
	enriched.Enrichment = &attempt
	return *enriched
}
