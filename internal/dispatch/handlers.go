package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/adapters"
	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/expansion"
	"github.com/scoutline/creator-discovery/internal/metrics"
	"github.com/scoutline/creator-discovery/internal/pipeline"
)

// Handlers processes the worker messages behind the push endpoints. Every
// handler tolerates redelivery: job state transitions are guarded, creator
// persistence is insert-if-absent and already-enriched rows are skipped.
type Handlers struct {
	tracker       Tracker
	creators      creator.CreatorStore
	publisher     creator.Publisher
	deadLetterURL string
	registry      *adapters.Registry
	generator     expansion.Generator
	platforms     map[creator.Platform]creator.SearchConfig
	pipeCfg       pipeline.Config
	archive       creator.BlobStore
	clock         creator.Clock
	logger        *zap.Logger
}

// NewHandlers constructs the worker handlers. generator and archive may be
// nil; keyword generation then falls back to deterministic modifiers and raw
// run output is not archived. deadLetterURL may be empty; worker messages
// then carry no dead-letter destination.
func NewHandlers(
	tracker Tracker,
	creators creator.CreatorStore,
	publisher creator.Publisher,
	deadLetterURL string,
	registry *adapters.Registry,
	generator expansion.Generator,
	platforms map[creator.Platform]creator.SearchConfig,
	pipeCfg pipeline.Config,
	archive creator.BlobStore,
	clock creator.Clock,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Handlers{
		tracker:       tracker,
		creators:      creators,
		publisher:     publisher,
		deadLetterURL: deadLetterURL,
		registry:      registry,
		generator:     generator,
		platforms:     platforms,
		pipeCfg:       pipeCfg,
		archive:       archive,
		clock:         clock,
		logger:        logger,
	}
}

// HandleDispatch plans the job's keyword set and fans one search message out
// per keyword. A redelivered message for a job past pending is a no-op.
func (h *Handlers) HandleDispatch(ctx context.Context, msg DispatchMessage) error {
	if err := Validate(msg); err != nil {
		return err
	}

	job, err := h.tracker.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job.Status != creator.JobStatusPending {
		h.logger.Info("dispatch redelivered for already-started job, skipping",
			zap.String("job_id", msg.JobID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	keywords := h.planKeywords(ctx, msg)
	if err := h.tracker.SetKeywords(ctx, msg.JobID, keywords, keywords); err != nil {
		return fmt.Errorf("persist keywords: %w", err)
	}
	if err := h.tracker.UpdateStatus(ctx, msg.JobID, creator.JobStatusDispatching); err != nil {
		return fmt.Errorf("transition to dispatching: %w", err)
	}

	if err := h.publishSearches(ctx, job, msg.EnableExpansion, keywords, 0, len(keywords)); err != nil {
		return err
	}
	if err := h.tracker.IncrementCounters(ctx, msg.JobID, creator.JobCounters{KeywordsDispatched: len(keywords)}); err != nil {
		return fmt.Errorf("count dispatched keywords: %w", err)
	}
	metrics.ObserveKeywordsDispatched(string(msg.Platform), len(keywords))

	if err := h.tracker.UpdateStatus(ctx, msg.JobID, creator.JobStatusSearching); err != nil {
		return fmt.Errorf("transition to searching: %w", err)
	}

	h.logger.Info("job fanned out",
		zap.String("job_id", msg.JobID),
		zap.String("platform", string(msg.Platform)),
		zap.Int("keywords", len(keywords)),
	)
	return nil
}

// planKeywords expands the seed keywords toward the estimated need, or just
// dedupes the seeds when expansion is disabled.
func (h *Handlers) planKeywords(ctx context.Context, msg DispatchMessage) []string {
	if !msg.EnableExpansion {
		return expansion.ExpandKeywordsForTarget(ctx, nil, msg.Keywords, len(msg.Keywords), nil)
	}
	kg := expansion.NewKeywordGenerator(h.generator, msg.Keywords, h.logger)
	return kg.Initialize(ctx, msg.TargetResults)
}

// HandleSearch runs one keyword through the in-process pipeline, persists
// accepted creators progressively and publishes enrichment batches for the
// rows it inserted. The last keyword to finish evaluates re-expansion.
func (h *Handlers) HandleSearch(ctx context.Context, msg SearchMessage) error {
	if err := Validate(msg); err != nil {
		return err
	}

	job, err := h.tracker.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job.Status.Terminal() {
		h.logger.Info("search redelivered for finished job, skipping",
			zap.String("job_id", msg.JobID),
			zap.String("keyword", msg.Keyword),
		)
		return nil
	}

	adapter, err := h.registry.Get(msg.Platform)
	if err != nil {
		return err
	}
	cfg, ok := h.platforms[msg.Platform]
	if !ok {
		return fmt.Errorf("no search config for platform %q", msg.Platform)
	}
	// Enrichment runs in its own workers; the in-process pipeline only
	// fetches, filters and persists here.
	cfg.EnrichEnabled = false

	var inserted []string
	counts, err := h.creators.CountCreators(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("count creators: %w", err)
	}
	remaining := msg.TargetResults - counts.Total

	var emitted []creator.NormalizedCreator
	if remaining > 0 {
		sink := &saveSink{
			store:  h.creators,
			jobID:  msg.JobID,
			target: msg.TargetResults,
		}
		batcher := pipeline.NewBatcher(sink, enrichBatchSize)

		pipe := pipeline.New(adapter, h.pipeCfg, h.clock, h.logger)
		pctx := creator.PipelineContext{
			JobID:    msg.JobID,
			Platform: msg.Platform,
			Keywords: []string{msg.Keyword},
			Target:   remaining,
		}
		result, runErr := pipe.Run(ctx, pctx, cfg, batcher)
		if flushErr := batcher.Flush(ctx); flushErr != nil {
			h.logger.Warn("final batch flush failed",
				zap.String("job_id", msg.JobID),
				zap.Error(flushErr),
			)
		}
		if runErr != nil {
			// A failed keyword is absorbed; whatever it saved still counts
			// and the remaining keywords keep the job moving.
			h.logger.Warn("keyword run failed",
				zap.String("job_id", msg.JobID),
				zap.String("keyword", msg.Keyword),
				zap.Error(runErr),
			)
		}
		inserted, emitted = sink.results()

		h.logger.Info("keyword finished",
			zap.String("job_id", msg.JobID),
			zap.String("keyword", msg.Keyword),
			zap.String("status", string(result.Status)),
			zap.Int("found", result.Found),
			zap.Int("inserted", len(inserted)),
			zap.Int64("api_calls", result.Metrics.APICalls),
		)
	} else {
		h.logger.Info("target already reached, skipping keyword",
			zap.String("job_id", msg.JobID),
			zap.String("keyword", msg.Keyword),
		)
	}

	h.archiveRun(ctx, msg, emitted)

	if err := h.publishEnrichBatches(ctx, msg, inserted); err != nil {
		return err
	}

	delta := creator.JobCounters{KeywordsCompleted: 1, CreatorsFound: len(inserted)}
	if err := h.tracker.IncrementCounters(ctx, msg.JobID, delta); err != nil {
		return fmt.Errorf("count completed keyword: %w", err)
	}
	for range inserted {
		metrics.ObserveCreatorAccepted(string(msg.Platform))
	}

	return h.maybeFinishSearchPhase(ctx, msg)
}

// maybeFinishSearchPhase runs after every keyword: when the counters show the
// whole dispatched set has completed, it either plans another expansion round
// or moves the job into the enrichment phase.
func (h *Handlers) maybeFinishSearchPhase(ctx context.Context, msg SearchMessage) error {
	job, err := h.tracker.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("reload job %s: %w", msg.JobID, err)
	}
	if job.Status.Terminal() || job.Counters.KeywordsCompleted < job.Counters.KeywordsDispatched {
		return nil
	}

	counts, err := h.creators.CountCreators(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("count creators: %w", err)
	}

	if msg.EnableExpansion {
		plan := expansion.PlanReExpansion(expansion.Observation{
			Target:            job.TargetResults,
			CreatorsFound:     counts.Total,
			KeywordsCompleted: job.Counters.KeywordsCompleted,
			TotalKeywords:     len(job.Keywords),
			ExpansionRound:    job.ExpansionRound,
		})
		if plan.Expand {
			expanded, err := h.reExpand(ctx, job, msg, plan)
			if err != nil {
				return err
			}
			if expanded {
				return nil
			}
		} else {
			if plan.Reason != expansion.StopTargetMet {
				h.recordShortfall(ctx, msg.JobID, string(plan.Reason))
			}
			h.logger.Info("expansion stopped",
				zap.String("job_id", msg.JobID),
				zap.String("reason", string(plan.Reason)),
				zap.Float64("yield", plan.ActualYield),
				zap.Int("found", counts.Total),
				zap.Int("target", job.TargetResults),
			)
		}
	}

	if err := h.tracker.UpdateStatus(ctx, msg.JobID, creator.JobStatusEnriching); err != nil {
		return fmt.Errorf("transition to enriching: %w", err)
	}
	status, counts, err := h.tracker.CheckAndComplete(ctx, msg.JobID)
	if err != nil {
		return err
	}
	if status != "" {
		metrics.ObserveJob(string(status))
		h.logger.Info("job resolved at end of search phase",
			zap.String("job_id", msg.JobID),
			zap.String("status", string(status)),
			zap.Int("creators", counts.Total),
		)
	}
	return nil
}

// recordShortfall stamps why the job stopped expanding before its target.
// Best-effort: final status comes from the row-verified completion check, so
// a failed stamp only loses the explanation, not the outcome.
func (h *Handlers) recordShortfall(ctx context.Context, jobID, reason string) {
	if err := h.tracker.RecordShortfall(ctx, jobID, reason); err != nil {
		h.logger.Warn("record shortfall failed",
			zap.String("job_id", jobID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// reExpand requests fresh keywords and fans them out, continuing the batch
// numbering. The round increment doubles as a concurrency guard: if two
// workers both observe the last keyword, only rounds within the limit fan
// out. Returns false when no fresh keywords could be produced.
func (h *Handlers) reExpand(ctx context.Context, job creator.Job, msg SearchMessage, plan expansion.Plan) (bool, error) {
	round, err := h.tracker.IncrementExpansionRound(ctx, msg.JobID)
	if err != nil {
		return false, fmt.Errorf("increment expansion round: %w", err)
	}
	if round > expansion.MaxExpansionRounds {
		h.recordShortfall(ctx, msg.JobID, string(expansion.StopRoundLimit))
		h.logger.Info("expansion round limit hit concurrently, not expanding",
			zap.String("job_id", msg.JobID),
			zap.Int("round", round),
		)
		return false, nil
	}

	kg := expansion.ResumeKeywordGenerator(h.generator, job.Keywords, job.UsedKeywords, round-1, h.logger)
	fresh := kg.ExpandMore(ctx, plan.NeededKeywords)
	if len(fresh) == 0 {
		h.recordShortfall(ctx, msg.JobID, string(expansion.StopNoKeywords))
		h.logger.Warn("expansion produced no fresh keywords",
			zap.String("job_id", msg.JobID),
			zap.String("reason", string(expansion.StopNoKeywords)),
			zap.Int("round", round),
		)
		return false, nil
	}

	if err := h.tracker.AppendKeywords(ctx, msg.JobID, fresh); err != nil {
		return false, fmt.Errorf("append keywords: %w", err)
	}
	if err := h.publishSearches(ctx, job, msg.EnableExpansion, fresh, len(job.Keywords), len(job.Keywords)+len(fresh)); err != nil {
		return false, err
	}
	if err := h.tracker.IncrementCounters(ctx, msg.JobID, creator.JobCounters{KeywordsDispatched: len(fresh)}); err != nil {
		return false, fmt.Errorf("count dispatched keywords: %w", err)
	}
	metrics.ObserveKeywordsDispatched(string(job.Platform), len(fresh))

	h.logger.Info("job re-expanded",
		zap.String("job_id", msg.JobID),
		zap.Int("round", round),
		zap.Int("fresh_keywords", len(fresh)),
		zap.Float64("observed_yield", plan.ActualYield),
	)
	return true, nil
}

// HandleEnrich enriches one batch of persisted rows. Rows already enriched
// are skipped, which makes redelivered batches harmless.
func (h *Handlers) HandleEnrich(ctx context.Context, msg EnrichMessage) error {
	if err := Validate(msg); err != nil {
		return err
	}

	job, err := h.tracker.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job.Status.Terminal() {
		h.logger.Info("enrich redelivered for finished job, skipping",
			zap.String("job_id", msg.JobID),
			zap.Int("batch", msg.BatchIndex),
		)
		return nil
	}

	adapter, err := h.registry.Get(msg.Platform)
	if err != nil {
		return err
	}
	cfg, ok := h.platforms[msg.Platform]
	if !ok {
		return fmt.Errorf("no search config for platform %q", msg.Platform)
	}

	rows, err := h.creators.GetCreators(ctx, msg.JobID, msg.CreatorIDs)
	if err != nil {
		return fmt.Errorf("load creator rows: %w", err)
	}

	marked := 0
	for _, row := range rows {
		if row.Enriched {
			continue
		}
		payload := h.enrichPayload(ctx, adapter, cfg, row.Payload)
		if err := h.creators.MarkEnriched(ctx, msg.JobID, row.Identity, payload); err != nil {
			h.logger.Warn("mark enriched failed",
				zap.String("job_id", msg.JobID),
				zap.String("identity", row.Identity),
				zap.Error(err),
			)
			continue
		}
		marked++
	}

	if marked > 0 {
		if err := h.tracker.IncrementCounters(ctx, msg.JobID, creator.JobCounters{CreatorsEnriched: marked}); err != nil {
			return fmt.Errorf("count enriched creators: %w", err)
		}
	}

	status, counts, err := h.tracker.CheckAndComplete(ctx, msg.JobID)
	if err != nil {
		return err
	}
	if status != "" {
		metrics.ObserveJob(string(status))
		h.logger.Info("job resolved",
			zap.String("job_id", msg.JobID),
			zap.String("status", string(status)),
			zap.Int("creators", counts.Total),
		)
	}
	return nil
}

// enrichPayload attempts bio enrichment for one row, mirroring the in-process
// worker semantics: a failed call keeps the original payload stamped with the
// attempt so it is never retried indefinitely.
func (h *Handlers) enrichPayload(ctx context.Context, adapter creator.Adapter, cfg creator.SearchConfig, payload creator.NormalizedCreator) creator.NormalizedCreator {
	if !cfg.EnrichEnabled || !payload.NeedsEnrichment() || !adapter.SupportsEnrichment() {
		payload.BioEnriched = true
		return payload
	}

	start := h.clock.Now()
	enriched, err := adapter.Enrich(ctx, &payload, cfg)
	now := h.clock.Now()
	attempt := creator.EnrichmentAttempt{
		AttemptedAt: now,
		DurationMs:  now.Sub(start).Milliseconds(),
	}
	if err != nil {
		attempt.Error = err.Error()
		payload.BioEnriched = true
		payload.BioEnrichedAt = &now
		payload.Enrichment = &attempt
		metrics.ObserveEnrichment(string(payload.Platform), "error")
		h.logger.Warn("enrichment failed, keeping original record",
			zap.String("merge_key", payload.MergeKey),
			zap.Error(err),
		)
		return payload
	}

	enriched.BioEnriched = true
	enriched.BioEnrichedAt = &now
	enriched.Enrichment = &attempt
	metrics.ObserveEnrichment(string(enriched.Platform), "success")
	return *enriched
}

// publishSearches fans one search message out per keyword, staggering every
// group of keywords slightly so large fan-outs ramp up instead of bursting.
func (h *Handlers) publishSearches(ctx context.Context, job creator.Job, enableExpansion bool, keywords []string, startIndex, total int) error {
	for i, kw := range keywords {
		idx := startIndex + i
		msg := SearchMessage{
			JobID:           job.ID,
			UserID:          job.UserID,
			Platform:        job.Platform,
			Keyword:         kw,
			BatchIndex:      idx,
			TotalKeywords:   total,
			TargetResults:   job.TargetResults,
			EnableExpansion: enableExpansion,
		}
		opts := creator.PublishOptions{
			Delay:         time.Duration(idx/staggerGroupSize) * 200 * time.Millisecond,
			Timeout:       10 * time.Minute,
			MaxRetries:    3,
			DeadLetterURL: h.deadLetterURL,
		}
		if _, err := h.publisher.Publish(ctx, TopicSearch, msg, opts); err != nil {
			return fmt.Errorf("publish search message for %q: %w", kw, err)
		}
	}
	return nil
}

// publishEnrichBatches chunks the freshly inserted identities into fixed-size
// enrichment messages.
func (h *Handlers) publishEnrichBatches(ctx context.Context, msg SearchMessage, inserted []string) error {
	if len(inserted) == 0 {
		return nil
	}
	total := (len(inserted) + enrichBatchSize - 1) / enrichBatchSize
	for i := 0; i < total; i++ {
		end := (i + 1) * enrichBatchSize
		if end > len(inserted) {
			end = len(inserted)
		}
		em := EnrichMessage{
			JobID:        msg.JobID,
			UserID:       msg.UserID,
			Platform:     msg.Platform,
			CreatorIDs:   inserted[i*enrichBatchSize : end],
			BatchIndex:   i,
			TotalBatches: total,
		}
		opts := creator.PublishOptions{
			Timeout:       10 * time.Minute,
			MaxRetries:    3,
			DeadLetterURL: h.deadLetterURL,
		}
		if _, err := h.publisher.Publish(ctx, TopicEnrich, em, opts); err != nil {
			return fmt.Errorf("publish enrich batch %d: %w", i, err)
		}
	}
	return nil
}

// archiveRun stores the keyword's emitted records as one JSON object per run
// when an archive is configured. Failures only log; archival is best-effort.
func (h *Handlers) archiveRun(ctx context.Context, msg SearchMessage, emitted []creator.NormalizedCreator) {
	if h.archive == nil || len(emitted) == 0 {
		return
	}
	data, err := json.Marshal(emitted)
	if err != nil {
		h.logger.Warn("archive marshal failed",
			zap.String("job_id", msg.JobID),
			zap.Error(err),
		)
		return
	}
	path := fmt.Sprintf("jobs/%s/%s/%s.json", msg.JobID, msg.Platform, url.PathEscape(msg.Keyword))
	uri, err := h.archive.PutObject(ctx, path, "application/json", data)
	if err != nil {
		h.logger.Warn("archive upload failed",
			zap.String("job_id", msg.JobID),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	h.logger.Debug("run archived",
		zap.String("job_id", msg.JobID),
		zap.String("uri", uri),
	)
}

// saveSink persists every emitted batch through the capped insert-if-absent
// store call and remembers which identities were actually inserted.
type saveSink struct {
	store  creator.CreatorStore
	jobID  string
	target int

	mu       sync.Mutex
	inserted []string
	emitted  []creator.NormalizedCreator
}

func (s *saveSink) Emit(ctx context.Context, c creator.NormalizedCreator) error {
	return s.EmitBatch(ctx, []creator.NormalizedCreator{c})
}

func (s *saveSink) EmitBatch(ctx context.Context, batch []creator.NormalizedCreator) error {
	if len(batch) == 0 {
		return nil
	}
	ids, err := s.store.SaveCreators(ctx, s.jobID, s.target, batch)
	if err != nil {
		return fmt.Errorf("save creators: %w", err)
	}
	s.mu.Lock()
	s.inserted = append(s.inserted, ids...)
	s.emitted = append(s.emitted, batch...)
	s.mu.Unlock()
	return nil
}

func (s *saveSink) results() ([]string, []creator.NormalizedCreator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted, s.emitted
}
