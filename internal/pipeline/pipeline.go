package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Config sizes the worker pool for one run.
type Config struct {
	EnrichWorkers int
	QueueDepth    int
}

const (
	defaultEnrichWorkers = 4
	defaultQueueDepth    = 64
)

// Pipeline wires N fetch workers (one per keyword) and M enrich workers
// around a shared queue, slot counter and seen-set for a single in-process
// run. It is the unit of work inside a distributed search-worker invocation
// and is also usable standalone.
type Pipeline struct {
	adapter creator.Adapter
	cfg     Config
	clock   creator.Clock
	logger  *zap.Logger
}

// New constructs a Pipeline.
func New(adapter creator.Adapter, cfg Config, clock creator.Clock, logger *zap.Logger) *Pipeline {
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = defaultEnrichWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		adapter: adapter,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Run executes one discovery run and streams results through sink. The queue
// is closed only after every fetch worker has returned, and the run reports
// completion only after the enrich workers have drained every queued item.
func (p *Pipeline) Run(
	ctx context.Context,
	pctx creator.PipelineContext,
	searchCfg creator.SearchConfig,
	sink creator.Sink,
) (creator.PipelineResult, error) {
	start := p.clock.Now()
	queue := NewQueue[creator.NormalizedCreator](p.cfg.QueueDepth)
	counter := NewSlotCounter(pctx.Target)
	seen := NewSeenSet()
	stats := &runStats{}

	var fetchWG sync.WaitGroup
	for _, keyword := range pctx.Keywords {
		fetchWG.Add(1)
		go func(kw string) {
			defer fetchWG.Done()
			fw := &fetchWorker{
				adapter: p.adapter,
				cfg:     searchCfg,
				queue:   queue,
				counter: counter,
				seen:    seen,
				stats:   stats,
				logger:  p.logger,
			}
			if err := fw.run(ctx, kw); err != nil {
				p.logger.Warn("fetch worker stopped",
					zap.String("job_id", pctx.JobID),
					zap.String("keyword", kw),
					zap.Error(err),
				)
			}
		}(keyword)
	}

	var enrichWG sync.WaitGroup
	enrichErrs := make(chan error, p.cfg.EnrichWorkers)
	for i := 0; i < p.cfg.EnrichWorkers; i++ {
		enrichWG.Add(1)
		go func() {
			defer enrichWG.Done()
			ew := &enrichWorker{
				adapter: p.adapter,
				cfg:     searchCfg,
				queue:   queue,
				sink:    sink,
				clock:   p.clock,
				stats:   stats,
				logger:  p.logger,
			}
			if err := ew.run(ctx); err != nil {
				enrichErrs <- err
			}
		}()
	}

	fetchWG.Wait()
	queue.Close()
	enrichWG.Wait()
	close(enrichErrs)

	found := int(stats.accepted.Load())
	duration := p.clock.Now().Sub(start)
	metrics := creator.PipelineMetrics{
		APICalls:        stats.apiCalls.Load(),
		Duration:        duration,
		EnrichAttempts:  stats.enrichAttempts.Load(),
		EnrichSuccesses: stats.enrichSuccesses.Load(),
	}
	if secs := duration.Seconds(); secs > 0 {
		metrics.CreatorsPerSecond = float64(found) / secs
	}

	result := creator.PipelineResult{
		Found:   found,
		HasMore: counter.IsComplete(),
		Metrics: metrics,
	}

	if err := <-enrichErrs; err != nil && ctx.Err() == nil {
		result.Status = creator.StatusError
		return result, err
	}

	if found >= pctx.Target {
		result.Status = creator.StatusCompleted
	} else {
		result.Status = creator.StatusPartial
	}
	return result, nil
}
