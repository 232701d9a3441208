package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/metrics"
)

// Tracker is the job-store surface the dispatch layer needs: the persisted
// aggregate, the row-verified completion check and the shortfall stamp.
// CheckAndComplete returns the status it resolved the job to, or empty when
// the job was not resolved by that call.
type Tracker interface {
	creator.JobStore
	CheckAndComplete(ctx context.Context, jobID string) (creator.JobStatus, creator.CreatorCounts, error)
	RecordShortfall(ctx context.Context, jobID, reason string) error
}

// Dispatcher accepts validated job requests, persists the pending job and
// publishes the dispatch message that starts the distributed pipeline.
type Dispatcher struct {
	tracker       Tracker
	publisher     creator.Publisher
	deadLetterURL string
	ids           creator.IDGenerator
	clock         creator.Clock
	logger        *zap.Logger
}

// NewDispatcher constructs a Dispatcher. deadLetterURL may be empty; worker
// messages then carry no dead-letter destination.
func NewDispatcher(tracker Tracker, publisher creator.Publisher, deadLetterURL string, ids creator.IDGenerator, clock creator.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Dispatcher{
		tracker:       tracker,
		publisher:     publisher,
		deadLetterURL: deadLetterURL,
		ids:           ids,
		clock:         clock,
		logger:        logger,
	}
}

// Dispatch validates the request, creates the job in pending state and hands
// it to the dispatch worker. A publish failure marks the job as errored so it
// never sits in pending forever.
func (d *Dispatcher) Dispatch(ctx context.Context, req JobRequest) (creator.Job, error) {
	if err := Validate(req); err != nil {
		return creator.Job{}, err
	}

	id, err := d.ids.NewID()
	if err != nil {
		return creator.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	now := d.clock.Now()
	job := creator.Job{
		ID:               id,
		UserID:           req.UserID,
		Platform:         req.Platform,
		Keywords:         req.Keywords,
		TargetResults:    req.TargetResults,
		Status:           creator.JobStatusPending,
		EnrichmentStatus: creator.EnrichmentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := d.tracker.CreateJob(ctx, job); err != nil {
		return creator.Job{}, fmt.Errorf("create job: %w", err)
	}

	msg := DispatchMessage{
		JobID:           id,
		UserID:          req.UserID,
		Platform:        req.Platform,
		Keywords:        req.Keywords,
		TargetResults:   req.TargetResults,
		EnableExpansion: req.EnableExpansion,
	}
	opts := creator.PublishOptions{
		Timeout:       5 * time.Minute,
		MaxRetries:    3,
		DeadLetterURL: d.deadLetterURL,
	}
	if _, err := d.publisher.Publish(ctx, TopicDispatch, msg, opts); err != nil {
		d.logger.Error("dispatch publish failed",
			zap.String("job_id", id),
			zap.Error(err),
		)
		if setErr := d.tracker.SetError(ctx, id, fmt.Sprintf("dispatch publish failed: %v", err)); setErr != nil {
			d.logger.Error("failed to mark job errored",
				zap.String("job_id", id),
				zap.Error(setErr),
			)
		}
		metrics.ObserveJob(string(creator.JobStatusError))
		return creator.Job{}, fmt.Errorf("publish dispatch message: %w", err)
	}

	d.logger.Info("job dispatched",
		zap.String("job_id", id),
		zap.String("platform", string(req.Platform)),
		zap.Int("target", req.TargetResults),
		zap.Int("seed_keywords", len(req.Keywords)),
	)
	return job, nil
}
