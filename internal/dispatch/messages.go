// Package dispatch implements the distributed work pipeline: job intake, the
// dispatch fan-out, per-keyword search workers, enrichment batches and the
// adaptive re-expansion loop. All handlers are safe to redeliver.
package dispatch

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Topic names for the worker message queue.
const (
	TopicDispatch = "discovery-dispatch"
	TopicSearch   = "discovery-search"
	TopicEnrich   = "discovery-enrich"
)

const (
	// enrichBatchSize is how many creator identities one enrichment message
	// carries.
	enrichBatchSize = 10
	// staggerGroupSize and staggerStep spread search fan-out so a large
	// keyword set does not slam the upstream API at once.
	staggerGroupSize = 25
)

// JobRequest is the validated intake payload for a new discovery job.
type JobRequest struct {
	UserID          string           `json:"user_id" validate:"required"`
	Platform        creator.Platform `json:"platform" validate:"required,oneof=shortvideo reels longvideo"`
	Keywords        []string         `json:"keywords" validate:"required,min=1,max=20,dive,required,max=100"`
	TargetResults   int              `json:"target_results" validate:"required,min=1,max=1000"`
	EnableExpansion bool             `json:"enable_expansion"`
}

// DispatchMessage kicks off keyword planning and fan-out for one job.
type DispatchMessage struct {
	JobID           string           `json:"job_id" validate:"required"`
	UserID          string           `json:"user_id" validate:"required"`
	Platform        creator.Platform `json:"platform" validate:"required"`
	Keywords        []string         `json:"keywords" validate:"required,min=1"`
	TargetResults   int              `json:"target_results" validate:"required,min=1"`
	EnableExpansion bool             `json:"enable_expansion"`
}

// SearchMessage runs one keyword through the in-process pipeline.
type SearchMessage struct {
	JobID         string           `json:"job_id" validate:"required"`
	UserID        string           `json:"user_id" validate:"required"`
	Platform      creator.Platform `json:"platform" validate:"required"`
	Keyword       string           `json:"keyword" validate:"required"`
	BatchIndex    int              `json:"batch_index" validate:"min=0"`
	TotalKeywords int              `json:"total_keywords" validate:"required,min=1"`
	TargetResults int              `json:"target_results" validate:"required,min=1"`
	// EnableExpansion carries the job's expansion preference so the last
	// keyword handler knows whether re-expansion is allowed.
	EnableExpansion bool `json:"enable_expansion"`
}

// EnrichMessage enriches one batch of persisted creator rows.
type EnrichMessage struct {
	JobID        string           `json:"job_id" validate:"required"`
	UserID       string           `json:"user_id" validate:"required"`
	Platform     creator.Platform `json:"platform" validate:"required"`
	CreatorIDs   []string         `json:"creator_ids" validate:"required,min=1"`
	BatchIndex   int              `json:"batch_index" validate:"min=0"`
	TotalBatches int              `json:"total_batches" validate:"required,min=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a message or request against its struct tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}
