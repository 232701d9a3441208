package creator

import (
	"context"
	"time"
)

// Adapter translates one platform's search API into the normalized schema.
// Implementations are pure and stateless; all pagination-cursor, enrichment
// and field-availability differences stay behind this contract.
type Adapter interface {
	// Platform returns the tag the adapter is registered under.
	Platform() Platform
	// Fetch retrieves one page of raw results for a keyword. An empty cursor
	// requests the first page.
	Fetch(ctx context.Context, keyword, cursor string, cfg SearchConfig) (FetchPage, error)
	// Normalize maps a raw item into the shared schema. It returns nil for
	// malformed or unidentifiable input and never panics.
	Normalize(raw RawItem) *NormalizedCreator
	// DedupeKey returns the stable per-platform identity used for merging.
	DedupeKey(c *NormalizedCreator) string
	// SupportsEnrichment reports whether Enrich is implemented.
	SupportsEnrichment() bool
	// Enrich fills in biography/contact data missing from search results.
	Enrich(ctx context.Context, c *NormalizedCreator, cfg SearchConfig) (*NormalizedCreator, error)
}

// JobStore persists the distributed job aggregate. Counter mutations must be
// single atomic updates; read-then-write is forbidden because many worker
// invocations mutate concurrently.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) error
	SetError(ctx context.Context, jobID, errText string) error
	SetKeywords(ctx context.Context, jobID string, keywords, used []string) error
	AppendKeywords(ctx context.Context, jobID string, fresh []string) error
	IncrementCounters(ctx context.Context, jobID string, delta JobCounters) error
	IncrementExpansionRound(ctx context.Context, jobID string) (int, error)
}

// CreatorStore persists accepted creator rows. SaveCreators is the entire
// deduplication mechanism for the distributed path: insert-if-absent keyed by
// (job, platform, identity), capped near the target, returning only the
// identities actually inserted.
type CreatorStore interface {
	SaveCreators(ctx context.Context, jobID string, target int, candidates []NormalizedCreator) ([]string, error)
	MarkEnriched(ctx context.Context, jobID string, identity string, payload NormalizedCreator) error
	GetCreators(ctx context.Context, jobID string, identities []string) ([]JobCreator, error)
	ListCreators(ctx context.Context, jobID string, limit, offset int) ([]JobCreator, error)
	CountCreators(ctx context.Context, jobID string) (CreatorCounts, error)
}

// Publisher pushes worker messages onto the message queue. Delivery is
// at-least-once; payloads must be safe to redeliver.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts PublishOptions) (string, error)
}

// PublishOptions carries per-message delivery hints.
type PublishOptions struct {
	Delay         time.Duration
	Timeout       time.Duration
	MaxRetries    int
	DeadLetterURL string
}

// Sink receives finished records from an in-process pipeline run. Each
// drained item is emitted exactly once, enriched or not.
type Sink interface {
	Emit(ctx context.Context, c NormalizedCreator) error
	EmitBatch(ctx context.Context, batch []NormalizedCreator) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
