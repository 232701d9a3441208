// Package creator defines core types shared across subsystems.
package creator

import (
	"time"
)

// Platform identifies the upstream content platform an adapter talks to.
type Platform string

// Supported platform variants. The core never branches on these values;
// all platform variance lives behind the Adapter interface.
const (
	PlatformShortVideo Platform = "shortvideo"
	PlatformReels      Platform = "reels"
	PlatformLongVideo  Platform = "longvideo"
)

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

// Job status values persisted in the job store. Completed, partial and
// error are terminal and reached exactly once.
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDispatching JobStatus = "dispatching"
	JobStatusSearching   JobStatus = "searching"
	JobStatusEnriching   JobStatus = "enriching"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusPartial     JobStatus = "partial"
	JobStatusError       JobStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusPartial || s == JobStatusError
}

// EnrichmentStatus tracks the bio-enrichment phase of a job.
type EnrichmentStatus string

// Enrichment phase values.
const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentDone       EnrichmentStatus = "done"
)

// CreatorInfo is the profile half of a normalized record.
type CreatorInfo struct {
	Handle        string   `json:"handle"`
	DisplayName   string   `json:"display_name"`
	FollowerCount int64    `json:"follower_count"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	Biography     string   `json:"biography,omitempty"`
	Emails        []string `json:"emails,omitempty"`
	Verified      bool     `json:"verified"`
	PlatformID    string   `json:"platform_id"`
}

// ContentInfo is the first-seen piece of content that surfaced the creator.
type ContentInfo struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	ViewCount    int64     `json:"view_count"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	ShareCount   int64     `json:"share_count"`
	PostedAt     time.Time `json:"posted_at"`
	DurationSec  int       `json:"duration_sec,omitempty"`
}

// EnrichmentAttempt records the outcome of one bio-enrichment call. Error is
// empty on success; a non-empty Error means the original record was kept.
type EnrichmentAttempt struct {
	AttemptedAt time.Time `json:"attempted_at"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// NormalizedCreator is the single schema every platform adapter maps into.
// MergeKey is the only deduplication identity within a job: two records
// sharing it are the same creator and must not both be persisted.
type NormalizedCreator struct {
	Platform      Platform           `json:"platform"`
	ContentID     string             `json:"content_id"`
	MergeKey      string             `json:"merge_key"`
	Creator       CreatorInfo        `json:"creator"`
	Content       ContentInfo        `json:"content"`
	Hashtags      []string           `json:"hashtags,omitempty"`
	BioEnriched   bool               `json:"bio_enriched"`
	BioEnrichedAt *time.Time         `json:"bio_enriched_at,omitempty"`
	Enrichment    *EnrichmentAttempt `json:"enrichment,omitempty"`
}

// NeedsEnrichment reports whether the record is still missing biography data
// and has not yet been through an enrichment attempt.
func (c NormalizedCreator) NeedsEnrichment() bool {
	return !c.BioEnriched && c.Creator.Biography == ""
}

// SearchConfig is the immutable per-run configuration handed to adapters and
// workers. Built once per platform per job.
type SearchConfig struct {
	APIKey            string
	BaseURL           string
	RequestTimeout    time.Duration
	MaxContinuations  int
	MaxEmptyPages     int
	MinEngagement     int64
	FetchConcurrency  int
	EnrichConcurrency int
	EnrichEnabled     bool
	RequestsPerSecond float64
}

// FetchPage is one page of raw search results from an adapter.
type FetchPage struct {
	Items      []RawItem
	HasMore    bool
	NextCursor string
	DurationMs int64
}

// RawItem is an undecoded platform search hit. Adapters own the shape.
type RawItem []byte

// PipelineStatus summarizes how an in-process run ended.
type PipelineStatus string

// Pipeline result statuses. Individual fetch/enrich errors are absorbed as
// exhaustion, not surfaced as StatusError.
const (
	StatusCompleted PipelineStatus = "completed"
	StatusPartial   PipelineStatus = "partial"
	StatusError     PipelineStatus = "error"
)

// PipelineContext identifies one in-process pipeline run.
type PipelineContext struct {
	JobID    string
	Platform Platform
	Keywords []string
	Target   int
}

// PipelineResult is returned when a pipeline run finishes.
type PipelineResult struct {
	Status  PipelineStatus
	Found   int
	HasMore bool
	Metrics PipelineMetrics
}

// PipelineMetrics captures throughput data for one run.
type PipelineMetrics struct {
	APICalls          int64
	Duration          time.Duration
	CreatorsPerSecond float64
	EnrichAttempts    int64
	EnrichSuccesses   int64
}

// JobCounters holds the atomic progress counters for a distributed job.
// They are advisory; completion is always verified against creator rows.
type JobCounters struct {
	KeywordsDispatched int `json:"keywords_dispatched"`
	KeywordsCompleted  int `json:"keywords_completed"`
	CreatorsFound      int `json:"creators_found"`
	CreatorsEnriched   int `json:"creators_enriched"`
}

// Job is the persisted aggregate for a distributed discovery job. Counters
// are mutated exclusively through atomic increment operations issued by
// independent worker invocations.
type Job struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Platform         Platform         `json:"platform"`
	Keywords         []string         `json:"keywords"`
	TargetResults    int              `json:"target_results"`
	Status           JobStatus        `json:"status"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	Counters         JobCounters      `json:"counters"`
	ExpansionRound   int              `json:"expansion_round"`
	UsedKeywords     []string         `json:"used_keywords"`
	StopReason       string           `json:"stop_reason,omitempty"`
	ErrorText        string           `json:"error_text,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// JobCreator is one persisted row per accepted, deduplicated creator,
// uniquely keyed by (JobID, Platform, Identity). This table, not the job's
// counters, is the source of truth for completion.
type JobCreator struct {
	JobID    string            `json:"job_id"`
	Platform Platform          `json:"platform"`
	Identity string            `json:"identity"`
	Payload  NormalizedCreator `json:"payload"`
	Enriched bool              `json:"enriched"`
	SavedAt  time.Time         `json:"saved_at"`
}

// CreatorCounts is the row-verified completion snapshot.
type CreatorCounts struct {
	Total    int
	Enriched int
}

// Fraction returns the enriched share, zero when no rows exist.
func (c CreatorCounts) Fraction() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Enriched) / float64(c.Total)
}
