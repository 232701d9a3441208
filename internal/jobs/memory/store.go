// Package memory provides in-memory job and creator stores for tests and
// local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// ErrJobNotFound mirrors the Postgres tracker's sentinel.
var ErrJobNotFound = errors.New("job not found")

const overflowAllowance = 5

type creatorKey struct {
	platform creator.Platform
	identity string
}

type creatorRow struct {
	payload  creator.NormalizedCreator
	enriched bool
	savedAt  time.Time
	order    int
}

// Store keeps jobs and creator rows in maps guarded by one mutex. It
// implements the same contract as the Postgres tracker and creator store.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]creator.Job
	creators map[string]map[creatorKey]*creatorRow
	seq      int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]creator.Job),
		creators: make(map[string]map[creatorKey]*creatorRow),
	}
}

// CreateJob registers a new job.
func (s *Store) CreateJob(_ context.Context, job creator.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.creators[job.ID] = make(map[creatorKey]*creatorRow)
	return nil
}

// GetJob returns a copy of the stored job.
func (s *Store) GetJob(_ context.Context, jobID string) (creator.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return creator.Job{}, ErrJobNotFound
	}
	return job, nil
}

// Jobs returns a copy of every stored job.
func (s *Store) Jobs() []creator.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]creator.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

// UpdateStatus transitions a job unless it is already terminal.
func (s *Store) UpdateStatus(_ context.Context, jobID string, status creator.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// SetError marks a job terminally failed.
func (s *Store) SetError(_ context.Context, jobID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = creator.JobStatusError
	job.ErrorText = errText
	s.jobs[jobID] = job
	return nil
}

// SetKeywords replaces the keyword and used-keyword lists.
func (s *Store) SetKeywords(_ context.Context, jobID string, keywords, used []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Keywords = append([]string(nil), keywords...)
	job.UsedKeywords = append([]string(nil), used...)
	s.jobs[jobID] = job
	return nil
}

// AppendKeywords grows both keyword lists.
func (s *Store) AppendKeywords(_ context.Context, jobID string, fresh []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Keywords = append(job.Keywords, fresh...)
	job.UsedKeywords = append(job.UsedKeywords, fresh...)
	s.jobs[jobID] = job
	return nil
}

// IncrementCounters applies deltas atomically under the store lock.
func (s *Store) IncrementCounters(_ context.Context, jobID string, delta creator.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Counters.KeywordsDispatched += delta.KeywordsDispatched
	job.Counters.KeywordsCompleted += delta.KeywordsCompleted
	job.Counters.CreatorsFound += delta.CreatorsFound
	job.Counters.CreatorsEnriched += delta.CreatorsEnriched
	s.jobs[jobID] = job
	return nil
}

// IncrementExpansionRound bumps and returns the round counter.
func (s *Store) IncrementExpansionRound(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, ErrJobNotFound
	}
	job.ExpansionRound++
	s.jobs[jobID] = job
	return job.ExpansionRound, nil
}

// CheckAndComplete mirrors the row-verified completion check: every row
// enriched resolves the job, as completed when the target was reached and
// as partial otherwise. The returned status is empty when the job was not
// resolved by this call.
func (s *Store) CheckAndComplete(_ context.Context, jobID string) (creator.JobStatus, creator.CreatorCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return "", creator.CreatorCounts{}, ErrJobNotFound
	}
	counts := countRows(rows)
	if counts.Total == 0 || counts.Enriched < counts.Total {
		return "", counts, nil
	}
	job := s.jobs[jobID]
	if job.Status.Terminal() {
		return "", counts, nil
	}
	job.Status = creator.JobStatusPartial
	if counts.Total >= job.TargetResults {
		job.Status = creator.JobStatusCompleted
	}
	job.EnrichmentStatus = creator.EnrichmentDone
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return job.Status, counts, nil
}

// RecordShortfall stamps the first expansion stop reason, mirroring the
// tracker's first-writer-wins contract.
func (s *Store) RecordShortfall(_ context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.StopReason != "" {
		return nil
	}
	job.StopReason = reason
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// SaveCreators applies the capped insert-if-absent contract.
func (s *Store) SaveCreators(_ context.Context, jobID string, target int, candidates []creator.NormalizedCreator) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	allowed := target - len(rows) + overflowAllowance
	if allowed <= 0 {
		return nil, nil
	}
	if len(candidates) > allowed {
		candidates = candidates[:allowed]
	}
	var inserted []string
	for _, c := range candidates {
		key := creatorKey{platform: c.Platform, identity: c.MergeKey}
		if _, exists := rows[key]; exists {
			continue
		}
		s.seq++
		rows[key] = &creatorRow{
			payload:  c,
			enriched: c.BioEnriched,
			savedAt:  time.Now(),
			order:    s.seq,
		}
		inserted = append(inserted, c.MergeKey)
	}
	return inserted, nil
}

// MarkEnriched replaces a row's payload and flags it enriched.
func (s *Store) MarkEnriched(_ context.Context, jobID, identity string, payload creator.NormalizedCreator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return ErrJobNotFound
	}
	for key, row := range rows {
		if key.identity == identity {
			row.payload = payload
			row.enriched = true
			return nil
		}
	}
	return fmt.Errorf("creator %q not found in job %q", identity, jobID)
}

// GetCreators loads rows by identity.
func (s *Store) GetCreators(_ context.Context, jobID string, identities []string) ([]creator.JobCreator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	want := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		want[id] = struct{}{}
	}
	var out []creator.JobCreator
	for key, row := range rows {
		if _, ok := want[key.identity]; ok {
			out = append(out, toJobCreator(jobID, key, row))
		}
	}
	sortByOrder(out, rows)
	return out, nil
}

// ListCreators pages rows in insertion order.
func (s *Store) ListCreators(_ context.Context, jobID string, limit, offset int) ([]creator.JobCreator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	all := make([]creator.JobCreator, 0, len(rows))
	for key, row := range rows {
		all = append(all, toJobCreator(jobID, key, row))
	}
	sortByOrder(all, rows)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CountCreators reports the row-verified totals.
func (s *Store) CountCreators(_ context.Context, jobID string) (creator.CreatorCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.creators[jobID]
	if !ok {
		return creator.CreatorCounts{}, ErrJobNotFound
	}
	return countRows(rows), nil
}

func countRows(rows map[creatorKey]*creatorRow) creator.CreatorCounts {
	counts := creator.CreatorCounts{Total: len(rows)}
	for _, row := range rows {
		if row.enriched {
			counts.Enriched++
		}
	}
	return counts
}

func toJobCreator(jobID string, key creatorKey, row *creatorRow) creator.JobCreator {
	return creator.JobCreator{
		JobID:    jobID,
		Platform: key.platform,
		Identity: key.identity,
		Payload:  row.payload,
		Enriched: row.enriched,
		SavedAt:  row.savedAt,
	}
}

func sortByOrder(list []creator.JobCreator, rows map[creatorKey]*creatorRow) {
	sort.Slice(list, func(i, j int) bool {
		ki := creatorKey{platform: list[i].Platform, identity: list[i].Identity}
		kj := creatorKey{platform: list[j].Platform, identity: list[j].Identity}
		return rows[ki].order < rows[kj].order
	})
}
