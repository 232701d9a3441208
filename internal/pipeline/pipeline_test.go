package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/pipeline"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeAdapter serves canned pages per keyword. Cursors are page indices.
type fakeAdapter struct {
	pages      map[string][]creator.FetchPage
	enrichable bool
	enrichErr  error

	mu         sync.Mutex
	fetchCalls int
}

func (f *fakeAdapter) Platform() creator.Platform { return creator.PlatformShortVideo }

func (f *fakeAdapter) Fetch(_ context.Context, keyword, cursor string, _ creator.SearchConfig) (creator.FetchPage, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	pages := f.pages[keyword]
	if idx >= len(pages) {
		return creator.FetchPage{}, nil
	}
	return pages[idx], nil
}

func (f *fakeAdapter) Normalize(raw creator.RawItem) *creator.NormalizedCreator {
	var c creator.NormalizedCreator
	if err := json.Unmarshal(raw, &c); err != nil || c.Creator.Handle == "" {
		return nil
	}
	c.Platform = creator.PlatformShortVideo
	return &c
}

func (f *fakeAdapter) DedupeKey(c *creator.NormalizedCreator) string { return c.Creator.Handle }

func (f *fakeAdapter) SupportsEnrichment() bool { return f.enrichable }

func (f *fakeAdapter) Enrich(_ context.Context, c *creator.NormalizedCreator, _ creator.SearchConfig) (*creator.NormalizedCreator, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	out := *c
	out.Creator.Biography = "enriched bio for " + c.Creator.Handle
	return &out, nil
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

type collectSink struct {
	mu    sync.Mutex
	items []creator.NormalizedCreator
}

func (s *collectSink) Emit(_ context.Context, c creator.NormalizedCreator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, c)
	return nil
}

func (s *collectSink) EmitBatch(ctx context.Context, batch []creator.NormalizedCreator) error {
	for _, c := range batch {
		if err := s.Emit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *collectSink) all() []creator.NormalizedCreator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]creator.NormalizedCreator, len(s.items))
	copy(out, s.items)
	return out
}

func rawItem(t *testing.T, handle string, views int64) creator.RawItem {
	t.Helper()
	data, err := json.Marshal(creator.NormalizedCreator{
		Creator: creator.CreatorInfo{Handle: handle},
		Content: creator.ContentInfo{ViewCount: views},
	})
	require.NoError(t, err)
	return data
}

func page(items []creator.RawItem, next string) creator.FetchPage {
	return creator.FetchPage{
		Items:      items,
		HasMore:    next != "",
		NextCursor: next,
	}
}

func newPipeline(adapter creator.Adapter) *pipeline.Pipeline {
	return pipeline.New(adapter, pipeline.Config{EnrichWorkers: 2, QueueDepth: 8}, fixedClock{t: time.Now()}, nil)
}

func TestPipelineStopsExactlyAtTarget(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		pages: map[string][]creator.FetchPage{
			"cooking": {page([]creator.RawItem{
				rawItem(t, "a", 100), rawItem(t, "b", 100), rawItem(t, "c", 100), rawItem(t, "d", 100),
			}, "")},
			"baking": {page([]creator.RawItem{
				rawItem(t, "e", 100), rawItem(t, "f", 100), rawItem(t, "g", 100), rawItem(t, "h", 100),
			}, "")},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j1", Keywords: []string{"cooking", "baking"}, Target: 5},
		creator.SearchConfig{},
		sink,
	)
	require.NoError(t, err)

	assert.Equal(t, creator.StatusCompleted, result.Status)
	assert.Equal(t, 5, result.Found)
	assert.True(t, result.HasMore)
	assert.Len(t, sink.all(), 5)
}

func TestPipelinePartialWhenSupplyRunsOut(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		pages: map[string][]creator.FetchPage{
			"niche": {page([]creator.RawItem{rawItem(t, "only", 50)}, "")},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j2", Keywords: []string{"niche"}, Target: 10},
		creator.SearchConfig{},
		sink,
	)
	require.NoError(t, err)

	assert.Equal(t, creator.StatusPartial, result.Status)
	assert.Equal(t, 1, result.Found)
	assert.False(t, result.HasMore)
}

func TestPipelineDeduplicatesAcrossKeywords(t *testing.T) {
	t.Parallel()
	shared := []creator.RawItem{rawItem(t, "same", 100), rawItem(t, "other", 100)}
	adapter := &fakeAdapter{
		pages: map[string][]creator.FetchPage{
			"kw1": {page(shared, "")},
			"kw2": {page(shared, "")},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j3", Keywords: []string{"kw1", "kw2"}, Target: 10},
		creator.SearchConfig{},
		sink,
	)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	handles := map[string]int{}
	for _, c := range sink.all() {
		handles[c.Creator.Handle]++
	}
	assert.Equal(t, map[string]int{"same": 1, "other": 1}, handles)
}

func TestPipelineEngagementFilterRunsBeforeDedupe(t *testing.T) {
	t.Parallel()
	// The same identity appears first below the engagement floor, then above
	// it. The low-engagement sighting must not poison the dedupe set.
	adapter := &fakeAdapter{
		pages: map[string][]creator.FetchPage{
			"kw": {
				page([]creator.RawItem{rawItem(t, "rising", 10)}, "1"),
				page([]creator.RawItem{rawItem(t, "rising", 500)}, ""),
			},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j4", Keywords: []string{"kw"}, Target: 5},
		creator.SearchConfig{MinEngagement: 100},
		sink,
	)
	require.NoError(t, err)

	require.Equal(t, 1, result.Found)
	items := sink.all()
	require.Len(t, items, 1)
	assert.Equal(t, int64(500), items[0].Content.ViewCount)
}

func TestPipelineStopsAfterConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()
	dup := []creator.RawItem{rawItem(t, "repeat", 100)}
	adapter := &fakeAdapter{
		pages: map[string][]creator.FetchPage{
			"kw": {
				page(dup, "1"),
				page(dup, "2"),
				page(dup, "3"),
				page(dup, "4"),
				page(dup, "5"),
				page(dup, ""),
			},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j5", Keywords: []string{"kw"}, Target: 10},
		creator.SearchConfig{MaxEmptyPages: 3},
		sink,
	)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found)
	// First page accepts one creator; the next three duplicate-only pages
	// trip the empty-page cutoff without walking the remaining cursors.
	assert.Equal(t, 4, adapter.calls())
}

func TestPipelineEnrichmentFillsBiography(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		enrichable: true,
		pages: map[string][]creator.FetchPage{
			"kw": {page([]creator.RawItem{rawItem(t, "plain", 100)}, "")},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j6", Keywords: []string{"kw"}, Target: 1},
		creator.SearchConfig{EnrichEnabled: true},
		sink,
	)
	require.NoError(t, err)
	require.Equal(t, creator.StatusCompleted, result.Status)

	items := sink.all()
	require.Len(t, items, 1)
	assert.True(t, items[0].BioEnriched)
	assert.Equal(t, "enriched bio for plain", items[0].Creator.Biography)
	assert.NotNil(t, items[0].Enrichment)
	assert.Empty(t, items[0].Enrichment.Error)
	assert.EqualValues(t, 1, result.Metrics.EnrichSuccesses)
}

func TestPipelineEnrichmentFailureKeepsOriginal(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		enrichable: true,
		enrichErr:  errors.New("profile endpoint down"),
		pages: map[string][]creator.FetchPage{
			"kw": {page([]creator.RawItem{rawItem(t, "kept", 100)}, "")},
		},
	}
	sink := &collectSink{}

	result, err := newPipeline(adapter).Run(
		context.Background(),
		creator.PipelineContext{JobID: "j7", Keywords: []string{"kw"}, Target: 1},
		creator.SearchConfig{EnrichEnabled: true},
		sink,
	)
	require.NoError(t, err)
	// A failed enrichment call never fails the run.
	assert.Equal(t, creator.StatusCompleted, result.Status)

	items := sink.all()
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].Creator.Handle)
	assert.Empty(t, items[0].Creator.Biography)
	assert.True(t, items[0].BioEnriched)
	require.NotNil(t, items[0].Enrichment)
	assert.Contains(t, items[0].Enrichment.Error, "profile endpoint down")
	assert.EqualValues(t, 0, result.Metrics.EnrichSuccesses)
}

func TestBatcherFlushesFullAndFinalBatches(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	b := pipeline.NewBatcher(sink, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Emit(ctx, creator.NormalizedCreator{MergeKey: strconv.Itoa(i)}))
	}
	assert.Len(t, sink.all(), 4)
	require.NoError(t, b.Flush(ctx))
	assert.Len(t, sink.all(), 5)
}
