package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/creator-discovery/internal/adapters"
	archmemory "github.com/scoutline/creator-discovery/internal/archive/memory"
	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/dispatch"
	"github.com/scoutline/creator-discovery/internal/expansion"
	jobsmemory "github.com/scoutline/creator-discovery/internal/jobs/memory"
	"github.com/scoutline/creator-discovery/internal/pipeline"
	pubmemory "github.com/scoutline/creator-discovery/internal/publisher/memory"
)

// fakeAdapter serves canned pages per keyword; cursors are page indices.
type fakeAdapter struct {
	pages      map[string][]creator.FetchPage
	enrichable bool
	enrichErr  error
}

func (f *fakeAdapter) Platform() creator.Platform { return creator.PlatformReels }

func (f *fakeAdapter) Fetch(_ context.Context, keyword, cursor string, _ creator.SearchConfig) (creator.FetchPage, error) {
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
	c.Platform = creator.PlatformReels
	return &c
}

func (f *fakeAdapter) DedupeKey(c *creator.NormalizedCreator) string { return c.Creator.Handle }

func (f *fakeAdapter) SupportsEnrichment() bool { return f.enrichable }

func (f *fakeAdapter) Enrich(_ context.Context, c *creator.NormalizedCreator, _ creator.SearchConfig) (*creator.NormalizedCreator, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	out := *c
	out.Creator.Biography = "bio of " + c.Creator.Handle
	return &out, nil
}

// stubGenerator produces distinct variations on every call.
type stubGenerator struct{ calls int }

func (s *stubGenerator) Variations(_ context.Context, seed string, count int) ([]string, error) {
	s.calls++
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf("%s v%d-%d", seed, s.calls, i))
	}
	return out, nil
}

func pageOf(t *testing.T, prefix string, n int) creator.FetchPage {
	t.Helper()
	items := make([]creator.RawItem, 0, n)
	for i := 0; i < n; i++ {
		data, err := json.Marshal(creator.NormalizedCreator{
			Creator: creator.CreatorInfo{Handle: fmt.Sprintf("%s-%d", prefix, i)},
			Content: creator.ContentInfo{ViewCount: 1000},
		})
		require.NoError(t, err)
		items = append(items, data)
	}
	return creator.FetchPage{Items: items}
}

type handlerEnv struct {
	store   *jobsmemory.Store
	pub     *pubmemory.Publisher
	adapter *fakeAdapter
	archive *archmemory.Store
	h       *dispatch.Handlers
}

const testDeadLetterURL = "https://workers.example.com/dead-letter"

func newEnv(adapter *fakeAdapter, gen expansion.Generator) *handlerEnv {
	store := jobsmemory.NewStore()
	pub := pubmemory.NewPublisher()
	archive := archmemory.NewStore()
	h := dispatch.NewHandlers(
		store, store, pub, testDeadLetterURL,
		adapters.NewRegistry(adapter),
		gen,
		map[creator.Platform]creator.SearchConfig{
			creator.PlatformReels: {EnrichEnabled: true, MaxEmptyPages: 3},
		},
		pipeline.Config{EnrichWorkers: 2, QueueDepth: 16},
		archive,
		fixedClock{},
		nil,
	)
	return &handlerEnv{store: store, pub: pub, adapter: adapter, archive: archive, h: h}
}

func seedJob(t *testing.T, env *handlerEnv, job creator.Job) {
	t.Helper()
	if job.UserID == "" {
		job.UserID = "user-1"
	}
	if job.Platform == "" {
		job.Platform = creator.PlatformReels
	}
	require.NoError(t, env.store.CreateJob(context.Background(), job))
}

func searchMessages(t *testing.T, pub *pubmemory.Publisher) []dispatch.SearchMessage {
	t.Helper()
	var out []dispatch.SearchMessage
	for _, m := range pub.MessagesFor(dispatch.TopicSearch) {
		var sm dispatch.SearchMessage
		require.NoError(t, json.Unmarshal(m.Payload, &sm))
		out = append(out, sm)
	}
	return out
}

func enrichMessages(t *testing.T, pub *pubmemory.Publisher) []dispatch.EnrichMessage {
	t.Helper()
	var out []dispatch.EnrichMessage
	for _, m := range pub.MessagesFor(dispatch.TopicEnrich) {
		var em dispatch.EnrichMessage
		require.NoError(t, json.Unmarshal(m.Payload, &em))
		out = append(out, em)
	}
	return out
}

func TestHandleDispatchFansOutOneMessagePerKeyword(t *testing.T) {
	t.Parallel()
	env := newEnv(&fakeAdapter{}, nil)
	seedJob(t, env, creator.Job{ID: "job-1", Status: creator.JobStatusPending, TargetResults: 30})

	err := env.h.HandleDispatch(context.Background(), dispatch.DispatchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keywords:      []string{"vegan", "vegan recipes", "plant based"},
		TargetResults: 30,
	})
	require.NoError(t, err)

	msgs := searchMessages(t, env.pub)
	require.Len(t, msgs, 3)
	for i, sm := range msgs {
		assert.Equal(t, "job-1", sm.JobID)
		assert.Equal(t, i, sm.BatchIndex)
		assert.Equal(t, 3, sm.TotalKeywords)
		assert.Equal(t, 30, sm.TargetResults)
	}

	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusSearching, job.Status)
	assert.Equal(t, 3, job.Counters.KeywordsDispatched)
	assert.Len(t, job.Keywords, 3)

	for _, m := range env.pub.MessagesFor(dispatch.TopicSearch) {
		assert.Equal(t, testDeadLetterURL, m.Options.DeadLetterURL)
	}
}

func TestHandleDispatchExpandsKeywordsTowardTarget(t *testing.T) {
	t.Parallel()
	env := newEnv(&fakeAdapter{}, &stubGenerator{})
	seedJob(t, env, creator.Job{ID: "job-1", Status: creator.JobStatusPending, TargetResults: 100})

	err := env.h.HandleDispatch(context.Background(), dispatch.DispatchMessage{
		JobID:           "job-1",
		UserID:          "user-1",
		Platform:        creator.PlatformReels,
		Keywords:        []string{"surfing"},
		TargetResults:   100,
		EnableExpansion: true,
	})
	require.NoError(t, err)

	// ceil(100/20*1.2) = 6 keywords, seed included.
	msgs := searchMessages(t, env.pub)
	require.Len(t, msgs, 6)
	assert.Equal(t, "surfing", msgs[0].Keyword)
	for _, sm := range msgs {
		assert.True(t, sm.EnableExpansion)
	}
}

func TestHandleDispatchSkipsRedeliveredMessage(t *testing.T) {
	t.Parallel()
	env := newEnv(&fakeAdapter{}, nil)
	seedJob(t, env, creator.Job{ID: "job-1", Status: creator.JobStatusSearching, TargetResults: 30})

	err := env.h.HandleDispatch(context.Background(), dispatch.DispatchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keywords:      []string{"vegan"},
		TargetResults: 30,
	})
	require.NoError(t, err)
	assert.Empty(t, env.pub.Messages())
}

func TestHandleSearchPersistsCreatorsAndQueuesEnrichment(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{pages: map[string][]creator.FetchPage{
		"kw1": {pageOf(t, "c", 7)},
	}}
	env := newEnv(adapter, nil)
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw1", "kw2"},
		TargetResults: 5,
		Counters:      creator.JobCounters{KeywordsDispatched: 2},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keyword:       "kw1",
		TotalKeywords: 2,
		TargetResults: 5,
	})
	require.NoError(t, err)

	counts, err := env.store.CountCreators(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Total)

	ems := enrichMessages(t, env.pub)
	require.Len(t, ems, 1)
	assert.Len(t, ems[0].CreatorIDs, 5)
	assert.Equal(t, 1, ems[0].TotalBatches)

	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	// One of two keywords done: the job stays in the search phase.
	assert.Equal(t, creator.JobStatusSearching, job.Status)
	assert.Equal(t, 1, job.Counters.KeywordsCompleted)
	assert.Equal(t, 5, job.Counters.CreatorsFound)
}

func TestHandleSearchSkipsFinishedJob(t *testing.T) {
	t.Parallel()
	env := newEnv(&fakeAdapter{}, nil)
	seedJob(t, env, creator.Job{ID: "job-1", Status: creator.JobStatusCompleted, TargetResults: 5})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keyword:       "kw",
		TotalKeywords: 1,
		TargetResults: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, env.pub.Messages())
}

func TestSearchThenEnrichDrivesJobToCompleted(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		enrichable: true,
		pages: map[string][]creator.FetchPage{
			"kw": {pageOf(t, "c", 3)},
		},
	}
	env := newEnv(adapter, nil)
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw"},
		TargetResults: 3,
		Counters:      creator.JobCounters{KeywordsDispatched: 1},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keyword:       "kw",
		TotalKeywords: 1,
		TargetResults: 3,
	})
	require.NoError(t, err)

	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusEnriching, job.Status)

	for _, em := range enrichMessages(t, env.pub) {
		require.NoError(t, env.h.HandleEnrich(context.Background(), em))
	}

	job, err = env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Counters.CreatorsEnriched)

	rows, err := env.store.ListCreators(context.Background(), "job-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.True(t, row.Enriched)
		assert.Contains(t, row.Payload.Creator.Biography, "bio of")
	}
}

func TestHandleSearchReExpandsOnShortfall(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{pages: map[string][]creator.FetchPage{
		"kw": {pageOf(t, "c", 45)},
	}}
	env := newEnv(adapter, &stubGenerator{})
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw"},
		UsedKeywords:  []string{"kw"},
		TargetResults: 100,
		Counters:      creator.JobCounters{KeywordsDispatched: 1},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:           "job-1",
		UserID:          "user-1",
		Platform:        creator.PlatformReels,
		Keyword:         "kw",
		TotalKeywords:   1,
		TargetResults:   100,
		EnableExpansion: true,
	})
	require.NoError(t, err)

	// Observed yield of 45/keyword against a gap of 55 asks for
	// ceil(55/45*1.3) = 2 fresh keywords.
	fresh := searchMessages(t, env.pub)
	require.Len(t, fresh, 2)
	assert.Equal(t, 1, fresh[0].BatchIndex)
	assert.Equal(t, 2, fresh[1].BatchIndex)
	assert.Equal(t, 3, fresh[0].TotalKeywords)

	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusSearching, job.Status)
	assert.Equal(t, 1, job.ExpansionRound)
	assert.Equal(t, 3, job.Counters.KeywordsDispatched)
	assert.Len(t, job.Keywords, 3)
}

func TestHandleSearchStopsExpansionOnLowYield(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{pages: map[string][]creator.FetchPage{
		"kw": {pageOf(t, "c", 4)},
	}}
	env := newEnv(adapter, &stubGenerator{})
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw"},
		UsedKeywords:  []string{"kw"},
		TargetResults: 100,
		Counters:      creator.JobCounters{KeywordsDispatched: 1},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:           "job-1",
		UserID:          "user-1",
		Platform:        creator.PlatformReels,
		Keyword:         "kw",
		TotalKeywords:   1,
		TargetResults:   100,
		EnableExpansion: true,
	})
	require.NoError(t, err)

	// A 4.0 yield is below the minimum: the job gives up expanding and moves
	// on to enrichment instead of burning keyword budget.
	assert.Empty(t, searchMessages(t, env.pub))
	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusEnriching, job.Status)
	assert.Equal(t, 0, job.ExpansionRound)
	assert.Equal(t, string(expansion.StopLowYield), job.StopReason)
}

func TestShortfallJobResolvesPartialAfterEnrichment(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		enrichable: true,
		pages: map[string][]creator.FetchPage{
			"kw": {pageOf(t, "c", 4)},
		},
	}
	env := newEnv(adapter, &stubGenerator{})
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw"},
		UsedKeywords:  []string{"kw"},
		TargetResults: 100,
		Counters:      creator.JobCounters{KeywordsDispatched: 1},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:           "job-1",
		UserID:          "user-1",
		Platform:        creator.PlatformReels,
		Keyword:         "kw",
		TotalKeywords:   1,
		TargetResults:   100,
		EnableExpansion: true,
	})
	require.NoError(t, err)

	for _, em := range enrichMessages(t, env.pub) {
		require.NoError(t, env.h.HandleEnrich(context.Background(), em))
	}

	// Four creators against a target of 100 is all the platform had: every
	// row enriched resolves the job, but as partial, never completed.
	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusPartial, job.Status)
	assert.Equal(t, creator.EnrichmentDone, job.EnrichmentStatus)
	assert.Equal(t, string(expansion.StopLowYield), job.StopReason)
	assert.Equal(t, 4, job.Counters.CreatorsEnriched)
}

func TestHandleSearchArchivesRunOutput(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{pages: map[string][]creator.FetchPage{
		"kw": {pageOf(t, "c", 2)},
	}}
	env := newEnv(adapter, nil)
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusSearching,
		Keywords:      []string{"kw"},
		TargetResults: 2,
		Counters:      creator.JobCounters{KeywordsDispatched: 1},
	})

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{
		JobID:         "job-1",
		UserID:        "user-1",
		Platform:      creator.PlatformReels,
		Keyword:       "kw",
		TotalKeywords: 1,
		TargetResults: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.archive.Len())
}

func TestHandleEnrichKeepsRecordWhenUpstreamFails(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		enrichable: true,
		enrichErr:  errors.New("profile endpoint down"),
	}
	env := newEnv(adapter, nil)
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusEnriching,
		Keywords:      []string{"kw"},
		TargetResults: 2,
	})
	inserted, err := env.store.SaveCreators(context.Background(), "job-1", 2, []creator.NormalizedCreator{
		{Platform: creator.PlatformReels, MergeKey: "a", Creator: creator.CreatorInfo{Handle: "a"}},
		{Platform: creator.PlatformReels, MergeKey: "b", Creator: creator.CreatorInfo{Handle: "b"}},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	err = env.h.HandleEnrich(context.Background(), dispatch.EnrichMessage{
		JobID:        "job-1",
		UserID:       "user-1",
		Platform:     creator.PlatformReels,
		CreatorIDs:   inserted,
		TotalBatches: 1,
	})
	require.NoError(t, err)

	rows, err := env.store.ListCreators(context.Background(), "job-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Enriched)
		assert.Empty(t, row.Payload.Creator.Biography)
		require.NotNil(t, row.Payload.Enrichment)
		assert.Contains(t, row.Payload.Enrichment.Error, "profile endpoint down")
	}

	// Every row resolved, so the failed calls still complete the job.
	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusCompleted, job.Status)
}

func TestHandleEnrichRedeliveryIsHarmless(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{enrichable: true}
	env := newEnv(adapter, nil)
	seedJob(t, env, creator.Job{
		ID:            "job-1",
		Status:        creator.JobStatusEnriching,
		Keywords:      []string{"kw"},
		TargetResults: 1,
	})
	inserted, err := env.store.SaveCreators(context.Background(), "job-1", 1, []creator.NormalizedCreator{
		{Platform: creator.PlatformReels, MergeKey: "a", Creator: creator.CreatorInfo{Handle: "a"}},
	})
	require.NoError(t, err)

	msg := dispatch.EnrichMessage{
		JobID:        "job-1",
		UserID:       "user-1",
		Platform:     creator.PlatformReels,
		CreatorIDs:   inserted,
		TotalBatches: 1,
	}
	require.NoError(t, env.h.HandleEnrich(context.Background(), msg))
	require.NoError(t, env.h.HandleEnrich(context.Background(), msg))

	job, err := env.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.JobStatusCompleted, job.Status)
	// The redelivered batch found the job terminal and every row enriched;
	// nothing was counted twice.
	assert.Equal(t, 1, job.Counters.CreatorsEnriched)
}

func TestHandleSearchRejectsInvalidMessage(t *testing.T) {
	t.Parallel()
	env := newEnv(&fakeAdapter{}, nil)

	err := env.h.HandleSearch(context.Background(), dispatch.SearchMessage{JobID: "job-1"})
	require.Error(t, err)
	assert.Empty(t, env.pub.Messages())
}
