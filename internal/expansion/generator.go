package expansion

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// KeywordGenerator tracks keyword state for one expanded pipeline run:
// which keywords are pending, which have been processed, and how many
// expansion rounds remain. It is safe for concurrent use.
type KeywordGenerator struct {
	mu        sync.Mutex
	gen       Generator
	seeds     []string
	used      *keywordSet
	pending   []string
	processed []string
	rounds    int
	logger    *zap.Logger
}

// NewKeywordGenerator builds a generator over the seed keywords. gen may be
// nil, in which case only deterministic fallback variations are produced.
func NewKeywordGenerator(gen Generator, seeds []string, logger *zap.Logger) *KeywordGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordGenerator{
		gen:    gen,
		seeds:  append([]string(nil), seeds...),
		used:   newKeywordSet(nil),
		logger: logger,
	}
}

// ResumeKeywordGenerator rebuilds generator state from a persisted job so a
// later worker invocation can keep expanding where the job left off. used
// holds every keyword the job has dispatched so far and counts against the
// total budget; rounds is how many expansion rounds have already run.
func ResumeKeywordGenerator(gen Generator, seeds, used []string, rounds int, logger *zap.Logger) *KeywordGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rounds < 0 {
		rounds = 0
	}
	g := &KeywordGenerator{
		gen:       gen,
		seeds:     append([]string(nil), seeds...),
		used:      newKeywordSet(nil),
		processed: append([]string(nil), used...),
		rounds:    rounds,
		logger:    logger,
	}
	for _, k := range used {
		g.used.add(k)
	}
	return g
}

// Initialize expands the seeds into the initial keyword list for target and
// returns it. Calling it again resets nothing; it is a no-op after the
// first call.
func (g *KeywordGenerator) Initialize(ctx context.Context, target int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) > 0 || len(g.processed) > 0 {
		return append([]string(nil), g.pending...)
	}
	needed := CalculateKeywordsNeeded(target)
	if needed < len(g.seeds) {
		needed = len(g.seeds)
	}
	keywords := ExpandKeywordsForTarget(ctx, g.gen, g.seeds, needed, nil)
	for _, k := range keywords {
		g.used.add(k)
	}
	g.pending = keywords
	g.logger.Debug("initialized keyword plan",
		zap.Int("target", target),
		zap.Int("keywords", len(keywords)),
	)
	return append([]string(nil), keywords...)
}

// ExpandMore requests up to count additional keywords, bounded by the round
// limit and the total keyword budget. It returns nil when either bound is
// exhausted or nothing new could be generated.
func (g *KeywordGenerator) ExpandMore(ctx context.Context, count int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rounds >= MaxExpansionRounds {
		return nil
	}
	total := len(g.pending) + len(g.processed)
	budget := MaxTotalKeywords - total
	if budget <= 0 {
		return nil
	}
	if count > budget {
		count = budget
	}
	if count > MaxKeywordsPerRound {
		count = MaxKeywordsPerRound
	}
	if count <= 0 {
		return nil
	}

	g.rounds++
	fresh := FreshKeywords(ctx, g.gen, g.seeds, count, g.usedKeywordsLocked())
	for _, k := range fresh {
		g.used.add(k)
	}
	g.pending = append(g.pending, fresh...)
	g.logger.Debug("expanded keyword plan",
		zap.Int("round", g.rounds),
		zap.Int("fresh", len(fresh)),
	)
	return fresh
}

// Next pops the next pending keyword, reporting false when none remain.
func (g *KeywordGenerator) Next() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return "", false
	}
	k := g.pending[0]
	g.pending = g.pending[1:]
	g.processed = append(g.processed, k)
	return k, true
}

// Pending returns a copy of the keywords not yet handed out.
func (g *KeywordGenerator) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.pending...)
}

// Processed returns a copy of the keywords already handed out.
func (g *KeywordGenerator) Processed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.processed...)
}

// Rounds returns how many expansion rounds have run.
func (g *KeywordGenerator) Rounds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rounds
}

func (g *KeywordGenerator) usedKeywordsLocked() []string {
	out := make([]string, 0, len(g.pending)+len(g.processed))
	out = append(out, g.processed...)
	out = append(out, g.pending...)
	return out
}
