package expansion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/creator-discovery/internal/expansion"
)

// stubGenerator returns canned variations, or an error when failing is set.
type stubGenerator struct {
	failing bool
	calls   int
}

func (s *stubGenerator) Variations(_ context.Context, seed string, count int) ([]string, error) {
	s.calls++
	if s.failing {
		return nil, errors.New("model unavailable")
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf("%s variation %d-%d", seed, s.calls, i))
	}
	return out, nil
}

func TestCalculateKeywordsNeeded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		target int
		want   int
	}{
		{target: 0, want: 0},
		{target: -5, want: 0},
		{target: 1, want: 1},
		{target: 50, want: 3},   // ceil(50/20*1.2)
		{target: 100, want: 6},  // ceil(100/20*1.2)
		{target: 500, want: 30}, // ceil(500/20*1.2)
		{target: 5000, want: 60},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, expansion.CalculateKeywordsNeeded(tt.target), "target=%d", tt.target)
	}
}

func TestExpandKeywordsForTargetIncludesSeeds(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{}
	out := expansion.ExpandKeywordsForTarget(context.Background(), gen, []string{"vegan cooking"}, 5, nil)

	require.Len(t, out, 5)
	assert.Equal(t, "vegan cooking", out[0])
}

func TestExpandKeywordsForTargetDedupesCaseInsensitively(t *testing.T) {
	t.Parallel()
	out := expansion.ExpandKeywordsForTarget(
		context.Background(),
		nil,
		[]string{"Vegan Cooking", "vegan  cooking", "baking"},
		3,
		nil,
	)
	// The second seed is the same keyword modulo case and spacing.
	require.Len(t, out, 3)
	assert.Equal(t, "Vegan Cooking", out[0])
	assert.Equal(t, "baking", out[1])
}

func TestExpandKeywordsFallsBackWhenGeneratorFails(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{failing: true}
	out := expansion.ExpandKeywordsForTarget(context.Background(), gen, []string{"fitness"}, 4, nil)

	require.Len(t, out, 4)
	assert.Equal(t, []string{"fitness", "fitness tips", "fitness 2025", "fitness for beginners"}, out)
	assert.Positive(t, gen.calls)
}

func TestFreshKeywordsExcludesUsed(t *testing.T) {
	t.Parallel()
	used := []string{"fitness", "fitness tips", "fitness 2025"}
	out := expansion.FreshKeywords(context.Background(), nil, []string{"fitness"}, 3, used)

	require.NotEmpty(t, out)
	for _, k := range out {
		assert.NotContains(t, used, k)
	}
}

func TestFallbackVariationsCapsAtModifierCount(t *testing.T) {
	t.Parallel()
	out := expansion.FallbackVariations("yoga", 100)
	assert.Len(t, out, 8)
	assert.Empty(t, expansion.FallbackVariations("", 5))
	assert.Empty(t, expansion.FallbackVariations("yoga", 0))
}

func TestParseKeywordLines(t *testing.T) {
	t.Parallel()
	text := "1. vegan recipes\n- quick vegan meals\n* \"plant based dinner\"\n\n  2) vegan meal prep\nextra line\n"
	out := expansion.ParseKeywordLines(text, 4)
	assert.Equal(t, []string{
		"vegan recipes",
		"quick vegan meals",
		"plant based dinner",
		"vegan meal prep",
	}, out)
}

func TestKeywordGeneratorLifecycle(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{}
	kg := expansion.NewKeywordGenerator(gen, []string{"travel"}, nil)

	initial := kg.Initialize(context.Background(), 100)
	require.Len(t, initial, 6)
	// A second Initialize is a no-op.
	again := kg.Initialize(context.Background(), 1000)
	assert.Equal(t, initial, again)

	k, ok := kg.Next()
	require.True(t, ok)
	assert.Equal(t, initial[0], k)
	assert.Len(t, kg.Pending(), 5)
	assert.Equal(t, []string{k}, kg.Processed())
}

func TestKeywordGeneratorExpandMoreBounds(t *testing.T) {
	t.Parallel()
	kg := expansion.NewKeywordGenerator(&stubGenerator{}, []string{"travel"}, nil)
	kg.Initialize(context.Background(), 100)

	for round := 1; round <= expansion.MaxExpansionRounds; round++ {
		fresh := kg.ExpandMore(context.Background(), 10)
		require.NotEmptyf(t, fresh, "round %d", round)
		assert.Equal(t, round, kg.Rounds())
	}
	assert.Nil(t, kg.ExpandMore(context.Background(), 10))
}

func TestKeywordGeneratorInitializeNeverDropsSeeds(t *testing.T) {
	t.Parallel()
	seeds := []string{"travel", "travel hacks", "budget travel"}
	kg := expansion.NewKeywordGenerator(nil, seeds, nil)

	// A tiny target estimates fewer keywords than there are seeds; the plan
	// still searches every seed.
	initial := kg.Initialize(context.Background(), 10)
	assert.Equal(t, seeds, initial)
}

func TestResumeKeywordGeneratorExcludesUsed(t *testing.T) {
	t.Parallel()
	used := []string{"travel", "travel tips"}
	kg := expansion.ResumeKeywordGenerator(&stubGenerator{}, []string{"travel"}, used, 0, nil)

	fresh := kg.ExpandMore(context.Background(), 5)
	require.NotEmpty(t, fresh)
	for _, k := range fresh {
		assert.NotContains(t, used, k)
	}
	assert.Equal(t, 1, kg.Rounds())
}

func TestResumeKeywordGeneratorHonorsRoundLimit(t *testing.T) {
	t.Parallel()
	kg := expansion.ResumeKeywordGenerator(&stubGenerator{}, []string{"travel"}, []string{"travel"}, expansion.MaxExpansionRounds, nil)

	assert.Nil(t, kg.ExpandMore(context.Background(), 5))
}
