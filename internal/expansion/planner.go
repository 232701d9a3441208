// Package expansion plans keyword growth for discovery jobs: an up-front
// estimate of how many keywords a target needs, AI-generated variations with
// a deterministic fallback, and the adaptive re-expansion loop that closes
// the gap from observed yield.
package expansion

import (
	"context"
	"math"
	"strings"
)

// Authoritative planning constants. Both the up-front planner and the
// adaptive re-expansion loop read these; no second set exists.
const (
	// EstimatedYieldPerKeyword is the empirical creators-per-keyword prior
	// used before any real yield has been observed.
	EstimatedYieldPerKeyword = 20
	// PlanningBuffer pads the up-front keyword estimate.
	PlanningBuffer = 1.2
	// ReexpandBuffer pads the gap-closing keyword request.
	ReexpandBuffer = 1.3
	// MinYieldPerKeyword is the floor below which the upstream API is
	// treated as degraded and expansion stops.
	MinYieldPerKeyword = 5.0
	// MaxExpansionRounds bounds how many times a job may re-expand.
	MaxExpansionRounds = 3
	// MaxKeywordsPerRound caps a single re-expansion request.
	MaxKeywordsPerRound = 30
	// MaxTotalKeywords caps the cumulative keyword budget of a job.
	MaxTotalKeywords = 60
)

// fallbackModifiers derive deterministic variations when AI generation is
// unavailable.
var fallbackModifiers = []string{
	"tips", "2025", "for beginners", "tutorial", "ideas", "guide", "tricks", "review",
}

// Generator produces keyword variations for a seed. Implementations may call
// an AI model; errors trigger the deterministic fallback.
type Generator interface {
	Variations(ctx context.Context, seed string, count int) ([]string, error)
}

// CalculateKeywordsNeeded estimates how many keywords hitting target takes,
// from the empirical yield prior plus a buffer, capped at the global budget.
func CalculateKeywordsNeeded(target int) int {
	if target <= 0 {
		return 0
	}
	needed := int(math.Ceil(float64(target) / EstimatedYieldPerKeyword * PlanningBuffer))
	if needed < 1 {
		needed = 1
	}
	if needed > MaxTotalKeywords {
		needed = MaxTotalKeywords
	}
	return needed
}

// ExpandKeywordsForTarget grows seeds toward count keywords using gen,
// deduplicating case-insensitively against used and everything produced so
// far. A nil or failing generator falls back to deterministic modifiers.
// The seeds themselves are included in the result.
func ExpandKeywordsForTarget(ctx context.Context, gen Generator, seeds []string, count int, used []string) []string {
	dedupe := newKeywordSet(used)
	out := make([]string, 0, count)
	for _, seed := range seeds {
		if len(out) >= count {
			break
		}
		if dedupe.add(seed) {
			out = append(out, seed)
		}
	}
	if len(out) >= count {
		return out
	}

	perSeed := perSeedQuota(count-len(out), len(seeds))
	for _, seed := range seeds {
		if len(out) >= count {
			break
		}
		variations := generateVariations(ctx, gen, seed, perSeed)
		for _, v := range variations {
			if len(out) >= count {
				break
			}
			if dedupe.add(v) {
				out = append(out, v)
			}
		}
	}
	return out
}

// FreshKeywords produces up to count brand-new keywords for seeds, excluding
// every keyword in used (including the seeds when present). Used by the
// re-expansion loop, where seeds have already been searched.
func FreshKeywords(ctx context.Context, gen Generator, seeds []string, count int, used []string) []string {
	dedupe := newKeywordSet(used)
	out := make([]string, 0, count)
	perSeed := perSeedQuota(count, len(seeds))
	for _, seed := range seeds {
		if len(out) >= count {
			break
		}
		for _, v := range generateVariations(ctx, gen, seed, perSeed+len(fallbackModifiers)) {
			if len(out) >= count {
				break
			}
			if dedupe.add(v) {
				out = append(out, v)
			}
		}
	}
	return out
}

func generateVariations(ctx context.Context, gen Generator, seed string, count int) []string {
	if gen != nil {
		variations, err := gen.Variations(ctx, seed, count)
		if err == nil && len(variations) > 0 {
			return variations
		}
	}
	return FallbackVariations(seed, count)
}

// FallbackVariations derives deterministic "<seed> <modifier>" keywords.
func FallbackVariations(seed string, count int) []string {
	seed = strings.TrimSpace(seed)
	if seed == "" || count <= 0 {
		return nil
	}
	if count > len(fallbackModifiers) {
		count = len(fallbackModifiers)
	}
	out := make([]string, 0, count)
	for _, mod := range fallbackModifiers[:count] {
		out = append(out, seed+" "+mod)
	}
	return out
}

func perSeedQuota(needed, seeds int) int {
	if seeds <= 0 {
		return needed
	}
	q := (needed + seeds - 1) / seeds
	if q < 1 {
		q = 1
	}
	return q
}

// keywordSet tracks case-insensitive keyword membership.
type keywordSet struct {
	seen map[string]struct{}
}

func newKeywordSet(initial []string) *keywordSet {
	s := &keywordSet{seen: make(map[string]struct{}, len(initial))}
	for _, k := range initial {
		s.seen[normalizeKeyword(k)] = struct{}{}
	}
	return s
}

// add records k and reports whether it was new and non-empty.
func (s *keywordSet) add(k string) bool {
	norm := normalizeKeyword(k)
	if norm == "" {
		return false
	}
	if _, ok := s.seen[norm]; ok {
		return false
	}
	s.seen[norm] = struct{}{}
	return true
}

func normalizeKeyword(k string) string {
	return strings.ToLower(strings.Join(strings.Fields(k), " "))
}
