package expansion

import "math"

// StopReason explains why a re-expansion round did not run.
type StopReason string

// Stop reasons reported alongside a declined re-expansion. Each is a
// deliberate "know when to give up" outcome, not an error.
const (
	StopTargetMet   StopReason = "target_met"
	StopRoundLimit  StopReason = "round_limit_reached"
	StopLowYield    StopReason = "yield_below_minimum"
	StopNoProgress  StopReason = "no_keywords_completed"
	StopBudgetSpent StopReason = "keyword_budget_exhausted"
	StopNoKeywords  StopReason = "generation_returned_nothing"
)

// Plan is the outcome of evaluating a finished dispatch round. When Expand
// is true, NeededKeywords fresh keywords should be requested and fanned out.
type Plan struct {
	Expand         bool
	Reason         StopReason
	ActualYield    float64
	NeededKeywords int
}

// Observation is the measured state of a distributed job after all
// dispatched keywords completed.
type Observation struct {
	Target            int
	CreatorsFound     int
	KeywordsCompleted int
	TotalKeywords     int
	ExpansionRound    int
}

// PlanReExpansion decides whether a job should request more keywords. The
// decision is driven by actual observed yield, not the a-priori estimate,
// clamped to the per-round cap and the remaining total-keyword budget.
func PlanReExpansion(obs Observation) Plan {
	if obs.CreatorsFound >= obs.Target {
		return Plan{Reason: StopTargetMet}
	}
	if obs.ExpansionRound >= MaxExpansionRounds {
		return Plan{Reason: StopRoundLimit}
	}
	if obs.KeywordsCompleted <= 0 {
		return Plan{Reason: StopNoProgress}
	}

	yield := float64(obs.CreatorsFound) / float64(obs.KeywordsCompleted)
	if yield < MinYieldPerKeyword {
		// Yield this poor means the upstream API is degraded; spending more
		// keyword budget will not close the gap.
		return Plan{Reason: StopLowYield, ActualYield: yield}
	}

	gap := float64(obs.Target - obs.CreatorsFound)
	needed := int(math.Ceil(gap / yield * ReexpandBuffer))
	if needed > MaxKeywordsPerRound {
		needed = MaxKeywordsPerRound
	}
	if budget := MaxTotalKeywords - obs.TotalKeywords; needed > budget {
		needed = budget
	}
	if needed <= 0 {
		return Plan{Reason: StopBudgetSpent, ActualYield: yield}
	}
	return Plan{
		Expand:         true,
		ActualYield:    yield,
		NeededKeywords: needed,
	}
}
