package domain

import "time"

// LegStatus classifies how one leg ended.
type LegStatus string

const (
	LegSucceeded         LegStatus = "succeeded"
	LegSlippageExceeded  LegStatus = "slippage_exceeded"
	LegInsufficientFunds LegStatus = "insufficient_funds"
	LegFailed            LegStatus = "failed"
)

// LegResult records one submitted swap.
type LegResult struct {
	Index        int // 1 or 2
	VenueID      string
	PayToken     string
	ReceiveToken string
	AmountIn     float64
	ExpectedOut  float64
	MinOut       float64
	Status       LegStatus
	AmountOut    float64
	TxID         string
	Reason       string
	Latency      time.Duration
}

// OK reports whether the leg succeeded.
func (l LegResult) OK() bool { return l.Status == LegSucceeded }

// Outcome summarises both legs.
type Outcome string

const (
	OutcomeBothSucceeded Outcome = "both_succeeded"
	OutcomeOneFailed     Outcome = "one_failed"
	OutcomeBothFailed    Outcome = "both_failed"
	// OutcomeSkipped marks an opportunity that was not submitted.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDryRun marks an opportunity that was planned but, by
	// configuration, not submitted.
	OutcomeDryRun Outcome = "dry_run"
)

// ExecutionResult records one two-leg execution attempt.
type ExecutionResult struct {
	ID          string
	Pair        string
	Direction   Direction
	Opportunity Opportunity
	Legs        [2]LegResult
	Outcome     Outcome
	// RealizedProfit is leg 2 output minus leg 1 input; only meaningful
	// when both legs succeeded.
	RealizedProfit float64
	DryRun         bool
	StartedAt      time.Time
	CompletedAt    time.Time
}

// OutcomeOf derives the overall outcome from two leg statuses.
func OutcomeOf(a, b LegResult) Outcome {
	switch {
	case a.OK() && b.OK():
		return OutcomeBothSucceeded
	case a.OK() || b.OK():
		return OutcomeOneFailed
	default:
		return OutcomeBothFailed
	}
}
