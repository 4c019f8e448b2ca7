package executor

import (
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Event is the JSON shape published on the execution channel and stream.
type Event struct {
	Event          string     `json:"event"`
	ID             string     `json:"id"`
	Pair           string     `json:"pair"`
	Direction      string     `json:"direction"`
	Outcome        string     `json:"outcome"`
	Amount         float64    `json:"amount"`
	ExpectedProfit float64    `json:"expected_profit"`
	RealizedProfit float64    `json:"realized_profit"`
	DryRun         bool       `json:"dry_run"`
	Legs           []LegEvent `json:"legs"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    time.Time  `json:"completed_at"`
}

// LegEvent is one leg inside an Event.
type LegEvent struct {
	Index       int     `json:"index"`
	Venue       string  `json:"venue"`
	Pay         string  `json:"pay"`
	Receive     string  `json:"receive"`
	AmountIn    float64 `json:"amount_in"`
	ExpectedOut float64 `json:"expected_out"`
	MinOut      float64 `json:"min_out"`
	Status      string  `json:"status,omitempty"`
	AmountOut   float64 `json:"amount_out"`
	TxID        string  `json:"tx_id,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	LatencyMs   int64   `json:"latency_ms"`
}

// NewEvent converts an execution result into its wire shape.
func NewEvent(res domain.ExecutionResult) Event {
	ev := Event{
		Event:          "execution",
		ID:             res.ID,
		Pair:           res.Pair,
		Direction:      string(res.Direction),
		Outcome:        string(res.Outcome),
		Amount:         res.Opportunity.Amount,
		ExpectedProfit: res.Opportunity.Profit,
		RealizedProfit: res.RealizedProfit,
		DryRun:         res.DryRun,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
	}
	for _, leg := range res.Legs {
		ev.Legs = append(ev.Legs, LegEvent{
			Index:       leg.Index,
			Venue:       leg.VenueID,
			Pay:         leg.PayToken,
			Receive:     leg.ReceiveToken,
			AmountIn:    leg.AmountIn,
			ExpectedOut: leg.ExpectedOut,
			MinOut:      leg.MinOut,
			Status:      string(leg.Status),
			AmountOut:   leg.AmountOut,
			TxID:        leg.TxID,
			Reason:      leg.Reason,
			LatencyMs:   leg.Latency.Milliseconds(),
		})
	}
	return ev
}
