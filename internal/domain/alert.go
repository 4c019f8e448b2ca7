package domain

import "context"

// Alert event names.
const (
	EventTradeExecuted  = "trade_executed"
	EventOpportunity    = "opportunity"
	EventLegFailed      = "leg_failed"
	EventSolverAnomaly  = "solver_anomaly"
	EventMonitorCrash   = "monitor_crash"
	EventAllowanceTopUp = "allowance_topup"
)

// AlertSink delivers human-readable notifications. Alert must not block on
// delivery and never reports failure to the caller.
type AlertSink interface {
	Alert(ctx context.Context, event, message string)
}
