package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DefaultMinReceiveFactor is the slippage floor applied to each leg's
// expected output.
const DefaultMinReceiveFactor = 0.99

// Config configures a Coordinator. Store, Bus and Journal are optional.
type Config struct {
	Venues  domain.VenueClient
	Alerts  domain.AlertSink
	Store   domain.ExecutionStore
	Bus     domain.EventBus
	Journal domain.Journal

	MinReceiveFactor float64
	DedupTTL         time.Duration
	// DryRun plans legs and reports them without submitting.
	DryRun bool

	Logger *slog.Logger
}

// Coordinator submits both legs of an opportunity concurrently. There is
// no transactional link between the venues: a leg that fails is reported
// and alerted, never retried or compensated.
type Coordinator struct {
	venues  domain.VenueClient
	alerts  domain.AlertSink
	store   domain.ExecutionStore
	bus     domain.EventBus
	journal domain.Journal
	factor  float64
	dryRun  bool
	dedup   *Dedup
	logger  *slog.Logger

	newID func() string
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	factor := cfg.MinReceiveFactor
	if factor <= 0 || factor > 1 {
		factor = DefaultMinReceiveFactor
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		venues:  cfg.Venues,
		alerts:  cfg.Alerts,
		store:   cfg.Store,
		bus:     cfg.Bus,
		journal: cfg.Journal,
		factor:  factor,
		dryRun:  cfg.DryRun,
		dedup:   NewDedup(ttl),
		logger:  logger.With(slog.String("component", "coordinator")),
		newID:   func() string { return uuid.New().String() },
	}
}

// Leg is one planned swap.
type Leg struct {
	Venue domain.Venue
	Order domain.SwapOrder
}

// PlanLegs turns an opportunity into two swap orders. Leg 1 pays the quote
// amount on the first venue; leg 2 sells the base expected from leg 1 on
// the second venue out of held inventory. Each leg's floor is factor times
// its expected output.
func PlanLegs(pair domain.Pair, opp domain.Opportunity, factor float64) [2]Leg {
	first, second := opp.Venues(pair)
	return [2]Leg{
		{
			Venue: first,
			Order: domain.SwapOrder{
				Pay:         pair.Quote,
				Receive:     pair.Base,
				AmountIn:    opp.Amount,
				ExpectedOut: opp.Leg1Out,
				MinOut:      opp.Leg1Out * factor,
			},
		},
		{
			Venue: second,
			Order: domain.SwapOrder{
				Pay:         pair.Base,
				Receive:     pair.Quote,
				AmountIn:    opp.Leg1Out,
				ExpectedOut: opp.Leg2Out,
				MinOut:      opp.Leg2Out * factor,
			},
		},
	}
}

// Classify maps a swap error to a leg status.
func Classify(err error) domain.LegStatus {
	switch {
	case err == nil:
		return domain.LegSucceeded
	case errors.Is(err, domain.ErrSlippageExceeded):
		return domain.LegSlippageExceeded
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.LegInsufficientFunds
	default:
		return domain.LegFailed
	}
}

// Execute runs both legs of opp and returns once both have finished. An
// opportunity already executed against the same slow-venue snapshot is
// returned as skipped.
func (c *Coordinator) Execute(ctx context.Context, pair domain.Pair, opp domain.Opportunity) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ID:          c.newID(),
		Pair:        pair.Symbol,
		Direction:   opp.Direction,
		Opportunity: opp,
		DryRun:      c.dryRun,
		StartedAt:   time.Now().UTC(),
	}
	if opp.Pair == "" {
		opp.Pair = pair.Symbol
		res.Opportunity.Pair = pair.Symbol
	}

	c.dedup.Cleanup()
	if c.dedup.IsDuplicate(OpportunityKey(opp)) {
		res.Outcome = domain.OutcomeSkipped
		res.CompletedAt = time.Now().UTC()
		c.logger.DebugContext(ctx, "duplicate opportunity skipped",
			slog.String("pair", pair.Symbol),
			slog.String("direction", string(opp.Direction)),
		)
		return res
	}

	legs := PlanLegs(pair, opp, c.factor)
	if c.dryRun {
		for i, leg := range legs {
			res.Legs[i] = planned(i+1, leg)
		}
		res.Outcome = domain.OutcomeDryRun
		res.CompletedAt = time.Now().UTC()
		c.record(ctx, res)
		return res
	}

	// Legs outlive a shutdown signal: abandoning one mid-flight would
	// leave an unhedged position.
	legCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i, leg := range legs {
		wg.Add(1)
		go func(i int, leg Leg) {
			defer wg.Done()
			res.Legs[i] = c.runLeg(legCtx, pair, i+1, leg)
		}(i, leg)
	}
	wg.Wait()

	res.Outcome = domain.OutcomeOf(res.Legs[0], res.Legs[1])
	if res.Outcome == domain.OutcomeBothSucceeded {
		res.RealizedProfit = res.Legs[1].AmountOut - res.Legs[0].AmountIn
	}
	res.CompletedAt = time.Now().UTC()

	for _, leg := range res.Legs {
		if leg.OK() {
			continue
		}
		c.logger.WarnContext(ctx, "leg failed",
			slog.String("execution_id", res.ID),
			slog.String("pair", pair.Symbol),
			slog.Int("leg", leg.Index),
			slog.String("venue", leg.VenueID),
			slog.String("status", string(leg.Status)),
			slog.String("reason", leg.Reason),
		)
		if c.alerts != nil {
			c.alerts.Alert(ctx, domain.EventLegFailed, fmt.Sprintf(
				"[%s] leg %d on %s %s: %s (execution %s, outcome %s, not retried)",
				pair.Symbol, leg.Index, leg.VenueID, leg.Status, leg.Reason, res.ID, res.Outcome))
		}
	}

	c.record(ctx, res)
	return res
}

func planned(index int, leg Leg) domain.LegResult {
	return domain.LegResult{
		Index:        index,
		VenueID:      leg.Venue.ID,
		PayToken:     leg.Order.Pay.Symbol,
		ReceiveToken: leg.Order.Receive.Symbol,
		AmountIn:     leg.Order.AmountIn,
		ExpectedOut:  leg.Order.ExpectedOut,
		MinOut:       leg.Order.MinOut,
	}
}

func (c *Coordinator) runLeg(ctx context.Context, pair domain.Pair, index int, leg Leg) (out domain.LegResult) {
	out = planned(index, leg)
	start := time.Now()
	defer func() {
		out.Latency = time.Since(start)
		if r := recover(); r != nil {
			out.Status = domain.LegFailed
			out.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	receipt, err := c.venues.SubmitSwap(ctx, leg.Venue, pair, leg.Order)
	out.Status = Classify(err)
	if err != nil {
		out.Reason = err.Error()
		return out
	}
	out.AmountOut = receipt.AmountOut
	out.TxID = receipt.TxID
	return out
}

// record hands the result to the optional sinks. Failures are logged only.
func (c *Coordinator) record(ctx context.Context, res domain.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if c.store != nil && !res.DryRun {
		if err := c.store.Create(ctx, res); err != nil {
			c.logger.Warn("execution record failed", slog.String("id", res.ID), slog.String("error", err.Error()))
		}
	}
	if c.journal != nil {
		if err := c.journal.Record(ctx, res); err != nil {
			c.logger.Warn("execution journal failed", slog.String("id", res.ID), slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		payload, err := json.Marshal(NewEvent(res))
		if err != nil {
			c.logger.Warn("execution event encode failed", slog.String("error", err.Error()))
			return
		}
		if err := c.bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
			c.logger.Warn("execution publish failed", slog.String("error", err.Error()))
		}
		if err := c.bus.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
			c.logger.Warn("execution stream append failed", slog.String("error", err.Error()))
		}
	}
}
