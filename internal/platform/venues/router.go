// Package venues routes venue calls to the protocol client for each venue
// kind.
package venues

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Driver is one venue protocol.
type Driver interface {
	State(ctx context.Context, venue domain.Venue, pair domain.Pair) (domain.VenueState, error)
	Swap(ctx context.Context, venue domain.Venue, pair domain.Pair, order domain.SwapOrder) (domain.SwapReceipt, error)
}

// Router implements domain.VenueClient over a set of drivers.
type Router struct {
	drivers map[domain.VenueKind]Driver
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouter creates a Router. Drivers are registered with Register.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		drivers: make(map[domain.VenueKind]Driver),
		logger:  logger.With(slog.String("component", "venues")),
		now:     time.Now,
	}
}

// Register binds kind to d.
func (r *Router) Register(kind domain.VenueKind, d Driver) {
	r.drivers[kind] = d
}

func (r *Router) driver(v domain.Venue) (Driver, error) {
	d, ok := r.drivers[v.Kind]
	if !ok {
		return nil, fmt.Errorf("venues: %s kind %q: %w", v.ID, v.Kind, domain.ErrUnknownVenue)
	}
	return d, nil
}

// QueryState reads the venue's current reserves, stamped with the time the
// reply arrived.
func (r *Router) QueryState(ctx context.Context, venue domain.Venue, pair domain.Pair) (domain.VenueState, error) {
	d, err := r.driver(venue)
	if err != nil {
		return domain.VenueState{}, err
	}
	st, err := d.State(ctx, venue, pair)
	if err != nil {
		return domain.VenueState{}, err
	}
	st.VenueID = venue.ID
	st.ObservedAt = r.now().UTC()
	return st, nil
}

// SubmitSwap submits one leg.
func (r *Router) SubmitSwap(ctx context.Context, venue domain.Venue, pair domain.Pair, order domain.SwapOrder) (domain.SwapReceipt, error) {
	d, err := r.driver(venue)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	start := r.now()
	receipt, err := d.Swap(ctx, venue, pair, order)
	if err != nil {
		r.logger.WarnContext(ctx, "swap rejected",
			slog.String("venue", venue.ID),
			slog.String("pair", pair.Symbol),
			slog.String("pay", order.Pay.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.SwapReceipt{}, err
	}
	r.logger.InfoContext(ctx, "swap filled",
		slog.String("venue", venue.ID),
		slog.String("pair", pair.Symbol),
		slog.String("pay", order.Pay.Symbol),
		slog.Float64("amount_in", order.AmountIn),
		slog.Float64("amount_out", receipt.AmountOut),
		slog.String("tx_id", receipt.TxID),
		slog.Duration("latency", r.now().Sub(start)),
	)
	return receipt, nil
}

var _ domain.VenueClient = (*Router)(nil)
