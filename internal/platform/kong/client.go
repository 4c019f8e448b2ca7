// Package kong reads KongSwap pools and submits swaps through the IC
// gateway.
package kong

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
)

const (
	methodPools     = "pools"
	methodSwapAsync = "swap_async"
	methodRequests  = "requests"
)

// Client talks to the Kong backend canister.
type Client struct {
	gw           icgateway.Caller
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPolling sets how often and how long an async swap is polled.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Kong client.
func New(gw icgateway.Caller, opts ...Option) *Client {
	c := &Client{
		gw:           gw,
		pollInterval: 250 * time.Millisecond,
		pollTimeout:  30 * time.Second,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "kong"))
	return c
}

// Pool fetches the pool with the given ticker, e.g. "BOB_ICP".
func (c *Client) Pool(ctx context.Context, canister, ticker string) (Pool, error) {
	var pools []Pool
	if err := c.gw.Query(ctx, canister, methodPools, []string{ticker}, &pools); err != nil {
		return Pool{}, fmt.Errorf("kong: pools %s: %w", ticker, err)
	}
	for _, p := range pools {
		if p.Symbol == ticker {
			if p.IsRemoved {
				return Pool{}, fmt.Errorf("kong: pool %s removed: %w", ticker, domain.ErrNotFound)
			}
			return p, nil
		}
	}
	return Pool{}, fmt.Errorf("kong: pool %s: %w", ticker, domain.ErrNotFound)
}

// State reads the pool behind venue and orients it to pair.
func (c *Client) State(ctx context.Context, venue domain.Venue, pair domain.Pair) (domain.VenueState, error) {
	ticker := venue.Ticker
	if ticker == "" {
		ticker = pair.Symbol
	}
	p, err := c.Pool(ctx, venue.Canister, ticker)
	if err != nil {
		return domain.VenueState{}, err
	}
	return Orient(p, venue.ID, pair)
}

// Orient converts a pool to a VenueState with pair's base and quote. Pools
// that do not report token addresses are assumed to list the base first.
func Orient(p Pool, venueID string, pair domain.Pair) (domain.VenueState, error) {
	base, quote := p.Balance0, p.Balance1
	switch {
	case p.Address0 == "" && p.Address1 == "":
	case p.Address0 == pair.Base.Ledger && p.Address1 == pair.Quote.Ledger:
	case p.Address1 == pair.Base.Ledger && p.Address0 == pair.Quote.Ledger:
		base, quote = p.Balance1, p.Balance0
	default:
		return domain.VenueState{}, fmt.Errorf("kong: pool %s holds %s/%s, not %s/%s",
			p.Symbol, p.Address0, p.Address1, pair.Base.Ledger, pair.Quote.Ledger)
	}
	return domain.VenueState{
		VenueID:      venueID,
		QuoteReserve: quote.InexactFloat64(),
		BaseReserve:  base.InexactFloat64(),
		FeeRate:      float64(p.LPFeeBps) / 10_000,
	}, nil
}

// TokenID is the identifier Kong accepts for a token.
func TokenID(t domain.Token) string {
	if t.Ledger == "" {
		return t.Symbol
	}
	return "IC." + t.Ledger
}

// Swap submits an async swap and polls it to completion.
func (c *Client) Swap(ctx context.Context, venue domain.Venue, _ domain.Pair, order domain.SwapOrder) (domain.SwapReceipt, error) {
	minOut := icgateway.Nat(order.MinOut)
	args := SwapArgs{
		PayToken:      TokenID(order.Pay),
		PayAmount:     icgateway.Nat(order.AmountIn),
		ReceiveToken:  TokenID(order.Receive),
		ReceiveAmount: &minOut,
	}

	var requestID uint64
	if err := c.gw.Update(ctx, venue.Canister, methodSwapAsync, args, &requestID); err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("kong: swap_async: %w", err)
	}
	c.logger.InfoContext(ctx, "swap submitted",
		slog.String("venue", venue.ID),
		slog.Uint64("request_id", requestID),
		slog.String("pay", args.PayToken),
		slog.String("pay_amount", args.PayAmount.String()),
		slog.String("min_receive", minOut.String()),
	)
	return c.await(ctx, venue.Canister, requestID)
}

func (c *Client) await(ctx context.Context, canister string, requestID uint64) (domain.SwapReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		req, err := c.request(ctx, canister, requestID)
		if err != nil {
			return domain.SwapReceipt{}, err
		}
		if receipt, done, err := settle(canister, req); done {
			return receipt, err
		}

		select {
		case <-ctx.Done():
			return domain.SwapReceipt{}, fmt.Errorf("kong: request %d still pending: %w", requestID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) request(ctx context.Context, canister string, requestID uint64) (Request, error) {
	var reqs []Request
	if err := c.gw.Query(ctx, canister, methodRequests, []uint64{requestID}, &reqs); err != nil {
		return Request{}, fmt.Errorf("kong: requests %d: %w", requestID, err)
	}
	for _, r := range reqs {
		if r.RequestID == requestID {
			return r, nil
		}
	}
	return Request{}, fmt.Errorf("kong: request %d: %w", requestID, domain.ErrNotFound)
}

// settle reports whether req has reached a final state and, if so, its
// receipt or rejection.
func settle(canister string, req Request) (domain.SwapReceipt, bool, error) {
	for _, s := range req.Statuses {
		if strings.HasPrefix(s, "Failed") || strings.Contains(s, "failed") {
			return domain.SwapReceipt{}, true, fmt.Errorf("kong: request %d: %w", req.RequestID,
				&icgateway.RejectError{Canister: canister, Method: methodSwapAsync, Message: strings.Join(req.Statuses, "; ")})
		}
	}
	sw := req.Reply.Swap
	if sw == nil {
		return domain.SwapReceipt{}, false, nil
	}
	if sw.Status != "Success" {
		return domain.SwapReceipt{}, true, fmt.Errorf("kong: request %d: %w", req.RequestID,
			&icgateway.RejectError{Canister: canister, Method: methodSwapAsync, Message: sw.Status})
	}
	return domain.SwapReceipt{
		AmountOut: sw.ReceiveAmount.InexactFloat64(),
		TxID:      strconv.FormatUint(sw.TxID, 10),
	}, true, nil
}
