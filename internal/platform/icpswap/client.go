// Package icpswap reads ICPSwap concentrated-liquidity pools and swaps
// against them through the IC gateway.
package icpswap

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
)

const (
	methodMetadata = "metadata"
	methodSwap     = "depositFromAndSwap"
)

// Token is a pool side as reported by metadata.
type Token struct {
	Address  string `json:"address"`
	Standard string `json:"standard"`
}

// Metadata is the subset of the pool metadata used for pricing.
type Metadata struct {
	Key          string          `json:"key"`
	Token0       Token           `json:"token0"`
	Token1       Token           `json:"token1"`
	Fee          uint32          `json:"fee"` // hundredths of a basis point
	Tick         int64           `json:"tick"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	SqrtPriceX96 decimal.Decimal `json:"sqrtPriceX96"`
}

// Reserves returns the virtual reserves implied by the current price and
// in-range liquidity: token0 = L/sqrtP and token1 = L*sqrtP.
func (m Metadata) Reserves() (token0, token1 float64, err error) {
	sqrtP := math.Ldexp(m.SqrtPriceX96.InexactFloat64(), -96)
	l := m.Liquidity.InexactFloat64()
	if sqrtP <= 0 || l <= 0 {
		return 0, 0, fmt.Errorf("icpswap: pool %s has no liquidity in range", m.Key)
	}
	return l / sqrtP, l * sqrtP, nil
}

// FeeRate returns the pool fee as a fraction.
func (m Metadata) FeeRate() float64 {
	return float64(m.Fee) / 1_000_000
}

// SwapArgs is the depositFromAndSwap argument. Amounts are decimal text.
type SwapArgs struct {
	AmountIn         string          `json:"amountIn"`
	ZeroForOne       bool            `json:"zeroForOne"`
	AmountOutMinimum string          `json:"amountOutMinimum"`
	TokenInFee       decimal.Decimal `json:"tokenInFee"`
	TokenOutFee      decimal.Decimal `json:"tokenOutFee"`
}

// Client talks to ICPSwap pool canisters. Token order per pool is
// remembered after the first metadata read.
type Client struct {
	gw     icgateway.Caller
	mu     sync.RWMutex
	token0 map[string]string // canister -> token0 ledger
}

// New creates an ICPSwap client.
func New(gw icgateway.Caller) *Client {
	return &Client{gw: gw, token0: make(map[string]string)}
}

// Metadata fetches the pool metadata.
func (c *Client) Metadata(ctx context.Context, canister string) (Metadata, error) {
	var md Metadata
	if err := c.gw.Query(ctx, canister, methodMetadata, nil, &md); err != nil {
		return Metadata{}, fmt.Errorf("icpswap: metadata %s: %w", canister, err)
	}
	c.mu.Lock()
	c.token0[canister] = md.Token0.Address
	c.mu.Unlock()
	return md, nil
}

// State reads the pool behind venue and orients it to pair.
func (c *Client) State(ctx context.Context, venue domain.Venue, pair domain.Pair) (domain.VenueState, error) {
	md, err := c.Metadata(ctx, venue.Canister)
	if err != nil {
		return domain.VenueState{}, err
	}
	return Orient(md, venue.ID, pair)
}

// Orient converts metadata to a VenueState with pair's base and quote.
func Orient(md Metadata, venueID string, pair domain.Pair) (domain.VenueState, error) {
	r0, r1, err := md.Reserves()
	if err != nil {
		return domain.VenueState{}, err
	}
	var base, quote float64
	switch {
	case md.Token0.Address == pair.Base.Ledger && md.Token1.Address == pair.Quote.Ledger:
		base, quote = r0, r1
	case md.Token1.Address == pair.Base.Ledger && md.Token0.Address == pair.Quote.Ledger:
		base, quote = r1, r0
	default:
		return domain.VenueState{}, fmt.Errorf("icpswap: pool %s holds %s/%s, not %s/%s",
			md.Key, md.Token0.Address, md.Token1.Address, pair.Base.Ledger, pair.Quote.Ledger)
	}
	return domain.VenueState{
		VenueID:      venueID,
		QuoteReserve: quote,
		BaseReserve:  base,
		FeeRate:      md.FeeRate(),
	}, nil
}

func (c *Client) zeroFor(ctx context.Context, canister string) (string, error) {
	c.mu.RLock()
	t0, ok := c.token0[canister]
	c.mu.RUnlock()
	if ok {
		return t0, nil
	}
	md, err := c.Metadata(ctx, canister)
	if err != nil {
		return "", err
	}
	return md.Token0.Address, nil
}

// Swap deposits the pay token from the approved allowance and swaps it in
// one call. The reply is the amount received.
func (c *Client) Swap(ctx context.Context, venue domain.Venue, _ domain.Pair, order domain.SwapOrder) (domain.SwapReceipt, error) {
	t0, err := c.zeroFor(ctx, venue.Canister)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	args := SwapArgs{
		AmountIn:         icgateway.Nat(order.AmountIn).String(),
		ZeroForOne:       order.Pay.Ledger == t0,
		AmountOutMinimum: icgateway.Nat(order.MinOut).String(),
		TokenInFee:       icgateway.Nat(order.Pay.Fee),
		TokenOutFee:      icgateway.Nat(order.Receive.Fee),
	}

	var out decimal.Decimal
	if err := c.gw.Update(ctx, venue.Canister, methodSwap, args, &out); err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("icpswap: swap: %w", err)
	}
	return domain.SwapReceipt{AmountOut: out.InexactFloat64()}, nil
}
