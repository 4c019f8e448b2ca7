package domain

import (
	"context"
	"fmt"
	"time"
)

// VenueKind identifies the pool protocol a venue speaks.
type VenueKind string

const (
	VenueKong    VenueKind = "kong"
	VenueICPSwap VenueKind = "icpswap"
)

// Venue is the static address of one liquidity pool.
type Venue struct {
	ID       string
	Kind     VenueKind
	Canister string
	// Ticker is the venue's own pool name (Kong pools are looked up by it).
	Ticker string
	// FeeRate overrides the fee reported by the venue when > 0.
	FeeRate float64
}

// Token is a ledger-backed asset.
type Token struct {
	Symbol   string
	Ledger   string
	Decimals int32
	Fee      float64 // ledger transfer fee in smallest units
}

// VenueState is one observation of a pool. Quote is the accounting asset
// profit is measured in; Base is the traded token. Amounts are in the
// smallest ledger units.
type VenueState struct {
	VenueID      string
	QuoteReserve float64
	BaseReserve  float64
	FeeRate      float64
	ObservedAt   time.Time
}

// Price returns quote units per base unit, or 0 for an empty pool.
func (s VenueState) Price() float64 {
	if s.BaseReserve == 0 {
		return 0
	}
	return s.QuoteReserve / s.BaseReserve
}

// SwapOrder is one leg submission.
type SwapOrder struct {
	Pay         Token
	Receive     Token
	AmountIn    float64
	MinOut      float64
	ExpectedOut float64
}

// SwapReceipt is what a venue reports back for an accepted swap.
type SwapReceipt struct {
	AmountOut float64
	TxID      string
}

// VenueClient queries pool state and submits swaps. SubmitSwap failures
// wrap ErrSlippageExceeded or ErrInsufficientFunds when the venue says so.
type VenueClient interface {
	QueryState(ctx context.Context, venue Venue, pair Pair) (VenueState, error)
	SubmitSwap(ctx context.Context, venue Venue, pair Pair, order SwapOrder) (SwapReceipt, error)
}

// Pair is one tradable pair watched on two venues. Venue A is the fast
// venue (queried every cycle), venue B the slow one.
type Pair struct {
	Symbol    string
	Base      Token
	Quote     Token
	Fast      Venue
	Slow      Venue
	Threshold float64 // trade size cap, quote units
	Epsilon   float64 // minimum profit, quote units
	// BaseAllowance is the ICRC-2 approval target for the base token.
	BaseAllowance float64
}

// Validate checks the pair invariants.
func (p Pair) Validate() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("pair: symbol is required")
	case p.Threshold <= 0:
		return fmt.Errorf("pair %s: threshold must be > 0", p.Symbol)
	case p.Epsilon < 0:
		return fmt.Errorf("pair %s: epsilon must be >= 0", p.Symbol)
	case p.Fast.ID == "" || p.Slow.ID == "":
		return fmt.Errorf("pair %s: both venues are required", p.Symbol)
	case p.Fast.ID == p.Slow.ID:
		return fmt.Errorf("pair %s: fast and slow venue must differ", p.Symbol)
	case p.Base.Ledger == "" || p.Quote.Ledger == "":
		return fmt.Errorf("pair %s: base and quote ledgers are required", p.Symbol)
	}
	return nil
}
