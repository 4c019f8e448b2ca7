// Package icrc calls ICRC-1/ICRC-2 ledgers through the IC gateway.
package icrc

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
)

// Account is an ICRC account.
type Account struct {
	Owner      string `json:"owner"`
	Subaccount []byte `json:"subaccount,omitempty"`
}

// Allowance is the icrc2_allowance reply.
type Allowance struct {
	Allowance decimal.Decimal `json:"allowance"`
	ExpiresAt *uint64         `json:"expires_at,omitempty"`
}

type allowanceArgs struct {
	Account Account `json:"account"`
	Spender Account `json:"spender"`
}

// ApproveArgs is the icrc2_approve argument.
type ApproveArgs struct {
	Spender           Account          `json:"spender"`
	Amount            decimal.Decimal  `json:"amount"`
	ExpectedAllowance *decimal.Decimal `json:"expected_allowance,omitempty"`
	ExpiresAt         *uint64          `json:"expires_at,omitempty"`
	Fee               *decimal.Decimal `json:"fee,omitempty"`
	Memo              []byte           `json:"memo,omitempty"`
	CreatedAtTime     uint64           `json:"created_at_time"`
}

// Client calls ledger canisters.
type Client struct {
	gw  icgateway.Caller
	now func() time.Time
}

// New creates a ledger client.
func New(gw icgateway.Caller) *Client {
	return &Client{gw: gw, now: time.Now}
}

// BalanceOf returns the balance of account on ledger.
func (c *Client) BalanceOf(ctx context.Context, ledger string, account Account) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if err := c.gw.Query(ctx, ledger, "icrc1_balance_of", account, &bal); err != nil {
		return decimal.Zero, fmt.Errorf("icrc: balance_of %s: %w", ledger, err)
	}
	return bal, nil
}

// Allowance returns how much spender may still pull from owner on ledger.
func (c *Client) Allowance(ctx context.Context, ledger string, owner, spender Account) (Allowance, error) {
	var out Allowance
	if err := c.gw.Query(ctx, ledger, "icrc2_allowance", allowanceArgs{Account: owner, Spender: spender}, &out); err != nil {
		return Allowance{}, fmt.Errorf("icrc: allowance %s -> %s: %w", ledger, spender.Owner, err)
	}
	return out, nil
}

// Approve sets spender's allowance to amount and returns the ledger block
// index.
func (c *Client) Approve(ctx context.Context, ledger string, spender Account, amount decimal.Decimal) (decimal.Decimal, error) {
	args := ApproveArgs{
		Spender:       spender,
		Amount:        amount,
		CreatedAtTime: uint64(c.now().UnixNano()),
	}
	var block decimal.Decimal
	if err := c.gw.Update(ctx, ledger, "icrc2_approve", args, &block); err != nil {
		return decimal.Zero, fmt.Errorf("icrc: approve %s -> %s: %w", ledger, spender.Owner, err)
	}
	return block, nil
}
