package kong

import "github.com/shopspring/decimal"

// Pool is one entry of the pools query. Amounts are nats in the smallest
// units of their token.
type Pool struct {
	PoolID    uint32          `json:"pool_id"`
	Symbol    string          `json:"symbol"`
	Symbol0   string          `json:"symbol_0"`
	Address0  string          `json:"address_0"`
	Balance0  decimal.Decimal `json:"balance_0"`
	LPFee0    decimal.Decimal `json:"lp_fee_0"`
	Symbol1   string          `json:"symbol_1"`
	Address1  string          `json:"address_1"`
	Balance1  decimal.Decimal `json:"balance_1"`
	LPFee1    decimal.Decimal `json:"lp_fee_1"`
	Price     float64         `json:"price"`
	LPFeeBps  uint32          `json:"lp_fee_bps"`
	IsRemoved bool            `json:"is_removed"`
}

// SwapArgs is the swap_async argument.
type SwapArgs struct {
	PayToken      string           `json:"pay_token"`
	PayAmount     decimal.Decimal  `json:"pay_amount"`
	ReceiveToken  string           `json:"receive_token"`
	ReceiveAmount *decimal.Decimal `json:"receive_amount,omitempty"`
	MaxSlippage   *float64         `json:"max_slippage,omitempty"`
}

// Request is an entry of the requests query, the progress log of an async
// swap.
type Request struct {
	RequestID uint64       `json:"request_id"`
	Statuses  []string     `json:"statuses"`
	Reply     RequestReply `json:"reply"`
}

// RequestReply is the variant attached to a request. Pending is set while
// the swap is in flight.
type RequestReply struct {
	Pending *struct{}  `json:"Pending,omitempty"`
	Swap    *SwapReply `json:"Swap,omitempty"`
}

// SwapReply reports a finished swap.
type SwapReply struct {
	TxID          uint64          `json:"tx_id"`
	RequestID     uint64          `json:"request_id"`
	Status        string          `json:"status"`
	PaySymbol     string          `json:"pay_symbol"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ReceiveSymbol string          `json:"receive_symbol"`
	ReceiveAmount decimal.Decimal `json:"receive_amount"`
	Price         float64         `json:"price"`
	Slippage      float64         `json:"slippage"`
}
