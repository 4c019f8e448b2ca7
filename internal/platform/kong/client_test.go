package kong

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
)

const (
	icpLedger = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	bobLedger = "7pail-xaaaa-aaaas-aabmq-cai"
	canister  = "2ipq2-uqaaa-aaaar-qailq-cai"
)

type call struct {
	method string
	arg    string
}

// fakeGateway answers calls with canned JSON payloads keyed by method.
// A queue of replies lets successive calls see different answers.
type fakeGateway struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   []call
}

func (f *fakeGateway) answer(method string, arg, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(arg)
	f.calls = append(f.calls, call{method: method, arg: string(raw)})
	if err := f.errs[method]; err != nil {
		return err
	}
	q := f.replies[method]
	if len(q) == 0 {
		panic("no reply for " + method)
	}
	reply := q[0]
	if len(q) > 1 {
		f.replies[method] = q[1:]
	}
	return json.Unmarshal([]byte(reply), out)
}

func (f *fakeGateway) Query(_ context.Context, _, method string, arg, out any) error {
	return f.answer(method, arg, out)
}

func (f *fakeGateway) Update(_ context.Context, _, method string, arg, out any) error {
	return f.answer(method, arg, out)
}

func testPair() domain.Pair {
	return domain.Pair{
		Symbol: "BOB_ICP",
		Base:   domain.Token{Symbol: "BOB", Ledger: bobLedger, Decimals: 8},
		Quote:  domain.Token{Symbol: "ICP", Ledger: icpLedger, Decimals: 8},
	}
}

const bobPool = `[{"pool_id":7,"symbol":"BOB_ICP","symbol_0":"BOB","address_0":"` + bobLedger + `",
	"balance_0":"120000000000000","lp_fee_0":"5000","symbol_1":"ICP","address_1":"` + icpLedger + `",
	"balance_1":"45000000000","lp_fee_1":"100","price":0.000375,"lp_fee_bps":30,"is_removed":false}]`

func TestState(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{methodPools: {bobPool}}}
	c := New(gw)

	venue := domain.Venue{ID: "kong", Kind: domain.VenueKong, Canister: canister}
	st, err := c.State(context.Background(), venue, testPair())
	require.NoError(t, err)

	assert.Equal(t, "kong", st.VenueID)
	assert.Equal(t, 45_000_000_000.0, st.QuoteReserve)
	assert.Equal(t, 120_000_000_000_000.0, st.BaseReserve)
	assert.InDelta(t, 0.003, st.FeeRate, 1e-12)
	assert.Equal(t, `["BOB_ICP"]`, gw.calls[0].arg)
}

func TestOrient(t *testing.T) {
	p := Pool{Symbol: "ICP_BOB", Address0: icpLedger, Address1: bobLedger,
		Balance0: decimalOf(t, "10"), Balance1: decimalOf(t, "40"), LPFeeBps: 25}
	st, err := Orient(p, "k", testPair())
	require.NoError(t, err)
	assert.Equal(t, 10.0, st.QuoteReserve)
	assert.Equal(t, 40.0, st.BaseReserve)
	assert.InDelta(t, 0.0025, st.FeeRate, 1e-12)

	p.Address1 = "other"
	_, err = Orient(p, "k", testPair())
	assert.ErrorContains(t, err, "not "+bobLedger)
}

func TestPoolNotFound(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{methodPools: {`[]`}}}
	_, err := New(gw).Pool(context.Background(), canister, "BOB_ICP")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func swapOrder() domain.SwapOrder {
	pair := testPair()
	return domain.SwapOrder{Pay: pair.Quote, Receive: pair.Base, AmountIn: 5_000_000_000.7, MinOut: 1_234.9}
}

func TestSwapPollsUntilSuccess(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		methodSwapAsync: {`991`},
		methodRequests: {
			`[{"request_id":991,"statuses":["Started"],"reply":{"Pending":null}}]`,
			`[{"request_id":991,"statuses":["Started","Success"],"reply":{"Swap":{"tx_id":4242,"status":"Success","receive_amount":"1300"}}}]`,
		},
	}}
	c := New(gw, WithPolling(time.Millisecond, time.Second))

	venue := domain.Venue{ID: "kong", Kind: domain.VenueKong, Canister: canister}
	receipt, err := c.Swap(context.Background(), venue, testPair(), swapOrder())
	require.NoError(t, err)
	assert.Equal(t, 1300.0, receipt.AmountOut)
	assert.Equal(t, "4242", receipt.TxID)

	require.GreaterOrEqual(t, len(gw.calls), 3)
	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(gw.calls[0].arg), &args))
	assert.Equal(t, "IC."+icpLedger, args["pay_token"])
	assert.Equal(t, "IC."+bobLedger, args["receive_token"])
	assert.Equal(t, "5000000000", args["pay_amount"])
	assert.Equal(t, "1234", args["receive_amount"])
}

func TestSwapFailureIsClassified(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		methodSwapAsync: {`5`},
		methodRequests: {
			`[{"request_id":5,"statuses":["Started","Failed: Slippage exceeded. Can only receive 1200 BOB"],"reply":{"Pending":null}}]`,
		},
	}}
	c := New(gw, WithPolling(time.Millisecond, time.Second))

	_, err := c.Swap(context.Background(), domain.Venue{Canister: canister}, testPair(), swapOrder())
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestSwapRejectedUpfront(t *testing.T) {
	gw := &fakeGateway{errs: map[string]error{
		methodSwapAsync: &icgateway.RejectError{Message: "Insufficient funds for pay token"},
	}}
	_, err := New(gw).Swap(context.Background(), domain.Venue{Canister: canister}, testPair(), swapOrder())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSwapTimesOut(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		methodSwapAsync: {`8`},
		methodRequests:  {`[{"request_id":8,"statuses":["Started"],"reply":{"Pending":null}}]`},
	}}
	c := New(gw, WithPolling(time.Millisecond, 20*time.Millisecond))
	_, err := c.Swap(context.Background(), domain.Venue{Canister: canister}, testPair(), swapOrder())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
