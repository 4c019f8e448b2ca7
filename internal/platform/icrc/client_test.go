package icrc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
)

type envelope struct {
	CanisterID string          `json:"canister_id"`
	Method     string          `json:"method"`
	Arg        json.RawMessage `json:"arg"`
}

func TestAllowanceAndApprove(t *testing.T) {
	var approveArg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env envelope
		assert.NoError(t, json.Unmarshal(body, &env))
		assert.Equal(t, "7pail-xaaaa-aaaas-aabmq-cai", env.CanisterID)
		switch env.Method {
		case "icrc2_allowance":
			assert.JSONEq(t, `{"account":{"owner":"me"},"spender":{"owner":"pool"}}`, string(env.Arg))
			_, _ = w.Write([]byte(`{"ok":{"allowance":"90000000000"}}`))
		case "icrc2_approve":
			approveArg = string(env.Arg)
			_, _ = w.Write([]byte(`{"ok":"123456"}`))
		case "icrc1_balance_of":
			_, _ = w.Write([]byte(`{"ok":"777"}`))
		default:
			_, _ = w.Write([]byte(`{"err":"unknown method"}`))
		}
	}))
	defer srv.Close()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)

	c := New(icgateway.New(icgateway.Config{BaseURL: srv.URL, Signer: signer}))
	c.now = func() time.Time { return time.Unix(0, 1_700_000_000_000_000_000) }
	ctx := context.Background()
	ledger := "7pail-xaaaa-aaaas-aabmq-cai"

	a, err := c.Allowance(ctx, ledger, Account{Owner: "me"}, Account{Owner: "pool"})
	require.NoError(t, err)
	assert.True(t, a.Allowance.Equal(decimal.NewFromInt(90_000_000_000)))
	assert.Nil(t, a.ExpiresAt)

	block, err := c.Approve(ctx, ledger, Account{Owner: "pool"}, decimal.NewFromInt(100_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "123456", block.String())
	assert.JSONEq(t, `{"spender":{"owner":"pool"},"amount":"100000000000","created_at_time":1700000000000000000}`, approveArg)

	bal, err := c.BalanceOf(ctx, ledger, Account{Owner: "me"})
	require.NoError(t, err)
	assert.Equal(t, int64(777), bal.IntPart())
}
