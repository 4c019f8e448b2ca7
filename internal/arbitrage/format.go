package arbitrage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Units converts an amount in smallest ledger units to a display string.
func Units(amount float64, decimals int32) string {
	if decimals <= 0 {
		decimals = 8
	}
	return decimal.NewFromFloat(amount).Shift(-decimals).StringFixed(4)
}

// FormatOpportunity renders an opportunity for alerts and the CLI.
func FormatOpportunity(pair domain.Pair, opp domain.Opportunity) string {
	first, second := opp.Venues(pair)
	return fmt.Sprintf("[%s] %s -> %s pay %s %s, expect %s %s then %s %s, profit %s %s",
		pair.Symbol, first.ID, second.ID,
		Units(opp.Amount, pair.Quote.Decimals), pair.Quote.Symbol,
		Units(opp.Leg1Out, pair.Base.Decimals), pair.Base.Symbol,
		Units(opp.Leg2Out, pair.Quote.Decimals), pair.Quote.Symbol,
		Units(opp.Profit, pair.Quote.Decimals), pair.Quote.Symbol,
	)
}

// FormatExecution renders an execution result for alerts.
func FormatExecution(pair domain.Pair, res domain.ExecutionResult) string {
	var b strings.Builder
	if res.DryRun {
		b.WriteString("DRY RUN ")
	}
	b.WriteString(FormatOpportunity(pair, res.Opportunity))
	fmt.Fprintf(&b, "\noutcome: %s", res.Outcome)
	for _, leg := range res.Legs {
		if leg.Index == 0 {
			continue
		}
		fmt.Fprintf(&b, "\nleg %d on %s: %s", leg.Index, leg.VenueID, leg.Status)
		if leg.OK() {
			fmt.Fprintf(&b, " received %s", Units(leg.AmountOut, decimalsFor(pair, leg.ReceiveToken)))
		} else if leg.Reason != "" {
			fmt.Fprintf(&b, " (%s)", leg.Reason)
		}
	}
	if res.Outcome == domain.OutcomeBothSucceeded {
		fmt.Fprintf(&b, "\nrealized profit: %s %s", Units(res.RealizedProfit, pair.Quote.Decimals), pair.Quote.Symbol)
	}
	return b.String()
}

func decimalsFor(pair domain.Pair, symbol string) int32 {
	if symbol == pair.Base.Symbol {
		return pair.Base.Decimals
	}
	return pair.Quote.Decimals
}
