package config

import (
	"strings"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Domain converts the TOML entry into a domain.Pair.
func (p PairConfig) Domain() domain.Pair {
	return domain.Pair{
		Symbol:        p.Symbol,
		Base:          p.Base.domain(),
		Quote:         p.Quote.domain(),
		Fast:          p.Fast.domain(),
		Slow:          p.Slow.domain(),
		Threshold:     p.Threshold,
		Epsilon:       p.Epsilon,
		BaseAllowance: p.BaseAllowance,
	}
}

func (t TokenConfig) domain() domain.Token {
	return domain.Token{Symbol: t.Symbol, Ledger: t.Ledger, Decimals: t.Decimals, Fee: t.Fee}
}

func (v VenueConfig) domain() domain.Venue {
	return domain.Venue{
		ID:       v.ID,
		Kind:     domain.VenueKind(strings.ToLower(v.Kind)),
		Canister: v.Canister,
		Ticker:   v.Ticker,
		FeeRate:  v.FeeRate,
	}
}

// DomainPairs returns every configured pair in file order.
func (c *Config) DomainPairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, p.Domain())
	}
	return out
}

// Pair looks a pair up by symbol.
func (c *Config) Pair(symbol string) (domain.Pair, bool) {
	for _, p := range c.Pairs {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.Domain(), true
		}
	}
	return domain.Pair{}, false
}
