package arbitrage

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// SwapOutput returns what a constant-product pool pays out for in, with the
// fee taken from the input before the curve is applied.
func SwapOutput(in, reserveIn, reserveOut, fee float64) float64 {
	if in <= 0 {
		return 0
	}
	eff := in * (1 - fee)
	return reserveOut * eff / (reserveIn + eff)
}

// Solve computes the profit-maximising two-leg trade between venue A and
// venue B. A nil state means the venue has never been observed.
//
// Routing x quote units through A (quote->base) and then B (base->quote)
// yields K*x/(M+N*x); the optimum is the positive root of
// N²x² + 2MNx + (M²-KM) = 0. Both routes are solved and the profitable one,
// if any, is returned. When neither route is profitable the opportunity has
// zero amount and zero profit.
func Solve(a, b *domain.VenueState, threshold float64) (domain.Opportunity, error) {
	if a == nil || b == nil {
		return domain.Opportunity{}, domain.ErrInsufficientData
	}
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return domain.Opportunity{}, fmt.Errorf("%w: threshold %v", domain.ErrNoSolution, threshold)
	}
	if err := checkState(*a); err != nil {
		return domain.Opportunity{}, err
	}
	if err := checkState(*b); err != nil {
		return domain.Opportunity{}, err
	}

	forward, err := optimalInput(
		a.QuoteReserve, a.BaseReserve, a.FeeRate,
		b.BaseReserve, b.QuoteReserve, b.FeeRate,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	reverse, err := optimalInput(
		b.QuoteReserve, b.BaseReserve, b.FeeRate,
		a.BaseReserve, a.QuoteReserve, a.FeeRate,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp := domain.Opportunity{
		StateA:     *a,
		StateB:     *b,
		DetectedAt: time.Now(),
	}
	switch {
	case forward > 0:
		opp.Direction = domain.DirectionAB
		opp.Raw = -forward
	case reverse > 0:
		opp.Direction = domain.DirectionBA
		opp.Raw = reverse
	default:
		opp.Direction = domain.DirectionBA
		return opp, nil
	}

	opp.Amount = math.Min(math.Abs(opp.Raw), threshold)
	first, second := *a, *b
	if opp.Direction == domain.DirectionBA {
		first, second = *b, *a
	}
	opp.Leg1Out = SwapOutput(opp.Amount, first.QuoteReserve, first.BaseReserve, first.FeeRate)
	opp.Leg2Out = SwapOutput(opp.Leg1Out, second.BaseReserve, second.QuoteReserve, second.FeeRate)
	opp.Profit = opp.Leg2Out - opp.Amount
	if !finite(opp.Leg1Out) || !finite(opp.Leg2Out) {
		return domain.Opportunity{}, fmt.Errorf("%w: non-finite leg output", domain.ErrNoSolution)
	}
	return opp, nil
}

// optimalInput solves the two-hop route in1->out1 then in2->out2 and
// returns the unconstrained optimal input, which is <= 0 when the route
// cannot make money.
func optimalInput(in1, out1, fee1, in2, out2, fee2 float64) (float64, error) {
	g1, g2 := 1-fee1, 1-fee2
	p, q, r := g1*out1, in1, g1
	s, t, u := g2*out2, in2, g2

	k := s * p
	m := t * q
	n := t*r + u*p

	qa := n * n
	qb := 2 * m * n
	qc := m*m - k*m
	disc := qb*qb - 4*qa*qc
	if disc < 0 || !finite(disc) || qa == 0 {
		return 0, fmt.Errorf("%w: discriminant %v", domain.ErrNoSolution, disc)
	}
	x := (-qb + math.Sqrt(disc)) / (2 * qa)
	if !finite(x) {
		return 0, fmt.Errorf("%w: root %v", domain.ErrNoSolution, x)
	}
	return x, nil
}

func checkState(s domain.VenueState) error {
	switch {
	case !(s.QuoteReserve > 0) || !(s.BaseReserve > 0) || !finite(s.QuoteReserve) || !finite(s.BaseReserve):
		return fmt.Errorf("%w: venue %s reserves %v/%v", domain.ErrNoSolution, s.VenueID, s.QuoteReserve, s.BaseReserve)
	case !(s.FeeRate >= 0) || s.FeeRate >= 1:
		return fmt.Errorf("%w: venue %s fee %v", domain.ErrNoSolution, s.VenueID, s.FeeRate)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
