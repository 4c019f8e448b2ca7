package domain

import "time"

// Direction names which venue receives the first leg.
type Direction string

const (
	// DirectionAB buys base on venue A (fast) and sells it on venue B (slow).
	DirectionAB Direction = "a->b"
	// DirectionBA buys base on venue B and sells it on venue A.
	DirectionBA Direction = "b->a"
)

// Opportunity is the solver's answer for one pair of venue states.
type Opportunity struct {
	Pair      string
	Direction Direction
	// Raw is the signed, unclamped optimum: negative for DirectionAB,
	// non-negative for DirectionBA.
	Raw     float64
	Amount  float64 // quote paid into leg 1, clamped to [0, threshold]
	Leg1Out float64 // base received from leg 1
	Leg2Out float64 // quote received from leg 2
	Profit  float64 // Leg2Out - Amount
	// States the opportunity was computed from, A then B.
	StateA     VenueState
	StateB     VenueState
	DetectedAt time.Time
}

// Profitable reports whether the expected profit clears eps.
func (o Opportunity) Profitable(eps float64) bool {
	return o.Amount > 0 && o.Profit > eps
}

// Venues returns the venues for leg 1 and leg 2.
func (o Opportunity) Venues(p Pair) (first, second Venue) {
	if o.Direction == DirectionAB {
		return p.Fast, p.Slow
	}
	return p.Slow, p.Fast
}

// SlowObservedAt returns the observation time of the slow venue's state,
// which is the state that may be reused across cycles.
func (o Opportunity) SlowObservedAt() time.Time {
	return o.StateB.ObservedAt
}
