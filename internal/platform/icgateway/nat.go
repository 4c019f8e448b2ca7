package icgateway

import (
	"math"

	"github.com/shopspring/decimal"
)

// Nat converts an amount in smallest units to a non-negative whole number
// suitable for a candid nat. Fractions are truncated so a floor never
// rounds up.
func Nat(x float64) decimal.Decimal {
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Floor()
}
