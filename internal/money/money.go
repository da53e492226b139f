// Package money provides shared monetary conversion utilities.
//
// All counters and rule thresholds work in integer minor units
// (1 currency unit = 100 cents). Decimal amounts exist only at the
// API boundary; they are converted on the way in and formatted on
// the way out.
package money

import (
	"fmt"
	"math"
)

// CentsPerUnit is the number of minor units in one currency unit.
const CentsPerUnit = 100

// ToCents converts a decimal currency amount to integer cents using
// round-half-away-from-zero at 2 decimal places (19.995 → 2000,
// -19.995 → -2000). Not banker's rounding: ties always round away
// from zero.
func ToCents(amount float64) int64 {
	scaled := amount * CentsPerUnit
	if scaled >= 0 {
		return int64(math.Floor(scaled + 0.5))
	}
	return int64(math.Ceil(scaled - 0.5))
}

// FromCents converts integer cents back to a decimal currency amount.
func FromCents(cents int64) float64 {
	return float64(cents) / CentsPerUnit
}

// FormatUSD renders cents as a human-readable dollar string with two
// decimal places, e.g. 123450 → "$1234.50". Used in flag reasons.
func FormatUSD(cents int64) string {
	return fmt.Sprintf("$%.2f", FromCents(cents))
}

// Percent renders a ratio as a percentage with one decimal place,
// e.g. 0.042 → "4.2%".
func Percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
