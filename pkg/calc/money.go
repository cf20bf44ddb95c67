// Package calc holds the loan ledger arithmetic: total payable, installment
// schedules, payment application and status derivation. Every function is
// pure; callers own persistence and serialization of writes per loan.
package calc

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of decimal places money is kept at.
const CurrencyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// Cent is the tolerance used when deciding whether an installment is settled.
	Cent = decimal.New(1, -CurrencyPlaces)
)

// Round rounds to currency precision, half away from zero. For the
// non-negative amounts the ledger deals with this is round-half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Settled reports whether paid covers due. Sub-cent shortfalls left by
// proportional arithmetic count as settled.
func Settled(paid, due decimal.Decimal) bool {
	return due.Sub(paid).LessThan(Cent)
}

// DateOf drops the time of day, keeping the calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
