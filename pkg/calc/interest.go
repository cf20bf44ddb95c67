package calc

import (
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

var maxRate = hundred

// ValidateTerms checks the origination inputs shared by every calculation.
func ValidateTerms(principal, ratePerPeriod decimal.Decimal, periods int, kind models.InterestType) error {
	if !principal.IsPositive() {
		return invalid("principal", "must be positive, got %s", principal)
	}
	if periods <= 0 {
		return invalid("periods", "must be positive, got %d", periods)
	}
	if ratePerPeriod.IsNegative() {
		return invalid("interest_rate", "must not be negative, got %s", ratePerPeriod)
	}
	if ratePerPeriod.GreaterThan(maxRate) {
		return invalid("interest_rate", "must be at most 100, got %s", ratePerPeriod)
	}
	if !kind.Valid() {
		return invalid("interest_type", "unknown type %q", kind)
	}
	return nil
}

// ComputeTotalPayable returns principal plus interest over the whole term,
// rounded to currency precision.
//
//	SIMPLE:   principal × (1 + rate/100 × periods)
//	COMPOUND: principal × (1 + rate/100)^periods
func ComputeTotalPayable(principal, ratePerPeriod decimal.Decimal, periods int, kind models.InterestType) (decimal.Decimal, error) {
	if err := ValidateTerms(principal, ratePerPeriod, periods, kind); err != nil {
		return decimal.Zero, err
	}

	rate := ratePerPeriod.Div(hundred)
	n := decimal.NewFromInt(int64(periods))

	var total decimal.Decimal
	switch kind {
	case models.InterestSimple:
		total = principal.Mul(one.Add(rate.Mul(n)))
	case models.InterestCompound:
		total = principal.Mul(one.Add(rate).Pow(n))
	}
	return Round(total), nil
}

// ComputePeriodicInstallment returns total / periods rounded half-up to cents.
// The sum of N such values can drift from total; SplitAmount reconciles it.
func ComputePeriodicInstallment(total decimal.Decimal, periods int) (decimal.Decimal, error) {
	if periods <= 0 {
		return decimal.Zero, invalid("periods", "must be positive, got %d", periods)
	}
	if total.IsNegative() {
		return decimal.Zero, invalid("total", "must not be negative, got %s", total)
	}
	return Round(total.Div(decimal.NewFromInt(int64(periods)))), nil
}

// SplitAmount divides total into periods rounded amounts that sum to the
// rounded total exactly. The installment picked by residual absorbs the
// difference between the naive split and the total.
func SplitAmount(total decimal.Decimal, periods int, residual ResidualAllocation) ([]decimal.Decimal, error) {
	each, err := ComputePeriodicInstallment(total, periods)
	if err != nil {
		return nil, err
	}
	total = Round(total)

	parts := make([]decimal.Decimal, periods)
	for i := range parts {
		parts[i] = each
	}
	drift := total.Sub(each.Mul(decimal.NewFromInt(int64(periods))))

	idx := periods - 1
	if residual == ResidualFirst {
		idx = 0
	}
	parts[idx] = parts[idx].Add(drift)
	if parts[idx].IsNegative() {
		return nil, invalid("periods", "%s is too small to split into %d installments", total, periods)
	}
	return parts, nil
}
