package calc

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// AddMonthsClamped moves date forward by months calendar months. When the
// start day does not exist in the target month the result is clamped to
// that month's last day (Jan 31 + 1 month = Feb 28, or Feb 29 in leap years).
// time.AddDate would normalize the overflow into the next month instead.
func AddMonthsClamped(date time.Time, months int) time.Time {
	date = DateOf(date)
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// GenerateSchedule builds the installment plan of a loan: one installment per
// period with due dates at startDate + k months (k = 1..periods). Amounts are
// split so that they add up to total exactly. Each installment carries
// interest in proportion to its amount due, so both the interest and the
// principal shares are non-negative and add up exactly.
func GenerateSchedule(loanID uuid.UUID, startDate time.Time, periods int, principal, total decimal.Decimal, residual ResidualAllocation) ([]models.Installment, error) {
	if periods <= 0 {
		return nil, invalid("periods", "must be positive, got %d", periods)
	}
	if !principal.IsPositive() {
		return nil, invalid("principal", "must be positive, got %s", principal)
	}
	if Round(total).LessThan(Round(principal)) {
		return nil, invalid("total", "%s is below principal %s", total, principal)
	}

	amounts, err := SplitAmount(total, periods, residual)
	if err != nil {
		return nil, err
	}
	interests := spreadByWeight(Round(total).Sub(Round(principal)), amounts)

	start := DateOf(startDate)
	schedule := make([]models.Installment, periods)
	for k := 0; k < periods; k++ {
		share := amounts[k].Sub(interests[k])
		schedule[k] = models.Installment{
			ID:         uuid.New(),
			LoanID:     loanID,
			Sequence:   k + 1,
			AmountDue:  amounts[k],
			Principal:  share,
			Interest:   interests[k],
			DueDate:    AddMonthsClamped(start, k+1),
			PaidAmount: decimal.Zero,
			Status:     models.InstallmentPending,
		}
	}
	return schedule, nil
}

// spreadByWeight splits amount into cent parts proportional to weights, using
// the rounded cumulative share at every step. The parts add up to amount and
// none exceeds its weight as long as amount is not above the weights' sum.
func spreadByWeight(amount decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if sum.IsZero() {
		for i := range parts {
			parts[i] = decimal.Zero
		}
		return parts
	}
	cum := decimal.Zero
	prev := decimal.Zero
	for i, w := range weights {
		cum = cum.Add(w)
		share := Round(amount.Mul(cum).Div(sum))
		if i == len(weights)-1 {
			share = Round(amount)
		}
		parts[i] = share.Sub(prev)
		prev = share
	}
	return parts
}
