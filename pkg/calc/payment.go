package calc

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// PaymentRequest describes money received against a loan. Target, when set,
// names the installment the payment is meant for.
type PaymentRequest struct {
	Target *uuid.UUID
	Amount decimal.Decimal
	Method models.PaymentMethod
	Date   time.Time
	Notes  string
}

// Application is the outcome of applying one payment. Loan and Installments
// are updated copies; the caller persists them together with Payment.
type Application struct {
	Loan         models.Loan
	Installments []models.Installment // Every installment of the loan, by sequence
	Affected     []uuid.UUID          // Installments that received money, in allocation order
	Payment      models.Payment
}

// ApplyPayment allocates a payment over the loan's installments.
//
// A targeted payment fills the target first; whatever is left goes to the
// oldest unpaid installments by sequence. An untargeted payment goes oldest
// first from the start. An installment whose paid amount reaches its amount
// due is marked PAID as of the payment date. Amounts above the loan's
// remaining balance are rejected or kept as credit, depending on policy.
//
// The arguments are never modified: on error nothing has changed.
func ApplyPayment(loan models.Loan, installments []models.Installment, req PaymentRequest, policy Policy) (*Application, error) {
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be positive, got %s", req.Amount)
	}
	if !req.Amount.Equal(Round(req.Amount)) {
		return nil, invalid("amount", "must have at most %d decimal places, got %s", CurrencyPlaces, req.Amount)
	}
	if !req.Method.Valid() {
		return nil, invalid("method", "unknown payment method %q", req.Method)
	}
	if req.Date.IsZero() {
		return nil, invalid("payment_date", "is required")
	}
	if loan.Status.Closed() || loan.Status == models.LoanPending {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanClosed, loan.ID, loan.Status)
	}
	if len(installments) == 0 {
		return nil, invalid("installments", "loan %s has no schedule", loan.ID)
	}

	items := slices.Clone(installments)
	slices.SortFunc(items, func(a, b models.Installment) int { return cmp.Compare(a.Sequence, b.Sequence) })

	remaining := outstandingBalance(loan.TotalAmount, items)
	applicable := req.Amount
	credit := decimal.Zero
	if req.Amount.GreaterThan(remaining) {
		if policy.Overpayment != OverpaymentCredit {
			return nil, &OverpaymentError{Amount: req.Amount, Remaining: remaining}
		}
		applicable = remaining
		credit = req.Amount.Sub(remaining)
	}

	order, err := allocationOrder(items, req.Target)
	if err != nil {
		return nil, err
	}

	left := applicable
	principalPart, interestPart := decimal.Zero, decimal.Zero
	affected := make([]uuid.UUID, 0, len(order))
	advance, partial := false, false

	for _, idx := range order {
		if !left.IsPositive() {
			break
		}
		inst := &items[idx]
		take := minDecimal(left, inst.Outstanding())
		if !take.IsPositive() {
			continue
		}
		left = left.Sub(take)
		inst.PaidAmount = inst.PaidAmount.Add(take)
		affected = append(affected, inst.ID)

		p := principalShare(take, inst)
		principalPart = principalPart.Add(p)
		interestPart = interestPart.Add(take.Sub(p))

		if Settled(inst.PaidAmount, inst.AmountDue) {
			inst.Status = models.InstallmentPaid
			paidAt := req.Date
			inst.PaidAt = &paidAt
		} else {
			partial = true
		}
		if DateOf(inst.DueDate).After(DateOf(req.Date)) {
			advance = true
		}
	}

	updated := loan
	updated.PaidAmount = sumPaid(items)
	updated.RemainingAmount = floorZero(updated.TotalAmount.Sub(updated.PaidAmount))
	if updated.RemainingAmount.IsZero() {
		updated.Status = models.LoanCompleted
	} else {
		updated.Status = models.LoanActive
	}

	kind := models.PaymentInstallment
	switch {
	case updated.Status == models.LoanCompleted:
		kind = models.PaymentFull
	case partial:
		kind = models.PaymentPartial
	case advance:
		kind = models.PaymentAdvance
	}

	payment := models.Payment{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		InstallmentID:   req.Target,
		Amount:          req.Amount,
		Method:          req.Method,
		Type:            kind,
		PaymentDate:     req.Date,
		PrincipalAmount: principalPart,
		InterestAmount:  interestPart,
		FeeAmount:       decimal.Zero,
		CreditAmount:    credit,
		BalanceAfter:    updated.RemainingAmount,
		Notes:           req.Notes,
	}

	return &Application{
		Loan:         updated,
		Installments: items,
		Affected:     affected,
		Payment:      payment,
	}, nil
}

// allocationOrder returns indexes into items in the order money flows:
// the target first when given, then every other unpaid installment by sequence.
func allocationOrder(items []models.Installment, target *uuid.UUID) ([]int, error) {
	order := make([]int, 0, len(items))
	targetIdx := -1
	if target != nil {
		for i := range items {
			if items[i].ID == *target {
				targetIdx = i
				break
			}
		}
		if targetIdx < 0 {
			return nil, invalid("installment_id", "installment %s does not belong to the loan", *target)
		}
		if Settled(items[targetIdx].PaidAmount, items[targetIdx].AmountDue) {
			return nil, invalid("installment_id", "installment %d is already paid", items[targetIdx].Sequence)
		}
		order = append(order, targetIdx)
	}
	for i := range items {
		if i == targetIdx || Settled(items[i].PaidAmount, items[i].AmountDue) {
			continue
		}
		order = append(order, i)
	}
	return order, nil
}

// principalShare is the part of amount that repays principal, in proportion
// to the installment's own principal/interest composition.
func principalShare(amount decimal.Decimal, inst *models.Installment) decimal.Decimal {
	if !inst.AmountDue.IsPositive() {
		return amount
	}
	return Round(amount.Mul(inst.Principal).Div(inst.AmountDue))
}

func outstandingBalance(total decimal.Decimal, items []models.Installment) decimal.Decimal {
	return floorZero(total.Sub(sumPaid(items)))
}

func sumPaid(items []models.Installment) decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range items {
		sum = sum.Add(inst.PaidAmount)
	}
	return sum
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
