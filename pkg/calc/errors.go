package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput matches every InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOverpayment matches an OverpaymentError.
	ErrOverpayment = errors.New("payment exceeds remaining balance")
	// ErrLoanClosed is returned for payments against a paid or cancelled loan.
	ErrLoanClosed = errors.New("loan does not accept payments")
)

// InvalidInputError rejects arguments before any computation happens.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OverpaymentError reports a payment larger than what is still owed under
// the reject policy.
type OverpaymentError struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining balance %s",
		e.Amount.StringFixed(CurrencyPlaces), e.Remaining.StringFixed(CurrencyPlaces))
}

func (e *OverpaymentError) Is(target error) bool {
	return target == ErrOverpayment
}
