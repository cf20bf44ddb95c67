package calc

import "fmt"

// OverpaymentPolicy decides what happens to money beyond the loan's remaining balance.
type OverpaymentPolicy string

const (
	// OverpaymentReject fails the payment with an OverpaymentError.
	OverpaymentReject OverpaymentPolicy = "reject"
	// OverpaymentCredit accepts the payment and records the excess as credit.
	OverpaymentCredit OverpaymentPolicy = "credit"
)

// ResidualAllocation picks the installment that absorbs the cents lost to rounding.
type ResidualAllocation string

const (
	ResidualLast  ResidualAllocation = "last"
	ResidualFirst ResidualAllocation = "first"
)

type Policy struct {
	Overpayment OverpaymentPolicy
	Residual    ResidualAllocation
}

// DefaultPolicy rejects overpayments and puts rounding residue on the final installment.
func DefaultPolicy() Policy {
	return Policy{Overpayment: OverpaymentReject, Residual: ResidualLast}
}

// ParsePolicy builds a Policy from configuration strings. Empty values take the defaults.
func ParsePolicy(overpayment, residual string) (Policy, error) {
	p := DefaultPolicy()
	switch OverpaymentPolicy(overpayment) {
	case "":
	case OverpaymentReject, OverpaymentCredit:
		p.Overpayment = OverpaymentPolicy(overpayment)
	default:
		return p, fmt.Errorf("unknown overpayment policy %q", overpayment)
	}
	switch ResidualAllocation(residual) {
	case "":
	case ResidualLast, ResidualFirst:
		p.Residual = ResidualAllocation(residual)
	default:
		return p, fmt.Errorf("unknown residual allocation %q", residual)
	}
	return p, nil
}
