package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestType string

const (
	InterestSimple   InterestType = "SIMPLE"
	InterestCompound InterestType = "COMPOUND"
)

// Valid reports whether t is a known interest type.
func (t InterestType) Valid() bool {
	return t == InterestSimple || t == InterestCompound
}

type LoanStatus string

const (
	LoanPending   LoanStatus = "PENDING" // Awaiting approval, no payments accepted
	LoanActive    LoanStatus = "ACTIVE"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanOverdue   LoanStatus = "OVERDUE"
	LoanCancelled LoanStatus = "CANCELLED"
)

// Closed reports whether a loan in this status can no longer change.
func (s LoanStatus) Closed() bool {
	return s == LoanCompleted || s == LoanCancelled
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodPix          PaymentMethod = "PIX"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodDebitCard    PaymentMethod = "DEBIT_CARD"
	MethodCheck        PaymentMethod = "CHECK"
)

// PaymentMethods lists every accepted method in display order.
var PaymentMethods = []PaymentMethod{
	MethodCash, MethodPix, MethodBankTransfer, MethodCreditCard, MethodDebitCard, MethodCheck,
}

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type PaymentType string

const (
	PaymentInstallment PaymentType = "INSTALLMENT" // Settled whole installments exactly
	PaymentPartial     PaymentType = "PARTIAL"
	PaymentFull        PaymentType = "FULL"    // Settled the loan
	PaymentAdvance     PaymentType = "ADVANCE" // Touched an installment that is not yet due
)

type Customer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CPF       string    `json:"cpf"` // Digits only
	Phone     string    `json:"phone"`
	WhatsApp  bool      `json:"whatsapp"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Loan struct {
	ID              uuid.UUID       `json:"id"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	Principal       decimal.Decimal `json:"principal"`
	InterestRate    decimal.Decimal `json:"interest_rate"` // Percent per period
	InterestType    InterestType    `json:"interest_type"`
	Periods         int             `json:"periods"`
	StartDate       time.Time       `json:"start_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          LoanStatus      `json:"status"` // Cached; re-derived on every read
	Description     string          `json:"description,omitempty"`
	Version         int             `json:"version"` // Optimistic concurrency token
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Installment struct {
	ID         uuid.UUID         `json:"id"`
	LoanID     uuid.UUID         `json:"loan_id"`
	Sequence   int               `json:"sequence"`
	AmountDue  decimal.Decimal   `json:"amount_due"`
	Principal  decimal.Decimal   `json:"principal"` // Principal share of AmountDue
	Interest   decimal.Decimal   `json:"interest"`  // Interest share of AmountDue
	DueDate    time.Time         `json:"due_date"`
	PaidAmount decimal.Decimal   `json:"paid_amount"`
	PaidAt     *time.Time        `json:"paid_at,omitempty"`
	Status     InstallmentStatus `json:"status"`
}

// Outstanding returns what is still owed on the installment, never negative.
func (i *Installment) Outstanding() decimal.Decimal {
	left := i.AmountDue.Sub(i.PaidAmount)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

type Payment struct {
	ID              uuid.UUID       `json:"id"`
	LoanID          uuid.UUID       `json:"loan_id"`
	InstallmentID   *uuid.UUID      `json:"installment_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Method          PaymentMethod   `json:"method"`
	Type            PaymentType     `json:"type"`
	PaymentDate     time.Time       `json:"payment_date"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	CreditAmount    decimal.Decimal `json:"credit_amount"` // Excess kept under the credit overpayment policy
	BalanceAfter    decimal.Decimal `json:"balance_after"` // Loan remaining amount right after this payment
	ReceiptNumber   string          `json:"receipt_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Receipt is a read-only view over a payment, built on demand.
type Receipt struct {
	Number            string          `json:"number"`
	PaymentID         uuid.UUID       `json:"payment_id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	CustomerName      string          `json:"customer_name"`
	CustomerCPF       string          `json:"customer_cpf"`
	Amount            decimal.Decimal `json:"amount"`
	PrincipalAmount   decimal.Decimal `json:"principal_amount"`
	InterestAmount    decimal.Decimal `json:"interest_amount"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	PaymentDate       time.Time       `json:"payment_date"`
	InstallmentNumber int             `json:"installment_number,omitempty"`
	TotalInstallments int             `json:"total_installments"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	IssuedAt          time.Time       `json:"issued_at"`
}
