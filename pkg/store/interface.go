package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the loan changed since it was read; reload and retry.
	ErrConflict = errors.New("loan was modified concurrently")
)

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	CustomerID *uuid.UUID
	OpenOnly   bool // Skip COMPLETED and CANCELLED loans
}

// ReceiptNumberer formats the receipt number of the seq-th payment in year.
type ReceiptNumberer func(year, seq int) string

// Storage defines the persistence operations the ledger depends on.
//
// Writes that touch a loan carry the loan's Version and fail with ErrConflict
// when another writer got there first, so concurrent payments against the
// same loan are serialized.
type Storage interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetCustomerByCPF(ctx context.Context, cpf string) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]*models.Customer, error)

	// CreateLoan stores a loan and its whole schedule in one transaction.
	CreateLoan(ctx context.Context, loan *models.Loan, schedule []models.Installment) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error)
	// UpdateLoan writes the loan row and the given installments, bumping Version.
	UpdateLoan(ctx context.Context, loan *models.Loan, installments []models.Installment) error

	// RecordPayment writes the updated loan and installments and inserts the
	// payment in one transaction, numbering the receipt on the way.
	RecordPayment(ctx context.Context, loan *models.Loan, installments []models.Installment, payment *models.Payment, number ReceiptNumberer) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)

	Close() error
}
