package ledger

import (
	"context"
	"fmt"

	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
)

// Stats summarizes the whole book for the dashboard.
type Stats struct {
	TotalCustomers int                       `json:"total_customers"`
	TotalLoans     int                       `json:"total_loans"`
	TotalLent      decimal.Decimal           `json:"total_lent"`    // Principal of approved, non-cancelled loans
	TotalPaid      decimal.Decimal           `json:"total_paid"`    // Received across all loans
	TotalPending   decimal.Decimal           `json:"total_pending"` // Still owed on open loans
	TotalOverdue   decimal.Decimal           `json:"total_overdue"` // Owed on installments past due
	ActiveLoans    int                       `json:"active_loans"`
	CompletedLoans int                       `json:"completed_loans"`
	OverdueLoans   int                       `json:"overdue_loans"`
	LoansByStatus  map[models.LoanStatus]int `json:"loans_by_status"`
}

func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	customers, err := l.storage.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	now := l.now()
	s := &Stats{
		TotalCustomers: len(customers),
		TotalLoans:     len(loans),
		TotalLent:      decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalPending:   decimal.Zero,
		TotalOverdue:   decimal.Zero,
		LoansByStatus:  make(map[models.LoanStatus]int),
	}
	for _, loan := range loans {
		installments, err := l.storage.GetInstallments(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		view, items, _ := calc.Refresh(*loan, installments, now)
		s.LoansByStatus[view.Status]++
		s.TotalPaid = s.TotalPaid.Add(view.PaidAmount)

		switch view.Status {
		case models.LoanCancelled, models.LoanPending:
			continue
		case models.LoanActive:
			s.ActiveLoans++
		case models.LoanOverdue:
			s.OverdueLoans++
		case models.LoanCompleted:
			s.CompletedLoans++
		}
		s.TotalLent = s.TotalLent.Add(view.Principal)
		s.TotalPending = s.TotalPending.Add(view.RemainingAmount)
		for _, inst := range items {
			if inst.Status == models.InstallmentOverdue {
				s.TotalOverdue = s.TotalOverdue.Add(inst.Outstanding())
			}
		}
	}
	return s, nil
}
