package calc

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
)

// DeriveInstallmentStatus reports PAID once the amount due is covered,
// OVERDUE when the due date is before asOf, and PENDING otherwise.
func DeriveInstallmentStatus(inst models.Installment, asOf time.Time) models.InstallmentStatus {
	if Settled(inst.PaidAmount, inst.AmountDue) {
		return models.InstallmentPaid
	}
	if DateOf(inst.DueDate).Before(DateOf(asOf)) {
		return models.InstallmentOverdue
	}
	return models.InstallmentPending
}

// DeriveLoanStatus computes the status a loan should be displayed with.
// CANCELLED and PENDING are set administratively and returned unchanged.
func DeriveLoanStatus(loan models.Loan, installments []models.Installment, asOf time.Time) models.LoanStatus {
	switch loan.Status {
	case models.LoanCancelled, models.LoanPending:
		return loan.Status
	}
	if !loan.RemainingAmount.IsPositive() {
		return models.LoanCompleted
	}
	for _, inst := range installments {
		if DeriveInstallmentStatus(inst, asOf) == models.InstallmentOverdue {
			return models.LoanOverdue
		}
	}
	return models.LoanActive
}

// Refresh returns copies of loan and installments carrying their derived
// statuses, and whether any stored status differed.
func Refresh(loan models.Loan, installments []models.Installment, asOf time.Time) (models.Loan, []models.Installment, bool) {
	changed := false
	items := make([]models.Installment, len(installments))
	for i, inst := range installments {
		status := DeriveInstallmentStatus(inst, asOf)
		if status != inst.Status {
			changed = true
			inst.Status = status
		}
		items[i] = inst
	}
	status := DeriveLoanStatus(loan, items, asOf)
	if status != loan.Status {
		changed = true
		loan.Status = status
	}
	return loan, items, changed
}
