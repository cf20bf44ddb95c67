package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/receipt"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidTransition rejects approve/cancel requests the loan's status does not allow.
var ErrInvalidTransition = errors.New("invalid loan status transition")

// Ledger handles the business logic for customers, loans and payments.
type Ledger struct {
	storage       store.Storage
	logger        *zap.Logger
	metrics       *metrics.Collector
	policy        calc.Policy
	now           func() time.Time
	receiptPrefix string
	autoApprove   bool
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

func WithPolicy(p calc.Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithClock replaces time.Now, e.g. to pin "today" in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithReceiptPrefix(prefix string) Option {
	return func(l *Ledger) { l.receiptPrefix = prefix }
}

// WithAutoApprove creates loans directly in ACTIVE instead of PENDING.
func WithAutoApprove(on bool) Option {
	return func(l *Ledger) { l.autoApprove = on }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:       s,
		logger:        zap.NewNop(),
		metrics:       metrics.NewCollector(),
		policy:        calc.DefaultPolicy(),
		now:           time.Now,
		receiptPrefix: receipt.DefaultPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoanInput carries the terms of a new loan. A zero StartDate means today.
type LoanInput struct {
	CustomerID   uuid.UUID
	Principal    decimal.Decimal
	InterestRate decimal.Decimal
	InterestType models.InterestType
	Periods      int
	StartDate    time.Time
	Description  string
}

// Quote is a loan preview: what the borrower would owe and when.
type Quote struct {
	TotalAmount       decimal.Decimal      `json:"total_amount"`
	TotalInterest     decimal.Decimal      `json:"total_interest"`
	InstallmentAmount decimal.Decimal      `json:"installment_amount"`
	EndDate           time.Time            `json:"end_date"`
	Installments      []models.Installment `json:"installments"`
}

// LoanDetails is a loan with its schedule, statuses derived as of the read.
type LoanDetails struct {
	models.Loan
	Installments []models.Installment `json:"installments"`
}

func (l *Ledger) today() time.Time {
	return calc.DateOf(l.now())
}

// Quote computes total, installment and schedule without storing anything.
func (l *Ledger) Quote(in LoanInput) (*Quote, error) {
	start := in.StartDate
	if start.IsZero() {
		start = l.today()
	}
	start = calc.DateOf(start)

	total, err := calc.ComputeTotalPayable(in.Principal, in.InterestRate, in.Periods, in.InterestType)
	if err != nil {
		return nil, err
	}
	installment, err := calc.ComputePeriodicInstallment(total, in.Periods)
	if err != nil {
		return nil, err
	}
	schedule, err := calc.GenerateSchedule(uuid.Nil, start, in.Periods, calc.Round(in.Principal), total, l.policy.Residual)
	if err != nil {
		return nil, err
	}
	return &Quote{
		TotalAmount:       total,
		TotalInterest:     total.Sub(calc.Round(in.Principal)),
		InstallmentAmount: installment,
		EndDate:           calc.AddMonthsClamped(start, in.Periods),
		Installments:      schedule,
	}, nil
}

// CreateLoan validates the terms, computes the total payable and stores the
// loan together with its schedule. The schedule is never regenerated.
func (l *Ledger) CreateLoan(ctx context.Context, in LoanInput) (*LoanDetails, error) {
	if in.CustomerID == uuid.Nil {
		return nil, &calc.InvalidInputError{Field: "customer_id", Reason: "is required"}
	}
	if _, err := l.storage.GetCustomer(ctx, in.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &calc.InvalidInputError{Field: "customer_id", Reason: fmt.Sprintf("unknown customer %s", in.CustomerID)}
		}
		return nil, err
	}
	if !in.Principal.Equal(calc.Round(in.Principal)) {
		return nil, &calc.InvalidInputError{Field: "principal", Reason: "must have at most 2 decimal places"}
	}

	start := in.StartDate
	if start.IsZero() {
		start = l.today()
	}
	start = calc.DateOf(start)

	total, err := calc.ComputeTotalPayable(in.Principal, in.InterestRate, in.Periods, in.InterestType)
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := models.Loan{
		ID:              uuid.New(),
		CustomerID:      in.CustomerID,
		Principal:       in.Principal,
		InterestRate:    in.InterestRate,
		InterestType:    in.InterestType,
		Periods:         in.Periods,
		StartDate:       start,
		TotalAmount:     total,
		PaidAmount:      decimal.Zero,
		RemainingAmount: total,
		Status:          models.LoanPending,
		Description:     in.Description,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if l.autoApprove {
		loan.Status = models.LoanActive
	}

	schedule, err := calc.GenerateSchedule(loan.ID, start, in.Periods, in.Principal, total, l.policy.Residual)
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateLoan(ctx, &loan, schedule); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.metrics.LoanCreated(string(loan.InterestType))
	l.logger.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("customer_id", loan.CustomerID.String()),
		zap.String("total", total.StringFixed(2)),
		zap.String("status", string(loan.Status)),
	)

	view, items, _ := calc.Refresh(loan, schedule, now)
	return &LoanDetails{Loan: view, Installments: items}, nil
}

// ApproveLoan moves a PENDING loan to ACTIVE so it accepts payments.
func (l *Ledger) ApproveLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error) {
	return l.transition(ctx, id, func(s models.LoanStatus) bool {
		return s == models.LoanPending
	}, models.LoanActive)
}

// CancelLoan closes a loan that is not yet COMPLETED. It keeps its payments.
func (l *Ledger) CancelLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error) {
	return l.transition(ctx, id, func(s models.LoanStatus) bool {
		return !s.Closed()
	}, models.LoanCancelled)
}

func (l *Ledger) transition(ctx context.Context, id uuid.UUID, allowed func(models.LoanStatus) bool, to models.LoanStatus) (*LoanDetails, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallments(ctx, id)
	if err != nil {
		return nil, err
	}

	now := l.now()
	current := calc.DeriveLoanStatus(*loan, installments, now)
	if !allowed(current) {
		return nil, fmt.Errorf("%w: loan %s is %s, cannot become %s", ErrInvalidTransition, id, current, to)
	}

	loan.Status = to
	loan.UpdatedAt = now
	refreshed, items, _ := calc.Refresh(*loan, installments, now)
	if err := l.storage.UpdateLoan(ctx, &refreshed, items); err != nil {
		return nil, err
	}

	l.metrics.StatusChanged(string(refreshed.Status))
	l.logger.Info("loan status changed",
		zap.String("loan_id", id.String()),
		zap.String("from", string(current)),
		zap.String("to", string(refreshed.Status)),
	)
	return &LoanDetails{Loan: refreshed, Installments: items}, nil
}

// GetLoan returns a loan and its schedule with statuses derived as of now.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.details(ctx, loan)
}

func (l *Ledger) details(ctx context.Context, loan *models.Loan) (*LoanDetails, error) {
	installments, err := l.storage.GetInstallments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	view, items, _ := calc.Refresh(*loan, installments, l.now())
	return &LoanDetails{Loan: view, Installments: items}, nil
}

type LoanFilter struct {
	CustomerID *uuid.UUID
	Status     models.LoanStatus // Matched against the derived status
}

// ListLoans returns loans matching the filter, newest first.
func (l *Ledger) ListLoans(ctx context.Context, filter LoanFilter) ([]*LoanDetails, error) {
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{
		CustomerID: filter.CustomerID,
		OpenOnly:   filter.Status == models.LoanActive || filter.Status == models.LoanOverdue,
	})
	if err != nil {
		return nil, err
	}

	result := make([]*LoanDetails, 0, len(loans))
	for _, loan := range loans {
		d, err := l.details(ctx, loan)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

// PaymentInput describes money received. A zero PaymentDate means today.
type PaymentInput struct {
	LoanID        uuid.UUID
	InstallmentID *uuid.UUID
	Amount        decimal.Decimal
	Method        models.PaymentMethod
	PaymentDate   time.Time
	Notes         string
}

type PaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Loan    *LoanDetails    `json:"loan"`
}

// RecordPayment applies a payment to a loan and stores the loan, its
// installments and the payment atomically. A concurrent write to the same
// loan fails with store.ErrConflict and nothing is stored.
func (l *Ledger) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	loan, err := l.storage.GetLoan(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallments(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	date := in.PaymentDate
	if date.IsZero() {
		date = now
	}

	app, err := calc.ApplyPayment(*loan, installments, calc.PaymentRequest{
		Target: in.InstallmentID,
		Amount: in.Amount,
		Method: in.Method,
		Date:   calc.DateOf(date),
		Notes:  in.Notes,
	}, l.policy)
	if err != nil {
		l.metrics.PaymentRejected(rejectionReason(err))
		l.logger.Warn("payment rejected",
			zap.String("loan_id", in.LoanID.String()),
			zap.String("amount", in.Amount.String()),
			zap.Error(err),
		)
		return nil, err
	}

	updated, items, _ := calc.Refresh(app.Loan, app.Installments, now)
	updated.UpdatedAt = now
	payment := app.Payment
	payment.CreatedAt = now

	number := func(year, seq int) string { return receipt.FormatNumber(l.receiptPrefix, year, seq) }
	if err := l.storage.RecordPayment(ctx, &updated, items, &payment, number); err != nil {
		if errors.Is(err, store.ErrConflict) {
			l.metrics.PaymentRejected("conflict")
		}
		return nil, err
	}

	l.metrics.PaymentRecorded(string(payment.Method), string(payment.Type), payment.Amount)
	if updated.Status != loan.Status {
		l.metrics.StatusChanged(string(updated.Status))
	}
	l.logger.Info("payment recorded",
		zap.String("loan_id", loan.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("receipt", payment.ReceiptNumber),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("type", string(payment.Type)),
		zap.String("remaining", updated.RemainingAmount.StringFixed(2)),
	)

	return &PaymentResult{
		Payment: &payment,
		Loan:    &LoanDetails{Loan: updated, Installments: items},
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, calc.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, calc.ErrLoanClosed):
		return "loan_closed"
	case errors.Is(err, calc.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

// ListPayments returns a loan's payments in the order they were received.
func (l *Ledger) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.ListPayments(ctx, loanID)
}

// GetReceipt builds the receipt of a stored payment.
func (l *Ledger) GetReceipt(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error) {
	p, err := l.storage.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(ctx, p.LoanID)
	if err != nil {
		return nil, err
	}
	customer, err := l.storage.GetCustomer(ctx, loan.CustomerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	seq := 0
	if p.InstallmentID != nil {
		installments, err := l.storage.GetInstallments(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		for _, inst := range installments {
			if inst.ID == *p.InstallmentID {
				seq = inst.Sequence
				break
			}
		}
	}

	r := receipt.Build(p, loan, customer, seq, l.now())
	return &r, nil
}

// RefreshStatuses re-derives the status of every open loan and stores the
// ones that changed. It returns how many loans were updated.
func (l *Ledger) RefreshStatuses(ctx context.Context) (int, error) {
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{OpenOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list open loans: %w", err)
	}

	now := l.now()
	updated, overdue := 0, 0
	for _, loan := range loans {
		installments, err := l.storage.GetInstallments(ctx, loan.ID)
		if err != nil {
			l.logger.Error("failed to load installments", zap.String("loan_id", loan.ID.String()), zap.Error(err))
			continue
		}
		refreshed, items, changed := calc.Refresh(*loan, installments, now)
		if refreshed.Status == models.LoanOverdue {
			overdue++
		}
		if !changed {
			continue
		}
		refreshed.UpdatedAt = now
		if err := l.storage.UpdateLoan(ctx, &refreshed, items); err != nil {
			// A payment landed in between; the next run picks the loan up again.
			l.logger.Warn("failed to refresh loan status", zap.String("loan_id", loan.ID.String()), zap.Error(err))
			continue
		}
		if refreshed.Status != loan.Status {
			l.metrics.StatusChanged(string(refreshed.Status))
			l.logger.Info("loan status changed",
				zap.String("loan_id", loan.ID.String()),
				zap.String("from", string(loan.Status)),
				zap.String("to", string(refreshed.Status)),
			)
		}
		updated++
	}

	l.metrics.SetOverdueLoans(overdue)
	return updated, nil
}
