package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// It hands out copies so callers cannot change stored state without writing it back.
type MockStore struct {
	mu           sync.Mutex
	customers    map[uuid.UUID]models.Customer
	loans        map[uuid.UUID]models.Loan
	loanOrder    []uuid.UUID
	installments map[uuid.UUID][]models.Installment
	payments     []models.Payment
	receiptSeq   map[int]int
}

func NewMockStore() *MockStore {
	return &MockStore{
		customers:    make(map[uuid.UUID]models.Customer),
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID][]models.Installment),
		receiptSeq:   make(map[int]int),
	}
}

func (m *MockStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = *c
	return nil
}

func (m *MockStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *MockStore) GetCustomerByCPF(ctx context.Context, cpf string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.CPF == cpf {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customers := []*models.Customer{}
	for _, c := range m.customers {
		customers = append(customers, &c)
	}
	return customers, nil
}

func (m *MockStore) CreateLoan(ctx context.Context, loan *models.Loan, schedule []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	m.loanOrder = append(m.loanOrder, loan.ID)
	m.installments[loan.ID] = slices.Clone(schedule)
	return nil
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return &loan, nil
}

func (m *MockStore) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := []*models.Loan{}
	for i := len(m.loanOrder) - 1; i >= 0; i-- {
		loan := m.loans[m.loanOrder[i]]
		if filter.CustomerID != nil && loan.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.OpenOnly && loan.Status.Closed() {
			continue
		}
		loans = append(loans, &loan)
	}
	return loans, nil
}

func (m *MockStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.installments[loanID]), nil
}

func (m *MockStore) writeLoan(loan *models.Loan, installments []models.Installment) error {
	stored, ok := m.loans[loan.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != loan.Version {
		return store.ErrConflict
	}
	loan.Version++
	m.loans[loan.ID] = *loan
	current := m.installments[loan.ID]
	for _, inst := range installments {
		for i := range current {
			if current[i].ID == inst.ID {
				current[i] = inst
			}
		}
	}
	return nil
}

func (m *MockStore) UpdateLoan(ctx context.Context, loan *models.Loan, installments []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLoan(loan, installments)
}

func (m *MockStore) RecordPayment(ctx context.Context, loan *models.Loan, installments []models.Installment, p *models.Payment, number store.ReceiptNumberer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeLoan(loan, installments); err != nil {
		return err
	}
	year := p.PaymentDate.Year()
	m.receiptSeq[year]++
	p.ReceiptNumber = number(year, m.receiptSeq[year])
	m.payments = append(m.payments, *p)
	return nil
}

func (m *MockStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := []*models.Payment{}
	for _, p := range m.payments {
		if p.LoanID == loanID {
			payments = append(payments, &p)
		}
	}
	return payments, nil
}

func (m *MockStore) Close() error {
	return nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

const validCPF = "529.982.247-25"

func setup(t *testing.T, opts ...Option) (*Ledger, *MockStore, *testClock, *models.Customer) {
	t.Helper()
	ms := NewMockStore()
	clock := &testClock{now: day(2024, time.January, 20).Add(9 * time.Hour)}
	l := NewLedger(ms, append([]Option{WithClock(clock.Now)}, opts...)...)
	c, err := l.CreateCustomer(context.Background(), CustomerInput{Name: "Maria Oliveira", CPF: validCPF, Phone: "(11) 98765-4321"})
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}
	return l, ms, clock, c
}

// twoInstallmentLoan creates an approved 9390.20 loan paid in two 4695.10 installments due Feb 15 and Mar 15.
func twoInstallmentLoan(t *testing.T, l *Ledger, customerID uuid.UUID) *LoanDetails {
	t.Helper()
	loan, err := l.CreateLoan(context.Background(), LoanInput{
		CustomerID:   customerID,
		Principal:    dec("9390.20"),
		InterestRate: decimal.Zero,
		InterestType: models.InterestSimple,
		Periods:      2,
		StartDate:    day(2024, time.January, 15),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	if loan.Status == models.LoanPending {
		if loan, err = l.ApproveLoan(context.Background(), loan.ID); err != nil {
			t.Fatalf("Failed to approve loan: %v", err)
		}
	}
	return loan
}

func TestValidCPF(t *testing.T) {
	tests := []struct {
		cpf  string
		want bool
	}{
		{"52998224725", true},
		{"11144477735", true},
		{"52998224724", false},
		{"11111111111", false},
		{"1234567890", false},
		{"5299822472a", false},
	}
	for _, tt := range tests {
		if got := ValidCPF(tt.cpf); got != tt.want {
			t.Errorf("ValidCPF(%s) = %v, expected %v", tt.cpf, got, tt.want)
		}
	}
}

func TestCreateCustomer(t *testing.T) {
	l, _, _, c := setup(t)
	ctx := context.Background()

	if c.CPF != "52998224725" {
		t.Errorf("Expected CPF stored as digits, got %s", c.CPF)
	}
	if c.Phone != "11987654321" {
		t.Errorf("Expected phone stored as digits, got %s", c.Phone)
	}

	if _, err := l.CreateCustomer(ctx, CustomerInput{Name: "Outra Pessoa", CPF: validCPF}); !errors.Is(err, ErrDuplicateCustomer) {
		t.Errorf("Expected ErrDuplicateCustomer, got %v", err)
	}

	invalid := []CustomerInput{
		{Name: "", CPF: "111.444.777-35"},
		{Name: "Ana", CPF: "111.111.111-11"},
		{Name: "Ana", CPF: "111.444.777-35", Phone: "123"},
	}
	for _, in := range invalid {
		if _, err := l.CreateCustomer(ctx, in); !errors.Is(err, calc.ErrInvalidInput) {
			t.Errorf("Expected invalid input for %+v, got %v", in, err)
		}
	}

	customers, err := l.ListCustomers(ctx)
	if err != nil {
		t.Fatalf("Failed to list customers: %v", err)
	}
	if len(customers) != 1 {
		t.Errorf("Expected 1 customer, got %d", len(customers))
	}
}

func TestQuote(t *testing.T) {
	l, _, _, _ := setup(t)

	q, err := l.Quote(LoanInput{
		Principal:    dec("25000"),
		InterestRate: dec("2"),
		InterestType: models.InterestSimple,
		Periods:      6,
		StartDate:    day(2024, time.January, 31),
	})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !q.TotalAmount.Equal(dec("28000.00")) {
		t.Errorf("Expected total 28000.00, got %s", q.TotalAmount)
	}
	if !q.TotalInterest.Equal(dec("3000.00")) {
		t.Errorf("Expected interest 3000.00, got %s", q.TotalInterest)
	}
	if !q.InstallmentAmount.Equal(dec("4666.67")) {
		t.Errorf("Expected installment 4666.67, got %s", q.InstallmentAmount)
	}
	if !q.EndDate.Equal(day(2024, time.July, 31)) {
		t.Errorf("Expected end date 2024-07-31, got %s", q.EndDate)
	}
	if len(q.Installments) != 6 {
		t.Fatalf("Expected 6 installments, got %d", len(q.Installments))
	}
	if !q.Installments[0].DueDate.Equal(day(2024, time.February, 29)) {
		t.Errorf("Expected first due date 2024-02-29, got %s", q.Installments[0].DueDate)
	}

	if _, err := l.Quote(LoanInput{Principal: dec("100"), InterestRate: dec("-1"), InterestType: models.InterestSimple, Periods: 1}); !errors.Is(err, calc.ErrInvalidInput) {
		t.Errorf("Expected invalid input for a negative rate, got %v", err)
	}
}

func TestCreateLoan(t *testing.T) {
	l, ms, _, c := setup(t)
	ctx := context.Background()

	loan, err := l.CreateLoan(ctx, LoanInput{
		CustomerID:   c.ID,
		Principal:    dec("50000"),
		InterestRate: dec("1"),
		InterestType: models.InterestCompound,
		Periods:      12,
		StartDate:    day(2024, time.January, 15),
		Description:  "Reforma da loja",
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if loan.Status != models.LoanPending {
		t.Errorf("Expected status PENDING, got %s", loan.Status)
	}
	if !loan.TotalAmount.Equal(dec("56341.25")) {
		t.Errorf("Expected total 56341.25, got %s", loan.TotalAmount)
	}
	if !loan.RemainingAmount.Equal(loan.TotalAmount) {
		t.Errorf("Expected remaining %s, got %s", loan.TotalAmount, loan.RemainingAmount)
	}
	if len(loan.Installments) != 12 {
		t.Fatalf("Expected 12 installments, got %d", len(loan.Installments))
	}

	sum := decimal.Zero
	for _, inst := range ms.installments[loan.ID] {
		sum = sum.Add(inst.AmountDue)
	}
	if !sum.Equal(loan.TotalAmount) {
		t.Errorf("Expected stored schedule to sum to %s, got %s", loan.TotalAmount, sum)
	}

	_, err = l.CreateLoan(ctx, LoanInput{CustomerID: uuid.New(), Principal: dec("100"), InterestType: models.InterestSimple, Periods: 1})
	if !errors.Is(err, calc.ErrInvalidInput) {
		t.Errorf("Expected invalid input for an unknown customer, got %v", err)
	}
	_, err = l.CreateLoan(ctx, LoanInput{CustomerID: c.ID, Principal: dec("100.001"), InterestType: models.InterestSimple, Periods: 1})
	if !errors.Is(err, calc.ErrInvalidInput) {
		t.Errorf("Expected invalid input for sub-cent principal, got %v", err)
	}
	if len(ms.loans) != 1 {
		t.Errorf("Expected rejected loans not to be stored, got %d loans", len(ms.loans))
	}
}

func TestCreateLoan_AutoApprove(t *testing.T) {
	l, _, _, c := setup(t, WithAutoApprove(true))
	loan := twoInstallmentLoan(t, l, c.ID)
	if loan.Status != models.LoanActive {
		t.Errorf("Expected status ACTIVE, got %s", loan.Status)
	}
	if loan.Version != 1 {
		t.Errorf("Expected no approval write, got version %d", loan.Version)
	}
}

func TestApproveAndCancel(t *testing.T) {
	l, _, _, c := setup(t)
	ctx := context.Background()

	loan, err := l.CreateLoan(ctx, LoanInput{
		CustomerID: c.ID, Principal: dec("1000"), InterestRate: dec("5"),
		InterestType: models.InterestSimple, Periods: 2, StartDate: day(2024, time.January, 15),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	_, err = l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("100"), Method: models.MethodCash})
	if !errors.Is(err, calc.ErrLoanClosed) {
		t.Errorf("Expected pending loan to refuse payments, got %v", err)
	}

	approved, err := l.ApproveLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	if approved.Status != models.LoanActive {
		t.Errorf("Expected ACTIVE, got %s", approved.Status)
	}
	if _, err := l.ApproveLoan(ctx, loan.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on second approval, got %v", err)
	}

	cancelled, err := l.CancelLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}
	if cancelled.Status != models.LoanCancelled {
		t.Errorf("Expected CANCELLED, got %s", cancelled.Status)
	}
	if _, err := l.CancelLoan(ctx, loan.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on second cancel, got %v", err)
	}
	_, err = l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("100"), Method: models.MethodCash})
	if !errors.Is(err, calc.ErrLoanClosed) {
		t.Errorf("Expected cancelled loan to refuse payments, got %v", err)
	}

	if _, err := l.ApproveLoan(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecordPayment(t *testing.T) {
	l, ms, _, c := setup(t)
	ctx := context.Background()
	loan := twoInstallmentLoan(t, l, c.ID)

	res, err := l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("5000"), Method: models.MethodPix})
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if res.Payment.ReceiptNumber != "REC-2024-001" {
		t.Errorf("Expected receipt REC-2024-001, got %s", res.Payment.ReceiptNumber)
	}
	if res.Payment.Type != models.PaymentPartial {
		t.Errorf("Expected PARTIAL, got %s", res.Payment.Type)
	}
	if !res.Payment.PaymentDate.Equal(day(2024, time.January, 20)) {
		t.Errorf("Expected payment dated today, got %s", res.Payment.PaymentDate)
	}
	if !res.Loan.RemainingAmount.Equal(dec("4390.20")) {
		t.Errorf("Expected remaining 4390.20, got %s", res.Loan.RemainingAmount)
	}

	stored := ms.installments[loan.ID]
	if stored[0].Status != models.InstallmentPaid {
		t.Errorf("Expected first installment PAID, got %s", stored[0].Status)
	}
	if !stored[1].PaidAmount.Equal(dec("304.90")) || stored[1].Status != models.InstallmentPending {
		t.Errorf("Expected second installment PENDING with 304.90 paid, got %s with %s", stored[1].Status, stored[1].PaidAmount)
	}

	res, err = l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("4390.20"), Method: models.MethodCash})
	if err != nil {
		t.Fatalf("Failed to record final payment: %v", err)
	}
	if res.Payment.Type != models.PaymentFull {
		t.Errorf("Expected FULL, got %s", res.Payment.Type)
	}
	if res.Payment.ReceiptNumber != "REC-2024-002" {
		t.Errorf("Expected receipt REC-2024-002, got %s", res.Payment.ReceiptNumber)
	}
	if ms.loans[loan.ID].Status != models.LoanCompleted {
		t.Errorf("Expected stored status COMPLETED, got %s", ms.loans[loan.ID].Status)
	}

	_, err = l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("1"), Method: models.MethodCash})
	if !errors.Is(err, calc.ErrLoanClosed) {
		t.Errorf("Expected completed loan to refuse payments, got %v", err)
	}

	payments, err := l.ListPayments(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != 2 {
		t.Errorf("Expected 2 payments, got %d", len(payments))
	}
	if _, err := l.ListPayments(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecordPayment_OverpaymentLeavesNoTrace(t *testing.T) {
	l, ms, _, c := setup(t)
	ctx := context.Background()
	loan := twoInstallmentLoan(t, l, c.ID)
	before := ms.loans[loan.ID]

	_, err := l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, Amount: dec("9390.21"), Method: models.MethodPix})
	var over *calc.OverpaymentError
	if !errors.As(err, &over) {
		t.Fatalf("Expected OverpaymentError, got %v", err)
	}
	if !over.Remaining.Equal(dec("9390.20")) {
		t.Errorf("Expected remaining 9390.20 in error, got %s", over.Remaining)
	}
	if len(ms.payments) != 0 {
		t.Errorf("Expected no payment stored, got %d", len(ms.payments))
	}
	if ms.loans[loan.ID] != before {
		t.Error("Expected loan to be untouched")
	}
}

func TestRecordPayment_CreditPolicy(t *testing.T) {
	l, _, _, c := setup(t, WithPolicy(calc.Policy{Overpayment: calc.OverpaymentCredit, Residual: calc.ResidualLast}))
	loan := twoInstallmentLoan(t, l, c.ID)

	res, err := l.RecordPayment(context.Background(), PaymentInput{LoanID: loan.ID, Amount: dec("9400.00"), Method: models.MethodBankTransfer})
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if !res.Payment.CreditAmount.Equal(dec("9.80")) {
		t.Errorf("Expected credit 9.80, got %s", res.Payment.CreditAmount)
	}
	if res.Loan.Status != models.LoanCompleted {
		t.Errorf("Expected COMPLETED, got %s", res.Loan.Status)
	}
}

// racingStore lets another writer update the loan between the ledger's read and write.
type racingStore struct {
	*MockStore
	raced bool
}

func (r *racingStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	items, err := r.MockStore.GetInstallments(ctx, loanID)
	if !r.raced {
		r.raced = true
		loan, _ := r.MockStore.GetLoan(ctx, loanID)
		loan.Description = "edited elsewhere"
		if err := r.MockStore.UpdateLoan(ctx, loan, nil); err != nil {
			return nil, err
		}
	}
	return items, err
}

func TestRecordPayment_Conflict(t *testing.T) {
	l, ms, clock, c := setup(t, WithAutoApprove(true))
	loan := twoInstallmentLoan(t, l, c.ID)

	racing := &racingStore{MockStore: ms}
	lr := NewLedger(racing, WithClock(clock.Now))
	_, err := lr.RecordPayment(context.Background(), PaymentInput{LoanID: loan.ID, Amount: dec("100"), Method: models.MethodPix})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if len(ms.payments) != 0 {
		t.Errorf("Expected no payment stored, got %d", len(ms.payments))
	}

	if _, err := lr.RecordPayment(context.Background(), PaymentInput{LoanID: loan.ID, Amount: dec("100"), Method: models.MethodPix}); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestStatusesAreDerivedOnRead(t *testing.T) {
	l, ms, clock, c := setup(t)
	ctx := context.Background()
	loan := twoInstallmentLoan(t, l, c.ID)

	clock.now = day(2024, time.March, 1)

	got, err := l.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if got.Status != models.LoanOverdue {
		t.Errorf("Expected OVERDUE, got %s", got.Status)
	}
	if got.Installments[0].Status != models.InstallmentOverdue || got.Installments[1].Status != models.InstallmentPending {
		t.Errorf("Expected OVERDUE/PENDING installments, got %s/%s", got.Installments[0].Status, got.Installments[1].Status)
	}
	if ms.loans[loan.ID].Status != models.LoanActive {
		t.Errorf("Expected reads not to write, stored status is %s", ms.loans[loan.ID].Status)
	}

	overdue, err := l.ListLoans(ctx, LoanFilter{Status: models.LoanOverdue})
	if err != nil {
		t.Fatalf("Failed to list loans: %v", err)
	}
	if len(overdue) != 1 {
		t.Errorf("Expected 1 overdue loan, got %d", len(overdue))
	}
	active, err := l.ListLoans(ctx, LoanFilter{Status: models.LoanActive})
	if err != nil {
		t.Fatalf("Failed to list loans: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active loans, got %d", len(active))
	}

	// Paying the overdue installment brings the loan back to ACTIVE.
	res, err := l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, InstallmentID: &got.Installments[0].ID, Amount: dec("4695.10"), Method: models.MethodPix})
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if res.Loan.Status != models.LoanActive {
		t.Errorf("Expected ACTIVE after catching up, got %s", res.Loan.Status)
	}
	if res.Payment.Type != models.PaymentInstallment {
		t.Errorf("Expected INSTALLMENT, got %s", res.Payment.Type)
	}
}

func TestRefreshStatuses(t *testing.T) {
	l, ms, clock, c := setup(t)
	ctx := context.Background()
	loan := twoInstallmentLoan(t, l, c.ID)
	twoInstallmentLoan(t, l, c.ID)

	n, err := l.RefreshStatuses(ctx)
	if err != nil {
		t.Fatalf("RefreshStatuses failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing to refresh yet, got %d", n)
	}

	clock.now = day(2024, time.February, 16)
	n, err = l.RefreshStatuses(ctx)
	if err != nil {
		t.Fatalf("RefreshStatuses failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 loans refreshed, got %d", n)
	}
	if ms.loans[loan.ID].Status != models.LoanOverdue {
		t.Errorf("Expected stored status OVERDUE, got %s", ms.loans[loan.ID].Status)
	}
	if ms.installments[loan.ID][0].Status != models.InstallmentOverdue {
		t.Errorf("Expected stored installment OVERDUE, got %s", ms.installments[loan.ID][0].Status)
	}

	n, err = l.RefreshStatuses(ctx)
	if err != nil {
		t.Fatalf("RefreshStatuses failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected second run to be a no-op, got %d", n)
	}
}

func TestGetReceipt(t *testing.T) {
	l, _, _, c := setup(t)
	ctx := context.Background()
	loan := twoInstallmentLoan(t, l, c.ID)

	target := loan.Installments[1].ID
	res, err := l.RecordPayment(ctx, PaymentInput{LoanID: loan.ID, InstallmentID: &target, Amount: dec("4695.10"), Method: models.MethodCheck})
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if res.Payment.Type != models.PaymentAdvance {
		t.Errorf("Expected ADVANCE, got %s", res.Payment.Type)
	}

	r, err := l.GetReceipt(ctx, res.Payment.ID)
	if err != nil {
		t.Fatalf("Failed to get receipt: %v", err)
	}
	if r.Number != "REC-2024-001" {
		t.Errorf("Expected REC-2024-001, got %s", r.Number)
	}
	if r.InstallmentNumber != 2 || r.TotalInstallments != 2 {
		t.Errorf("Expected installment 2/2, got %d/%d", r.InstallmentNumber, r.TotalInstallments)
	}
	if r.CustomerName != "Maria Oliveira" {
		t.Errorf("Expected customer name, got %q", r.CustomerName)
	}
	if !r.RemainingAmount.Equal(dec("4695.10")) {
		t.Errorf("Expected remaining 4695.10, got %s", r.RemainingAmount)
	}
	if !r.FeeAmount.IsZero() {
		t.Errorf("Expected no fee, got %s", r.FeeAmount)
	}

	if _, err := l.GetReceipt(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	l, _, clock, c := setup(t)
	ctx := context.Background()
	paid := twoInstallmentLoan(t, l, c.ID)
	late := twoInstallmentLoan(t, l, c.ID)
	if _, err := l.CreateLoan(ctx, LoanInput{CustomerID: c.ID, Principal: dec("500"), InterestType: models.InterestSimple, Periods: 1}); err != nil {
		t.Fatalf("Failed to create pending loan: %v", err)
	}

	if _, err := l.RecordPayment(ctx, PaymentInput{LoanID: paid.ID, Amount: dec("9390.20"), Method: models.MethodPix}); err != nil {
		t.Fatalf("Failed to pay loan: %v", err)
	}
	if _, err := l.RecordPayment(ctx, PaymentInput{LoanID: late.ID, Amount: dec("1000"), Method: models.MethodPix}); err != nil {
		t.Fatalf("Failed to pay loan: %v", err)
	}
	clock.now = day(2024, time.February, 20)

	s, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if s.TotalCustomers != 1 || s.TotalLoans != 3 {
		t.Errorf("Expected 1 customer and 3 loans, got %d and %d", s.TotalCustomers, s.TotalLoans)
	}
	if s.CompletedLoans != 1 || s.OverdueLoans != 1 || s.ActiveLoans != 0 {
		t.Errorf("Expected 1 completed and 1 overdue, got %+v", s)
	}
	if s.LoansByStatus[models.LoanPending] != 1 {
		t.Errorf("Expected 1 pending loan, got %d", s.LoansByStatus[models.LoanPending])
	}
	if !s.TotalLent.Equal(dec("18780.40")) {
		t.Errorf("Expected lent 18780.40, got %s", s.TotalLent)
	}
	if !s.TotalPaid.Equal(dec("10390.20")) {
		t.Errorf("Expected paid 10390.20, got %s", s.TotalPaid)
	}
	if !s.TotalPending.Equal(dec("8390.20")) {
		t.Errorf("Expected pending 8390.20, got %s", s.TotalPending)
	}
	if !s.TotalOverdue.Equal(dec("3695.10")) {
		t.Errorf("Expected overdue 3695.10, got %s", s.TotalOverdue)
	}
}
