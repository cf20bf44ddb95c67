package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection: SQLite has a single writer, and the pragmas below are per connection.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database ready", zap.String("dsn", dataSourceName))
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release.
// Money is stored as TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cpf TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL,
		whatsapp INTEGER NOT NULL DEFAULT 0,
		address TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		interest_type TEXT NOT NULL,
		periods INTEGER NOT NULL,
		start_date DATE NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		remaining_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(customer_id) REFERENCES customers(id)
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		amount_due TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		due_date DATE NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_at DATETIME,
		status TEXT NOT NULL,
		UNIQUE(loan_id, sequence),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_id TEXT,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		type TEXT NOT NULL,
		payment_date DATE NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		fee_amount TEXT NOT NULL DEFAULT '0',
		credit_amount TEXT NOT NULL DEFAULT '0',
		balance_after TEXT NOT NULL,
		receipt_year INTEGER NOT NULL,
		receipt_seq INTEGER NOT NULL,
		receipt_number TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(receipt_year, receipt_seq),
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []struct{ table, def string }{
		{"loans", "description TEXT NOT NULL DEFAULT ''"},
		{"payments", "notes TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.def, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// CreateCustomer inserts a new customer.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, cpf, phone, whatsapp, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.CPF, c.Phone, c.WhatsApp, c.Address, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

const customerColumns = `id, name, cpf, phone, whatsapp, address, created_at, updated_at`

// GetCustomer retrieves a customer by ID.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id.String())
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// GetCustomerByCPF retrieves a customer by CPF digits.
func (s *SQLiteStore) GetCustomerByCPF(ctx context.Context, cpf string) (*models.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE cpf = ?`, cpf)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer with cpf %s: %w", cpf, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// ListCustomers retrieves all customers ordered by name.
func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return customers, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*models.Customer, error) {
	var c models.Customer
	var idStr string
	if err := row.Scan(&idStr, &c.Name, &c.CPF, &c.Phone, &c.WhatsApp, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = uuid.MustParse(idStr)
	return &c, nil
}

// CreateLoan inserts a loan and its schedule within a transaction.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan, schedule []models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (id, customer_id, principal, interest_rate, interest_type, periods, start_date, total_amount, paid_amount, remaining_amount, status, version, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerID.String(), loan.Principal, loan.InterestRate, loan.InterestType, loan.Periods, loan.StartDate,
		loan.TotalAmount, loan.PaidAmount, loan.RemainingAmount, loan.Status, loan.Version, loan.Description, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, inst := range schedule {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO installments (id, loan_id, sequence, amount_due, principal, interest, due_date, paid_amount, paid_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), inst.LoanID.String(), inst.Sequence, inst.AmountDue, inst.Principal, inst.Interest,
			inst.DueDate, inst.PaidAmount, inst.PaidAt, inst.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Sequence, err)
		}
	}

	return tx.Commit()
}

const loanColumns = `id, customer_id, principal, interest_rate, interest_type, periods, start_date, total_amount, paid_amount, remaining_amount, status, version, description, created_at, updated_at`

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoans retrieves loans matching the filter, newest first.
func (s *SQLiteStore) ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE 1 = 1`
	var args []any
	if filter.CustomerID != nil {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID.String())
	}
	if filter.OpenOnly {
		query += ` AND status NOT IN (?, ?)`
		args = append(args, models.LoanCompleted, models.LoanCancelled)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, customerIDStr string
	err := row.Scan(&idStr, &customerIDStr, &loan.Principal, &loan.InterestRate, &loan.InterestType, &loan.Periods, &loan.StartDate,
		&loan.TotalAmount, &loan.PaidAmount, &loan.RemainingAmount, &loan.Status, &loan.Version, &loan.Description, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.CustomerID = uuid.MustParse(customerIDStr)
	return &loan, nil
}

// GetInstallments retrieves the schedule of a loan in sequence order.
func (s *SQLiteStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, sequence, amount_due, principal, interest, due_date, paid_amount, paid_at, status
		FROM installments WHERE loan_id = ? ORDER BY sequence ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []models.Installment
	for rows.Next() {
		var inst models.Installment
		var idStr, loanIDStr string
		var paidAt sql.NullTime
		if err := rows.Scan(&idStr, &loanIDStr, &inst.Sequence, &inst.AmountDue, &inst.Principal, &inst.Interest,
			&inst.DueDate, &inst.PaidAmount, &paidAt, &inst.Status); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.ID = uuid.MustParse(idStr)
		inst.LoanID = uuid.MustParse(loanIDStr)
		if paidAt.Valid {
			inst.PaidAt = &paidAt.Time
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// UpdateLoan writes a loan and its installments if nobody else changed the loan in between.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan, installments []models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.writeLoanState(ctx, tx, loan, installments); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loan update: %w", err)
	}
	loan.Version++
	return nil
}

// RecordPayment persists the outcome of a payment within a transaction.
func (s *SQLiteStore) RecordPayment(ctx context.Context, loan *models.Loan, installments []models.Installment, p *models.Payment, number ReceiptNumberer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.writeLoanState(ctx, tx, loan, installments); err != nil {
		return err
	}

	year := p.PaymentDate.Year()
	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(receipt_seq), 0) + 1 FROM payments WHERE receipt_year = ?`, year).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate receipt number: %w", err)
	}
	receiptNumber := fmt.Sprintf("%d-%03d", year, seq)
	if number != nil {
		receiptNumber = number(year, seq)
	}

	var installmentID sql.NullString
	if p.InstallmentID != nil {
		installmentID = sql.NullString{String: p.InstallmentID.String(), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, loan_id, installment_id, amount, method, type, payment_date, principal_amount, interest_amount, fee_amount, credit_amount, balance_after, receipt_year, receipt_seq, receipt_number, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), installmentID, p.Amount, p.Method, p.Type, p.PaymentDate,
		p.PrincipalAmount, p.InterestAmount, p.FeeAmount, p.CreditAmount, p.BalanceAfter,
		year, seq, receiptNumber, p.Notes, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	loan.Version++
	p.ReceiptNumber = receiptNumber
	return nil
}

// writeLoanState updates the loan row guarded by its version, then its installments.
func (s *SQLiteStore) writeLoanState(ctx context.Context, q querier, loan *models.Loan, installments []models.Installment) error {
	result, err := q.ExecContext(ctx,
		`UPDATE loans SET paid_amount = ?, remaining_amount = ?, status = ?, description = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.PaidAmount, loan.RemainingAmount, loan.Status, loan.Description, loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE id = ?`, loan.ID.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check loan existence: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
		}
		s.logger.Warn("stale loan version", zap.String("loan_id", loan.ID.String()), zap.Int("version", loan.Version))
		return fmt.Errorf("loan %s: %w", loan.ID, ErrConflict)
	}

	for _, inst := range installments {
		_, err := q.ExecContext(ctx,
			`UPDATE installments SET paid_amount = ?, paid_at = ?, status = ? WHERE id = ? AND loan_id = ?`,
			inst.PaidAmount, inst.PaidAt, inst.Status, inst.ID.String(), loan.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Sequence, err)
		}
	}
	return nil
}

const paymentColumns = `id, loan_id, installment_id, amount, method, type, payment_date, principal_amount, interest_amount, fee_amount, credit_amount, balance_after, receipt_number, notes, created_at`

// GetPayment retrieves a payment by its ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// ListPayments retrieves all payments for a given loan ID, oldest first.
func (s *SQLiteStore) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, receipt_year ASC, receipt_seq ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var idStr, loanIDStr string
	var installmentID sql.NullString
	var paymentDate, createdAt time.Time
	err := row.Scan(&idStr, &loanIDStr, &installmentID, &p.Amount, &p.Method, &p.Type, &paymentDate,
		&p.PrincipalAmount, &p.InterestAmount, &p.FeeAmount, &p.CreditAmount, &p.BalanceAfter, &p.ReceiptNumber, &p.Notes, &createdAt)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	if installmentID.Valid {
		id := uuid.MustParse(installmentID.String)
		p.InstallmentID = &id
	}
	p.PaymentDate = paymentDate
	p.CreatedAt = createdAt
	return &p, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
