package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/receipt"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance and owns the storage behind it.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage
	logger  *zap.Logger
}

func NewServer(l *ledger.Ledger, s store.Storage, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ledger: l, storage: s, logger: logger}
}

// Close releases the storage. Call it once the HTTP server has shut down.
func (s *Server) Close() error {
	return s.storage.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, calc.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, calc.ErrOverpayment):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, calc.ErrLoanClosed),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrDuplicateCustomer):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, fmt.Sprintf("Invalid %s ID", what))
		return uuid.Nil, false
	}
	return id, true
}

// parseDate accepts an empty string as "not given".
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &calc.InvalidInputError{Field: field, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", value)}
	}
	return t, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := s.ledger.CreateCustomer(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}
	c, err := s.ledger.GetCustomer(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) listCustomersHandler(w http.ResponseWriter, r *http.Request) {
	customers, err := s.ledger.ListCustomers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

type loanRequest struct {
	CustomerID   uuid.UUID           `json:"customer_id"`
	Principal    decimal.Decimal     `json:"principal"`
	InterestRate decimal.Decimal     `json:"interest_rate"`
	InterestType models.InterestType `json:"interest_type"`
	Periods      int                 `json:"periods"`
	StartDate    string              `json:"start_date"`
	Description  string              `json:"description"`
}

func (req loanRequest) input() (ledger.LoanInput, error) {
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return ledger.LoanInput{}, err
	}
	return ledger.LoanInput{
		CustomerID:   req.CustomerID,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		InterestType: req.InterestType,
		Periods:      req.Periods,
		StartDate:    start,
		Description:  req.Description,
	}, nil
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.ledger.Quote(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.CreateLoan(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan.Installments)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var filter ledger.LoanFilter
	q := r.URL.Query()
	if v := q.Get("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(w, "Invalid customer ID")
			return
		}
		filter.CustomerID = &id
	}
	filter.Status = models.LoanStatus(q.Get("status"))

	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.ApproveLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.CancelLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	var req struct {
		InstallmentID *uuid.UUID           `json:"installment_id"`
		Amount        decimal.Decimal      `json:"amount"`
		Method        models.PaymentMethod `json:"method"`
		PaymentDate   string               `json:"payment_date"`
		Notes         string               `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ledger.RecordPayment(r.Context(), ledger.PaymentInput{
		LoanID:        loanID,
		InstallmentID: req.InstallmentID,
		Amount:        req.Amount,
		Method:        req.Method,
		PaymentDate:   date,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	payments, err := s.ledger.ListPayments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) receiptHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(w, r, "payment")
	if !ok {
		return
	}
	rec, err := s.ledger.GetReceipt(r.Context(), paymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	format := receipt.Format(r.URL.Query().Get("format"))
	switch format {
	case "", receipt.FormatJSON:
		writeJSON(w, http.StatusOK, rec)
	case receipt.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := receipt.Render(w, *rec, receipt.FormatText); err != nil {
			s.logger.Error("failed to render receipt", zap.String("payment_id", paymentID.String()), zap.Error(err))
		}
	default:
		badRequest(w, fmt.Sprintf("Unsupported receipt format %q", format))
	}
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
