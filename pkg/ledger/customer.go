package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"go.uber.org/zap"
)

// ErrDuplicateCustomer is returned when a CPF is already registered.
var ErrDuplicateCustomer = errors.New("customer with this CPF already exists")

type CustomerInput struct {
	Name     string `json:"name"`
	CPF      string `json:"cpf"`
	Phone    string `json:"phone"`
	WhatsApp bool   `json:"whatsapp"`
	Address  string `json:"address"`
}

// CreateCustomer registers a borrower. CPF and phone may be formatted; only
// their digits are stored.
func (l *Ledger) CreateCustomer(ctx context.Context, in CustomerInput) (*models.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &calc.InvalidInputError{Field: "name", Reason: "is required"}
	}
	cpf := digitsOnly(in.CPF)
	if !ValidCPF(cpf) {
		return nil, &calc.InvalidInputError{Field: "cpf", Reason: fmt.Sprintf("%q is not a valid CPF", in.CPF)}
	}
	phone := digitsOnly(in.Phone)
	if phone != "" && len(phone) != 10 && len(phone) != 11 {
		return nil, &calc.InvalidInputError{Field: "phone", Reason: "must have 10 or 11 digits"}
	}

	if _, err := l.storage.GetCustomerByCPF(ctx, cpf); err == nil {
		return nil, ErrDuplicateCustomer
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := l.now()
	c := &models.Customer{
		ID:        uuid.New(),
		Name:      name,
		CPF:       cpf,
		Phone:     phone,
		WhatsApp:  in.WhatsApp,
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.CreateCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store customer: %w", err)
	}
	l.logger.Info("customer created", zap.String("customer_id", c.ID.String()))
	return c, nil
}

func (l *Ledger) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return l.storage.GetCustomer(ctx, id)
}

func (l *Ledger) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	return l.storage.ListCustomers(ctx)
}

// ValidCPF checks the two CPF check digits. cpf must be digits only.
func ValidCPF(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}
	if strings.Count(cpf, cpf[:1]) == 11 {
		return false
	}
	d := make([]int, 11)
	for i, r := range cpf {
		if r < '0' || r > '9' {
			return false
		}
		d[i] = int(r - '0')
	}
	return checkDigit(d[:9], 10) == d[9] && checkDigit(d[:10], 11) == d[10]
}

func checkDigit(digits []int, weight int) int {
	sum := 0
	for i, v := range digits {
		sum += v * (weight - i)
	}
	r := (sum * 10) % 11
	if r == 10 {
		return 0
	}
	return r
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
