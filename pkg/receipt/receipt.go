// Package receipt builds and renders payment receipts.
package receipt

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

const DefaultPrefix = "REC"

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// FormatNumber returns the receipt number for the seq-th payment of year, e.g. REC-2024-001.
func FormatNumber(prefix string, year, seq int) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%04d-%03d", prefix, year, seq)
}

// Build assembles the receipt view of a stored payment. installmentSeq is 0
// when the payment did not name an installment.
func Build(p *models.Payment, loan *models.Loan, customer *models.Customer, installmentSeq int, issuedAt time.Time) models.Receipt {
	r := models.Receipt{
		Number:            p.ReceiptNumber,
		PaymentID:         p.ID,
		LoanID:            loan.ID,
		Amount:            p.Amount,
		PrincipalAmount:   p.PrincipalAmount,
		InterestAmount:    p.InterestAmount,
		FeeAmount:         p.FeeAmount,
		PaymentMethod:     p.Method,
		PaymentDate:       p.PaymentDate,
		InstallmentNumber: installmentSeq,
		TotalInstallments: loan.Periods,
		RemainingAmount:   p.BalanceAfter,
		IssuedAt:          issuedAt,
	}
	if customer != nil {
		r.CustomerName = customer.Name
		r.CustomerCPF = customer.CPF
	}
	return r
}

var textTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"date":  func(t time.Time) string { return t.Format("02/01/2006") },
	"cpf":   MaskCPF,
}).Parse(`RECIBO DE PAGAMENTO {{.Number}}
Emitido em: {{date .IssuedAt}}

Cliente: {{.CustomerName}}
CPF: {{cpf .CustomerCPF}}
Empréstimo: {{.LoanID}}
{{- if .InstallmentNumber}}
Parcela: {{.InstallmentNumber}}/{{.TotalInstallments}}
{{- end}}

Data do pagamento: {{date .PaymentDate}}
Forma de pagamento: {{.PaymentMethod}}
Valor pago: {{money .Amount}}
  Principal: {{money .PrincipalAmount}}
  Juros: {{money .InterestAmount}}
  Taxas: {{money .FeeAmount}}
Saldo restante: {{money .RemainingAmount}}
`))

// Render writes r to w in the requested format.
func Render(w io.Writer, r models.Receipt, format Format) error {
	switch format {
	case FormatText, "":
		return textTemplate.Execute(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unsupported receipt format %q", format)
	}
}

// MaskCPF formats an 11 digit CPF as 000.000.000-00. Anything else is returned as is.
func MaskCPF(cpf string) string {
	if len(cpf) != 11 {
		return cpf
	}
	return cpf[:3] + "." + cpf[3:6] + "." + cpf[6:9] + "-" + cpf[9:]
}
