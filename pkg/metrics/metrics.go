package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Collector holds the ledger's Prometheus metrics on a private registry.
type Collector struct {
	registry          *prometheus.Registry
	loansCreated      *prometheus.CounterVec
	paymentsRecorded  *prometheus.CounterVec
	paymentAmount     prometheus.Histogram
	paymentsRejected  *prometheus.CounterVec
	overdueLoans      prometheus.Gauge
	statusTransitions *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		loansCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_loans_created_total",
			Help: "Loans created, by interest type",
		}, []string{"interest_type"}),
		paymentsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_payments_recorded_total",
			Help: "Payments recorded, by method and type",
		}, []string{"method", "type"}),
		paymentAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanledger_payment_amount",
			Help:    "Amount of recorded payments",
			Buckets: []float64{50, 100, 500, 1000, 5000, 10000, 50000},
		}),
		paymentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_payments_rejected_total",
			Help: "Payments rejected, by reason",
		}, []string{"reason"}),
		overdueLoans: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loanledger_overdue_loans",
			Help: "Loans found overdue by the last status refresh",
		}),
		statusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loanledger_loan_status_transitions_total",
			Help: "Loan status changes, by resulting status",
		}, []string{"status"}),
	}
}

func (c *Collector) LoanCreated(interestType string) {
	c.loansCreated.WithLabelValues(interestType).Inc()
}

func (c *Collector) PaymentRecorded(method, paymentType string, amount decimal.Decimal) {
	c.paymentsRecorded.WithLabelValues(method, paymentType).Inc()
	c.paymentAmount.Observe(amount.InexactFloat64())
}

func (c *Collector) PaymentRejected(reason string) {
	c.paymentsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) StatusChanged(status string) {
	c.statusTransitions.WithLabelValues(status).Inc()
}

func (c *Collector) SetOverdueLoans(n int) {
	c.overdueLoans.Set(float64(n))
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
