package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes ledger activity to Prometheus. The underlying ledger
// records stay authoritative; these counters exist for dashboards and
// alerting only.
type Metrics struct {
	spendUSD      *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	records       prometheus.Counter
	budgetDenials prometheus.Counter
}

// NewMetrics registers ledger metrics on the given registerer. Pass a fresh
// prometheus.NewRegistry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		spendUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ledger_spend_usd_total",
			Help: "Accumulated model spend in USD by provider, model and agent.",
		}, []string{"provider", "model", "agent"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ledger_tokens_total",
			Help: "Token counts by provider, model and direction (input/output).",
		}, []string{"provider", "model", "direction"}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_ledger_records_total",
			Help: "Number of cost records appended to the ledger.",
		}),
		budgetDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_budget_denials_total",
			Help: "Conversations rejected by the budget gate.",
		}),
	}
}

// ObserveSpend records one ledger append.
func (m *Metrics) ObserveSpend(rec CostRecord) {
	m.spendUSD.WithLabelValues(rec.Provider, rec.Model, rec.AgentID).Add(rec.CostUSD)
	m.tokens.WithLabelValues(rec.Provider, rec.Model, "input").Add(float64(rec.InputTokens))
	m.tokens.WithLabelValues(rec.Provider, rec.Model, "output").Add(float64(rec.OutputTokens))
	m.records.Inc()
}

// ObserveBudgetDenial records one budget-gate rejection.
func (m *Metrics) ObserveBudgetDenial() { m.budgetDenials.Inc() }
