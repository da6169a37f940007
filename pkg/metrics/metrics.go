// Package metrics exposes Prometheus instrumentation for ledger operations.
package metrics

import (
	"math"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/budgetly/budgetly/pkg/amount"
)

// Metrics holds the ledger collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	released   *prometheus.CounterVec
	deposited  *prometheus.CounterVec
	budgets    prometheus.Gauge
}

// New registers the ledger collectors on reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),
		released: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "released_tokens_total",
				Help:      "Whole tokens released to beneficiaries",
			},
			[]string{"token"},
		),
		deposited: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposited_tokens_total",
				Help:      "Whole tokens locked or topped up",
			},
			[]string{"token"},
		),
		budgets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budgets",
			Help:      "Budgets registered in the directory",
		}),
	}
}

// Observe counts one operation, labelled by its outcome.
func (m *Metrics) Observe(op, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status).Inc()
}

// Released adds a released amount in base units.
func (m *Metrics) Released(token string, v *big.Int) {
	if m == nil {
		return
	}
	m.released.WithLabelValues(token).Add(whole(v))
}

// Deposited adds a deposited amount in base units.
func (m *Metrics) Deposited(token string, v *big.Int) {
	if m == nil {
		return
	}
	m.deposited.WithLabelValues(token).Add(whole(v))
}

// SetBudgets records the directory size.
func (m *Metrics) SetBudgets(n int) {
	if m == nil {
		return
	}
	m.budgets.Set(float64(n))
}

func whole(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f / math.Pow10(amount.Decimals)
}
