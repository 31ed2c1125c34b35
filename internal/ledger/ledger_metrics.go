package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type and outcome.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type and status.",
		},
		[]string{"type", "status"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletd",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// BalanceAvailable tracks the sum of all available balances.
	BalanceAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "ledger_balance_available_total",
			Help:      "Sum of all wallet available balances.",
		},
	)

	// BalanceLocked tracks the sum of all locked balances.
	BalanceLocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "ledger_balance_locked_total",
			Help:      "Sum of all wallet locked balances.",
		},
	)

	// BalanceNegative tracks the sum of all uncollected deficits.
	BalanceNegative = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "ledger_balance_negative_total",
			Help:      "Sum of all wallet negative balances.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		BalanceAvailable,
		BalanceLocked,
		BalanceNegative,
	)
}

// observeOp returns a completion callback recording count and duration.
func observeOp(opType string) func(err error) {
	start := time.Now()
	return func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		LedgerOpsTotal.WithLabelValues(opType, status).Inc()
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
