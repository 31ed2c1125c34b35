package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	walletMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Subsystem: "reconciliation",
		Name:      "wallet_mismatches_total",
		Help:      "Total wallet bucket mismatches found by entry replay.",
	})

	stuckLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletd",
		Subsystem: "reconciliation",
		Name:      "stuck_locks",
		Help:      "Number of expired but still active escrow holds found in last run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "walletd",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		walletMismatches,
		stuckLocks,
		runDuration,
		runErrors,
	)
}
