package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics covers the two instrumented surfaces: workflow transitions and
// ledger operations. It satisfies both the workflow and escrow observer
// interfaces.
type VaultMetrics struct {
	transitions *prometheus.CounterVec
	ledgerOps   *prometheus.CounterVec
	ledgerOpDur *prometheus.HistogramVec
	sweepRuns   prometheus.Counter
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide metrics registry, registering the collectors
// on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "milevault_transitions_total",
				Help: "Workflow transition attempts by transition and outcome.",
			}, []string{"transition", "outcome"}),
			ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "milevault_ledger_ops_total",
				Help: "Ledger adapter operations by operation and outcome.",
			}, []string{"op", "outcome"}),
			ledgerOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "milevault_ledger_op_seconds",
				Help:    "Latency of ledger adapter operations, submission wait included.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"op"}),
			sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "milevault_sweep_runs_total",
				Help: "Completed background reconciliation sweeps.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.transitions,
			vaultRegistry.ledgerOps,
			vaultRegistry.ledgerOpDur,
			vaultRegistry.sweepRuns,
		)
	})
	return vaultRegistry
}

// ObserveTransition records one workflow transition attempt.
func (m *VaultMetrics) ObserveTransition(transition, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.transitions.WithLabelValues(transition, outcome).Inc()
}

// ObserveLedgerOp records one ledger adapter operation and its latency.
func (m *VaultMetrics) ObserveLedgerOp(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
	m.ledgerOpDur.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncSweep records a completed reconciliation sweep.
func (m *VaultMetrics) IncSweep() {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
}
