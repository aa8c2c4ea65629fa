// Package metrics holds the Prometheus collectors for the escrow engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once     sync.Once
	registry *Metrics
)

// Metrics wraps the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	entriesAppended   *prometheus.CounterVec
	chainViolations   prometheus.Counter
	escrowOps         *prometheus.CounterVec
	permitTransitions *prometheus.CounterVec
	stageRuns         *prometheus.CounterVec
	sweeps            *prometheus.CounterVec
	systemLockEngaged prometheus.Gauge
}

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			entriesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "entries_appended_total",
				Help:      "Ledger entries appended, by transaction kind.",
			}, []string{"kind"}),
			chainViolations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "chain_integrity_violations_total",
				Help:      "Fingerprint chain mismatches detected. Any increase is an alert.",
			}),
			escrowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "wallet",
				Name:      "operations_total",
				Help:      "Wallet operations by name and outcome.",
			}, []string{"op", "outcome"}),
			permitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "permit",
				Name:      "transitions_total",
				Help:      "Work permit state transitions.",
			}, []string{"from", "to"}),
			stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "permit",
				Name:      "stage_runs_total",
				Help:      "Automatic verification stage runs by outcome.",
			}, []string{"stage", "outcome"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "security",
				Name:      "cold_storage_sweeps_total",
				Help:      "Simulated cold storage sweeps of the platform fee pool.",
			}, []string{"currency"}),
			systemLockEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Name:      "system_lock_engaged",
				Help:      "1 while the global panic lock blocks withdrawals.",
			}),
		}
		prometheus.MustRegister(
			registry.entriesAppended,
			registry.chainViolations,
			registry.escrowOps,
			registry.permitTransitions,
			registry.stageRuns,
			registry.sweeps,
			registry.systemLockEngaged,
		)
	})
	return registry
}

func (m *Metrics) EntryAppended(kind string) {
	if m == nil {
		return
	}
	m.entriesAppended.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChainViolation() {
	if m == nil {
		return
	}
	m.chainViolations.Inc()
}

// EscrowOp records a wallet operation; err == nil counts as "ok".
func (m *Metrics) EscrowOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.escrowOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) PermitTransition(from, to string) {
	if m == nil {
		return
	}
	m.permitTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) StageRun(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) RecordSweep(currency string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(currency).Inc()
}

func (m *Metrics) SystemLock(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.systemLockEngaged.Set(1)
		return
	}
	m.systemLockEngaged.Set(0)
}
