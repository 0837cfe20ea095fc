// Copyright 2025 Clearing Protocol
//
// Prometheus metrics for the contract lifecycle engine

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the clearinghouse instrumentation
type Metrics struct {
	ContractsCreated     prometheus.Counter
	Transitions          *prometheus.CounterVec
	Verifications        *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	SettlementFailures   prometheus.Counter
	IllegalTransitions   prometheus.Counter
}

// New creates and registers the clearinghouse metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ContractsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_contracts_created_total",
			Help: "Total escrow contracts created",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearinghouse_transitions_total",
			Help: "Total state machine transitions fired, by event",
		}, []string{"event"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearinghouse_verifications_total",
			Help: "Total verification runs, by strategy type and outcome",
		}, []string{"type", "outcome"}),
		VerificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clearinghouse_verification_duration_seconds",
			Help:    "Verification strategy latency, by strategy type",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"type"}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_settlement_failures_total",
			Help: "Settlement transfers that failed after COMPLETED was committed",
		}),
		IllegalTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_illegal_transitions_total",
			Help: "Operations rejected by the state machine guard",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ContractsCreated,
			m.Transitions,
			m.Verifications,
			m.VerificationDuration,
			m.SettlementFailures,
			m.IllegalTransitions,
		)
	}
	return m
}

// Nop returns unregistered metrics for tests
func Nop() *Metrics {
	return New(nil)
}
