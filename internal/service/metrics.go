package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// passDuration measures one analysis pass end to end.
	// Labels: status (ok, error, skipped)
	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "respqa",
		Subsystem: "analysis",
		Name:      "pass_duration_seconds",
		Help:      "Analysis pass latency in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	fractionsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "respqa",
		Subsystem: "analysis",
		Name:      "fractions_total",
		Help:      "Fractions analysed per data type",
	}, []string{"data_type"})

	patientsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "respqa",
		Subsystem: "analysis",
		Name:      "patient_failures_total",
		Help:      "Patients dropped from a pass because a field failed",
	}, []string{"data_type"})

	// tolerancesExceeded counts raised notifications.
	// Labels: metric (reproducibility, stability)
	tolerancesExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "respqa",
		Subsystem: "alerting",
		Name:      "tolerance_breaches_total",
		Help:      "Fraction metrics above their configured tolerance",
	}, []string{"metric"})
)
