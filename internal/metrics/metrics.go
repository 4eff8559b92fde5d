// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus collectors of the calibration engine.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripdist"

var (
	// Furness metrics
	metricFurnessRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "furness_runs_total",
			Help:      "Furness runs by kind (gravity, jacobian) and whether tolerance was met",
		},
		[]string{"kind", "converged"},
	)

	metricFurnessIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "furness_iterations",
			Help:      "Completed row+column passes per furness run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"kind"},
	)

	// Calibration metrics
	metricEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_evaluations_total",
			Help:      "Residual evaluations performed by the least-squares driver",
		},
		[]string{"area"},
	)

	metricConvergence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_convergence",
			Help:      "Latest achieved curve convergence score [0,1]",
		},
		[]string{"area"},
	)

	// Coordinator metrics
	metricRendezvousRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendezvous_rounds_total",
			Help:      "Completed aggregator rounds by aggregator (gravity, jacobian)",
		},
		[]string{"aggregator"},
	)

	metricActiveAreas = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_areas",
			Help:      "Calibration areas still submitting to the aggregators",
		},
	)
)

// RecordFurness records one furness run.
func RecordFurness(kind string, iterations int, converged bool) {
	metricFurnessRuns.WithLabelValues(kind, strconv.FormatBool(converged)).Inc()
	metricFurnessIterations.WithLabelValues(kind).Observe(float64(iterations))
}

// RecordEvaluation records one residual evaluation and its convergence.
func RecordEvaluation(area string, convergence float64) {
	metricEvaluations.WithLabelValues(area).Inc()
	metricConvergence.WithLabelValues(area).Set(convergence)
}

// RecordRound records a completed aggregator round with n participants.
func RecordRound(aggregator string, active int) {
	metricRendezvousRounds.WithLabelValues(aggregator).Inc()
	metricActiveAreas.Set(float64(active))
}

// FurnessRuns returns the counter child for kind/converged. Used by tests.
func FurnessRuns(kind string, converged bool) prometheus.Counter {
	return metricFurnessRuns.WithLabelValues(kind, strconv.FormatBool(converged))
}

// Evaluations returns the evaluation counter child for area. Used by tests.
func Evaluations(area string) prometheus.Counter {
	return metricEvaluations.WithLabelValues(area)
}

// Rounds returns the round counter child for aggregator. Used by tests.
func Rounds(aggregator string) prometheus.Counter {
	return metricRendezvousRounds.WithLabelValues(aggregator)
}

// ClearArea removes per-area series once an area is done.
func ClearArea(area string) {
	metricEvaluations.DeleteLabelValues(area)
	metricConvergence.DeleteLabelValues(area)
}
