package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	panelforge = "panelforge"

	// Panel metrics
	panelsResolvedTotal = "panels_resolved_total"

	// Job metrics
	jobsFinishedTotal  = "jobs_finished_total"
	generationAttempts = "generation_attempts_total"

	// Labels
	panelStatusLabel = "status"
	jobStateLabel    = "state"
	attemptLabel     = "outcome"
)

var panelsResolvedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: panelforge,
		Name:      panelsResolvedTotal,
		Help:      "number of panel slots resolved, by final status",
	},
	[]string{panelStatusLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: panelforge,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal state",
	},
	[]string{jobStateLabel},
)

var generationAttemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: panelforge,
		Name:      generationAttempts,
		Help:      "number of generation client attempts, by outcome",
	},
	[]string{attemptLabel},
)

func IncreasePanelsResolvedMetric(status string) {
	panelsResolvedTotalMetric.With(prometheus.Labels{panelStatusLabel: status}).Inc()
}

func IncreaseJobsFinishedMetric(state string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{jobStateLabel: state}).Inc()
}

func IncreaseGenerationAttemptsMetric(outcome string) {
	generationAttemptsMetric.With(prometheus.Labels{attemptLabel: outcome}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(panelsResolvedTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(generationAttemptsMetric)
}
