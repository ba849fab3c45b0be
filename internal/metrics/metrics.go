package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsScheduled counts successful schedule registrations by trigger kind.
	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automator_jobs_scheduled_total",
			Help: "The total number of jobs registered with the scheduler.",
		},
		[]string{"kind"},
	)

	// JobsUnscheduled counts jobs removed through unschedule.
	JobsUnscheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automator_jobs_unscheduled_total",
			Help: "The total number of jobs removed from the scheduler.",
		},
	)

	// RegisteredJobs tracks the size of the live job registry.
	RegisteredJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "automator_registered_jobs",
			Help: "The number of jobs currently registered with the scheduler.",
		},
	)

	// Firings counts trigger firings handed to the dispatch pool.
	Firings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automator_firings_total",
			Help: "The total number of trigger firings.",
		},
		[]string{"kind"},
	)

	// FiringsRejected counts firings the dispatch pool refused.
	FiringsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automator_firings_rejected_total",
			Help: "The total number of firings dropped because the dispatch pool was closed.",
		},
	)

	// Dispatches counts dispatch outcomes (success, error, skipped, failed).
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automator_dispatches_total",
			Help: "The total number of dispatches by outcome.",
		},
		[]string{"outcome"},
	)

	// DispatchDuration is a histogram of end-to-end dispatch latency.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automator_dispatch_duration_seconds",
			Help:    "A histogram of the dispatch duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"outcome"},
	)

	// DispatchesInFlight is the number of dispatches currently running.
	DispatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "automator_dispatches_in_flight",
			Help: "The number of dispatches currently being executed.",
		},
	)

	// StepResults counts executed steps by step type and status.
	StepResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automator_step_results_total",
			Help: "The total number of executed steps by type and status.",
		},
		[]string{"type", "status"},
	)

	// LogsPruned counts execution logs removed by retention.
	LogsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automator_logs_pruned_total",
			Help: "The total number of execution logs removed by retention.",
		},
	)
)
