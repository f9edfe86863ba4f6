package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed tracks terminal job outcomes per provider
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_jobs_processed_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"provider", "status"},
	)

	// JobRetries tracks retry attempts per provider
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_job_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"provider"},
	)

	// JobDuration tracks end-to-end processing time per provider
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genqueue_job_duration_seconds",
			Help:    "Job processing time from start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"provider"},
	)

	// QueueDepth tracks the number of jobs waiting for a worker slot
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_pending_jobs",
			Help: "Number of jobs waiting in the queue",
		},
	)

	// ActiveWorkers tracks currently processing jobs
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_active_workers",
			Help: "Number of jobs currently processing",
		},
	)

	// BreakerState tracks circuit breaker state per provider
	// (0 = closed, 1 = half open, 2 = open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genqueue_breaker_state",
			Help: "Circuit breaker state per provider",
		},
		[]string{"provider"},
	)
)
