// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagineer_jobs_completed_total",
		Help: "Number of generation jobs that completed successfully.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagineer_jobs_failed_total",
		Help: "Number of generation jobs that failed.",
	})
	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagineer_jobs_cancelled_total",
		Help: "Number of jobs cancelled before the worker claimed them.",
	})
	GenerationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagineer_generation_errors_total",
		Help: "Number of errors returned by the generation backend.",
	})
	RunsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagineer_runs_finalized_total",
		Help: "Number of batch runs finalized, by terminal status.",
	}, []string{"status"})
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "imagineer_job_duration_seconds",
		Help:    "Wall time spent generating a single job.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imagineer_queue_depth",
		Help: "Number of jobs currently waiting in the queue.",
	})
)
