package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationAttempts tracks generation calls per model and outcome
	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_generation_attempts_total",
			Help: "Total number of generation attempts",
		},
		[]string{"model", "outcome"},
	)

	// RetriesTotal tracks overload retries per model
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_retries_total",
			Help: "Total number of overload retries",
		},
		[]string{"model"},
	)

	// FallbacksTotal tracks switches to a fallback model
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_fallbacks_total",
			Help: "Total number of fallback model switches",
		},
		[]string{"model"},
	)

	// PollTicks tracks operation refresh calls
	PollTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genflow_poll_ticks_total",
			Help: "Total number of operation refresh calls",
		},
	)

	// ItemsProcessed tracks batch items reaching a terminal status
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_batch_items_total",
			Help: "Total number of batch items by terminal status",
		},
		[]string{"status"},
	)

	// FailuresByCategory tracks classified failures
	FailuresByCategory = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_failures_total",
			Help: "Total number of classified failures",
		},
		[]string{"category"},
	)

	// GenerationLatency tracks end-to-end job latency
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genflow_job_duration_seconds",
			Help:    "End-to-end duration of one generation job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"model", "kind"},
	)

	// BatchItemsRemaining tracks items not yet terminal in the current batch
	BatchItemsRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genflow_batch_items_remaining",
			Help: "Items not yet in a terminal status for the batch",
		},
		[]string{"batch"},
	)

	// DownloadsTotal tracks artifact downloads
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_downloads_total",
			Help: "Total number of artifact downloads",
		},
		[]string{"outcome"},
	)
)
