// Package metrics defines the Prometheus instruments for the deep research
// service. Importing it registers everything with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	ResearchStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	ResearchCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"status"},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_sessions_active",
			Help: "Number of research sessions currently running",
		},
	)

	// Poll loop metrics
	PollIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_poll_iterations_total",
			Help: "Total number of run status poll iterations",
		},
	)

	// Citation metrics
	CitationsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_citations_discovered_total",
			Help: "Total number of unique citations discovered during runs",
		},
	)

	MarkersNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_citation_markers_normalized_total",
			Help: "Total number of citation markers converted to superscript",
		},
	)

	ReportBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_report_bytes",
			Help:    "Size of generated research reports in bytes",
			Buckets: []float64{1024, 4096, 16384, 65536, 262144, 1048576},
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_stream_subscribers",
			Help: "Number of connected SSE/WebSocket subscribers",
		},
	)
)
