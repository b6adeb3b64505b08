// Package metrics exposes Prometheus collectors for the capture service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsProcessedTotal     *prometheus.CounterVec
	pipelineDurationSeconds prometheus.Histogram
	activePipelines         prometheus.Gauge
	scrapeFetchesTotal      *prometheus.CounterVec
	providerRequestsTotal   *prometheus.CounterVec
	embeddingsStoredTotal   prometheus.Counter
	notificationsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_items_processed_total",
				Help: "Total number of pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		pipelineDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keepsake_pipeline_duration_seconds",
				Help:    "Histogram of full pipeline run durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		activePipelines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keepsake_active_pipelines",
				Help: "Number of pipeline tasks currently in flight.",
			},
		)

		scrapeFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_scrape_fetches_total",
				Help: "Total fetch attempts, labeled by fetcher and outcome.",
			},
			[]string{"fetcher", "outcome"},
		)

		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_ai_provider_requests_total",
				Help: "Total AI provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		embeddingsStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "keepsake_embeddings_stored_total",
				Help: "Total embedding vectors stored.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_notifications_total",
				Help: "Total change notifications received, labeled by disposition.",
			},
			[]string{"disposition"},
		)
	})
}

// ObserveItemProcessed records one finished pipeline run.
func ObserveItemProcessed(status string, elapsed time.Duration) {
	if itemsProcessedTotal == nil {
		return
	}
	itemsProcessedTotal.WithLabelValues(status).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

// PipelineStarted increments the in-flight gauge.
func PipelineStarted() {
	if activePipelines != nil {
		activePipelines.Inc()
	}
}

// PipelineFinished decrements the in-flight gauge.
func PipelineFinished() {
	if activePipelines != nil {
		activePipelines.Dec()
	}
}

// ObserveFetch records one fetcher attempt.
func ObserveFetch(fetcher, outcome string) {
	if scrapeFetchesTotal != nil {
		scrapeFetchesTotal.WithLabelValues(fetcher, outcome).Inc()
	}
}

// ObserveProviderCall records one AI provider call.
func ObserveProviderCall(provider, outcome string) {
	if providerRequestsTotal != nil {
		providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// ObserveEmbeddingStored records one stored vector.
func ObserveEmbeddingStored() {
	if embeddingsStoredTotal != nil {
		embeddingsStoredTotal.Inc()
	}
}

// ObserveNotification records one change notification and how it was handled
// (scheduled, dropped, invalid).
func ObserveNotification(disposition string) {
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(disposition).Inc()
	}
}
