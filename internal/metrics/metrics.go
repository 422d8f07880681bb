// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	postingsTotal         *prometheus.CounterVec
	extractionsTotal      *prometheus.CounterVec
	tasksTotal            *prometheus.CounterVec
	rateLimitWaitSeconds  *prometheus.HistogramVec
	llmRequestSeconds     *prometheus.HistogramVec
	skillMatchesTotal     *prometheus.CounterVec
	sourcesValidatedTotal *prometheus.CounterVec
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_postings_total",
				Help: "Raw postings processed, labeled by source type and outcome (new, duplicate, versioned).",
			},
			[]string{"source_type", "outcome"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_extractions_total",
				Help: "Extraction outcomes, labeled by result (extracted, placeholder, fallback_stub).",
			},
			[]string{"result"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_tasks_total",
				Help: "Queue tasks processed, labeled by topic and outcome (acked, nacked, dead_lettered).",
			},
			[]string{"topic", "outcome"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate limit slot, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
		)

		llmRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_llm_request_seconds",
				Help:    "LLM backend latency, labeled by provider.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		)

		skillMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_skill_matches_total",
				Help: "Skill canonicalization outcomes, labeled by result (matched, unmapped).",
			},
			[]string{"result"},
		)

		sourcesValidatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_sources_validated_total",
				Help: "Source validation outcomes, labeled by source type and status.",
			},
			[]string{"source_type", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)
	})
}

// ObservePosting counts one raw posting with its dedup outcome.
func ObservePosting(sourceType, outcome string) {
	if postingsTotal == nil {
		return
	}
	postingsTotal.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveExtraction counts one extraction result.
func ObserveExtraction(result string) {
	if extractionsTotal == nil {
		return
	}
	extractionsTotal.WithLabelValues(result).Inc()
}

// ObserveTask counts one task outcome for a topic.
func ObserveTask(topic, outcome string) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(topic, outcome).Inc()
}

// ObserveRateLimitWait records time spent acquiring a host slot.
func ObserveRateLimitWait(host string, d time.Duration) {
	if rateLimitWaitSeconds == nil {
		return
	}
	rateLimitWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveLLMRequest records one backend round trip.
func ObserveLLMRequest(provider string, d time.Duration) {
	if llmRequestSeconds == nil {
		return
	}
	llmRequestSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveSkillMatch counts one canonicalization outcome.
func ObserveSkillMatch(result string) {
	if skillMatchesTotal == nil {
		return
	}
	skillMatchesTotal.WithLabelValues(result).Inc()
}

// ObserveValidation counts one source validation outcome.
func ObserveValidation(sourceType, status string) {
	if sourcesValidatedTotal == nil {
		return
	}
	sourcesValidatedTotal.WithLabelValues(sourceType, status).Inc()
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished marks a worker as idle.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
