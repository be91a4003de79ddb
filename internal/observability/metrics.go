package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
	scoringRunsTotal       *prometheus.CounterVec
	scoringRunSeconds      *prometheus.HistogramVec
	scoringQuestionsTotal  *prometheus.CounterVec
	scoringReconciledTotal *prometheus.CounterVec
	scoringEventsTotal     *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the HTTP layer and the scoring pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oracy_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		scoringRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_scoring_runs_total",
			Help: "Scoring runs by outcome (complete, error, skipped).",
		}, []string{"outcome"})

		scoringRunSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oracy_scoring_run_seconds",
			Help:    "Wall time of claimed scoring runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"})

		scoringQuestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_scoring_questions_total",
			Help: "Per-question scoring outcomes.",
		}, []string{"outcome"})

		scoringReconciledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_scoring_reconciled_total",
			Help: "Reconciliation decisions per rubric dimension.",
		}, []string{"dimension", "decision"})

		scoringEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracy_scoring_events_total",
			Help: "Scoring events published to brokers.",
		}, []string{"broker", "result"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			scoringRunsTotal,
			scoringRunSeconds,
			scoringQuestionsTotal,
			scoringReconciledTotal,
			scoringEventsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ScoringRuns counts orchestrator invocations by outcome.
func ScoringRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringRunsTotal
}

// ScoringRunDuration observes claimed run wall time by outcome.
func ScoringRunDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return scoringRunSeconds
}

// ScoringQuestions counts per-question outcomes.
func ScoringQuestions() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringQuestionsTotal
}

// ScoringReconciled counts reconciliation decisions.
func ScoringReconciled() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringReconciledTotal
}

// ScoringEvents counts event publications per broker.
func ScoringEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringEventsTotal
}
