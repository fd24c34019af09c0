package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	scoreUpdatesTotal     *prometheus.CounterVec
	gradingRunsTotal      *prometheus.CounterVec
	gradingItemsTotal     *prometheus.CounterVec
	gradingRunSeconds     *prometheus.HistogramVec
	aiCompletionTokens    *prometheus.CounterVec
	aiCompletionCostTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for grading observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		scoreUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "score_updates_total",
			Help: "Total number of score reconciliation attempts.",
		}, []string{"result"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_runs_total",
			Help: "Total number of batch grading runs by final status.",
		}, []string{"status"})

		gradingItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_items_total",
			Help: "Total number of instance questions processed by batch grading runs.",
		}, []string{"result"})

		gradingRunSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_run_seconds",
			Help:    "Duration distribution for batch grading runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"})

		aiCompletionTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_completion_tokens_total",
			Help: "Total number of tokens consumed by AI grading completions.",
		}, []string{"model", "kind"})

		aiCompletionCostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_completion_cost_dollars_total",
			Help: "Estimated cumulative cost of AI grading completions in dollars.",
		}, []string{"model"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			scoreUpdatesTotal,
			gradingRunsTotal,
			gradingItemsTotal,
			gradingRunSeconds,
			aiCompletionTokens,
			aiCompletionCostTotal,
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

// ScoreUpdates exposes the counter for score reconciliation attempts.
func ScoreUpdates() *prometheus.CounterVec {
	RegisterMetrics()
	return scoreUpdatesTotal
}

// GradingRuns exposes the counter for finished batch grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingItems exposes the counter for processed instance questions.
func GradingItems() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingItemsTotal
}

// GradingRunDuration exposes the duration histogram for batch grading runs.
func GradingRunDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingRunSeconds
}

// AITokens exposes the counter for AI completion token usage.
func AITokens() *prometheus.CounterVec {
	RegisterMetrics()
	return aiCompletionTokens
}

// AICost exposes the counter for estimated AI completion cost.
func AICost() *prometheus.CounterVec {
	RegisterMetrics()
	return aiCompletionCostTotal
}
