// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// OrchestrationDuration tracks the wall-clock duration of orchestration runs.
	OrchestrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestration_duration_seconds",
			Help:    "Orchestration run duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"policy", "outcome"},
	)

	// OrchestrationRounds tracks how many rounds a run used before terminating.
	OrchestrationRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestration_rounds",
			Help:    "Agent invocations per orchestration run",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"policy"},
	)

	// AgentInvocationDuration tracks single agent invocations.
	AgentInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_invocation_duration_seconds",
			Help:    "Agent invocation duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"agent", "status"},
	)

	// ActorsActive tracks activated actors per kind.
	ActorsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actors_active",
			Help: "Number of activated actors",
		},
		[]string{"kind"},
	)

	// ActorActivationsTotal tracks actor activations per kind and result.
	ActorActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actor_activations_total",
			Help: "Total actor activations",
		},
		[]string{"kind", "status"},
	)

	// StateStoreDuration tracks durable state store operations.
	StateStoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "state_store_operation_duration_seconds",
			Help:    "State store operation duration",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "op", "status"},
	)

	// IndexTitlesTotal tracks conversation title generation outcomes.
	IndexTitlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_titles_total",
			Help: "Conversation index titles generated",
		},
		[]string{"outcome"},
	)

	// LLMRequestDuration tracks completion call latency per provider.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion request duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks tokens consumed per provider and direction.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens by direction",
		},
		[]string{"provider", "direction"},
	)

	// MessagesTotal tracks total messages appended to transcripts.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordOrchestration records metrics for a finished orchestration run.
func RecordOrchestration(policy, outcome string, duration float64, rounds int) {
	OrchestrationDuration.WithLabelValues(policy, outcome).Observe(duration)
	OrchestrationRounds.WithLabelValues(policy).Observe(float64(rounds))
}

// RecordStoreOp records metrics for a state store operation.
func RecordStoreOp(backend, op string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StateStoreDuration.WithLabelValues(backend, op, status).Observe(duration)
}

// RecordCompletion records metrics for one LLM completion call.
func RecordCompletion(provider string, err error, duration float64, tokensIn, tokensOut int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}
