package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the gateway's Prometheus metrics.
//
// Tracked signals:
//   - Inbound/outbound message flow
//   - Guardrail verdicts and blocks
//   - LLM request latency and token consumption
//   - Tool executions by name and status
//   - Pipeline retries and user-facing errors
//   - Active agent invocations (semaphore occupancy)
type Metrics struct {
	MessageCounter *prometheus.CounterVec

	GuardrailCounter *prometheus.CounterVec

	LLMRequestDuration *prometheus.HistogramVec

	LLMTokensUsed *prometheus.CounterVec

	ToolExecutionCounter *prometheus.CounterVec

	RetryCounter *prometheus.CounterVec

	ErrorCounter *prometheus.CounterVec

	ActiveInvocations prometheus.Gauge
}

// NewMetrics creates and registers the gateway metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use
// a fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_messages_total",
			Help: "Messages by direction and outcome.",
		}, []string{"direction", "outcome"}),

		GuardrailCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_guardrail_verdicts_total",
			Help: "Guardrail verdicts by category and whether the tripwire fired.",
		}, []string{"category", "blocked"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aida_llm_request_duration_seconds",
			Help:    "LLM call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_llm_tokens_total",
			Help: "Token consumption by model and type.",
		}, []string{"model", "type"}),

		ToolExecutionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_tool_executions_total",
			Help: "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),

		RetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_pipeline_retries_total",
			Help: "Pipeline retries by error kind.",
		}, []string{"kind"}),

		ErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aida_errors_total",
			Help: "Errors surfaced to users by component and kind.",
		}, []string{"component", "kind"}),

		ActiveInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aida_active_invocations",
			Help: "Agent invocations currently holding a concurrency slot.",
		}),
	}

	reg.MustRegister(
		m.MessageCounter,
		m.GuardrailCounter,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionCounter,
		m.RetryCounter,
		m.ErrorCounter,
		m.ActiveInvocations,
	)
	return m
}
