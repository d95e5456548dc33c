// Package metrics provides Prometheus metrics export for the incident
// response pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports chat, tool and reasoning-model metrics.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Exchange metrics
	chatLatency  *prometheus.HistogramVec
	chatRequests *prometheus.CounterVec
	activeChats  prometheus.Gauge

	// Tool call metrics
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	// LLM token metrics
	llmTokensUsed *prometheus.CounterVec

	// Agent metrics
	agentErrors   *prometheus.CounterVec
	agentHandoffs *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "chat_latency_seconds",
			Help:      "End-to-end exchange latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "chat_requests_total",
			Help:      "Total number of chat exchanges",
		},
		[]string{"mode", "status"},
	)

	e.activeChats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "chat_active",
			Help:      "Number of active chat sessions",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "tool_latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool_name"},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "llm_tokens_total",
			Help:      "Total reasoning-model tokens consumed",
		},
		[]string{"agent", "token_type"},
	)

	e.agentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "agent_errors_total",
			Help:      "Total number of agent errors",
		},
		[]string{"agent", "error_type"},
	)

	e.agentHandoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "ai",
			Name:      "agent_handoffs_total",
			Help:      "Total number of agent hand-offs",
		},
		[]string{"from", "to"},
	)

	registry.MustRegister(
		e.chatLatency,
		e.chatRequests,
		e.activeChats,
		e.toolCalls,
		e.toolLatency,
		e.llmTokensUsed,
		e.agentErrors,
		e.agentHandoffs,
	)

	return e
}

// RecordChatRequest records a completed exchange.
func (e *PrometheusExporter) RecordChatRequest(mode string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.chatRequests.WithLabelValues(mode, status).Inc()
	e.chatLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// RecordToolCall records a tool execution.
func (e *PrometheusExporter) RecordToolCall(toolName string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordLLMTokens records reasoning-model token consumption for an agent.
func (e *PrometheusExporter) RecordLLMTokens(agent string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		e.llmTokensUsed.WithLabelValues(agent, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		e.llmTokensUsed.WithLabelValues(agent, "completion").Add(float64(completionTokens))
	}
}

// RecordAgentError records an agent failure by error class.
func (e *PrometheusExporter) RecordAgentError(agent, errorType string) {
	e.agentErrors.WithLabelValues(agent, errorType).Inc()
}

// RecordHandoff records a transfer between agents.
func (e *PrometheusExporter) RecordHandoff(from, to string) {
	e.agentHandoffs.WithLabelValues(from, to).Inc()
}

// SetActiveChats sets the active session gauge.
func (e *PrometheusExporter) SetActiveChats(count int) {
	e.activeChats.Set(float64(count))
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
