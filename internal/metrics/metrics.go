package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_requests_total",
			Help: "Total number of assistant requests",
		},
		[]string{"path", "outcome"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assist_rate_limited_total",
			Help: "Requests rejected by the sliding-window limiter",
		},
	)

	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_tool_executions_total",
			Help: "Tool calls executed, by tool name and status",
		},
		[]string{"tool", "status"},
	)

	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_stream_events_total",
			Help: "Stream events emitted, by event type",
		},
		[]string{"type"},
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "assist_completion_latency_seconds",
			Help: "Cloud completion latency in seconds",
		},
	)

	SidecarLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "assist_sidecar_latency_seconds",
			Help: "Local sidecar processing latency in seconds",
		},
	)

	ProviderRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assist_provider_retries_total",
			Help: "Retries issued against the cloud provider after rate-limit signals",
		},
	)
)
