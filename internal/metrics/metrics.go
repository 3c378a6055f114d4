package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks currently live sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferryman_active_sessions",
			Help: "Number of live sessions with a running agent subprocess",
		},
	)

	// AgentRequests counts subprocess requests by command and outcome
	AgentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryman_agent_requests_total",
			Help: "Total number of correlated subprocess requests",
		},
		[]string{"command", "outcome"},
	)

	// AgentRequestDuration tracks subprocess request latency
	AgentRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferryman_agent_request_duration_seconds",
			Help:    "Subprocess request round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// PendingRequests tracks in-flight correlated requests
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferryman_pending_agent_requests",
			Help: "Number of in-flight correlated subprocess requests",
		},
	)

	// EventsRouted counts subprocess events dispatched by the router
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryman_events_routed_total",
			Help: "Total number of subprocess events routed",
		},
		[]string{"type"},
	)

	// ToolCalls counts tool-call lifecycles by kind and final status
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryman_tool_calls_total",
			Help: "Total number of completed agent tool calls",
		},
		[]string{"kind", "status"},
	)

	// MalformedLines counts dropped unparseable subprocess lines
	MalformedLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ferryman_malformed_lines_total",
			Help: "Total number of subprocess output lines dropped as unparseable",
		},
	)

	// PromptsCompleted counts resolved pending operations by stop reason
	PromptsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryman_prompts_completed_total",
			Help: "Total number of resolved prompt operations",
		},
		[]string{"stop_reason"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the live session gauge
func RecordSessionStart() {
	ActiveSessions.Inc()
}

// RecordSessionEnd decrements the live session gauge
func RecordSessionEnd() {
	ActiveSessions.Dec()
}

// RecordAgentRequest records a completed subprocess request
func RecordAgentRequest(command, outcome string, durationSeconds float64) {
	AgentRequests.WithLabelValues(command, outcome).Inc()
	AgentRequestDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordEvent records a routed subprocess event
func RecordEvent(eventType string) {
	EventsRouted.WithLabelValues(eventType).Inc()
}

// RecordToolCall records a completed tool call
func RecordToolCall(kind, status string) {
	ToolCalls.WithLabelValues(kind, status).Inc()
}
