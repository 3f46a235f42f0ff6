package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dashboard"
)

var (
	// PollsTotal counts backend polls by job and outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of backend polls",
		},
		[]string{"job", "outcome"},
	)

	// PollDuration tracks backend poll latency
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of backend polls in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"job"},
	)

	// StaleResultsTotal counts poll results dropped because a newer result
	// was already applied
	StaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Total number of poll results discarded as stale",
		},
		[]string{"job"},
	)

	// CommandsTotal counts device and mode commands
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of control commands sent to the backend",
		},
		[]string{"command", "outcome"},
	)

	// OfflineRequestsTotal counts requests through the offline cache
	OfflineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_requests_total",
			Help:      "Requests handled by the offline cache by result",
		},
		[]string{"result"},
	)

	// WebSocketClients tracks connected view subscribers
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		},
	)
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
